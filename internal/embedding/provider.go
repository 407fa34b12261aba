// Package embedding turns concept text into fixed-width unit vectors and
// answers cosine-similarity queries over them.
//
// The actual model is a black box behind the Model interface; the Provider
// adds lazy single-flight initialization, input validation, unit
// normalization and the canonical text composition shared by indexing and
// querying.
package embedding

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/HendryAvila/megamemory/internal/store"
)

// Model is the black-box text → float32 vector extractor.
type Model interface {
	// Embed computes a raw (not necessarily normalized) vector for text.
	Embed(ctx context.Context, text string) ([]float32, error)
	// Name identifies the model for diagnostics.
	Name() string
}

// Provider wraps a Model with lazy initialization and validation. The
// first caller pays for model loading; concurrent callers wait on the
// same initialization rather than racing a second one.
type Provider struct {
	factory func() (Model, error)

	once    sync.Once
	model   Model
	initErr error
}

// NewProvider creates a Provider around a model factory. The factory runs
// at most once, on first use; a failed load is remembered and surfaced as
// EmbeddingUnavailable on every subsequent call.
func NewProvider(factory func() (Model, error)) *Provider {
	return &Provider{factory: factory}
}

func (p *Provider) init() (Model, error) {
	p.once.Do(func() {
		p.model, p.initErr = p.factory()
	})
	if p.initErr != nil {
		return nil, store.WrapError(store.ErrEmbeddingUnavailable, "", p.initErr)
	}
	return p.model, nil
}

// ModelName returns the loaded model's name, or "" before first use.
func (p *Provider) ModelName() string {
	if p.model == nil {
		return ""
	}
	return p.model.Name()
}

// EmbeddingText composes the canonical string embedded for a concept.
// The "{kind}: {name} — {summary}" shape is part of the on-disk contract:
// changing it invalidates every stored embedding.
func EmbeddingText(name string, kind store.NodeKind, summary string) string {
	return fmt.Sprintf("%s: %s — %s", kind, name, summary)
}

// Embed validates text, runs the model and returns a vector of
// store.EmbeddingDim scaled to unit length. Empty or whitespace-only input
// is rejected before the model is touched. An all-zero model output (what
// the local model gives for text with no letters or digits) is returned
// unscaled.
func (p *Provider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, store.NewError(store.ErrEmbeddingInput, "", "empty or whitespace-only text")
	}

	model, err := p.init()
	if err != nil {
		return nil, err
	}

	vec, err := model.Embed(ctx, text)
	if err != nil {
		return nil, fmt.Errorf("embedding: %s: %w", model.Name(), err)
	}
	if len(vec) != store.EmbeddingDim {
		return nil, store.NewError(store.ErrEmbeddingDim, model.Name(),
			fmt.Sprintf("model produced %d dims, want %d", len(vec), store.EmbeddingDim))
	}

	NormalizeInPlace(vec)
	return vec, nil
}

// NormalizeInPlace scales vec to unit L2 norm. A zero vector is left as-is.
func NormalizeInPlace(vec []float32) {
	var sum float64
	for _, f := range vec {
		sum += float64(f) * float64(f)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return
	}
	for i := range vec {
		vec[i] = float32(float64(vec[i]) / norm)
	}
}

// CosineSimilarity returns dot(a,b) / (|a|·|b|) in [-1, 1], 0 when either
// norm is zero. Mismatched dimensions are an error, not a zero.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, store.NewError(store.ErrEmbeddingDim, "",
			fmt.Sprintf("dimension mismatch: %d vs %d", len(a), len(b)))
	}

	var dot, normA, normB float64
	for i := range a {
		ai, bi := float64(a[i]), float64(b[i])
		dot += ai * bi
		normA += ai * ai
		normB += bi * bi
	}
	denom := math.Sqrt(normA) * math.Sqrt(normB)
	if denom == 0 {
		return 0, nil
	}
	return dot / denom, nil
}

// Match is one similarity hit.
type Match struct {
	ID         string  `json:"id"`
	Similarity float64 `json:"similarity"`
}

// Candidate pairs a node id with its stored vector.
type Candidate struct {
	ID     string
	Vector []float32
}

// FindTopK scores query against every candidate with a usable vector and
// returns the k best matches, highest similarity first. Candidates with
// nil or empty vectors are skipped; dimension mismatches indicate a stale
// index and fail the whole call.
func FindTopK(query []float32, candidates []Candidate, k int) ([]Match, error) {
	if k <= 0 {
		return nil, nil
	}

	matches := make([]Match, 0, len(candidates))
	for _, c := range candidates {
		if len(c.Vector) == 0 {
			continue
		}
		sim, err := CosineSimilarity(query, c.Vector)
		if err != nil {
			return nil, err
		}
		matches = append(matches, Match{ID: c.ID, Similarity: sim})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].Similarity > matches[j].Similarity
	})
	if len(matches) > k {
		matches = matches[:k]
	}
	return matches, nil
}
