package embedding

import (
	"context"
	"hash/fnv"
	"strings"
	"unicode"

	"github.com/HendryAvila/megamemory/internal/store"
)

// LocalModel is the built-in offline feature extractor: a feature-hashing
// bag-of-tokens model projected into store.EmbeddingDim buckets, with word
// bigrams mixed in for a little phrase sensitivity. It is deterministic,
// needs no files and never touches the network, which makes it the default
// for air-gapped use and for tests.
//
// It is not a learned model; swap in the ollama provider when real
// semantic quality matters.
type LocalModel struct{}

// NewLocalModel returns the offline model.
func NewLocalModel() *LocalModel {
	return &LocalModel{}
}

// Name implements Model.
func (m *LocalModel) Name() string {
	return "local-feature-hash"
}

// Embed implements Model. Token and bigram features are hashed into the
// vector with a sign taken from the feature's hash; the Provider normalizes
// afterwards.
func (m *LocalModel) Embed(_ context.Context, text string) ([]float32, error) {
	tokens := tokenize(text)
	vec := make([]float32, store.EmbeddingDim)
	if len(tokens) == 0 {
		return vec, nil
	}

	for _, tok := range tokens {
		addFeature(vec, tok, 1.0)
	}
	for i := 0; i+1 < len(tokens); i++ {
		addFeature(vec, tokens[i]+" "+tokens[i+1], 0.5)
	}

	// Mean pool so long texts don't dominate on magnitude alone.
	inv := float32(1.0 / float64(len(tokens)))
	for i := range vec {
		vec[i] *= inv
	}
	return vec, nil
}

func addFeature(vec []float32, feature string, weight float32) {
	h := fnv.New64a()
	h.Write([]byte(feature))
	sum := h.Sum64()

	bucket := int(sum % uint64(len(vec)))
	sign := float32(1)
	if sum&(1<<63) != 0 {
		sign = -1
	}
	vec[bucket] += sign * weight
}

func tokenize(text string) []string {
	return strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
}
