package embedding

import (
	"context"
	"errors"
	"math"
	"strings"
	"testing"

	"github.com/HendryAvila/megamemory/internal/store"
)

func newTestProvider() *Provider {
	return NewProvider(func() (Model, error) {
		return NewLocalModel(), nil
	})
}

func TestEmbeddingText(t *testing.T) {
	got := EmbeddingText("Auth", store.KindModule, "Handles JWT validation")
	want := "module: Auth — Handles JWT validation"
	if got != want {
		t.Errorf("EmbeddingText = %q, want %q", got, want)
	}
}

func TestEmbedRejectsEmptyInput(t *testing.T) {
	p := newTestProvider()
	for _, in := range []string{"", "   ", "\t\n"} {
		_, err := p.Embed(context.Background(), in)
		if !store.IsKind(err, store.ErrEmbeddingInput) {
			t.Errorf("Embed(%q) error = %v, want EmbeddingInput", in, err)
		}
	}
}

func TestEmbedDeterministicUnitLength(t *testing.T) {
	p := newTestProvider()
	a, err := p.Embed(context.Background(), "module: auth — handles JWT validation")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	b, err := p.Embed(context.Background(), "module: auth — handles JWT validation")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}

	if len(a) != store.EmbeddingDim {
		t.Fatalf("dims = %d, want %d", len(a), store.EmbeddingDim)
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatal("embedding is not deterministic")
		}
	}

	var norm float64
	for _, f := range a {
		norm += float64(f) * float64(f)
	}
	if math.Abs(math.Sqrt(norm)-1.0) > 1e-5 {
		t.Errorf("norm = %f, want 1.0", math.Sqrt(norm))
	}
}

func TestProviderInitFailureIsSticky(t *testing.T) {
	calls := 0
	p := NewProvider(func() (Model, error) {
		calls++
		return nil, errors.New("no model file")
	})

	for i := 0; i < 3; i++ {
		_, err := p.Embed(context.Background(), "anything")
		if !store.IsKind(err, store.ErrEmbeddingUnavailable) {
			t.Fatalf("Embed error = %v, want EmbeddingUnavailable", err)
		}
	}
	if calls != 1 {
		t.Errorf("factory ran %d times, want 1", calls)
	}
}

func TestCosineSimilarity(t *testing.T) {
	e := []float32{0.6, 0.8, 0}
	sim, err := CosineSimilarity(e, e)
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(sim-1.0) > 1e-5 {
		t.Errorf("self similarity = %f, want 1.0", sim)
	}

	orth, err := CosineSimilarity([]float32{1, 0}, []float32{0, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(orth) > 1e-5 {
		t.Errorf("orthogonal similarity = %f, want 0", orth)
	}

	anti, err := CosineSimilarity([]float32{1, 0}, []float32{-1, 0})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if math.Abs(anti+1.0) > 1e-5 {
		t.Errorf("antipodal similarity = %f, want -1", anti)
	}

	zero, err := CosineSimilarity([]float32{0, 0}, []float32{1, 1})
	if err != nil {
		t.Fatalf("CosineSimilarity: %v", err)
	}
	if zero != 0 {
		t.Errorf("zero-norm similarity = %f, want 0", zero)
	}
}

func TestCosineSimilarityDimMismatch(t *testing.T) {
	_, err := CosineSimilarity([]float32{1, 2}, []float32{1, 2, 3})
	if !store.IsKind(err, store.ErrEmbeddingDim) {
		t.Errorf("error = %v, want EmbeddingDim", err)
	}
}

func TestFindTopK(t *testing.T) {
	query := []float32{1, 0, 0}
	candidates := []Candidate{
		{ID: "exact", Vector: []float32{1, 0, 0}},
		{ID: "close", Vector: []float32{0.9, 0.1, 0}},
		{ID: "far", Vector: []float32{0, 0, 1}},
		{ID: "no-vector", Vector: nil},
	}

	matches, err := FindTopK(query, candidates, 2)
	if err != nil {
		t.Fatalf("FindTopK: %v", err)
	}
	if len(matches) != 2 {
		t.Fatalf("got %d matches, want 2", len(matches))
	}
	if matches[0].ID != "exact" || matches[1].ID != "close" {
		t.Errorf("order = %s, %s; want exact, close", matches[0].ID, matches[1].ID)
	}
	if matches[0].Similarity < matches[1].Similarity {
		t.Error("matches not sorted by descending similarity")
	}
}

func TestFindTopKEmpty(t *testing.T) {
	matches, err := FindTopK([]float32{1}, nil, 5)
	if err != nil {
		t.Fatalf("FindTopK: %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("got %d matches, want 0", len(matches))
	}
}

func TestLocalModelSimilarTextScoresHigher(t *testing.T) {
	p := newTestProvider()
	ctx := context.Background()

	auth, _ := p.Embed(ctx, "module: auth — validates JWT tokens for requests")
	authQuery, _ := p.Embed(ctx, "how are JWT tokens validated")
	unrelated, _ := p.Embed(ctx, "config: retry-policy — exponential backoff for queue workers")

	simAuth, _ := CosineSimilarity(authQuery, auth)
	simOther, _ := CosineSimilarity(authQuery, unrelated)
	if simAuth <= simOther {
		t.Errorf("related text should score higher: auth=%f unrelated=%f", simAuth, simOther)
	}
}

func TestTokenize(t *testing.T) {
	got := tokenize("Hello, World! (v2)")
	want := []string{"hello", "world", "v2"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("tokenize = %v, want %v", got, want)
	}
}
