package embedding

import (
	"context"
	"fmt"
	"hash/fnv"
	"math"
	"sync/atomic"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// Fake is a deterministic Embedder for tests: same text always yields
// the same vector, no network calls, and failures can be injected to
// exercise the degraded-mode paths.
type Fake struct {
	dims int
	// Failing, when non-zero, makes the next N Embed/EmbedMany calls
	// return merr.ErrEmbedUnavailable, simulating an embedder outage.
	Failing atomic.Int64
}

func NewFake(dims int) *Fake {
	return &Fake{dims: dims}
}

func (f *Fake) Dimensions() int {
	return f.dims
}

func (f *Fake) Embed(ctx context.Context, text string) (Vector, error) {
	if text == "" {
		return nil, fmt.Errorf("empty text: %w", merr.ErrEmbedInvalid)
	}
	if f.consumeFailure() {
		return nil, fmt.Errorf("fake embedder forced failure: %w", merr.ErrEmbedUnavailable)
	}
	return deterministicVector(text, f.dims), nil
}

func (f *Fake) EmbedMany(ctx context.Context, texts []string) ([]Vector, error) {
	out := make([]Vector, len(texts))
	for i, t := range texts {
		v, err := f.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (f *Fake) consumeFailure() bool {
	for {
		n := f.Failing.Load()
		if n <= 0 {
			return false
		}
		if f.Failing.CompareAndSwap(n, n-1) {
			return true
		}
	}
}

// deterministicVector derives a unit vector from a hash of text so that
// cosine similarity between two embeddings correlates loosely with shared
// tokens — enough to make "semantic" search tests meaningful without a
// real model. Texts sharing more trigram hashes land closer together.
func deterministicVector(text string, dims int) Vector {
	v := make(Vector, dims)
	trigrams := trigramsOf(text)
	if len(trigrams) == 0 {
		trigrams = []string{text}
	}
	for _, tg := range trigrams {
		h := fnv.New64a()
		_, _ = h.Write([]byte(tg))
		seed := h.Sum64()
		for i := 0; i < dims; i++ {
			bit := (seed >> uint(i%64)) & 1
			if bit == 1 {
				v[i] += 1
			} else {
				v[i] -= 1
			}
			seed = seed*6364136223846793005 + 1442695040888963407
		}
	}
	normalize(v)
	return v
}

func trigramsOf(text string) []string {
	runes := []rune(text)
	if len(runes) < 3 {
		return nil
	}
	out := make([]string, 0, len(runes)-2)
	for i := 0; i+3 <= len(runes); i++ {
		out = append(out, string(runes[i:i+3]))
	}
	return out
}

func normalize(v Vector) {
	var sumSq float64
	for _, x := range v {
		sumSq += x * x
	}
	if sumSq == 0 {
		return
	}
	norm := math.Sqrt(sumSq)
	for i := range v {
		v[i] /= norm
	}
}
