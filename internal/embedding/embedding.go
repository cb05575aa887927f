// Package embedding defines the Embedder capability: a pure
// text-to-vector function, a production adapter over an OpenAI-compatible
// embeddings endpoint, and a deterministic fake for tests.
package embedding

import "context"

// Vector is a dense embedding; its length is always Embedder.Dimensions().
type Vector []float64

// Embedder converts text to a fixed-dimension vector. Implementations
// must be pure with respect to (model, text): the same input always
// yields the same vector. Errors are merr.ErrEmbedUnavailable (transient)
// or merr.ErrEmbedInvalid (permanent).
type Embedder interface {
	// Embed converts a single text into a vector.
	Embed(ctx context.Context, text string) (Vector, error)

	// EmbedMany converts texts in batch, preserving input order. On
	// partial failure the whole batch fails; callers should fall back to
	// per-item Embed via EmbedManyWithFallback.
	EmbedMany(ctx context.Context, texts []string) ([]Vector, error)

	// Dimensions returns D, the fixed vector length this embedder produces.
	Dimensions() int
}

// EmbedManyWithFallback calls EmbedMany and, if it fails wholly, retries
// each text individually through Embed. The fallback lives at the caller
// rather than inside the embedder so every implementation gets it.
func EmbedManyWithFallback(ctx context.Context, e Embedder, texts []string) ([]Vector, error) {
	vectors, err := e.EmbedMany(ctx, texts)
	if err == nil {
		return vectors, nil
	}

	out := make([]Vector, len(texts))
	for i, text := range texts {
		v, itemErr := e.Embed(ctx, text)
		if itemErr != nil {
			return nil, itemErr
		}
		out[i] = v
	}
	return out, nil
}
