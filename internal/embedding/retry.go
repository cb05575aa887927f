package embedding

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// Backoff parameters for transient embedder failures: base 500ms,
// cap 30s, at most 5 attempts total.
const (
	retryBase       = 500 * time.Millisecond
	retryCap        = 30 * time.Second
	retryMaxAttempts = 5
)

// WithRetry calls fn, retrying with capped exponential backoff plus jitter
// while the returned error is transient (merr.ErrEmbedUnavailable). A
// permanent error (merr.ErrEmbedInvalid) or context cancellation returns
// immediately without consuming a retry.
func WithRetry(ctx context.Context, fn func(ctx context.Context) error) error {
	var lastErr error
	delay := retryBase

	for attempt := 1; attempt <= retryMaxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		lastErr = fn(ctx)
		if lastErr == nil {
			return nil
		}
		if !errors.Is(lastErr, merr.ErrEmbedUnavailable) {
			return lastErr
		}
		if attempt == retryMaxAttempts {
			break
		}

		jittered := delay/2 + time.Duration(rand.Int63n(int64(delay)/2+1))
		timer := time.NewTimer(jittered)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
		}

		delay *= 2
		if delay > retryCap {
			delay = retryCap
		}
	}

	return lastErr
}
