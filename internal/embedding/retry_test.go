package embedding

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

func TestWithRetrySucceedsWithoutRetryingOnFirstSuccess(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 1, calls)
}

func TestWithRetryStopsImmediatelyOnPermanentError(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		return merr.ErrEmbedInvalid
	})
	require.ErrorIs(t, err, merr.ErrEmbedInvalid)
	require.Equal(t, 1, calls, "a permanent error must not be retried")
}

func TestWithRetryRecoversAfterTransientFailures(t *testing.T) {
	calls := 0
	err := WithRetry(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return merr.ErrEmbedUnavailable
		}
		return nil
	})
	require.NoError(t, err)
	require.Equal(t, 3, calls)
}

func TestWithRetryAbortsOnContextCancellationDuringBackoff(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	calls := 0
	err := WithRetry(ctx, func(ctx context.Context) error {
		calls++
		return merr.ErrEmbedUnavailable
	})
	require.True(t, errors.Is(err, context.DeadlineExceeded) || errors.Is(err, merr.ErrEmbedUnavailable))
	require.Less(t, calls, 5, "a canceled context must cut the retry loop short of its max attempts")
}
