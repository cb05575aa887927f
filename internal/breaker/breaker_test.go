package breaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

var errBoom = errors.New("boom")

func TestClosedBreakerOpensAfterFailureThreshold(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 3, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMax: 1})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := cb.Execute(ctx, func(ctx context.Context) error { return errBoom })
		require.ErrorIs(t, err, errBoom)
	}

	require.Equal(t, StateOpen, cb.State())

	err := cb.Execute(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run while the breaker is open")
		return nil
	})
	require.ErrorIs(t, err, merr.ErrStoreUnavailable)
}

func TestOpenBreakerTrialsAfterTimeoutThenCloses(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, SuccessThreshold: 1, OpenTimeout: 10 * time.Millisecond, HalfOpenMax: 2})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(20 * time.Millisecond)

	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error { return nil }))
	require.Equal(t, StateClosed, cb.State(), "a successful half-open trial reaching success_threshold recloses the breaker")
}

func TestHalfOpenFailureReopens(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, SuccessThreshold: 2, OpenTimeout: 10 * time.Millisecond, HalfOpenMax: 2})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)
	time.Sleep(20 * time.Millisecond)

	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)
	require.Equal(t, StateOpen, cb.State(), "a half-open trial failure must reopen the breaker immediately")
}

func TestHalfOpenTrialBudgetIsExhausted(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 1, SuccessThreshold: 5, OpenTimeout: 10 * time.Millisecond, HalfOpenMax: 1})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)
	time.Sleep(20 * time.Millisecond)

	// success_threshold is 5, so the single successful trial below isn't
	// enough to close the breaker; it only consumes the half-open budget.
	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error { return nil }))
	require.Equal(t, StateHalfOpen, cb.State())

	err := cb.Execute(ctx, func(ctx context.Context) error {
		t.Fatal("fn must not run once the half-open trial budget is exhausted")
		return nil
	})
	require.ErrorIs(t, err, merr.ErrStoreUnavailable)
}

func TestClosedBreakerResetsFailureCountOnSuccess(t *testing.T) {
	cb := New("test", Config{FailureThreshold: 2, SuccessThreshold: 1, OpenTimeout: time.Minute, HalfOpenMax: 1})
	ctx := context.Background()

	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)
	require.NoError(t, cb.Execute(ctx, func(ctx context.Context) error { return nil }))
	require.ErrorIs(t, cb.Execute(ctx, func(ctx context.Context) error { return errBoom }), errBoom)

	require.Equal(t, StateClosed, cb.State(), "an intervening success must reset the consecutive-failure count")
}
