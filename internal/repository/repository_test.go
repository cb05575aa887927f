package repository

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

func newTestRepo(t *testing.T) (*Repository, relational.Store, vectorstore.Store, *embedding.Fake) {
	t.Helper()
	cfg := config.Defaults()
	r := relational.NewMemStore()
	v := vectorstore.NewMemStore()
	emb := embedding.NewFake(cfg.EmbeddingDim)
	repo := New(r, v, emb, nil, zap.NewNop(), metrics.New(), cfg)
	return repo, r, v, emb
}

func TestPutAssignsIDAndWritesBothStores(t *testing.T) {
	repo, r, v, _ := newTestRepo(t)
	ctx := context.Background()

	m := &domain.Memory{Content: "hello world", Context: "general", Importance: 0.8, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, m))
	require.NotEmpty(t, m.ID)

	row, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TierWorking, row.Tier)
	require.False(t, row.PendingEmbedding)

	_, ok, err := v.Get(ctx, domain.TierWorking, m.ID)
	require.NoError(t, err)
	require.True(t, ok, "a non-pending row must have a vector in the collection matching its tier")
}

func TestPutDegradesToPendingOnEmbedderFailure(t *testing.T) {
	repo, r, _, emb := newTestRepo(t)
	ctx := context.Background()

	emb.Failing.Store(1)
	m := &domain.Memory{Content: "x", Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, m), "a transient embedder failure must not fail the write")

	row, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	require.True(t, row.PendingEmbedding)
}

func TestPutRejectsPermanentEmbedError(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)
	ctx := context.Background()

	m := &domain.Memory{Content: "", Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
	err := repo.Put(ctx, m)
	require.Error(t, err)
	require.ErrorIs(t, err, merr.ErrEmbedInvalid)
}

func TestDeleteIsIdempotent(t *testing.T) {
	repo, _, _, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, repo.Delete(ctx, "does-not-exist"))

	m := &domain.Memory{Content: "to be deleted", Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, m))
	require.NoError(t, repo.Delete(ctx, m.ID))
	require.NoError(t, repo.Delete(ctx, m.ID), "deleting an already-deleted id must still succeed")

	_, err := repo.Get(ctx, m.ID)
	require.ErrorIs(t, err, merr.ErrNotFound)
}

func TestUpdateTierMovesVectorBeforeFlippingRow(t *testing.T) {
	repo, r, v, _ := newTestRepo(t)
	ctx := context.Background()

	m := &domain.Memory{Content: "promote me", Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, m))

	require.NoError(t, repo.UpdateTier(ctx, m.ID, domain.TierSession))

	row, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, domain.TierSession, row.Tier)

	_, oldOK, err := v.Get(ctx, domain.TierWorking, m.ID)
	require.NoError(t, err)
	require.False(t, oldOK, "old collection must no longer hold the vector after a completed migration")

	_, newOK, err := v.Get(ctx, domain.TierSession, m.ID)
	require.NoError(t, err)
	require.True(t, newOK)
}

func TestVectorSearchDropsHitsMissingFromRelationalStore(t *testing.T) {
	repo, r, v, _ := newTestRepo(t)
	ctx := context.Background()

	require.NoError(t, v.Upsert(ctx, domain.TierWorking, "orphan", []float64{1, 0, 0}))
	require.NoError(t, r.Delete(ctx, "orphan")) // no-op, confirms the id really isn't in R

	hits, err := repo.VectorSearch(ctx, []domain.Tier{domain.TierWorking}, []float64{1, 0, 0}, 5, 0)
	require.NoError(t, err)
	require.Empty(t, hits, "R is authoritative: a V hit with no matching row must be dropped silently")
}

func TestRepairBackstopBatchRepairsPendingRows(t *testing.T) {
	repo, r, v, emb := newTestRepo(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		emb.Failing.Store(1)
		m := &domain.Memory{Content: "pending row " + string(rune('a'+i)), Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
		require.NoError(t, repo.Put(ctx, m))
		ids = append(ids, m.ID)
	}

	repo.repair.scanBackstop(ctx)

	for _, id := range ids {
		row, err := r.Get(ctx, id)
		require.NoError(t, err)
		require.False(t, row.PendingEmbedding, "the backstop scan must clear the pending flag")

		_, ok, err := v.Get(ctx, domain.TierWorking, id)
		require.NoError(t, err)
		require.True(t, ok, "the repaired vector must land in the row's tier collection")
	}
}

func TestTouchFlushCoalescesAndUpdatesAccessCount(t *testing.T) {
	repo, r, _, _ := newTestRepo(t)
	ctx := context.Background()

	m := &domain.Memory{Content: "touch target", Context: "general", Importance: 0.9, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, m))

	t1 := time.Now()
	t2 := t1.Add(time.Second)
	repo.Touch(m.ID, t1)
	repo.Touch(m.ID, t2)

	repo.flushTouches(ctx)

	row, err := r.Get(ctx, m.ID)
	require.NoError(t, err)
	require.Equal(t, int64(2), row.AccessCount)
	require.WithinDuration(t, t2, row.LastAccessedAt, time.Millisecond, "coalesced last_accessed_at must be the latest of the two touches")
}

func TestTouchQueueDropsOnOverflowWithoutBlocking(t *testing.T) {
	cfg := config.Defaults()
	cfg.TouchQueueSize = 1
	r := relational.NewMemStore()
	v := vectorstore.NewMemStore()
	emb := embedding.NewFake(cfg.EmbeddingDim)
	m := metrics.New()
	repo := New(r, v, emb, nil, zap.NewNop(), m, cfg)

	repo.Touch("a", time.Now())
	repo.Touch("b", time.Now()) // should be dropped silently, never block

	pending := repo.touch.drain()
	require.Len(t, pending, 1)
}
