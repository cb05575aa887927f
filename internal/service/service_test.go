package service

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/retrieval"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/tiering"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

func newTestService(t *testing.T) (*Service, *embedding.Fake) {
	t.Helper()
	cfg := config.Defaults()
	cfg.SemanticMinSimilarity = 0.0
	r := relational.NewMemStore()
	vec := vectorstore.NewMemStore()
	emb := embedding.NewFake(cfg.EmbeddingDim)
	m := metrics.New()
	logger := zap.NewNop()

	repo := repository.New(r, vec, emb, nil, logger, m, cfg)
	engine := retrieval.New(repo, emb, cfg, logger)
	sweeper := tiering.New(r, vec, repo, cfg, logger, m)
	svc := New(repo, engine, sweeper, emb, cfg, logger, m)
	return svc, emb
}

func TestStoreGatesOnImportanceThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Store(ctx, "x", "general", nil, domain.VaultProject)
	require.NoError(t, err)
	require.False(t, result.Stored, "low-scoring trivial content must be gated out, not written")
	require.Empty(t, result.ID)
}

func TestStorePersistsContentAboveThreshold(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Store(ctx, "The production database credentials rotate every 90 days via the secrets pipeline.", string(domain.ContextTaskCritical), nil, domain.VaultProject)
	require.NoError(t, err)
	require.True(t, result.Stored)
	require.NotEmpty(t, result.ID)
	require.Equal(t, domain.TierWorking, result.Tier)
}

func TestStoreDefaultsToProjectVaultScope(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	result, err := svc.Store(ctx, "a fairly detailed task-critical note about the deploy pipeline", string(domain.ContextTaskCritical), nil, "")
	require.NoError(t, err)
	require.True(t, result.Stored)

	stored, err := svc.repo.Get(ctx, result.ID)
	require.NoError(t, err)
	require.Equal(t, domain.VaultProject, stored.VaultScope)
}

func TestRecallDegradesToExactWhenSemanticFails(t *testing.T) {
	svc, emb := newTestService(t)
	ctx := context.Background()

	content := "the deploy runbook lives under docs/runbooks/deploy.md"
	_, err := svc.Store(ctx, content, string(domain.ContextTaskCritical), nil, domain.VaultProject)
	require.NoError(t, err)

	emb.Failing.Store(1)
	result, err := svc.Recall(ctx, content, relational.Filter{}, 5)
	require.NoError(t, err)
	require.True(t, result.Degraded)
	require.NotEmpty(t, result.Hits)
}

func TestGetHealthReportsBackendAndEmbedderStatus(t *testing.T) {
	svc, _ := newTestService(t)
	report := svc.GetHealth(context.Background())
	require.True(t, report.RelationalOK)
	require.True(t, report.VectorOK)
	require.True(t, report.EmbedderOK)
}

func TestForceMigrateRunsASweepSynchronously(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, "a fairly detailed task-critical note worth remembering for a while", string(domain.ContextTaskCritical), nil, domain.VaultProject)
	require.NoError(t, err)

	report, err := svc.ForceMigrate(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.Evaluated)
}

func TestGetStatsReflectsStoredMemories(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.Store(ctx, "a fairly detailed task-critical note for stats coverage", string(domain.ContextTaskCritical), nil, domain.VaultProject)
	require.NoError(t, err)

	stats, err := svc.GetStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, stats.ByTier[domain.TierWorking].Count)
}
