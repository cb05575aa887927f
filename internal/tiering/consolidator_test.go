package tiering

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

func TestConsolidatorMergesExactContentHashDuplicates(t *testing.T) {
	cfg := config.Defaults()
	r := relational.NewMemStore()
	v := vectorstore.NewMemStore()
	emb := embedding.NewFake(cfg.EmbeddingDim)
	m := metrics.New()
	repo := repository.New(r, v, emb, nil, zap.NewNop(), m, cfg)
	ctx := context.Background()

	content := "the exact same memory content, twice over"
	keep := &domain.Memory{Content: content, Context: "general", Importance: 0.8, VaultScope: domain.VaultProject, AccessCount: 3}
	discard := &domain.Memory{Content: content, Context: "general", Importance: 0.6, VaultScope: domain.VaultProject, AccessCount: 5}
	require.NoError(t, repo.Put(ctx, keep))
	require.NoError(t, repo.Put(ctx, discard))
	require.NoError(t, repo.UpdateTier(ctx, keep.ID, domain.TierSession))
	require.NoError(t, repo.UpdateTier(ctx, discard.ID, domain.TierSession))

	c := newConsolidator(r, v, cfg, zap.NewNop(), m)
	report, err := c.run(ctx)
	require.NoError(t, err)
	require.Equal(t, 1, report.merged, "only the higher-importance copy should survive")

	row, err := r.Get(ctx, keep.ID)
	require.NoError(t, err)
	require.Equal(t, int64(8), row.AccessCount, "the surviving row absorbs the discarded copy's access_count")

	_, err = r.Get(ctx, discard.ID)
	require.Error(t, err, "the lower-importance duplicate must be deleted")
}

func TestPickKeeperPrefersHigherImportanceThenRecency(t *testing.T) {
	now := time.Now()
	a := &domain.Memory{ID: "a", Importance: 0.9, LastAccessedAt: now}
	b := &domain.Memory{ID: "b", Importance: 0.9, LastAccessedAt: now.Add(time.Hour)}
	c := &domain.Memory{ID: "c", Importance: 0.4, LastAccessedAt: now.Add(2 * time.Hour)}

	keeper, discards := pickKeeper([]*domain.Memory{a, b, c})
	require.Equal(t, "b", keeper.ID, "equal-importance tie should be broken by more recent access")
	require.Len(t, discards, 2)
}

func TestDedupNoSharedContentHashAcrossVaultScopes(t *testing.T) {
	cfg := config.Defaults()
	r := relational.NewMemStore()
	v := vectorstore.NewMemStore()
	emb := embedding.NewFake(cfg.EmbeddingDim)
	m := metrics.New()
	repo := repository.New(r, v, emb, nil, zap.NewNop(), m, cfg)
	ctx := context.Background()

	content := "shared text, different vault scopes"
	core := &domain.Memory{Content: content, Context: "general", Importance: 0.8, VaultScope: domain.VaultCore}
	project := &domain.Memory{Content: content, Context: "general", Importance: 0.8, VaultScope: domain.VaultProject}
	require.NoError(t, repo.Put(ctx, core))
	require.NoError(t, repo.Put(ctx, project))
	require.NoError(t, repo.UpdateTier(ctx, core.ID, domain.TierSession))
	require.NoError(t, repo.UpdateTier(ctx, project.ID, domain.TierSession))

	c := newConsolidator(r, v, cfg, zap.NewNop(), m)
	report, err := c.run(ctx)
	require.NoError(t, err)
	require.Equal(t, 0, report.merged, "dedup is scoped per vault_scope, not global")

	_, err = r.Get(ctx, core.ID)
	require.NoError(t, err)
	_, err = r.Get(ctx, project.ID)
	require.NoError(t, err)
}
