package tiering

import (
	"context"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

// consolidatorScanBatch bounds how many rows each consolidation pass
// lists per tier per sweep, mirroring the sweep_batch bound on
// the tier scan itself so a single consolidation pass can't blow the
// sweep's latency budget.
const consolidatorScanBatch = 500

type mergeReport struct {
	merged int
}

// consolidator runs the two merge passes: exact content-hash grouping
// and a semantic near-duplicate pass.
type consolidator struct {
	r       relational.Store
	v       vectorstore.Store
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

func newConsolidator(r relational.Store, v vectorstore.Store, cfg *config.Config, logger *zap.Logger, m *metrics.Collector) *consolidator {
	return &consolidator{r: r, v: v, cfg: cfg, logger: logger, metrics: m}
}

func (c *consolidator) run(ctx context.Context) (mergeReport, error) {
	report := mergeReport{}

	tiers := []domain.Tier{domain.TierSession, domain.TierLongTerm}

	hashDedupMerged, err := c.dedupByContentHash(ctx, tiers)
	if err != nil {
		return report, err
	}
	report.merged += hashDedupMerged

	nearDupMerged, err := c.nearDuplicatePass(ctx, tiers)
	if err != nil {
		return report, err
	}
	report.merged += nearDupMerged

	return report, nil
}

// dedupByContentHash groups Session/LongTerm rows sharing content_hash
// (within a vault_scope) and merges all but the highest-importance one
// into it.
func (c *consolidator) dedupByContentHash(ctx context.Context, tiers []domain.Tier) (int, error) {
	seenHashes := make(map[string]bool)
	merged := 0

	for _, tier := range tiers {
		rows, err := c.r.ListByTierPage(ctx, tier, time.Time{}, consolidatorScanBatch)
		if err != nil {
			return merged, err
		}
		for _, m := range rows {
			key := m.ContentHash + "|" + string(m.VaultScope)
			if seenHashes[key] {
				continue
			}
			seenHashes[key] = true

			group, err := c.r.ListByContentHash(ctx, m.ContentHash, m.VaultScope, tiers)
			if err != nil {
				c.logger.Warn("content-hash lookup failed", zap.String("content_hash", m.ContentHash), zap.Error(err))
				continue
			}
			if len(group) < 2 {
				continue
			}

			keeper, discards := pickKeeper(group)
			if err := c.mergeGroup(ctx, keeper, discards); err != nil {
				c.logger.Warn("merge failed", zap.String("keeper_id", keeper.ID), zap.Error(err))
				continue
			}
			merged += len(discards)
			if c.metrics != nil {
				c.metrics.Consolidations.Inc()
			}
		}
	}

	return merged, nil
}

// nearDuplicatePass finds, for rows touched recently, semantic
// near-duplicates within the same tier and merges them when similarity
// and importance are both close enough.
func (c *consolidator) nearDuplicatePass(ctx context.Context, tiers []domain.Tier) (int, error) {
	merged := 0
	windowStart := time.Now().Add(-c.cfg.TierSweepInterval)

	for _, tier := range tiers {
		rows, err := c.r.ListByTierPage(ctx, tier, time.Time{}, consolidatorScanBatch)
		if err != nil {
			return merged, err
		}

		processed := make(map[string]bool)
		for _, m := range rows {
			if processed[m.ID] || m.PendingEmbedding || m.Quarantined {
				continue
			}
			if m.LastAccessedAt.Before(windowStart) {
				continue
			}

			vec, ok, err := c.v.Get(ctx, tier, m.ID)
			if err != nil || !ok {
				continue
			}

			hits, err := c.v.Search(ctx, []domain.Tier{tier}, vec, 3, 0)
			if err != nil {
				continue
			}

			for _, h := range hits {
				if h.ID == m.ID || h.Score < c.cfg.DedupSimilarity {
					continue
				}
				other, err := c.r.Get(ctx, h.ID)
				if err != nil || other.VaultScope != m.VaultScope {
					continue
				}
				if absFloat(other.Importance-m.Importance) >= 0.05 {
					continue
				}

				keeper, discards := pickKeeper([]*domain.Memory{m, other})
				if err := c.mergeGroup(ctx, keeper, discards); err != nil {
					c.logger.Warn("near-duplicate merge failed", zap.String("keeper_id", keeper.ID), zap.Error(err))
					continue
				}
				merged++
				processed[m.ID] = true
				processed[other.ID] = true
				if c.metrics != nil {
					c.metrics.Consolidations.Inc()
				}
				break
			}
		}
	}

	return merged, nil
}

// mergeGroup folds the discarded copies into keeper (summed
// access_count, max last_accessed_at, metadata union with keeper's
// entries winning) and then applies the merge to the store.
func (c *consolidator) mergeGroup(ctx context.Context, keeper *domain.Memory, discards []*domain.Memory) error {
	for _, d := range discards {
		keeper.AccessCount += d.AccessCount
		if d.LastAccessedAt.After(keeper.LastAccessedAt) {
			keeper.LastAccessedAt = d.LastAccessedAt
		}
		for k, v := range d.Metadata {
			if keeper.Metadata == nil {
				keeper.Metadata = make(map[string]any, len(d.Metadata))
			}
			if _, exists := keeper.Metadata[k]; !exists {
				keeper.Metadata[k] = v
			}
		}
	}

	discardIDs := lo.Map(discards, func(d *domain.Memory, _ int) string { return d.ID })
	if err := c.r.MergeInto(ctx, keeper, discardIDs); err != nil {
		return err
	}
	for _, d := range discards {
		if err := c.v.Delete(ctx, d.Tier, d.ID); err != nil {
			c.logger.Warn("failed to remove discarded vector after merge", zap.String("memory_id", d.ID), zap.Error(err))
		}
	}
	return nil
}

// pickKeeper decides which copy survives a merge: highest importance
// wins; on a tie, the most recently accessed wins.
func pickKeeper(group []*domain.Memory) (*domain.Memory, []*domain.Memory) {
	keeper := group[0]
	for _, m := range group[1:] {
		if m.Importance > keeper.Importance {
			keeper = m
			continue
		}
		if m.Importance == keeper.Importance && m.LastAccessedAt.After(keeper.LastAccessedAt) {
			keeper = m
		}
	}

	discards := lo.Filter(group, func(m *domain.Memory, _ int) bool { return m.ID != keeper.ID })
	return keeper, discards
}

func absFloat(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}
