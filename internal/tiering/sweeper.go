// Package tiering implements the Tier Manager and Consolidator: the
// periodic sweep that advances memories through
// Working -> Session -> LongTerm, evicts low-value Working rows, and
// merges duplicates.
package tiering

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

// quarantineAfterFailures is the consecutive-sweep-failure count at
// which a row is quarantined and skipped.
const quarantineAfterFailures = 3

// Report summarizes one sweep for force_migrate()'s response.
type Report struct {
	Evaluated   int
	Migrated    map[domain.Tier]int
	Evicted     int
	Merged      int
	Quarantined int
	Errors      int
	Duration    time.Duration
}

// Sweeper owns the periodic tick and the per-row transition logic. It
// reads/writes R directly for scanning and consolidation (operations
// the Repository facade deliberately doesn't expose, since they are
// Tier-Manager-only concerns) and routes individual row migrations and
// evictions through Repository so per-id locking and V consistency are
// preserved.
type Sweeper struct {
	r    relational.Store
	v    vectorstore.Store
	repo *repository.Repository

	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector

	consolidator *consolidator

	failures map[string]int
}

func New(r relational.Store, v vectorstore.Store, repo *repository.Repository, cfg *config.Config, logger *zap.Logger, m *metrics.Collector) *Sweeper {
	return &Sweeper{
		r:            r,
		v:            v,
		repo:         repo,
		cfg:          cfg,
		logger:       logger,
		metrics:      m,
		consolidator: newConsolidator(r, v, cfg, logger, m),
		failures:     make(map[string]int),
	}
}

// Run ticks every cfg.TierSweepInterval until ctx is canceled.
func (s *Sweeper) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.TierSweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil {
				s.logger.Error("sweep failed", zap.Error(err))
			}
		}
	}
}

// Sweep runs one pass: migrate/evict Working and Session rows (one
// transition per row), then invoke the consolidator. It is also what
// force_migrate() calls synchronously.
func (s *Sweeper) Sweep(ctx context.Context) (Report, error) {
	start := time.Now()
	report := Report{Migrated: make(map[domain.Tier]int)}

	// transitioned tracks ids already migrated earlier in this sweep so a
	// row that just moved Working->Session is never re-evaluated against
	// the Session->LongTerm rule in the same pass: at most one transition
	// per row per sweep.
	transitioned := make(map[string]bool)

	if err := s.sweepTier(ctx, domain.TierWorking, &report, transitioned); err != nil {
		return report, err
	}
	if err := s.sweepTier(ctx, domain.TierSession, &report, transitioned); err != nil {
		return report, err
	}

	mergeReport, err := s.consolidator.run(ctx)
	if err != nil {
		s.logger.Warn("consolidator pass failed", zap.Error(err))
	}
	report.Merged = mergeReport.merged

	report.Duration = time.Since(start)
	if s.metrics != nil {
		s.metrics.SweepDuration.Observe(report.Duration.Seconds())
	}
	return report, nil
}

func (s *Sweeper) sweepTier(ctx context.Context, tier domain.Tier, report *Report, transitioned map[string]bool) error {
	var cursor time.Time
	now := time.Now()
	processed := 0

	for processed < s.cfg.SweepBatch {
		batchLimit := s.cfg.SweepBatch - processed
		rows, err := s.r.ListByTierPage(ctx, tier, cursor, batchLimit)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			break
		}

		for _, m := range rows {
			cursor = m.CreatedAt
			if transitioned[m.ID] {
				continue
			}
			report.Evaluated++
			moved, err := s.applyTransition(ctx, m, now, report)
			if err != nil {
				report.Errors++
				s.onFailure(ctx, m.ID, report)
				continue
			}
			if moved {
				transitioned[m.ID] = true
			}
			delete(s.failures, m.ID)
		}

		processed += len(rows)
		if len(rows) < batchLimit {
			break
		}
	}
	return nil
}

func (s *Sweeper) onFailure(ctx context.Context, id string, report *Report) {
	s.failures[id]++
	if s.failures[id] < quarantineAfterFailures {
		return
	}
	if err := s.r.SetQuarantined(ctx, id, true); err != nil {
		s.logger.Warn("failed to quarantine row", zap.String("memory_id", id), zap.Error(err))
		return
	}
	delete(s.failures, id)
	report.Quarantined++
	if s.metrics != nil {
		s.metrics.QuarantinedRows.Inc()
	}
}

// applyTransition evaluates and, if warranted, applies exactly one
// state-machine edge for m, recording the outcome in report. moved
// reports whether a tier transition happened, so the caller can exclude
// this row from further transitions within the same sweep.
func (s *Sweeper) applyTransition(ctx context.Context, m *domain.Memory, now time.Time, report *Report) (moved bool, err error) {
	switch m.Tier {
	case domain.TierWorking:
		if s.shouldEvict(m, now) {
			if err := s.repo.Delete(ctx, m.ID); err != nil {
				return false, err
			}
			report.Evicted++
			if s.metrics != nil {
				s.metrics.Evictions.Inc()
			}
			return true, nil
		}
		if s.shouldPromoteToSession(m, now) {
			if err := s.migrate(ctx, m, domain.TierSession); err != nil {
				return false, err
			}
			report.Migrated[domain.TierSession]++
			return true, nil
		}
	case domain.TierSession:
		if s.shouldPromoteToLongTerm(m, now) {
			if err := s.migrate(ctx, m, domain.TierLongTerm); err != nil {
				return false, err
			}
			report.Migrated[domain.TierLongTerm]++
			return true, nil
		}
	}
	return false, nil
}

func (s *Sweeper) migrate(ctx context.Context, m *domain.Memory, to domain.Tier) error {
	return s.repo.UpdateTier(ctx, m.ID, to)
}

func (s *Sweeper) shouldEvict(m *domain.Memory, now time.Time) bool {
	return m.Importance < s.cfg.EvictMinImportance && m.Age(now) > s.cfg.EvictAge
}

func (s *Sweeper) shouldPromoteToSession(m *domain.Memory, now time.Time) bool {
	if m.Age(now) <= s.cfg.WorkingToSessionAge {
		return false
	}
	if s.cfg.AccessRateLowPerWeek <= 0 {
		return true
	}
	return accessRatePerWeek(m, now) < s.cfg.AccessRateLowPerWeek
}

func (s *Sweeper) shouldPromoteToLongTerm(m *domain.Memory, now time.Time) bool {
	return m.Age(now) > s.cfg.SessionToLongAge && m.Importance >= s.cfg.LongTermMinImportance
}

// accessRatePerWeek estimates accesses/week over the memory's lifetime,
// guarding against division by a near-zero age for brand new rows.
func accessRatePerWeek(m *domain.Memory, now time.Time) float64 {
	weeks := m.Age(now).Hours() / 24 / 7
	if weeks < (1.0 / 7.0) {
		weeks = 1.0 / 7.0
	}
	return float64(m.AccessCount) / weeks
}
