// Package repository provides the Repository facade: the only component
// that touches both the relational store (R) and the vector store (V),
// keeping them consistent under concurrent writes. It
// owns per-id serialization, the touch queue, and the repair worker.
package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/ids"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

// Hit is a vector-search result hydrated against R, pairing the
// similarity score with the full row it resolved to.
type Hit struct {
	Memory *domain.Memory
	Score  float64
}

// Repository wires the relational store, vector store, and embedder
// behind a single consistency boundary.
type Repository struct {
	r   relational.Store
	v   vectorstore.Store
	emb embedding.Embedder

	touch  touchQueue
	repair *repairWorker
	locks  *stripedLock

	logger  *zap.Logger
	metrics *metrics.Collector
	cfg     *config.Config
}

// New builds a Repository. If redisClient is non-nil the touch queue is
// backed by Redis so multi-instance deployments share one buffer;
// otherwise an in-process bounded map is used.
func New(r relational.Store, v vectorstore.Store, emb embedding.Embedder, redisClient *redis.Client, logger *zap.Logger, m *metrics.Collector, cfg *config.Config) *Repository {
	var tq touchQueue
	if redisClient != nil {
		tq = newRedisTouchQueue(redisClient, "memoria", cfg.TouchQueueSize, m)
	} else {
		tq = newRingTouchQueue(cfg.TouchQueueSize, m)
	}

	return &Repository{
		r:       r,
		v:       v,
		emb:     emb,
		touch:   tq,
		repair:  newRepairWorker(r, v, emb, logger, m),
		locks:   newStripedLock(),
		logger:  logger,
		metrics: m,
		cfg:     cfg,
	}
}

// StartBackgroundWorkers launches the repair worker and the touch-queue
// flusher; both stop when ctx is canceled. Call once at startup.
func (repo *Repository) StartBackgroundWorkers(ctx context.Context) {
	go repo.repair.run(ctx)
	go repo.flushTouchesLoop(ctx)
}

func (repo *Repository) flushTouchesLoop(ctx context.Context) {
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			repo.flushTouches(ctx)
		}
	}
}

func (repo *Repository) flushTouches(ctx context.Context) {
	pending := repo.touch.drain()
	for id, c := range pending {
		if err := repo.r.Touch(ctx, id, c.when, c.count); err != nil {
			repo.logger.Warn("touch flush failed", zap.String("memory_id", id), zap.Error(err))
		}
	}
}

// Put persists a new memory. R is written first and is authoritative: if
// embedding fails transiently or the vector upsert fails, the row is kept
// and marked pending_embedding rather than failing the whole call, so a
// degraded write never loses user data. The Repair worker converges V
// afterward. A permanent embedding error (merr.ErrEmbedInvalid) fails the
// call before anything is written.
func (repo *Repository) Put(ctx context.Context, m *domain.Memory) error {
	unlock := repo.locks.lock(m.ID)
	defer unlock()

	now := time.Now()
	if m.ID == "" {
		m.ID = ids.New()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = now
	}
	if m.LastAccessedAt.IsZero() {
		m.LastAccessedAt = now
	}
	if !m.Tier.Valid() {
		m.Tier = domain.TierWorking
	}
	m.Importance = domain.ClampImportance(m.Importance)
	if m.ContentHash == "" {
		m.ContentHash = domain.ContentHash(m.Content)
	}

	vec, embErr := repo.emb.Embed(ctx, m.Content)
	m.PendingEmbedding = embErr != nil
	if embErr != nil && !merr.Transient(embErr) {
		return fmt.Errorf("embed memory %s: %w", m.ID, embErr)
	}

	if err := repo.r.Put(ctx, m); err != nil {
		return fmt.Errorf("put memory %s: %w", m.ID, err)
	}

	if embErr != nil {
		repo.logger.Warn("embedding unavailable at write time, deferring to repair", zap.String("memory_id", m.ID), zap.Error(embErr))
		repo.repair.enqueue(m.ID)
		return nil
	}

	if err := repo.v.Upsert(ctx, m.Tier, m.ID, []float64(vec)); err != nil {
		if err := repo.r.SetPendingEmbedding(ctx, m.ID, true); err != nil {
			repo.logger.Warn("failed to mark pending_embedding after vector upsert failure", zap.String("memory_id", m.ID), zap.Error(err))
		}
		repo.repair.enqueue(m.ID)
		return nil
	}

	return nil
}

// Get returns a memory by id and records a touch; the bumped
// access_count/last_accessed_at feed the tier manager's access-rate
// signal.
func (repo *Repository) Get(ctx context.Context, id string) (*domain.Memory, error) {
	m, err := repo.r.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	repo.touch.enqueue(id, time.Now())
	return m, nil
}

// Delete removes a memory from both R and V. V deletion failure is
// logged but not fatal: a row absent from R is already invisible to
// every read path, since VectorSearch drops V hits with no R row. The
// stray V point itself stays in V; nothing removes it afterwards.
func (repo *Repository) Delete(ctx context.Context, id string) error {
	unlock := repo.locks.lock(id)
	defer unlock()

	m, err := repo.r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, merr.ErrNotFound) {
			return nil
		}
		return err
	}

	if err := repo.r.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete memory %s: %w", id, err)
	}

	if err := repo.v.Delete(ctx, m.Tier, id); err != nil {
		repo.logger.Warn("vector delete failed after relational delete", zap.String("memory_id", id), zap.Error(err))
	}

	return nil
}

// UpdateTier migrates a memory between tiers using the overlap-safe
// sequence: insert the vector into the new tier's
// collection before flipping R's tier field, then remove it from the
// old collection last. A crash between steps can leave the vector in
// both tiers' collections, never in neither; the leftover copy in the
// old collection is not removed afterwards, and VectorSearch returns the
// id only once.
func (repo *Repository) UpdateTier(ctx context.Context, id string, newTier domain.Tier) error {
	unlock := repo.locks.lock(id)
	defer unlock()

	m, err := repo.r.Get(ctx, id)
	if err != nil {
		return err
	}
	oldTier := m.Tier
	if oldTier == newTier {
		return nil
	}

	vec, found, err := repo.v.Get(ctx, oldTier, id)
	if err != nil {
		return fmt.Errorf("read vector for migration of %s: %w", id, err)
	}
	if found {
		if err := repo.v.Upsert(ctx, newTier, id, vec); err != nil {
			return fmt.Errorf("upsert vector into %s for %s: %w", newTier, id, err)
		}
	}

	if err := repo.r.UpdateTier(ctx, id, newTier); err != nil {
		return fmt.Errorf("update tier for %s: %w", id, err)
	}

	if found {
		if err := repo.v.Delete(ctx, oldTier, id); err != nil {
			repo.logger.Warn("failed to remove stale vector after tier migration", zap.String("memory_id", id), zap.String("old_tier", string(oldTier)), zap.Error(err))
		}
	}

	if repo.metrics != nil {
		repo.metrics.Migrations.WithLabelValues(string(oldTier), string(newTier)).Inc()
	}
	return nil
}

// Touch enqueues a recency/access update without blocking the caller;
// it is applied by the background flusher, coalesced with any other
// touches for the same id that arrive before the next flush.
func (repo *Repository) Touch(id string, when time.Time) {
	repo.touch.enqueue(id, when)
}

// ExactSearch delegates to R directly; results are already rows, so
// there is nothing to hydrate.
func (repo *Repository) ExactSearch(ctx context.Context, query string, filter relational.Filter, limit int) ([]relational.Candidate, error) {
	return repo.r.ExactSearch(ctx, query, filter, limit)
}

// VectorSearch runs similarity search across tiers and hydrates each
// hit against R. A V hit whose id is absent from R (R is authoritative)
// is dropped rather than surfaced; the point stays in V, since Repair's
// backstop scan only handles pending_embedding rows. An id visible in two collections
// mid-migration is returned once, at its best score.
func (repo *Repository) VectorSearch(ctx context.Context, tiers []domain.Tier, vec []float64, limit int, minScore float64) ([]Hit, error) {
	raw, err := repo.v.Search(ctx, tiers, vec, limit, minScore)
	if err != nil {
		return nil, err
	}

	seen := make(map[string]bool, len(raw))
	out := make([]Hit, 0, len(raw))
	for _, h := range raw {
		if seen[h.ID] {
			continue
		}
		seen[h.ID] = true
		m, err := repo.r.Get(ctx, h.ID)
		if err != nil {
			if errors.Is(err, merr.ErrNotFound) {
				repo.logger.Debug("dropping vector hit with no relational row", zap.String("memory_id", h.ID))
				continue
			}
			return nil, err
		}
		if m.Quarantined {
			continue
		}
		out = append(out, Hit{Memory: m, Score: h.Score})
	}
	return out, nil
}

// Stats proxies R's aggregate for get_stats().
func (repo *Repository) Stats(ctx context.Context) (relational.Stats, error) {
	return repo.r.Stats(ctx)
}

// Ping reports whether both backing stores are reachable.
func (repo *Repository) Ping(ctx context.Context) error {
	if err := repo.PingRelational(ctx); err != nil {
		return err
	}
	if err := repo.PingVector(ctx); err != nil {
		return err
	}
	return nil
}

// PingRelational reports whether R alone is reachable, for get_health's
// separate r_ok signal.
func (repo *Repository) PingRelational(ctx context.Context) error {
	if err := repo.r.Ping(ctx); err != nil {
		return fmt.Errorf("relational store: %w", err)
	}
	return nil
}

// PingVector reports whether V alone is reachable, for get_health's
// separate v_ok signal.
func (repo *Repository) PingVector(ctx context.Context) error {
	if err := repo.v.Ping(ctx); err != nil {
		return fmt.Errorf("vector store: %w", err)
	}
	return nil
}
