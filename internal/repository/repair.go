package repository

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/gammazero/workerpool"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/vectorstore"
)

// repairQuarantineAfterFailures mirrors the sweeper's own
// three-consecutive-failures quarantine threshold, applied here to
// repeated repair attempts on the same pending_embedding row.
const repairQuarantineAfterFailures = 3

// repairWorker reconciles R (the source of truth) against V (the index)
// for rows marked pending_embedding: it re-embeds the content and upserts
// the vector, then clears the flag. Concurrent repair attempts for the
// same id are deduped with singleflight so a backstop scan and a
// just-failed Put don't race each other onto the same row.
type repairWorker struct {
	r       relational.Store
	v       vectorstore.Store
	emb     embedding.Embedder
	pool    *workerpool.WorkerPool
	sf      singleflight.Group
	queue   chan string
	logger  *zap.Logger
	metrics *metrics.Collector

	backstopInterval time.Duration
	backstopBatch    int

	failuresMu sync.Mutex
	failures   map[string]int
}

func newRepairWorker(r relational.Store, v vectorstore.Store, emb embedding.Embedder, logger *zap.Logger, m *metrics.Collector) *repairWorker {
	return &repairWorker{
		r:                r,
		v:                v,
		emb:              emb,
		pool:             workerpool.New(4),
		queue:            make(chan string, 1024),
		logger:           logger,
		metrics:          m,
		backstopInterval: time.Minute,
		backstopBatch:    200,
		failures:         make(map[string]int),
	}
}

// enqueue schedules id for repair without blocking; a full queue drops
// the request since the backstop scan will pick it up eventually.
func (w *repairWorker) enqueue(id string) {
	select {
	case w.queue <- id:
	default:
		w.logger.Warn("repair queue full, dropping request", zap.String("memory_id", id))
	}
}

// run drains the queue and runs the periodic backstop scan until ctx is
// canceled. It should be started once from Repository.StartBackgroundWorkers.
func (w *repairWorker) run(ctx context.Context) {
	ticker := time.NewTicker(w.backstopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.pool.StopWait()
			return
		case id := <-w.queue:
			w.submit(ctx, id)
		case <-ticker.C:
			w.scanBackstop(ctx)
		}
	}
}

func (w *repairWorker) submit(ctx context.Context, id string) {
	w.pool.Submit(func() {
		if err := w.repairOne(ctx, id); err != nil {
			w.logger.Warn("repair failed", zap.String("memory_id", id), zap.Error(err))
			w.recordFailure(ctx, id)
			return
		}
		w.clearFailures(id)
	})
}

// recordFailure tracks consecutive repair failures per id, quarantining
// once the threshold is crossed so a permanently broken row stops
// consuming worker-pool capacity on every backstop tick.
func (w *repairWorker) recordFailure(ctx context.Context, id string) {
	w.failuresMu.Lock()
	w.failures[id]++
	n := w.failures[id]
	w.failuresMu.Unlock()

	if n < repairQuarantineAfterFailures {
		return
	}
	if err := w.quarantine(ctx, id); err != nil {
		w.logger.Warn("failed to quarantine row after repeated repair failures", zap.String("memory_id", id), zap.Error(err))
		return
	}
	w.clearFailures(id)
}

func (w *repairWorker) clearFailures(id string) {
	w.failuresMu.Lock()
	delete(w.failures, id)
	w.failuresMu.Unlock()
}

func (w *repairWorker) scanBackstop(ctx context.Context) {
	pending, err := w.r.ListPendingEmbedding(ctx, w.backstopBatch)
	if err != nil {
		w.logger.Warn("repair backstop scan failed", zap.Error(err))
		return
	}
	if w.metrics != nil {
		w.metrics.PendingEmbeddings.Set(float64(len(pending)))
	}
	w.repairBatch(ctx, pending)
}

// repairBatch re-embeds a backstop scan's worth of pending rows in one
// batched call. If the batch fails even after the per-item fallback, the
// rows are handed to the queue-driven single-row path instead, which
// carries its own failure accounting.
func (w *repairWorker) repairBatch(ctx context.Context, pending []*domain.Memory) {
	if len(pending) == 0 {
		return
	}

	texts := make([]string, len(pending))
	for i, m := range pending {
		texts[i] = m.Content
	}

	vecs, err := embedding.EmbedManyWithFallback(ctx, w.emb, texts)
	if err != nil {
		w.logger.Warn("batch re-embedding failed, deferring to per-row repair", zap.Int("rows", len(pending)), zap.Error(err))
		for _, m := range pending {
			w.submit(ctx, m.ID)
		}
		return
	}

	for i, m := range pending {
		if err := w.applyRepair(ctx, m.ID, []float64(vecs[i])); err != nil {
			w.logger.Warn("repair failed", zap.String("memory_id", m.ID), zap.Error(err))
			w.recordFailure(ctx, m.ID)
			continue
		}
		w.clearFailures(m.ID)
	}
}

// applyRepair upserts an already-computed vector for id and clears the
// pending flag, under the same singleflight key as repairOne so the two
// paths never race onto one row. Rows deleted or already repaired since
// the scan are skipped.
func (w *repairWorker) applyRepair(ctx context.Context, id string, vec []float64) error {
	_, err, _ := w.sf.Do(id, func() (any, error) {
		m, err := w.r.Get(ctx, id)
		if err != nil {
			if errors.Is(err, merr.ErrNotFound) {
				return nil, nil
			}
			return nil, err
		}
		if !m.PendingEmbedding || m.Quarantined {
			return nil, nil
		}

		if err := w.v.Upsert(ctx, m.Tier, m.ID, vec); err != nil {
			return nil, err
		}
		if err := w.r.SetPendingEmbedding(ctx, m.ID, false); err != nil {
			return nil, err
		}

		w.logger.Debug("repaired pending embedding", zap.String("memory_id", m.ID))
		return nil, nil
	})
	return err
}

// repairOne re-embeds a single row and upserts it into V, clearing
// pending_embedding on success. Rows missing from R entirely (deleted
// since being enqueued) are silently skipped.
func (w *repairWorker) repairOne(ctx context.Context, id string) error {
	m, err := w.r.Get(ctx, id)
	if err != nil {
		if errors.Is(err, merr.ErrNotFound) {
			return nil
		}
		return err
	}
	if !m.PendingEmbedding || m.Quarantined {
		return nil
	}

	vec, err := w.emb.Embed(ctx, m.Content)
	if err != nil {
		return err
	}
	return w.applyRepair(ctx, id, []float64(vec))
}

// quarantine marks a row quarantined after its repair attempts have
// exhausted a caller-chosen retry budget; excluded from future sweeps
// and backstop scans until manually cleared.
func (w *repairWorker) quarantine(ctx context.Context, id string) error {
	if err := w.r.SetQuarantined(ctx, id, true); err != nil {
		return err
	}
	if w.metrics != nil {
		w.metrics.QuarantinedRows.Inc()
	}
	w.logger.Warn("quarantined memory after repeated repair failures", zap.String("memory_id", id))
	return nil
}
