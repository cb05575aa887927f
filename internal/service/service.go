// Package service exposes the operation contracts (store, recall,
// search_exact, search_hybrid, get_stats, get_health, force_migrate)
// as a single in-process facade. A separate tool-protocol server maps
// these onto externally visible tools; this package owns none of that
// transport.
package service

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/importance"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/metrics"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/retrieval"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/tiering"
)

// StoreResult is store()'s output shape.
type StoreResult struct {
	ID         string
	Stored     bool
	Importance float64
	Tier       domain.Tier
}

// RecallHit pairs a ranked result with its explaining signals for the
// recall() output shape.
type RecallHit struct {
	Memory  *domain.Memory
	Score   float64
	Signals retrieval.Signals
}

// RecallResult is recall()/search_hybrid()'s output: a ranked list plus
// a degradation flag set when semantic search could not run in full.
type RecallResult struct {
	Hits     []RecallHit
	Degraded bool
}

// HealthReport is get_health()'s output shape.
type HealthReport struct {
	RelationalOK      bool
	VectorOK          bool
	EmbedderOK        bool
	PendingEmbeddings int
	Quarantined       int
}

// Service wires the Repository, Retrieval Engine, and Tier Manager
// behind the operation contracts an external caller invokes.
type Service struct {
	repo    *repository.Repository
	engine  *retrieval.Engine
	sweeper *tiering.Sweeper
	emb     embedding.Embedder
	cfg     *config.Config
	logger  *zap.Logger
	metrics *metrics.Collector
}

func New(repo *repository.Repository, engine *retrieval.Engine, sweeper *tiering.Sweeper, emb embedding.Embedder, cfg *config.Config, logger *zap.Logger, m *metrics.Collector) *Service {
	return &Service{repo: repo, engine: engine, sweeper: sweeper, emb: emb, cfg: cfg, logger: logger, metrics: m}
}

// Start launches the Repository's and Tier Manager's background
// workers. Call once after New, before serving requests.
func (s *Service) Start(ctx context.Context) {
	s.repo.StartBackgroundWorkers(ctx)
	go s.sweeper.Run(ctx)
}

// Store implements store(): scores content, gates on store_threshold,
// and on a pass writes through the Repository.
func (s *Service) Store(ctx context.Context, content, contextLabel string, metadata map[string]any, vaultScope domain.VaultScope) (StoreResult, error) {
	score := importance.Assess(content, contextLabel, metadata)
	if score < s.cfg.StoreThreshold {
		s.recordOutcome("store", "gated")
		return StoreResult{Stored: false, Importance: score}, nil
	}

	if vaultScope == "" {
		vaultScope = domain.VaultProject
	}

	m := &domain.Memory{
		Content:    content,
		Context:    contextLabel,
		Importance: score,
		Metadata:   metadata,
		VaultScope: vaultScope,
		Tier:       domain.TierWorking,
	}

	if err := s.repo.Put(ctx, m); err != nil {
		s.recordOutcome("store", "error")
		return StoreResult{}, err
	}

	s.recordOutcome("store", "ok")
	return StoreResult{ID: m.ID, Stored: true, Importance: m.Importance, Tier: m.Tier}, nil
}

// Recall implements recall(): semantic search with graceful
// degradation to exact-only when the embedder or vector store can't
// serve the request within the call's deadline.
func (s *Service) Recall(ctx context.Context, query string, filter relational.Filter, limit int) (RecallResult, error) {
	results, err := s.engine.SearchSemantic(ctx, query, filter, limit)
	if err == nil {
		s.recordOutcome("recall", "ok")
		return RecallResult{Hits: toRecallHits(results)}, nil
	}

	if !errors.Is(err, merr.ErrSemanticUnavailable) {
		s.recordOutcome("recall", "error")
		return RecallResult{}, err
	}

	s.logger.Warn("semantic recall degraded to exact-only", zap.Error(err))
	exactResults, exactErr := s.engine.SearchExact(ctx, query, filter, limit)
	if exactErr != nil {
		s.recordOutcome("recall", "error")
		return RecallResult{}, exactErr
	}

	s.recordOutcome("recall", "degraded")
	return RecallResult{Hits: toRecallHits(exactResults), Degraded: true}, nil
}

// SearchExact implements search_exact().
func (s *Service) SearchExact(ctx context.Context, query string, filter relational.Filter, limit int) (RecallResult, error) {
	results, err := s.engine.SearchExact(ctx, query, filter, limit)
	if err != nil {
		s.recordOutcome("search_exact", "error")
		return RecallResult{}, err
	}
	s.recordOutcome("search_exact", "ok")
	return RecallResult{Hits: toRecallHits(results)}, nil
}

// SearchHybrid implements search_hybrid().
func (s *Service) SearchHybrid(ctx context.Context, query string, filter relational.Filter, exactWeight float64, limit int) (RecallResult, error) {
	if exactWeight <= 0 {
		exactWeight = s.cfg.ExactWeightDefault
	}
	results, degraded, err := s.engine.SearchHybrid(ctx, query, filter, exactWeight, limit)
	if err != nil {
		s.recordOutcome("search_hybrid", "error")
		return RecallResult{}, err
	}
	outcome := "ok"
	if degraded {
		outcome = "degraded"
	}
	s.recordOutcome("search_hybrid", outcome)
	return RecallResult{Hits: toRecallHits(results), Degraded: degraded}, nil
}

// GetStats implements get_stats().
func (s *Service) GetStats(ctx context.Context) (relational.Stats, error) {
	return s.repo.Stats(ctx)
}

// GetHealth implements get_health().
func (s *Service) GetHealth(ctx context.Context) HealthReport {
	report := HealthReport{}

	pingCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	report.RelationalOK = s.repo.PingRelational(pingCtx) == nil
	report.VectorOK = s.repo.PingVector(pingCtx) == nil

	if stats, err := s.repo.Stats(ctx); err == nil {
		report.PendingEmbeddings = stats.PendingEmbeddings
		report.Quarantined = stats.Quarantined
	}

	embCtx, embCancel := context.WithTimeout(ctx, 3*time.Second)
	defer embCancel()
	_, embErr := s.emb.Embed(embCtx, "healthcheck")
	report.EmbedderOK = embErr == nil || !errors.Is(embErr, merr.ErrEmbedUnavailable)

	return report
}

// ForceMigrate implements force_migrate(): runs one sweep synchronously
// and returns its report.
func (s *Service) ForceMigrate(ctx context.Context) (tiering.Report, error) {
	return s.sweeper.Sweep(ctx)
}

func (s *Service) recordOutcome(op, outcome string) {
	if s.metrics != nil {
		s.metrics.RecordOperation(op, outcome)
	}
}

func toRecallHits(results []retrieval.Result) []RecallHit {
	out := make([]RecallHit, len(results))
	for i, r := range results {
		out[i] = RecallHit{Memory: r.Memory, Score: r.Score, Signals: r.Signals}
	}
	return out
}
