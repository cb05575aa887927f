// Package retrieval implements the Retrieval Engine: exact, semantic,
// and hybrid search over the Repository, applying the multi-signal
// score. SearchExact and SearchSemantic fire a touch update for every
// hit they return; SearchHybrid touches only through its semantic leg,
// so every semantic candidate it fetched is touched whether or not it
// survives the blend, and hits found only by the exact leg are not
// touched.
package retrieval

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/samber/lo"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/config"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/embedding"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/repository"
)

// Result is one ranked hit, carrying the inputs that produced Score so
// callers can explain a ranking.
type Result struct {
	Memory  *domain.Memory
	Score   float64
	Signals Signals
}

// Engine composes the Repository and Embedder into the exact, semantic,
// and hybrid search entry points.
type Engine struct {
	repo   *repository.Repository
	emb    embedding.Embedder
	cfg    *config.Config
	logger *zap.Logger
}

func New(repo *repository.Repository, emb embedding.Embedder, cfg *config.Config, logger *zap.Logger) *Engine {
	return &Engine{repo: repo, emb: emb, cfg: cfg, logger: logger}
}

var allTiers = []domain.Tier{domain.TierWorking, domain.TierSession, domain.TierLongTerm}

// SearchExact performs a pure Repository exact_search; no embedding
// call is made.
func (e *Engine) SearchExact(ctx context.Context, query string, filter relational.Filter, limit int) ([]Result, error) {
	candidates, err := e.repo.ExactSearch(ctx, query, filter, limit*2)
	if err != nil {
		return nil, fmt.Errorf("exact search: %w", err)
	}

	now := time.Now()
	candidates = rankExactCandidates(candidates, now, limit)

	results := make([]Result, 0, len(candidates))
	for _, c := range candidates {
		e.repo.Touch(c.Memory.ID, now)
		score := exactMatchWeight(c, now) * e.vaultWeight(c.Memory, filter)
		results = append(results, Result{Memory: c.Memory, Score: score})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	return results, nil
}

// vaultWeight is the dual-vault score blend: when vault_mode is dual and
// the caller did not narrow to one scope, each result's score is scaled
// by its scope's configured weight. In single mode, or under an explicit
// scope filter, every result keeps its full score.
func (e *Engine) vaultWeight(m *domain.Memory, filter relational.Filter) float64 {
	if e.cfg.VaultMode != config.VaultModeDual || filter.VaultScope != "" {
		return 1.0
	}
	if m.VaultScope == domain.VaultCore {
		return e.cfg.CoreWeight
	}
	return e.cfg.ProjectWeight
}

// SearchSemantic embeds query once, runs vector_search across the
// requested tiers (or all tiers if filter.Tier is unset), hydrates,
// scores, and returns the top limit. If the embedder or vector store
// cannot serve the request it returns merr.ErrSemanticUnavailable.
func (e *Engine) SearchSemantic(ctx context.Context, query string, filter relational.Filter, limit int) ([]Result, error) {
	vec, err := e.emb.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.ErrSemanticUnavailable, err)
	}

	tiers := allTiers
	if filter.Tier != "" {
		tiers = []domain.Tier{filter.Tier}
	}

	hits, err := e.repo.VectorSearch(ctx, tiers, []float64(vec), limit*3, e.cfg.SemanticMinSimilarity)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", merr.ErrSemanticUnavailable, err)
	}

	now := time.Now()
	results := make([]Result, 0, len(hits))
	for _, h := range hits {
		if !matchesScopeAndMetadata(h.Memory, filter) {
			continue
		}
		score, signals := scoreSemantic(h.Score, h.Memory, filter.Context, now)
		score *= e.vaultWeight(h.Memory, filter)
		results = append(results, Result{Memory: h.Memory, Score: score, Signals: signals})
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}

	for _, r := range results {
		e.repo.Touch(r.Memory.ID, now)
	}
	return results, nil
}

// SearchHybrid blends normalized exact and semantic result sets. If
// the semantic leg degrades (embedder/vector store unavailable), the
// result falls back to exact-only and degraded=true is returned rather
// than failing the call outright.
func (e *Engine) SearchHybrid(ctx context.Context, query string, filter relational.Filter, exactWeight float64, limit int) ([]Result, bool, error) {
	var (
		exactCandidates []relational.Candidate
		semanticResults []Result
		semErr          error
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		c, err := e.repo.ExactSearch(gctx, query, filter, limit*2)
		if err != nil {
			return fmt.Errorf("hybrid exact leg: %w", err)
		}
		exactCandidates = c
		return nil
	})
	g.Go(func() error {
		// The semantic leg degrades rather than failing the whole request,
		// so its error is captured, not propagated through g.
		r, err := e.SearchSemantic(gctx, query, filter, limit*2)
		semanticResults, semErr = r, err
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, false, err
	}

	now := time.Now()
	exactCandidates = rankExactCandidates(exactCandidates, now, limit*2)
	degraded := semErr != nil

	exactScores := make([]float64, len(exactCandidates))
	for i, c := range exactCandidates {
		exactScores[i] = exactMatchWeight(c, now) * e.vaultWeight(c.Memory, filter)
	}
	exactNorm := minMaxNormalize(exactScores)

	semScores := make([]float64, len(semanticResults))
	for i, r := range semanticResults {
		semScores[i] = r.Score
	}
	semNorm := minMaxNormalize(semScores)

	blended := make(map[string]*Result)
	order := make([]string, 0, len(exactCandidates)+len(semanticResults))

	for i, c := range exactCandidates {
		id := c.Memory.ID
		blended[id] = &Result{Memory: c.Memory, Score: exactWeight * exactNorm[i]}
		order = append(order, id)
	}
	for i, r := range semanticResults {
		id := r.Memory.ID
		semContribution := (1 - exactWeight) * semNorm[i]
		if existing, ok := blended[id]; ok {
			existing.Score += semContribution
			existing.Signals = r.Signals
		} else {
			blended[id] = &Result{Memory: r.Memory, Score: semContribution, Signals: r.Signals}
			order = append(order, id)
		}
	}

	results := make([]Result, 0, len(blended))
	for _, id := range lo.Uniq(order) {
		results = append(results, *blended[id])
	}

	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if limit > 0 && len(results) > limit {
		results = results[:limit]
	}
	return results, degraded, nil
}

func matchesScopeAndMetadata(m *domain.Memory, filter relational.Filter) bool {
	if filter.VaultScope != "" && m.VaultScope != filter.VaultScope {
		return false
	}
	for k, v := range filter.Metadata {
		if m.Metadata[k] != v {
			return false
		}
	}
	return true
}
