package relational

import (
	"context"
	"fmt"
	"maps"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/merr"
)

// MemStore is an in-memory Store used by unit tests and the
// dependency-free dev profile. It never touches a network.
type MemStore struct {
	mu   sync.RWMutex
	rows map[string]*domain.Memory
}

func NewMemStore() *MemStore {
	return &MemStore{rows: make(map[string]*domain.Memory)}
}

func clone(m *domain.Memory) *domain.Memory {
	cp := *m
	cp.Metadata = maps.Clone(m.Metadata)
	return &cp
}

func (s *MemStore) Put(ctx context.Context, m *domain.Memory) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.rows[m.ID]; exists {
		return fmt.Errorf("id %s: %w", m.ID, merr.ErrConflict)
	}
	s.rows[m.ID] = clone(m)
	return nil
}

func (s *MemStore) Get(ctx context.Context, id string) (*domain.Memory, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.rows[id]
	if !ok {
		return nil, fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	return clone(m), nil
}

func (s *MemStore) Delete(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.rows, id)
	return nil
}

func (s *MemStore) UpdateTier(ctx context.Context, id string, tier domain.Tier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	m.Tier = tier
	return nil
}

func (s *MemStore) SetPendingEmbedding(ctx context.Context, id string, pending bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	m.PendingEmbedding = pending
	return nil
}

func (s *MemStore) SetQuarantined(ctx context.Context, id string, quarantined bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	m.Quarantined = quarantined
	return nil
}

func (s *MemStore) Touch(ctx context.Context, id string, when time.Time, delta int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.rows[id]
	if !ok {
		return fmt.Errorf("id %s: %w", id, merr.ErrNotFound)
	}
	if when.After(m.LastAccessedAt) {
		m.LastAccessedAt = when
	}
	m.AccessCount += delta
	return nil
}

func (s *MemStore) ExactSearch(ctx context.Context, query string, filter Filter, limit int) ([]Candidate, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	needle := strings.ToLower(query)
	var out []Candidate
	for _, m := range s.rows {
		if m.Quarantined {
			continue
		}
		if !matchesFilter(m, filter) {
			continue
		}
		haystack := strings.ToLower(m.Content)
		pos := strings.Index(haystack, needle)
		if pos < 0 {
			continue
		}
		out = append(out, Candidate{
			Memory:      clone(m),
			MatchPos:    pos,
			WholeWord:   isWholeWordMatch(haystack, needle, pos),
			ExactPhrase: haystack == needle,
		})
	}

	sort.Slice(out, func(i, j int) bool { return out[i].MatchPos < out[j].MatchPos })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func isWholeWordMatch(haystack, needle string, pos int) bool {
	if needle == "" {
		return false
	}
	before := pos == 0 || !isWordRune(rune(haystack[pos-1]))
	end := pos + len(needle)
	after := end >= len(haystack) || !isWordRune(rune(haystack[end]))
	return before && after
}

func isWordRune(r rune) bool {
	return (r >= 'a' && r <= 'z') || (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') || r == '_'
}

func matchesFilter(m *domain.Memory, f Filter) bool {
	if f.Context != "" && m.Context != f.Context {
		return false
	}
	if f.Tier != "" && m.Tier != f.Tier {
		return false
	}
	if f.VaultScope != "" && m.VaultScope != f.VaultScope {
		return false
	}
	for k, v := range f.Metadata {
		if m.Metadata[k] != v {
			return false
		}
	}
	return true
}

func (s *MemStore) ListByTierPage(ctx context.Context, tier domain.Tier, after time.Time, limit int) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.Memory
	for _, m := range s.rows {
		if m.Tier == tier && !m.Quarantined && m.CreatedAt.After(after) {
			rows = append(rows, clone(m))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemStore) ListByContentHash(ctx context.Context, contentHash string, scope domain.VaultScope, tiers []domain.Tier) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	allowed := make(map[domain.Tier]bool, len(tiers))
	for _, t := range tiers {
		allowed[t] = true
	}

	var rows []*domain.Memory
	for _, m := range s.rows {
		if m.Quarantined {
			continue
		}
		if m.ContentHash != contentHash || m.VaultScope != scope {
			continue
		}
		if !allowed[m.Tier] {
			continue
		}
		rows = append(rows, clone(m))
	}
	return rows, nil
}

func (s *MemStore) MergeInto(ctx context.Context, keeper *domain.Memory, discardIDs []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	row, ok := s.rows[keeper.ID]
	if !ok {
		return fmt.Errorf("id %s: %w", keeper.ID, merr.ErrNotFound)
	}
	row.AccessCount = keeper.AccessCount
	row.LastAccessedAt = keeper.LastAccessedAt
	row.Importance = keeper.Importance
	row.Metadata = maps.Clone(keeper.Metadata)

	for _, id := range discardIDs {
		delete(s.rows, id)
	}
	return nil
}

func (s *MemStore) ListPendingEmbedding(ctx context.Context, limit int) ([]*domain.Memory, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var rows []*domain.Memory
	for _, m := range s.rows {
		if m.PendingEmbedding && !m.Quarantined {
			rows = append(rows, clone(m))
		}
	}
	sort.Slice(rows, func(i, j int) bool { return rows[i].CreatedAt.Before(rows[j].CreatedAt) })
	if limit > 0 && len(rows) > limit {
		rows = rows[:limit]
	}
	return rows, nil
}

func (s *MemStore) Stats(ctx context.Context) (Stats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	byTier := make(map[domain.Tier]TierStats)
	sums := make(map[domain.Tier]float64)
	counts := make(map[domain.Tier]int)
	oldest := make(map[domain.Tier]time.Time)
	newest := make(map[domain.Tier]time.Time)

	stats := Stats{ByTier: byTier}
	for _, m := range s.rows {
		counts[m.Tier]++
		sums[m.Tier] += m.Importance
		if o, ok := oldest[m.Tier]; !ok || m.CreatedAt.Before(o) {
			oldest[m.Tier] = m.CreatedAt
		}
		if n, ok := newest[m.Tier]; !ok || m.CreatedAt.After(n) {
			newest[m.Tier] = m.CreatedAt
		}
		if m.PendingEmbedding {
			stats.PendingEmbeddings++
		}
		if m.Quarantined {
			stats.Quarantined++
		}
	}
	for _, t := range []domain.Tier{domain.TierWorking, domain.TierSession, domain.TierLongTerm} {
		c := counts[t]
		avg := 0.0
		if c > 0 {
			avg = sums[t] / float64(c)
		}
		byTier[t] = TierStats{
			Count:         c,
			AvgImportance: avg,
			Oldest:        oldest[t],
			Newest:        newest[t],
		}
	}
	return stats, nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
