package vectorstore

import (
	"context"
	"sort"
	"sync"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

// MemStore is an in-memory Store computing cosine similarity by brute
// force. It backs unit tests and a dependency-free dev profile; it is
// not meant to scale the way the Qdrant backend does.
type MemStore struct {
	mu          sync.RWMutex
	collections map[domain.Tier]map[string][]float64
}

func NewMemStore() *MemStore {
	return &MemStore{
		collections: map[domain.Tier]map[string][]float64{
			domain.TierWorking:  {},
			domain.TierSession:  {},
			domain.TierLongTerm: {},
		},
	}
}

func (s *MemStore) Upsert(ctx context.Context, tier domain.Tier, id string, vec []float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := make([]float64, len(vec))
	copy(cp, vec)
	s.collections[tier][id] = cp
	return nil
}

func (s *MemStore) Get(ctx context.Context, tier domain.Tier, id string) ([]float64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.collections[tier][id]
	if !ok {
		return nil, false, nil
	}
	cp := make([]float64, len(v))
	copy(cp, v)
	return cp, true, nil
}

func (s *MemStore) Delete(ctx context.Context, tier domain.Tier, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections[tier], id)
	return nil
}

func (s *MemStore) Search(ctx context.Context, tiers []domain.Tier, vec []float64, limit int, minScore float64) ([]Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var hits []Hit
	for _, tier := range tiers {
		for id, v := range s.collections[tier] {
			score := Cosine(vec, v)
			if score >= minScore {
				hits = append(hits, Hit{ID: id, Score: score})
			}
		}
	}

	sort.Slice(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if limit > 0 && len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (s *MemStore) EnsureCollections(ctx context.Context, dims int) error {
	return nil
}

func (s *MemStore) Ping(ctx context.Context) error {
	return ctx.Err()
}
