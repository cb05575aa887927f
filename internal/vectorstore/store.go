// Package vectorstore defines the Vector Store capability (V): three
// named per-tier collections keyed by memory id, providing top-k cosine
// nearest-neighbor search. V is an index, not a source of truth; any
// hit whose id is absent from the relational store is discarded by the
// Repository.
package vectorstore

import (
	"context"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

// Hit is one nearest-neighbor result: a memory id and its cosine
// similarity to the query vector, in [0, 1].
type Hit struct {
	ID    string
	Score float64
}

// CollectionName maps a tier to its V collection name.
func CollectionName(tier domain.Tier) string {
	switch tier {
	case domain.TierWorking:
		return "mem_working"
	case domain.TierSession:
		return "mem_session"
	case domain.TierLongTerm:
		return "mem_long_term"
	default:
		return "mem_working"
	}
}

// Store is the capability set a vector backend must satisfy. The
// production implementation is Qdrant-backed (qdrant.go); an in-memory
// implementation (memstore.go) backs unit tests and a dependency-free
// dev profile.
type Store interface {
	// Upsert writes vec for id into tier's collection, along with a
	// small payload (currently just the originating memory id, so
	// results can be mapped back without a side table).
	Upsert(ctx context.Context, tier domain.Tier, id string, vec []float64) error

	// Get returns the vector stored for id in tier, or ok=false if absent.
	Get(ctx context.Context, tier domain.Tier, id string) (vec []float64, ok bool, err error)

	// Delete removes id from tier's collection. Best-effort: deleting an
	// absent id is not an error.
	Delete(ctx context.Context, tier domain.Tier, id string) error

	// Search returns up to limit nearest neighbors of vec across the
	// union of tiers, each with similarity >= minScore, most similar first.
	Search(ctx context.Context, tiers []domain.Tier, vec []float64, limit int, minScore float64) ([]Hit, error)

	// EnsureCollections creates the three per-tier collections if they
	// do not already exist, sized for dims-dimensional vectors.
	EnsureCollections(ctx context.Context, dims int) error

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}
