// Package relational defines the Relational Store capability (R): the
// durable table of memories with metadata, access counters, and tier
// bookkeeping, plus exact/substring queries and filters. R is the
// source of truth for existence; any index (V) hit whose id is absent
// here is discarded.
package relational

import (
	"context"
	"time"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

// Filter narrows ExactSearch (and, indirectly, vector-search hydration)
// by context, tier, vault scope, and metadata equality.
type Filter struct {
	Context    string
	Tier       domain.Tier
	VaultScope domain.VaultScope
	Metadata   map[string]any
}

// TierStats summarizes one tier for get_stats.
type TierStats struct {
	Count         int
	AvgImportance float64
	Oldest        time.Time
	Newest        time.Time
}

// Stats is the aggregate get_stats() payload.
type Stats struct {
	ByTier            map[domain.Tier]TierStats
	PendingEmbeddings int
	Quarantined       int
}

// Store is the capability set a relational backend must satisfy. The
// production implementation is Postgres-backed (postgres.go); an
// in-memory implementation (memstore.go) backs unit tests and a
// dependency-free dev profile.
type Store interface {
	// Put inserts a new row. Returns merr.ErrConflict if m.ID already exists.
	Put(ctx context.Context, m *domain.Memory) error

	// Get returns the row for id, or merr.ErrNotFound.
	Get(ctx context.Context, id string) (*domain.Memory, error)

	// Delete removes the row for id. Idempotent: deleting an absent id
	// returns nil.
	Delete(ctx context.Context, id string) error

	// UpdateTier flips the tier field for id.
	UpdateTier(ctx context.Context, id string, tier domain.Tier) error

	// SetPendingEmbedding marks or clears the pending_embedding flag.
	SetPendingEmbedding(ctx context.Context, id string, pending bool) error

	// SetQuarantined marks or clears the quarantined flag.
	SetQuarantined(ctx context.Context, id string, quarantined bool) error

	// Touch bumps last_accessed_at to max(current, when) and increments
	// access_count by delta. Cheap; safe to call at high frequency.
	Touch(ctx context.Context, id string, when time.Time, delta int64) error

	// ExactSearch returns rows whose content contains query as a
	// substring or phrase, narrowed by filter, most relevant first up to
	// limit. Ranking (exact-phrase > whole-word > substring, then
	// position, then recency) is applied by the retrieval engine; this
	// method need only return candidates and enough information
	// (position) for that ranking.
	ExactSearch(ctx context.Context, query string, filter Filter, limit int) ([]Candidate, error)

	// ListByTierPage paginates rows in a tier ordered by created_at,
	// starting strictly after the given cursor, for the sweeper. Rows
	// already quarantined are excluded.
	ListByTierPage(ctx context.Context, tier domain.Tier, after time.Time, limit int) ([]*domain.Memory, error)

	// ListByContentHash returns non-quarantined rows in any of tiers that
	// share contentHash and vaultScope, for the Consolidator's dedup pass.
	ListByContentHash(ctx context.Context, contentHash string, scope domain.VaultScope, tiers []domain.Tier) ([]*domain.Memory, error)

	// MergeInto applies a consolidator merge that the caller has already
	// folded into keeper: it writes keeper's AccessCount, LastAccessedAt,
	// Importance, and Metadata onto keeper's row as given, then deletes
	// the discarded ids.
	MergeInto(ctx context.Context, keeper *domain.Memory, discardIDs []string) error

	// ListPendingEmbedding returns rows with pending_embedding=true, for
	// the Repair worker's backstop scan.
	ListPendingEmbedding(ctx context.Context, limit int) ([]*domain.Memory, error)

	// Stats computes the get_stats() aggregate.
	Stats(ctx context.Context) (Stats, error)

	// Ping reports whether the store is reachable.
	Ping(ctx context.Context) error
}

// Candidate is an ExactSearch hit: the row plus the byte offset of the
// first match, used by the retrieval engine's position-based ranking.
type Candidate struct {
	Memory      *domain.Memory
	MatchPos    int
	WholeWord   bool
	ExactPhrase bool
}
