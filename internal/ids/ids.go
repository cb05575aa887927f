// Package ids generates the Memory identifiers used throughout the
// service: a monotonically sortable ULID for the canonical id, and a
// deterministic UUID derivation for vector-store backends that require
// UUID-typed point ids (Qdrant).
package ids

import (
	"crypto/rand"
	"sync"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"
)

var (
	entropyMu sync.Mutex
	entropy   = ulid.Monotonic(rand.Reader, 0)
)

// New returns a new, time-sortable memory id.
func New() string {
	entropyMu.Lock()
	defer entropyMu.Unlock()
	return ulid.MustNew(ulid.Now(), entropy).String()
}

// qdrantPointNamespace scopes the deterministic UUID derivation so point
// ids never collide with UUIDs minted for unrelated purposes.
var qdrantPointNamespace = uuid.MustParse("8f14e45f-ceea-467e-a12a-3e7dc05e6b0c")

// QdrantPointID derives a stable UUID for a memory id. Qdrant point ids
// must be a UUID or an unsigned integer; memory ids are ULIDs (26-char
// Crockford base32 strings), so this maps one deterministically to the
// other. The mapping is pure: the same memory id always yields the same
// point id, which lets Upsert/Delete/Search agree without a side table.
func QdrantPointID(memoryID string) uuid.UUID {
	return uuid.NewSHA1(qdrantPointNamespace, []byte(memoryID))
}
