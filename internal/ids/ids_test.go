package ids

import (
	"testing"

	"github.com/oklog/ulid/v2"
	"github.com/stretchr/testify/require"
)

func TestNewIsSortableAndUnique(t *testing.T) {
	seen := make(map[string]bool)
	var prev string
	for i := 0; i < 100; i++ {
		id := New()
		_, err := ulid.Parse(id)
		require.NoError(t, err, "id must be a valid ULID")
		require.False(t, seen[id], "ids must not collide")
		seen[id] = true
		if prev != "" {
			require.GreaterOrEqual(t, id, prev, "ids minted in sequence must sort monotonically")
		}
		prev = id
	}
}

func TestQdrantPointIDIsDeterministic(t *testing.T) {
	id := New()
	first := QdrantPointID(id)
	second := QdrantPointID(id)
	require.Equal(t, first, second, "the same memory id must always derive the same point id")
}

func TestQdrantPointIDDiffersAcrossMemoryIDs(t *testing.T) {
	a := QdrantPointID(New())
	b := QdrantPointID(New())
	require.NotEqual(t, a, b)
}
