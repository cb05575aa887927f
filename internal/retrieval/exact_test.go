package retrieval

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
)

func candidate(exact, wholeWord bool, pos int, lastAccessed time.Time) relational.Candidate {
	return relational.Candidate{
		Memory:      &domain.Memory{ID: "x", LastAccessedAt: lastAccessed},
		MatchPos:    pos,
		WholeWord:   wholeWord,
		ExactPhrase: exact,
	}
}

func TestExactMatchWeightOrdering(t *testing.T) {
	now := time.Now()
	exactPhrase := candidate(true, true, 0, now)
	wholeWord := candidate(false, true, 0, now)
	substring := candidate(false, false, 0, now)

	assert.Greater(t, exactMatchWeight(exactPhrase, now), exactMatchWeight(wholeWord, now))
	assert.Greater(t, exactMatchWeight(wholeWord, now), exactMatchWeight(substring, now))
}

func TestExactMatchWeightPositionBreaksTies(t *testing.T) {
	now := time.Now()
	early := candidate(false, true, 0, now)
	late := candidate(false, true, 500, now)
	assert.Greater(t, exactMatchWeight(early, now), exactMatchWeight(late, now))
}

func TestRankExactCandidatesTruncatesToLimit(t *testing.T) {
	now := time.Now()
	candidates := []relational.Candidate{
		candidate(false, false, 10, now),
		candidate(true, true, 0, now),
		candidate(false, true, 0, now),
	}
	ranked := rankExactCandidates(candidates, now, 2)
	assert.Len(t, ranked, 2)
	assert.True(t, ranked[0].ExactPhrase)
}
