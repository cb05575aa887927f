package retrieval

import (
	"sort"
	"time"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/relational"
)

// exactMatchWeight scores an ExactSearch candidate for ranking and for
// hybrid blending: exact-phrase > whole-word > substring, and within a
// match class a weighted sum of match position (earlier better) and
// recency, so a large recency gap can outrank a small position gap.
// The three tiers are separated by a wide margin so tier always
// dominates position/recency within rankExactCandidates.
func exactMatchWeight(c relational.Candidate, now time.Time) float64 {
	var tier float64
	switch {
	case c.ExactPhrase:
		tier = 2.0
	case c.WholeWord:
		tier = 1.0
	default:
		tier = 0.0
	}

	positionScore := 1.0 / (1.0 + float64(c.MatchPos)/100.0)
	recencyScore := recency(c.Memory.LastAccessedAt, now)

	return tier + 0.3*positionScore + 0.1*recencyScore
}

// rankExactCandidates sorts candidates by exactMatchWeight, descending,
// and truncates to limit.
func rankExactCandidates(candidates []relational.Candidate, now time.Time, limit int) []relational.Candidate {
	sort.Slice(candidates, func(i, j int) bool {
		return exactMatchWeight(candidates[i], now) > exactMatchWeight(candidates[j], now)
	})

	if limit > 0 && len(candidates) > limit {
		candidates = candidates[:limit]
	}
	return candidates
}
