package retrieval

import (
	"math"
	"time"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

// recencyTimeConstant is the e-folding time constant for the
// recency signal.
const recencyTimeConstant = 7 * 24 * time.Hour

// frequencyCeiling is the access_count that saturates the frequency
// signal at 1.0.
const frequencyCeiling = 50

// Signal weights for the semantic multi-signal score; they sum to 1.0,
// verified by scoring_test.go.
const (
	weightSimilarity   = 0.35
	weightRecency      = 0.25
	weightImportance   = 0.15
	weightFrequency    = 0.10
	weightContextMatch = 0.15
)

// Signals breaks a Result's blended score into its inputs, returned to
// callers alongside the score itself.
type Signals struct {
	Similarity   float64
	Recency      float64
	Importance   float64
	Frequency    float64
	ContextMatch float64
}

// recency implements recency(t) = exp(-Δ/τ).
func recency(lastAccessedAt, now time.Time) float64 {
	delta := now.Sub(lastAccessedAt)
	if delta < 0 {
		delta = 0
	}
	return math.Exp(-float64(delta) / float64(recencyTimeConstant))
}

// frequency implements frequency(n) = min(1, log1p(n)/log1p(50)).
func frequency(accessCount int64) float64 {
	if accessCount < 0 {
		accessCount = 0
	}
	v := math.Log1p(float64(accessCount)) / math.Log1p(frequencyCeiling)
	if v > 1 {
		return 1
	}
	return v
}

// contextMatch scores the context signal: 1.0 on an exact
// context-filter match, 0.7 for same-family (code/*), 0.0 otherwise,
// or 0.5 if the caller supplied no context filter at all.
func contextMatch(filterContext string, memoryContext string) float64 {
	if filterContext == "" {
		return 0.5
	}
	if filterContext == memoryContext {
		return 1.0
	}
	if domain.SameFamily(filterContext, memoryContext) {
		return 0.7
	}
	return 0.0
}

// scoreSemantic computes the full multi-signal score for one candidate.
func scoreSemantic(similarity float64, m *domain.Memory, filterContext string, now time.Time) (float64, Signals) {
	s := Signals{
		Similarity:   similarity,
		Recency:      recency(m.LastAccessedAt, now),
		Importance:   m.Importance,
		Frequency:    frequency(m.AccessCount),
		ContextMatch: contextMatch(filterContext, m.Context),
	}
	score := weightSimilarity*s.Similarity +
		weightRecency*s.Recency +
		weightImportance*s.Importance +
		weightFrequency*s.Frequency +
		weightContextMatch*s.ContextMatch
	return score, s
}

// minMaxNormalize rescales scores into [0,1] in place-equivalent output;
// a flat input (all equal) maps every element to 1.0 so it doesn't
// vanish from a subsequent blend.
func minMaxNormalize(scores []float64) []float64 {
	out := make([]float64, len(scores))
	if len(scores) == 0 {
		return out
	}
	min, max := scores[0], scores[0]
	for _, v := range scores {
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	if max == min {
		for i := range out {
			out[i] = 1.0
		}
		return out
	}
	for i, v := range scores {
		out[i] = (v - min) / (max - min)
	}
	return out
}
