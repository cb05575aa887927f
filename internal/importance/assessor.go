// Package importance implements the Importance Assessor: a pure
// function from (content, context, metadata) to a score in [0,1] that
// gates what gets stored and later influences retrieval ranking and
// tier eviction.
package importance

import (
	"strings"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

// baseByContext is the starting score for each recognized context label.
// Unknown/free-form labels fall back to the "unknown" entry.
var baseByContext = map[string]float64{
	string(domain.ContextTaskCritical): 0.85,
	string(domain.ContextDecision):     0.80,
	string(domain.ContextCodeSymbol):   0.70,
	string(domain.ContextReference):    0.65,
	string(domain.ContextConversation): 0.50,
	string(domain.ContextGeneral):      0.45,
}

const unknownContextBase = 0.50

// keywords each contribute a small bonus when they appear in content
// (case-sensitive substring match, so a keyword inside a longer word also
// counts), capped in total.
var keywords = []string{"IMPORTANT", "CRITICAL", "TODO", "FIXME", "DECISION"}

const (
	keywordBonus    = 0.05
	keywordBonusCap = 0.15

	shortContentPenalty   = 0.10
	shortContentThreshold = 20
	longContentBonus      = 0.05
	longContentThreshold  = 400

	fileLineBonus = 0.05
)

// Assess scores content in [0,1]. metadata may be nil.
// If metadata carries a numeric "importance" override in [0,1], it is
// returned as-is (clamped) and no other signal is applied.
func Assess(content, context string, metadata map[string]any) float64 {
	if override, ok := overrideFrom(metadata); ok {
		return domain.ClampImportance(override)
	}

	score, ok := baseByContext[context]
	if !ok {
		score = unknownContextBase
	}

	score += keywordBonusFor(content)

	switch {
	case len(content) < shortContentThreshold:
		score -= shortContentPenalty
	case len(content) > longContentThreshold:
		score += longContentBonus
	}

	if hasFileAndLine(metadata) {
		score += fileLineBonus
	}

	return domain.ClampImportance(score)
}

func keywordBonusFor(content string) float64 {
	bonus := 0.0
	for _, kw := range keywords {
		if strings.Contains(content, kw) {
			bonus += keywordBonus
		}
	}
	if bonus > keywordBonusCap {
		bonus = keywordBonusCap
	}
	return bonus
}

func hasFileAndLine(metadata map[string]any) bool {
	if metadata == nil {
		return false
	}
	_, hasFile := metadata["file"]
	_, hasLine := metadata["line"]
	return hasFile && hasLine
}

func overrideFrom(metadata map[string]any) (float64, bool) {
	if metadata == nil {
		return 0, false
	}
	raw, ok := metadata["importance"]
	if !ok {
		return 0, false
	}
	switch v := raw.(type) {
	case float64:
		return v, v >= 0 && v <= 1
	case float32:
		return float64(v), v >= 0 && v <= 1
	case int:
		return float64(v), v >= 0 && v <= 1
	}
	return 0, false
}
