package importance

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/stevenjjobson/mcp-chromadb-memory/internal/domain"
)

func TestAssessBaseByContext(t *testing.T) {
	cases := []struct {
		context string
		want    float64
	}{
		{string(domain.ContextTaskCritical), 0.85},
		{string(domain.ContextDecision), 0.80},
		{string(domain.ContextCodeSymbol), 0.70},
		{string(domain.ContextReference), 0.65},
		{string(domain.ContextConversation), 0.50},
		{string(domain.ContextGeneral), 0.45},
		{"some_custom_tag", 0.50},
	}

	// content long enough to avoid the short-content penalty, with no keywords
	content := "a perfectly ordinary sentence with no special signal words at all"
	for _, tc := range cases {
		got := Assess(content, tc.context, nil)
		assert.InDelta(t, tc.want, got, 1e-9, "context=%s", tc.context)
	}
}

func TestAssessKeywordBonusIsCapped(t *testing.T) {
	content := "IMPORTANT CRITICAL TODO FIXME DECISION all in one sentence here"
	got := Assess(content, string(domain.ContextGeneral), nil)
	// base 0.45 + capped bonus 0.15 = 0.60 (content length clears the short-content threshold)
	assert.InDelta(t, 0.60, got, 1e-9)
}

func TestAssessShortContentPenalty(t *testing.T) {
	got := Assess("hi", string(domain.ContextGeneral), nil)
	assert.InDelta(t, 0.35, got, 1e-9)
	assert.Less(t, got, 0.40, "'hi' should fall below the default store_threshold")
}

func TestAssessLongContentBonus(t *testing.T) {
	long := make([]byte, 401)
	for i := range long {
		long[i] = 'a'
	}
	got := Assess(string(long), string(domain.ContextGeneral), nil)
	assert.InDelta(t, 0.50, got, 1e-9)
}

func TestAssessFileLineMetadataBonus(t *testing.T) {
	content := "a perfectly ordinary sentence with no special signal words at all"
	meta := map[string]any{"file": "main.go", "line": 42}
	got := Assess(content, string(domain.ContextCodeSymbol), meta)
	assert.InDelta(t, 0.75, got, 1e-9)
}

func TestAssessImportanceOverride(t *testing.T) {
	meta := map[string]any{"importance": 0.92}
	got := Assess("hi", string(domain.ContextGeneral), meta)
	assert.InDelta(t, 0.92, got, 1e-9, "explicit override must win regardless of other signals")
}

func TestAssessImportanceOverrideOutOfRangeIgnored(t *testing.T) {
	content := "a perfectly ordinary sentence with no special signal words at all"
	meta := map[string]any{"importance": 1.5}
	got := Assess(content, string(domain.ContextGeneral), meta)
	assert.InDelta(t, 0.45, got, 1e-9, "out-of-range override should fall back to normal scoring")
}

func TestAssessClampsToUnitInterval(t *testing.T) {
	content := "IMPORTANT CRITICAL TODO FIXME DECISION " + string(make([]byte, 401))
	meta := map[string]any{"file": "x.go", "line": 1}
	got := Assess(content, string(domain.ContextTaskCritical), meta)
	assert.LessOrEqual(t, got, 1.0)
	assert.GreaterOrEqual(t, got, 0.0)
}
