package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTierValid(t *testing.T) {
	assert.True(t, TierWorking.Valid())
	assert.True(t, TierSession.Valid())
	assert.True(t, TierLongTerm.Valid())
	assert.False(t, Tier("bogus").Valid())
	assert.False(t, Tier("").Valid())
}

func TestClampImportance(t *testing.T) {
	assert.Equal(t, 0.0, ClampImportance(-0.5))
	assert.Equal(t, 1.0, ClampImportance(1.5))
	assert.Equal(t, 0.42, ClampImportance(0.42))
}

func TestContentHashStableAcrossFormatting(t *testing.T) {
	a := ContentHash("The   Build Command  is 'make release'")
	b := ContentHash("the build command is 'make release'")
	require.Equal(t, a, b, "hash should ignore case and whitespace differences")

	c := ContentHash("a completely different fragment")
	assert.NotEqual(t, a, c)
}

func TestAge(t *testing.T) {
	now := time.Date(2026, 7, 31, 12, 0, 0, 0, time.UTC)
	m := &Memory{CreatedAt: now.Add(-2 * time.Hour)}
	assert.Equal(t, 2*time.Hour, m.Age(now))
}

func TestSameFamily(t *testing.T) {
	assert.True(t, SameFamily("code_symbol", "code_review"))
	assert.False(t, SameFamily("code_symbol", "decision"))
	assert.False(t, SameFamily("decision", "decision"))
}
