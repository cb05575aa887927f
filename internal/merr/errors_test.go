package merr

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestTransientClassification(t *testing.T) {
	assert.True(t, Transient(ErrStoreUnavailable))
	assert.True(t, Transient(ErrEmbedUnavailable))
	assert.True(t, Transient(ErrTimeout))
	assert.False(t, Transient(ErrEmbedInvalid))
	assert.False(t, Transient(ErrNotFound))
	assert.False(t, Transient(ErrConflict))
	assert.False(t, Transient(nil))
}

func TestTransientThroughWrapping(t *testing.T) {
	wrapped := fmt.Errorf("put memory abc123: %w", ErrStoreUnavailable)
	assert.True(t, Transient(wrapped))
	assert.True(t, errors.Is(wrapped, ErrStoreUnavailable))
}
