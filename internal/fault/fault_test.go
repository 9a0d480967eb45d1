package fault

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestKindFindsWrappedSentinel(t *testing.T) {
	precise := fmt.Errorf("%w: account archived", ErrInvalidTransition)
	wrapped := fmt.Errorf("archive cash: %w", precise)

	assert.Equal(t, ErrInvalidTransition, Kind(wrapped))
	assert.ErrorIs(t, wrapped, precise)
	assert.Nil(t, Kind(errors.New("disk full")))
}

func TestValidationMessage(t *testing.T) {
	err := Validation("field %q is required", "name")
	assert.ErrorIs(t, err, ErrValidation)
	assert.Equal(t, `validation error: field "name" is required`, err.Error())
}

func TestOnlyConflictIsRetryable(t *testing.T) {
	assert.True(t, Retryable(fmt.Errorf("update: %w", ErrConflict)))
	for _, k := range []error{ErrValidation, ErrInvariant, ErrInvalidTransition, ErrNotFound} {
		assert.False(t, Retryable(k), k.Error())
	}
	assert.False(t, Retryable(nil))
}
