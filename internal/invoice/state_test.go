package invoice

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanTransition(t *testing.T) {
	assert.True(t, CanTransition(StatusDraft, StatusSent))
	assert.True(t, CanTransition(StatusPartiallyPaid, StatusOverdue))
	assert.True(t, CanTransition(StatusOverdue, StatusCancelled))
	assert.False(t, CanTransition(StatusDraft, StatusPaid))
	assert.False(t, CanTransition(StatusPaid, StatusCancelled))
	assert.False(t, CanTransition(StatusCancelled, StatusSent))
	assert.True(t, StatusPaid.Terminal())
	assert.False(t, StatusOverdue.Terminal())
}

func TestCheckConsistency(t *testing.T) {
	base := Invoice{
		Items:    []Item{{Amount: 1000}},
		Subtotal: 1000,
		Total:    1000,
		Status:   StatusSent,
	}
	assert.NoError(t, CheckConsistency(base))

	bad := base
	bad.Total = 1100
	assert.ErrorIs(t, CheckConsistency(bad), ErrInconsistent)

	bad = base
	bad.Status = StatusPaid
	assert.ErrorIs(t, CheckConsistency(bad), ErrInconsistent)

	bad = base
	bad.Status = StatusPartiallyPaid
	bad.AmountPaid = 1000
	bad.Payments = []Payment{{Amount: 1000}}
	assert.ErrorIs(t, CheckConsistency(bad), ErrInconsistent)

	bad = base
	bad.AmountPaid = 400
	assert.ErrorIs(t, CheckConsistency(bad), ErrInconsistent, "payments must sum to amount paid")

	ok := base
	ok.Status = StatusOverdue
	ok.AmountPaid = 400
	ok.Payments = []Payment{{Amount: 400}}
	assert.NoError(t, CheckConsistency(ok))
}
