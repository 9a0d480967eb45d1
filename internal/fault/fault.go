// Package fault defines the error kinds shared by the accounting core.
//
// Domain packages declare precise sentinel errors that wrap one of these
// kinds, so callers can test for either:
//
//	errors.Is(err, ledger.ErrUnbalancedEntries) // precise
//	errors.Is(err, fault.ErrInvariant)          // kind
package fault

import (
	"errors"
	"fmt"
)

var (
	// ErrValidation marks malformed input: missing fields, bad references.
	ErrValidation = errors.New("validation error")
	// ErrInvariant marks input that would break a ledger or invoice invariant.
	ErrInvariant = errors.New("invariant violation")
	// ErrInvalidTransition marks an illegal state-machine move.
	ErrInvalidTransition = errors.New("invalid transition")
	// ErrNotFound marks a missing entity.
	ErrNotFound = errors.New("not found")
	// ErrConflict marks concurrent-write contention. Callers may retry.
	ErrConflict = errors.New("conflict")
)

// Validation returns a validation error with the given message.
func Validation(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}

// Retryable reports whether re-reading and re-applying the operation may succeed.
func Retryable(err error) bool {
	return errors.Is(err, ErrConflict)
}

// Kind returns the kind sentinel wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, k := range []error{ErrConflict, ErrNotFound, ErrInvalidTransition, ErrInvariant, ErrValidation} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
