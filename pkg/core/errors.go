// Package core holds the error kinds shared by every engine package and the
// compression/hashing helpers used for archival.
package core

import (
	"errors"
	"fmt"
)

var (
	// ErrTransientStore marks a datastore failure that may succeed on retry.
	ErrTransientStore = errors.New("store unavailable")
	// ErrConflict marks a lost race, e.g. a travel order already resolved.
	ErrConflict = errors.New("conflict")
	ErrNotFound = errors.New("not found")
)

// ValidationError rejects a player action before anything is mutated.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string { return e.Reason }

func Invalid(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}

func IsValidation(err error) bool {
	var v *ValidationError
	return errors.As(err, &v)
}

// Transient wraps err so that errors.Is(err, ErrTransientStore) holds.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransientStore, err)
}
