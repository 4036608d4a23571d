package core

import (
	"errors"
	"fmt"
)

// Configuration errors: rejected at the call site with a diagnostic, the
// operation does not proceed.
var (
	ErrUnalignedAddress    = errors.New("address is not cacheline-aligned")
	ErrEmptyRegionName     = errors.New("region name must not be empty")
	ErrDuplicateRegionName = errors.New("region name is already registered")
	ErrRegionOverlap       = errors.New("region overlaps an already registered region")
	ErrRegionNotFound      = errors.New("no registered region matches")
)

// InvariantError indicates that tracked cache/write-buffer state has
// desynchronized from the region table. These are fatal: the engine panics
// rather than continuing with unreliable results.
type InvariantError struct {
	Op   string
	Addr uint64
}

func (e *InvariantError) Error() string {
	return fmt.Sprintf("internal invariant violated in %s: no registered region for cacheline 0x%x", e.Op, e.Addr)
}

// IsInvariantError checks if an error is an InvariantError.
func IsInvariantError(err error) bool {
	var invariantError *InvariantError
	return errors.As(err, &invariantError)
}
