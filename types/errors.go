package types

import (
	"errors"
	"fmt"
)

// Error kinds. Callers classify failures with errors.Is.
var (
	// ErrInput marks a malformed record; it is excluded and logged, never fatal.
	ErrInput = errors.New("input error")
	// ErrResourceExhausted marks a memory budget overrun; callers back off and retry.
	ErrResourceExhausted = errors.New("resource exhausted")
	// ErrCacheCorrupt marks an unreadable or mismatched checkpoint; the stage is recomputed.
	ErrCacheCorrupt = errors.New("cache corruption")
	// ErrConfig marks an invalid configuration; fatal before any stage runs.
	ErrConfig = errors.New("configuration error")
	// ErrConsistency marks a cross-stage invariant violation; always fatal.
	ErrConsistency = errors.New("internal consistency violation")
)

// StageError wraps a failure raised while running a stage
type StageError struct {
	Stage Stage
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
