package transfer

import (
	"context"
	"errors"
	"fmt"

	"github.com/Klingon-tech/klingnet-statechain/internal/protocol"
)

// Error kinds, matched with errors.Is.
var (
	ErrPrecondition     = errors.New("precondition failed")
	ErrValidation       = errors.New("transfer message rejected")
	ErrProtocolFatal    = errors.New("statechain entity refused")
	ErrRetriesExhausted = errors.New("retries exhausted")
)

// PreconditionError reports a local invariant violated before the transfer
// touched the entity. Nothing was persisted.
type PreconditionError struct {
	Reason string
}

func (e *PreconditionError) Error() string {
	return "precondition failed: " + e.Reason
}

// Is matches ErrPrecondition.
func (e *PreconditionError) Is(target error) bool {
	return target == ErrPrecondition
}

func preconditionf(format string, args ...interface{}) error {
	return &PreconditionError{Reason: fmt.Sprintf(format, args...)}
}

// ValidationError reports a received transfer message failing one check.
type ValidationError struct {
	Check  string
	Reason string
	Err    error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Check, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Check, e.Reason)
}

// Is matches ErrValidation.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation
}

func (e *ValidationError) Unwrap() error {
	return e.Err
}

func invalid(check, reason string, err error) error {
	return &ValidationError{Check: check, Reason: reason, Err: err}
}

// fatal marks an entity error as ending the operation. Transport failures
// and cancellation pass through unchanged.
func fatal(op string, err error) error {
	if errors.Is(err, protocol.ErrUnreachable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		errors.Is(err, ErrProtocolFatal) {
		return err
	}
	return fmt.Errorf("%w: %s: %w", ErrProtocolFatal, op, err)
}
