package shipments

import (
	"errors"
	"fmt"
)

// Domain errors for shipments.
var (
	// ErrNotFound indicates the requested shipment was not found.
	ErrNotFound = errors.New("shipment not found")

	// ErrInvalidTransition indicates a status change outside the transition table.
	ErrInvalidTransition = errors.New("invalid shipment status transition")

	// ErrTransient indicates an underlying storage failure. Safe to retry
	// only for idempotent operations.
	ErrTransient = errors.New("transient storage failure")

	// Validation errors.
	ErrUnknownStatus   = errors.New("unknown shipment status")
	ErrLocationMissing = errors.New("location label is required")
	ErrRefNotFound     = errors.New("referenced locality not found")
)

// TransitionError carries the current and the requested status so callers can
// render an actionable message.
type TransitionError struct {
	ShipmentID int64
	From       Status
	To         Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("shipment %d: cannot transition from %s to %s", e.ShipmentID, e.From, e.To)
}

// Is makes the error match ErrInvalidTransition under errors.Is.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}
