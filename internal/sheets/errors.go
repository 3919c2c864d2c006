package sheets

import (
	"errors"
	"fmt"
)

// Domain errors for delivery sheets.
var (
	// ErrNotFound indicates the requested sheet was not found.
	ErrNotFound = errors.New("delivery sheet not found")

	// ErrInvalidState indicates an operation not valid for the sheet's
	// current status, e.g. editing an active sheet.
	ErrInvalidState = errors.New("operation not valid for sheet status")

	// ErrConflict indicates the assignment guard detected a shipment already
	// committed to another active sheet.
	ErrConflict = errors.New("shipment already assigned to an active sheet")

	// ErrTransient indicates an underlying storage failure. close may be
	// retried safely; confirm must not be retried blindly.
	ErrTransient = errors.New("transient storage failure")

	// Validation errors.
	ErrEmptyShipments = errors.New("at least one shipment is required")
	ErrNotBookable    = errors.New("shipment is not in a bookable status")
	ErrRefNotFound    = errors.New("referenced route, driver or vehicle not found")
)

// ConflictError names the double-booked shipment and the active sheet that
// holds it, so the caller can render an actionable message.
type ConflictError struct {
	ShipmentID    int64
	HolderSheetID int64
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("shipment %d is already on active sheet %d", e.ShipmentID, e.HolderSheetID)
}

// Is makes the error match ErrConflict under errors.Is.
func (e *ConflictError) Is(target error) bool {
	return target == ErrConflict
}

// StateError carries the sheet status that rejected the operation.
type StateError struct {
	SheetID int64
	Status  Status
	Op      string
}

func (e *StateError) Error() string {
	return fmt.Sprintf("sheet %d: cannot %s while %s", e.SheetID, e.Op, e.Status)
}

// Is makes the error match ErrInvalidState under errors.Is.
func (e *StateError) Is(target error) bool {
	return target == ErrInvalidState
}
