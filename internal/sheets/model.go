// Package sheets provides the delivery-sheet lifecycle: preliminary planning,
// confirmation with sequential numbering, and idempotent closure.
package sheets

import (
	"time"
)

// Status represents the lifecycle of a delivery sheet.
type Status string

const (
	StatusPending Status = "pending" // Preliminary, mutable, unnumbered
	StatusActive  Status = "active"  // Confirmed, numbered, shipments in transit
	StatusClosed  Status = "closed"  // Terminal
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusActive, StatusClosed:
		return true
	default:
		return false
	}
}

// CanEdit checks if the sheet may be edited in this status.
func (s Status) CanEdit() bool {
	return s == StatusPending
}

// CanConfirm checks if the sheet may be confirmed.
func (s Status) CanConfirm() bool {
	return s == StatusPending
}

// Movement action labels recorded in the sheet movement log.
const (
	ActionCreated    = "sheet created (preliminary)"
	ActionUpdated    = "sheet updated"
	ActionConfirmed  = "sheet confirmed"
	ActionClosedByOp = "manual closure"
	ActionClosedAuto = "automatic closure by date expiry"
)

// SystemActor identifies lifecycle actions taken by the expiry scheduler.
const SystemActor = "system"

// Movement is one append-only row of a sheet's movement log.
type Movement struct {
	ID      int64     `json:"id" db:"id"`
	SheetID int64     `json:"sheet_id" db:"sheet_id"`
	Actor   string    `json:"actor" db:"actor"`
	Action  string    `json:"action" db:"action"`
	At      time.Time `json:"at" db:"occurred_at"`
}

// Sheet represents a batch of shipments assigned to one driver, vehicle and
// route for one operating day.
//
// Number is nil exactly while the sheet is pending. Once assigned at
// confirmation it never changes and is strictly greater than every number
// assigned before it.
type Sheet struct {
	ID            int64      `json:"id" db:"id"`
	Number        *string    `json:"number,omitempty" db:"sheet_number"`
	RouteID       int64      `json:"route_id" db:"route_id"`
	DriverID      int64      `json:"driver_id" db:"driver_id"`
	VehicleID     int64      `json:"vehicle_id" db:"vehicle_id"`
	OperatingDate time.Time  `json:"operating_date" db:"operating_date"`
	Status        Status     `json:"status" db:"status"`
	Notes         *string    `json:"notes,omitempty" db:"notes"`
	AutoClosed    bool       `json:"auto_closed" db:"auto_closed"`
	ConfirmedAt   *time.Time `json:"confirmed_at,omitempty" db:"confirmed_at"`
	ClosedAt      *time.Time `json:"closed_at,omitempty" db:"closed_at"`
	CreatedAt     time.Time  `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at" db:"updated_at"`

	ShipmentIDs []int64    `json:"shipment_ids" db:"-"`
	Movements   []Movement `json:"movements,omitempty" db:"-"`
}
