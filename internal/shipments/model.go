// Package shipments provides shipment entity logic and the status state machine.
package shipments

import (
	"time"
)

// Status represents the lifecycle state of a shipment.
type Status string

const (
	StatusPending      Status = "pending"       // Created, waiting to be booked on a sheet
	StatusInTransit    Status = "in-transit"    // On an active delivery sheet
	StatusDelivered    Status = "delivered"     // Handed over to the recipient
	StatusRescheduled  Status = "rescheduled"   // Delivery postponed, bookable again
	StatusNotDelivered Status = "not-delivered" // Attempt failed, needs a decision
	StatusRejected     Status = "rejected"      // Recipient refused the parcel
	StatusReturned     Status = "returned"      // Sent back to the sender
	StatusCancelled    Status = "cancelled"     // Cancelled administratively
)

// IsValid checks if the status is a known value.
func (s Status) IsValid() bool {
	switch s {
	case StatusPending, StatusInTransit, StatusDelivered, StatusRescheduled,
		StatusNotDelivered, StatusRejected, StatusReturned, StatusCancelled:
		return true
	default:
		return false
	}
}

// Terminal reports whether no further transition is allowed from this status.
func (s Status) Terminal() bool {
	return s == StatusDelivered || s == StatusReturned || s == StatusCancelled
}

// Bookable reports whether a shipment in this status may be placed on a
// preliminary sheet.
func (s Status) Bookable() bool {
	return s == StatusPending || s == StatusRescheduled
}

// transitions is the allowed-transition table. A status absent from the map
// is terminal.
var transitions = map[Status][]Status{
	StatusPending:      {StatusInTransit, StatusCancelled},
	StatusInTransit:    {StatusDelivered, StatusRescheduled, StatusNotDelivered, StatusRejected},
	StatusRescheduled:  {StatusInTransit, StatusCancelled},
	StatusNotDelivered: {StatusInTransit, StatusReturned},
	StatusRejected:     {StatusReturned},
}

// CanTransitionTo checks whether the move from s to next is allowed.
func (s Status) CanTransitionTo(next Status) bool {
	for _, allowed := range transitions[s] {
		if next == allowed {
			return true
		}
	}
	return false
}

// FailedAttempt reports whether the status records an unsuccessful delivery
// attempt. Used to bump the attempt counter.
func (s Status) FailedAttempt() bool {
	return s == StatusRescheduled || s == StatusNotDelivered || s == StatusRejected
}

// PackageInfo describes the physical parcel.
type PackageInfo struct {
	WeightKg  float64 `json:"weight_kg" db:"weight_kg"`
	LengthCm  float64 `json:"length_cm" db:"length_cm"`
	WidthCm   float64 `json:"width_cm" db:"width_cm"`
	HeightCm  float64 `json:"height_cm" db:"height_cm"`
	PieceCount int    `json:"piece_count" db:"piece_count"`
}

// Shipment represents a single trackable parcel.
type Shipment struct {
	ID            int64       `json:"id" db:"id"`
	TrackingCode  string      `json:"tracking_code" db:"tracking_code"`
	SenderID      int64       `json:"sender_id" db:"sender_id"`
	RecipientID   int64       `json:"recipient_id" db:"recipient_id"`
	LocalityID    int64       `json:"locality_id" db:"locality_id"`
	Package       PackageInfo `json:"package" db:"-"`
	Status        Status      `json:"status" db:"status"`
	SheetID       *int64      `json:"sheet_id,omitempty" db:"sheet_id"`
	Attempts      int         `json:"attempts" db:"attempts"`
	FailureReason *string     `json:"failure_reason,omitempty" db:"failure_reason"`
	ReceiverName  *string     `json:"receiver_name,omitempty" db:"receiver_name"`
	ReceiverDoc   *string     `json:"receiver_doc,omitempty" db:"receiver_doc"`
	SignatureRef  *string     `json:"signature_ref,omitempty" db:"signature_ref"`
	CreatedAt     time.Time   `json:"created_at" db:"created_at"`
	UpdatedAt     time.Time   `json:"updated_at" db:"updated_at"`
	History       []StatusEvent `json:"history,omitempty" db:"-"`
}

// StatusEvent is one append-only row of a shipment's status history.
// History is never rewritten, only extended.
type StatusEvent struct {
	ID         int64     `json:"id" db:"id"`
	ShipmentID int64     `json:"shipment_id" db:"shipment_id"`
	Status     Status    `json:"status" db:"status"`
	Location   string    `json:"location" db:"location"`
	Reason     *string   `json:"reason,omitempty" db:"reason"`
	At         time.Time `json:"at" db:"occurred_at"`
}
