package shipments

import (
	"time"

	"github.com/sda-logistics/fleetsheet/internal/shared"
)

// CreateRequest represents a request to register a new shipment.
type CreateRequest struct {
	SenderID    int64   `json:"sender_id" validate:"required,gt=0"`
	RecipientID int64   `json:"recipient_id" validate:"required,gt=0"`
	LocalityID  int64   `json:"locality_id" validate:"required,gt=0"`
	WeightKg    float64 `json:"weight_kg" validate:"required,gt=0"`
	LengthCm    float64 `json:"length_cm" validate:"gte=0"`
	WidthCm     float64 `json:"width_cm" validate:"gte=0"`
	HeightCm    float64 `json:"height_cm" validate:"gte=0"`
	PieceCount  int     `json:"piece_count" validate:"required,gt=0"`
}

// RecordStatusRequest represents a request to record a status change.
type RecordStatusRequest struct {
	Status   Status  `json:"status" validate:"required"`
	Location string  `json:"location" validate:"required,max=200"`
	Reason   *string `json:"reason,omitempty" validate:"omitempty,max=500"`

	// Receiver fields, accepted only together with a delivered outcome.
	ReceiverName *string `json:"receiver_name,omitempty" validate:"omitempty,max=200"`
	ReceiverDoc  *string `json:"receiver_doc,omitempty" validate:"omitempty,max=50"`
	SignatureRef *string `json:"signature_ref,omitempty" validate:"omitempty,max=200"`
}

// ListRequest represents filters for listing shipments.
type ListRequest struct {
	Status     *Status    `json:"status,omitempty"`
	LocalityID *int64     `json:"locality_id,omitempty"`
	SheetID    *int64     `json:"sheet_id,omitempty"`
	DateFrom   *time.Time `json:"date_from,omitempty"`
	DateTo     *time.Time `json:"date_to,omitempty"`
	Search     *string    `json:"search,omitempty"`
	Limit      int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset     int        `json:"offset" validate:"gte=0"`
}

// ListResponse represents the API response for a shipment listing.
type ListResponse struct {
	Shipments  []Shipment        `json:"shipments"`
	Pagination shared.Pagination `json:"pagination"`
}
