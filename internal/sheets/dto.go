package sheets

import (
	"time"

	"github.com/sda-logistics/fleetsheet/internal/shared"
)

// CreateRequest represents a request for a preliminary sheet.
type CreateRequest struct {
	RouteID       int64     `json:"route_id" validate:"required,gt=0"`
	DriverID      int64     `json:"driver_id" validate:"required,gt=0"`
	VehicleID     int64     `json:"vehicle_id" validate:"required,gt=0"`
	OperatingDate time.Time `json:"operating_date" validate:"required"`
	ShipmentIDs   []int64   `json:"shipment_ids" validate:"required,min=1,dive,gt=0"`
	Notes         *string   `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Actor         string    `json:"actor" validate:"required,max=100"`
}

// UpdateRequest represents a patch to a pending sheet.
type UpdateRequest struct {
	DriverID    *int64   `json:"driver_id,omitempty" validate:"omitempty,gt=0"`
	VehicleID   *int64   `json:"vehicle_id,omitempty" validate:"omitempty,gt=0"`
	ShipmentIDs *[]int64 `json:"shipment_ids,omitempty" validate:"omitempty,min=1,dive,gt=0"`
	Notes       *string  `json:"notes,omitempty" validate:"omitempty,max=2000"`
	Actor       string   `json:"actor" validate:"required,max=100"`
}

// ConfirmRequest represents a request to confirm a pending sheet.
type ConfirmRequest struct {
	// ShipmentIDs, when present, is the final shipment list; otherwise the
	// sheet's current list is confirmed.
	ShipmentIDs []int64 `json:"shipment_ids,omitempty" validate:"omitempty,min=1,dive,gt=0"`
	DriverID    *int64  `json:"driver_id,omitempty" validate:"omitempty,gt=0"`
	VehicleID   *int64  `json:"vehicle_id,omitempty" validate:"omitempty,gt=0"`
	Actor       string  `json:"actor" validate:"required,max=100"`
}

// CloseRequest represents a request to close a sheet.
type CloseRequest struct {
	Actor string `json:"actor" validate:"required,max=100"`
}

// ShipmentFailure records one shipment whose transition failed during the
// post-confirmation update loop.
type ShipmentFailure struct {
	ShipmentID int64  `json:"shipment_id"`
	Error      string `json:"error"`
}

// ConfirmResult is the multi-status outcome of a confirmation. The sheet is
// active and numbered; InTransit lists the shipments actually moved, Failed
// the ones needing operator remediation. Failed being non-empty is reported,
// never unwound.
type ConfirmResult struct {
	Sheet     *Sheet            `json:"sheet"`
	InTransit []int64           `json:"in_transit"`
	Failed    []ShipmentFailure `json:"failed,omitempty"`
}

// ListRequest represents filters for listing sheets.
type ListRequest struct {
	Number   *string    `json:"number,omitempty"`
	Status   *Status    `json:"status,omitempty"`
	DriverID *int64     `json:"driver_id,omitempty"`
	RouteID  *int64     `json:"route_id,omitempty"`
	DateFrom *time.Time `json:"date_from,omitempty"`
	DateTo   *time.Time `json:"date_to,omitempty"`
	Limit    int        `json:"limit" validate:"gte=0,lte=1000"`
	Offset   int        `json:"offset" validate:"gte=0"`
}

// ListResponse represents the API response for a sheet listing.
type ListResponse struct {
	Sheets     []Sheet           `json:"sheets"`
	Pagination shared.Pagination `json:"pagination"`
}
