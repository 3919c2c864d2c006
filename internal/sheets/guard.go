package sheets

import (
	"context"
	"fmt"
)

// Guard is the assignment guard: it prevents a shipment from being committed
// to two active sheets at once.
//
// The check runs inside the confirmation transaction, but a check-then-act
// sequence alone leaves a race window between two concurrent confirmations.
// The window is closed at the storage level: live assignment rows carry a
// partial unique index on the shipment id, so the loser of a race gets a
// unique violation which the repository surfaces as a ConflictError instead
// of silent corruption.
type Guard struct{}

// NewGuard creates the guard.
func NewGuard() *Guard {
	return &Guard{}
}

// Check verifies that none of the proposed shipments is held by another
// active sheet. The first conflict aborts the whole confirmation; nothing has
// been mutated at that point.
//
// Shipments that are merely pending or rescheduled cannot hold a live
// assignment row by invariant, so probing the assignment table covers exactly
// the in-transit case the workflow cares about.
func (g *Guard) Check(ctx context.Context, tx TxRepository, sheetID int64, shipmentIDs []int64) error {
	for _, shipmentID := range shipmentIDs {
		holder, err := tx.ActiveHolder(ctx, shipmentID, sheetID)
		if err != nil {
			return fmt.Errorf("probe shipment %d: %w", shipmentID, err)
		}
		if holder != nil {
			return &ConflictError{ShipmentID: shipmentID, HolderSheetID: *holder}
		}
	}
	return nil
}
