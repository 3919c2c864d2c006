package sheets

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sda-logistics/fleetsheet/internal/shared"
	"github.com/sda-logistics/fleetsheet/internal/shipments"
)

// ShipmentGateway is the slice of the shipment service the lifecycle manager
// needs.
type ShipmentGateway interface {
	GetByID(ctx context.Context, id int64) (*shipments.Shipment, error)
	MarkInTransit(ctx context.Context, id, sheetID int64, location string) (*shipments.Shipment, error)
}

// Directory validates route, driver and vehicle references. Read-only.
type Directory interface {
	RouteLabel(ctx context.Context, routeID int64) (string, error)
	DriverExists(ctx context.Context, driverID int64) error
	VehicleExists(ctx context.Context, vehicleID int64) error
}

// Service is the sheet lifecycle manager. It orchestrates preliminary
// creation, confirmation and closure over the stores and the assignment
// guard.
type Service struct {
	repo      Repository
	gateway   ShipmentGateway
	directory Directory
	guard     *Guard
	numbering *NumberAllocator
	boundary  shared.DayBoundary
	cache     *DriverSheetCache
	logger    *slog.Logger
}

// NewService creates the lifecycle manager.
func NewService(
	repo Repository,
	gateway ShipmentGateway,
	directory Directory,
	numbering *NumberAllocator,
	boundary shared.DayBoundary,
	logger *slog.Logger,
) *Service {
	return &Service{
		repo:      repo,
		gateway:   gateway,
		directory: directory,
		guard:     NewGuard(),
		numbering: numbering,
		boundary:  boundary,
		logger:    logger,
	}
}

// SetCache installs the optional driver-sheet lookup cache.
func (s *Service) SetCache(c *DriverSheetCache) {
	s.cache = c
}

// CreatePreliminary validates references and persists a pending, unnumbered
// sheet. A pure planning step: no shipment is mutated.
func (s *Service) CreatePreliminary(ctx context.Context, req CreateRequest) (*Sheet, error) {
	if len(req.ShipmentIDs) == 0 {
		return nil, ErrEmptyShipments
	}
	if _, err := s.directory.RouteLabel(ctx, req.RouteID); err != nil {
		return nil, fmt.Errorf("%w: route %d: %v", ErrRefNotFound, req.RouteID, err)
	}
	if err := s.directory.DriverExists(ctx, req.DriverID); err != nil {
		return nil, fmt.Errorf("%w: driver %d: %v", ErrRefNotFound, req.DriverID, err)
	}
	if err := s.directory.VehicleExists(ctx, req.VehicleID); err != nil {
		return nil, fmt.Errorf("%w: vehicle %d: %v", ErrRefNotFound, req.VehicleID, err)
	}
	if err := s.checkBookable(ctx, req.ShipmentIDs); err != nil {
		return nil, err
	}

	sheet := Sheet{
		RouteID:       req.RouteID,
		DriverID:      req.DriverID,
		VehicleID:     req.VehicleID,
		OperatingDate: s.boundary.OperatingDate(req.OperatingDate),
		Status:        StatusPending,
		Notes:         req.Notes,
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Insert(ctx, sheet)
		if err != nil {
			return fmt.Errorf("insert sheet: %w", err)
		}
		if err := tx.ReplaceShipments(ctx, id, req.ShipmentIDs); err != nil {
			return fmt.Errorf("store shipment list: %w", err)
		}
		return tx.AppendMovement(ctx, Movement{SheetID: id, Actor: req.Actor, Action: ActionCreated})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// checkBookable verifies every shipment exists and is in a bookable status.
func (s *Service) checkBookable(ctx context.Context, shipmentIDs []int64) error {
	for _, id := range shipmentIDs {
		sh, err := s.gateway.GetByID(ctx, id)
		if err != nil {
			return fmt.Errorf("shipment %d: %w", id, err)
		}
		if !sh.Status.Bookable() {
			return fmt.Errorf("%w: shipment %d is %s", ErrNotBookable, id, sh.Status)
		}
	}
	return nil
}

// addedShipments returns the ids present in the final list but not in the
// stored one.
func addedShipments(final, stored []int64) []int64 {
	known := make(map[int64]bool, len(stored))
	for _, id := range stored {
		known[id] = true
	}
	var added []int64
	for _, id := range final {
		if !known[id] {
			added = append(added, id)
		}
	}
	return added
}

// Update patches a pending sheet. Any other status fails with InvalidState.
func (s *Service) Update(ctx context.Context, id int64, req UpdateRequest) (*Sheet, error) {
	if req.ShipmentIDs != nil {
		if len(*req.ShipmentIDs) == 0 {
			return nil, ErrEmptyShipments
		}
		if err := s.checkBookable(ctx, *req.ShipmentIDs); err != nil {
			return nil, err
		}
	}
	if req.DriverID != nil {
		if err := s.directory.DriverExists(ctx, *req.DriverID); err != nil {
			return nil, fmt.Errorf("%w: driver %d: %v", ErrRefNotFound, *req.DriverID, err)
		}
	}
	if req.VehicleID != nil {
		if err := s.directory.VehicleExists(ctx, *req.VehicleID); err != nil {
			return nil, fmt.Errorf("%w: vehicle %d: %v", ErrRefNotFound, *req.VehicleID, err)
		}
	}

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sheet, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !sheet.Status.CanEdit() {
			return &StateError{SheetID: id, Status: sheet.Status, Op: "edit"}
		}

		updates := map[string]interface{}{}
		if req.DriverID != nil {
			updates["driver_id"] = *req.DriverID
		}
		if req.VehicleID != nil {
			updates["vehicle_id"] = *req.VehicleID
		}
		if req.Notes != nil {
			updates["notes"] = req.Notes
		}
		if len(updates) > 0 {
			if err := tx.Update(ctx, id, updates); err != nil {
				return fmt.Errorf("update sheet: %w", err)
			}
		}
		if req.ShipmentIDs != nil {
			if err := tx.ReplaceShipments(ctx, id, *req.ShipmentIDs); err != nil {
				return fmt.Errorf("replace shipment list: %w", err)
			}
		}
		return tx.AppendMovement(ctx, Movement{SheetID: id, Actor: req.Actor, Action: ActionUpdated})
	})
	if err != nil {
		return nil, err
	}
	return s.repo.GetByID(ctx, id)
}

// Confirm transitions a pending sheet to active: the guard check, the number
// allocation, the status flip, the assignment rows and the movement entry all
// commit in one transaction, so no reader ever observes a numbered pending
// sheet or an unnumbered active one.
//
// The per-shipment in-transit transitions run after commit and are
// best-effort: a failure partway leaves the sheet active with the shipments
// that did move, and the remainder is reported in ConfirmResult.Failed for
// operator remediation.
func (s *Service) Confirm(ctx context.Context, id int64, req ConfirmRequest) (*ConfirmResult, error) {
	var (
		sheet       *Sheet
		finalList   []int64
		originLabel string
	)

	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		locked, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !locked.Status.CanConfirm() {
			return &StateError{SheetID: id, Status: locked.Status, Op: "confirm"}
		}

		finalList = req.ShipmentIDs
		if finalList == nil {
			finalList = locked.ShipmentIDs
		}
		if len(finalList) == 0 {
			return ErrEmptyShipments
		}

		// Shipments added at confirm time bypassed the creation-time
		// bookability check, so vet them here before anything is mutated.
		if added := addedShipments(finalList, locked.ShipmentIDs); len(added) > 0 {
			statuses, err := tx.ShipmentStatuses(ctx, added)
			if err != nil {
				return fmt.Errorf("read shipment statuses: %w", err)
			}
			for _, shipmentID := range added {
				status, ok := statuses[shipmentID]
				if !ok {
					return fmt.Errorf("shipment %d: %w", shipmentID, shipments.ErrNotFound)
				}
				if !status.Bookable() {
					return fmt.Errorf("%w: shipment %d is %s", ErrNotBookable, shipmentID, status)
				}
			}
		}

		if err := s.guard.Check(ctx, tx, id, finalList); err != nil {
			return err
		}

		number, err := s.numbering.Allocate(ctx, tx)
		if err != nil {
			return err
		}

		updates := map[string]interface{}{
			"sheet_number": number,
			"status":       StatusActive,
			"confirmed_at": time.Now(),
		}
		if req.DriverID != nil {
			updates["driver_id"] = *req.DriverID
		}
		if req.VehicleID != nil {
			updates["vehicle_id"] = *req.VehicleID
		}
		if err := tx.Update(ctx, id, updates); err != nil {
			return fmt.Errorf("activate sheet: %w", err)
		}
		if err := tx.ReplaceShipments(ctx, id, finalList); err != nil {
			return fmt.Errorf("lock shipment list: %w", err)
		}
		if err := tx.InsertAssignments(ctx, id, finalList); err != nil {
			return err
		}
		return tx.AppendMovement(ctx, Movement{SheetID: id, Actor: req.Actor, Action: ActionConfirmed})
	})
	if err != nil {
		return nil, s.enrichConflict(ctx, err)
	}

	sheet, err = s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if label, err := s.directory.RouteLabel(ctx, sheet.RouteID); err == nil && label != "" {
		originLabel = label
	} else {
		originLabel = "origin depot"
	}

	result := &ConfirmResult{Sheet: sheet}
	for _, shipmentID := range finalList {
		if _, err := s.gateway.MarkInTransit(ctx, shipmentID, id, originLabel); err != nil {
			s.logger.Error("shipment transition failed during confirmation",
				slog.Int64("sheet_id", id),
				slog.Int64("shipment_id", shipmentID),
				slog.Any("error", err))
			result.Failed = append(result.Failed, ShipmentFailure{ShipmentID: shipmentID, Error: err.Error()})
			continue
		}
		result.InTransit = append(result.InTransit, shipmentID)
	}

	s.invalidateDriverCache(ctx, sheet)
	return result, nil
}

// enrichConflict fills in the holding sheet for conflicts detected by the
// unique index rather than the guard probe, where the aborted transaction
// could not look it up.
func (s *Service) enrichConflict(ctx context.Context, err error) error {
	var conflict *ConflictError
	if !errors.As(err, &conflict) || conflict.HolderSheetID != 0 {
		return err
	}
	holder, lookupErr := s.repo.ActiveHolderOf(ctx, conflict.ShipmentID)
	if lookupErr != nil || holder == nil {
		return err
	}
	return &ConflictError{ShipmentID: conflict.ShipmentID, HolderSheetID: *holder}
}

// Close closes a sheet. Idempotent: closing an already-closed sheet succeeds
// without side effects. Every shipment still in transit on the sheet is
// force-transitioned to rescheduled; delivered and rejected outcomes require
// explicit recording before closure and are never set here.
func (s *Service) Close(ctx context.Context, id int64, req CloseRequest, forced bool) (*Sheet, error) {
	action := ActionClosedByOp
	reason := "sheet closed before delivery"
	if forced {
		action = ActionClosedAuto
		reason = "operating day expired"
	}

	alreadyClosed := false
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		sheet, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if sheet.Status == StatusClosed {
			alreadyClosed = true
			return nil
		}
		if sheet.Status != StatusActive {
			return &StateError{SheetID: id, Status: sheet.Status, Op: "close"}
		}

		rescheduled, err := tx.ForceReschedule(ctx, id, "returned to depot", reason)
		if err != nil {
			return fmt.Errorf("reschedule shipments: %w", err)
		}
		if len(rescheduled) > 0 {
			s.logger.Info("shipments rescheduled by sheet closure",
				slog.Int64("sheet_id", id),
				slog.Int("count", len(rescheduled)))
		}
		if err := tx.ReleaseAssignments(ctx, id); err != nil {
			return fmt.Errorf("release assignments: %w", err)
		}
		updates := map[string]interface{}{
			"status":      StatusClosed,
			"auto_closed": forced,
			"closed_at":   time.Now(),
		}
		if err := tx.Update(ctx, id, updates); err != nil {
			return fmt.Errorf("close sheet: %w", err)
		}
		return tx.AppendMovement(ctx, Movement{SheetID: id, Actor: req.Actor, Action: action})
	})
	if err != nil {
		return nil, err
	}

	sheet, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !alreadyClosed {
		s.invalidateDriverCache(ctx, sheet)
	}
	return sheet, nil
}

// ExpireDue force-closes every active sheet whose operating day has elapsed
// at the configured boundary. Safe to run repeatedly: closure is idempotent
// and already-closed sheets are simply no longer found.
func (s *Service) ExpireDue(ctx context.Context, now time.Time) (int, error) {
	today := s.boundary.OperatingDate(now)
	due, err := s.repo.FindExpired(ctx, today)
	if err != nil {
		return 0, fmt.Errorf("scan expired sheets: %w", err)
	}

	closed := 0
	for _, sheet := range due {
		if _, err := s.Close(ctx, sheet.ID, CloseRequest{Actor: SystemActor}, true); err != nil {
			// Per-sheet failures are logged and skipped; the next run retries.
			s.logger.Error("automatic closure failed",
				slog.Int64("sheet_id", sheet.ID),
				slog.Any("error", err))
			continue
		}
		closed++
	}
	return closed, nil
}

// GetByID retrieves a sheet with shipment list and movement log.
func (s *Service) GetByID(ctx context.Context, id int64) (*Sheet, error) {
	return s.repo.GetByID(ctx, id)
}

// List returns a paginated list of sheets with the total count.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Sheet, int, error) {
	return s.repo.List(ctx, req)
}

// FindTodayForDriver returns the driver's active sheet for the current
// operating day, or ErrNotFound.
func (s *Service) FindTodayForDriver(ctx context.Context, driverID int64) (*Sheet, error) {
	today := s.boundary.OperatingDate(time.Now())
	if s.cache != nil {
		if sheet, ok := s.cache.Get(ctx, driverID, today); ok {
			return sheet, nil
		}
	}
	sheet, err := s.repo.FindActiveForDriverOnDate(ctx, driverID, today)
	if err != nil {
		return nil, err
	}
	if s.cache != nil {
		s.cache.Put(ctx, driverID, today, sheet)
	}
	return sheet, nil
}

func (s *Service) invalidateDriverCache(ctx context.Context, sheet *Sheet) {
	if s.cache == nil || sheet == nil {
		return
	}
	s.cache.Invalidate(ctx, sheet.DriverID, sheet.OperatingDate)
}
