package shipments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
)

// Event kinds published to the notification dispatcher.
const (
	EventRegistered  = "shipment.registered"
	EventInTransit   = "shipment.in_transit"
	EventDelivered   = "shipment.delivered"
	EventAttemptFail = "shipment.attempt_failed"
	EventRescheduled = "shipment.rescheduled"
	EventCancelled   = "shipment.cancelled"
	EventReturned    = "shipment.returned"
)

// Notifier dispatches outbound shipment notifications. Implementations are
// fire-and-forget: a dispatch failure must never fail the lifecycle operation
// that triggered it.
type Notifier interface {
	ShipmentEvent(ctx context.Context, sh Shipment, kind string) error
}

// LocalityDirectory validates destination locality references. Read-only.
type LocalityDirectory interface {
	LocalityExists(ctx context.Context, localityID int64) error
}

// Service provides business logic for shipments.
type Service struct {
	repo      Repository
	directory LocalityDirectory
	notifier  Notifier
	logger    *slog.Logger
}

// NewService creates a new service.
func NewService(repo Repository, directory LocalityDirectory, logger *slog.Logger) *Service {
	return &Service{repo: repo, directory: directory, logger: logger}
}

// SetNotifier sets the outbound notification dispatcher.
func (s *Service) SetNotifier(n Notifier) {
	s.notifier = n
}

// newTrackingCode derives a short, upper-case public tracking code.
func newTrackingCode() string {
	id := uuid.New()
	return "SDA-" + strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:12])
}

// Create registers a new shipment in pending status with its first history entry.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Shipment, error) {
	if err := s.directory.LocalityExists(ctx, req.LocalityID); err != nil {
		return nil, fmt.Errorf("%w: locality %d: %v", ErrRefNotFound, req.LocalityID, err)
	}

	sh := Shipment{
		TrackingCode: newTrackingCode(),
		SenderID:     req.SenderID,
		RecipientID:  req.RecipientID,
		LocalityID:   req.LocalityID,
		Package: PackageInfo{
			WeightKg:   req.WeightKg,
			LengthCm:   req.LengthCm,
			WidthCm:    req.WidthCm,
			HeightCm:   req.HeightCm,
			PieceCount: req.PieceCount,
		},
		Status: StatusPending,
	}

	var id int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		id, err = tx.Insert(ctx, sh)
		if err != nil {
			return fmt.Errorf("insert shipment: %w", err)
		}
		return tx.AppendEvent(ctx, StatusEvent{
			ShipmentID: id,
			Status:     StatusPending,
			Location:   "origin depot",
		})
	})
	if err != nil {
		return nil, err
	}

	created, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *created, EventRegistered)
	return created, nil
}

// RecordStatus appends a status change chosen by an operator (delivery outcome
// or administrative action). The transition table is enforced before any write;
// on violation nothing is mutated and the history stays untouched.
func (s *Service) RecordStatus(ctx context.Context, id int64, req RecordStatusRequest) (*Shipment, error) {
	if !req.Status.IsValid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownStatus, req.Status)
	}
	if req.Location == "" {
		return nil, ErrLocationMissing
	}

	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	if !existing.Status.CanTransitionTo(req.Status) {
		return nil, &TransitionError{ShipmentID: id, From: existing.Status, To: req.Status}
	}

	updates := map[string]interface{}{}
	if req.Status.FailedAttempt() {
		updates["attempts"] = existing.Attempts + 1
	}
	if req.Reason != nil {
		updates["failure_reason"] = req.Reason
	}
	if req.Status == StatusDelivered {
		if req.ReceiverName != nil {
			updates["receiver_name"] = req.ReceiverName
		}
		if req.ReceiverDoc != nil {
			updates["receiver_doc"] = req.ReceiverDoc
		}
		if req.SignatureRef != nil {
			updates["signature_ref"] = req.SignatureRef
		}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, req.Status, updates); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return tx.AppendEvent(ctx, StatusEvent{
			ShipmentID: id,
			Status:     req.Status,
			Location:   req.Location,
			Reason:     req.Reason,
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *updated, eventKindFor(req.Status))
	return updated, nil
}

// MarkInTransit moves a shipment into transit on behalf of a sheet
// confirmation and links it to the carrying sheet. Only the lifecycle manager
// calls this.
func (s *Service) MarkInTransit(ctx context.Context, id, sheetID int64, location string) (*Shipment, error) {
	existing, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("get shipment: %w", err)
	}
	if !existing.Status.CanTransitionTo(StatusInTransit) {
		return nil, &TransitionError{ShipmentID: id, From: existing.Status, To: StatusInTransit}
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		if err := tx.UpdateStatus(ctx, id, StatusInTransit, map[string]interface{}{"sheet_id": sheetID}); err != nil {
			return fmt.Errorf("update status: %w", err)
		}
		return tx.AppendEvent(ctx, StatusEvent{
			ShipmentID: id,
			Status:     StatusInTransit,
			Location:   location,
		})
	})
	if err != nil {
		return nil, err
	}

	updated, err := s.repo.GetByID(ctx, id)
	if err != nil {
		return nil, err
	}
	s.notify(ctx, *updated, EventInTransit)
	return updated, nil
}

// GetByID retrieves a shipment by internal id.
func (s *Service) GetByID(ctx context.Context, id int64) (*Shipment, error) {
	return s.repo.GetByID(ctx, id)
}

// GetByTrackingCode retrieves a shipment by public tracking code.
func (s *Service) GetByTrackingCode(ctx context.Context, code string) (*Shipment, error) {
	return s.repo.GetByTrackingCode(ctx, code)
}

// List returns a paginated list of shipments.
func (s *Service) List(ctx context.Context, req ListRequest) ([]Shipment, int, error) {
	return s.repo.List(ctx, req)
}

// FindActiveBySheet lists the in-transit shipments of a sheet.
func (s *Service) FindActiveBySheet(ctx context.Context, sheetID int64) ([]Shipment, error) {
	return s.repo.FindActiveBySheet(ctx, sheetID)
}

// notify dispatches an event without letting a failure propagate.
func (s *Service) notify(ctx context.Context, sh Shipment, kind string) {
	if s.notifier == nil || kind == "" {
		return
	}
	if err := s.notifier.ShipmentEvent(ctx, sh, kind); err != nil {
		s.logger.Warn("shipment notification dispatch failed",
			slog.String("tracking_code", sh.TrackingCode),
			slog.String("event", kind),
			slog.Any("error", err))
	}
}

func eventKindFor(status Status) string {
	switch status {
	case StatusDelivered:
		return EventDelivered
	case StatusNotDelivered, StatusRejected:
		return EventAttemptFail
	case StatusRescheduled:
		return EventRescheduled
	case StatusCancelled:
		return EventCancelled
	case StatusReturned:
		return EventReturned
	default:
		return ""
	}
}
