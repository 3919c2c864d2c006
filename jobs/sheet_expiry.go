package jobs

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/hibiken/asynq"
	"golang.org/x/sync/errgroup"

	"github.com/sda-logistics/fleetsheet/internal/sheets"
)

// SheetCloser is the slice of the sheet lifecycle the expiry job needs.
type SheetCloser interface {
	Close(ctx context.Context, id int64, req sheets.CloseRequest, forced bool) (*sheets.Sheet, error)
}

// ExpiredScanner finds active sheets whose operating date lies before a day.
type ExpiredScanner interface {
	FindExpired(ctx context.Context, before time.Time) ([]sheets.Sheet, error)
}

// SheetExpiryJob force-closes sheets whose operating day has elapsed.
//
// Closure is idempotent, so overlapping runs (the daily trigger plus the
// hourly safety net, or two worker instances) cannot double-apply side
// effects; no leader election is needed.
type SheetExpiryJob struct {
	scanner  ExpiredScanner
	closer   SheetCloser
	boundary interface {
		OperatingDate(time.Time) time.Time
	}
	logger *slog.Logger
	now    func() time.Time
}

// SheetExpiryConfig collects the job dependencies.
type SheetExpiryConfig struct {
	Scanner  ExpiredScanner
	Closer   SheetCloser
	Boundary interface {
		OperatingDate(time.Time) time.Time
	}
	Logger *slog.Logger
	Now    func() time.Time
}

// NewSheetExpiryJob constructs the job.
func NewSheetExpiryJob(cfg SheetExpiryConfig) *SheetExpiryJob {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}
	return &SheetExpiryJob{
		scanner:  cfg.Scanner,
		closer:   cfg.Closer,
		boundary: cfg.Boundary,
		logger:   cfg.Logger,
		now:      now,
	}
}

// Handle processes one TaskSheetExpiry run.
func (j *SheetExpiryJob) Handle(ctx context.Context, _ *asynq.Task) error {
	today := j.boundary.OperatingDate(j.now())
	due, err := j.scanner.FindExpired(ctx, today)
	if err != nil {
		// Scan failure is retryable; asynq backs off and retries.
		return err
	}
	if len(due) == 0 {
		return nil
	}

	var g errgroup.Group
	g.SetLimit(4)
	var closed, failed atomic.Int64
	for _, sheet := range due {
		g.Go(func() error {
			if _, err := j.closer.Close(ctx, sheet.ID, sheets.CloseRequest{Actor: sheets.SystemActor}, true); err != nil {
				// Per-sheet failure is logged, not raised: the job has no
				// interactive caller and the next run retries the sheet.
				j.logger.Error("automatic sheet closure failed",
					slog.Int64("sheet_id", sheet.ID),
					slog.Any("error", err))
				failed.Add(1)
				return nil
			}
			closed.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	j.logger.Info("sheet expiry run finished",
		slog.Time("boundary_day", today),
		slog.Int("eligible", len(due)),
		slog.Int64("closed", closed.Load()),
		slog.Int64("failed", failed.Load()))
	return nil
}
