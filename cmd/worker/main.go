package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/hibiken/asynq"

	"github.com/sda-logistics/fleetsheet/internal/app"
	"github.com/sda-logistics/fleetsheet/internal/directory"
	"github.com/sda-logistics/fleetsheet/internal/platform/db"
	"github.com/sda-logistics/fleetsheet/internal/shared"
	"github.com/sda-logistics/fleetsheet/internal/sheets"
	"github.com/sda-logistics/fleetsheet/internal/shipments"
	"github.com/sda-logistics/fleetsheet/jobs"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	pool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer pool.Close()

	boundary := shared.NewDayBoundary(cfg.DayBoundaryOffsetMinutes)

	directoryService := directory.NewService(pool)

	shipmentRepo := shipments.NewRepository(pool)
	shipmentService := shipments.NewService(shipmentRepo, directoryService, logger)

	sheetRepo := sheets.NewRepository(pool)
	numbering := sheets.NewNumberAllocator(cfg.SheetNumberPrefix)
	sheetService := sheets.NewService(sheetRepo, shipmentService, directoryService, numbering, boundary, logger)

	expiryJob := jobs.NewSheetExpiryJob(jobs.SheetExpiryConfig{
		Scanner:  sheetRepo,
		Closer:   sheetService,
		Boundary: boundary,
		Logger:   logger,
	})
	notifyJob := jobs.NewShipmentNotifyJob(logger)

	expiryTask, err := jobs.NewSheetExpiryTask()
	if err != nil {
		logger.Error("build expiry task", slog.Any("error", err))
		os.Exit(1)
	}

	worker, err := jobs.NewWorker(jobs.WorkerConfig{
		RedisOpts: asynq.RedisClientOpt{Addr: cfg.RedisAddr},
		Logger:    logger,
		Handlers: []jobs.TaskHandler{
			{Type: jobs.TaskSheetExpiry, Handler: expiryJob.Handle},
			{Type: jobs.TaskShipmentNotify, Handler: notifyJob.Handle},
		},
		Cron: []jobs.CronRegistration{
			{Spec: cfg.ExpiryCronSpec, Task: expiryTask, Options: []asynq.Option{asynq.MaxRetry(3)}},
			{Spec: cfg.ExpirySafetyNetSpec, Task: expiryTask},
		},
	})
	if err != nil {
		logger.Error("init worker", slog.Any("error", err))
		os.Exit(1)
	}

	if err := worker.Run(ctx); err != nil && err != context.Canceled {
		logger.Error("worker run", slog.Any("error", err))
		os.Exit(1)
	}
}
