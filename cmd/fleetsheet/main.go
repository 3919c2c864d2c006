package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/hibiken/asynq"

	"github.com/sda-logistics/fleetsheet/internal/app"
	"github.com/sda-logistics/fleetsheet/internal/directory"
	"github.com/sda-logistics/fleetsheet/internal/platform/cache"
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

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	jobClient := jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := jobClient.Close(); err != nil {
			logger.Warn("job client close", slog.Any("error", err))
		}
	}()

	boundary := shared.NewDayBoundary(cfg.DayBoundaryOffsetMinutes)

	directoryService := directory.NewService(pool)

	shipmentRepo := shipments.NewRepository(pool)
	shipmentService := shipments.NewService(shipmentRepo, directoryService, logger)
	shipmentService.SetNotifier(jobs.NewNotifyDispatcher(jobClient))

	sheetRepo := sheets.NewRepository(pool)
	numbering := sheets.NewNumberAllocator(cfg.SheetNumberPrefix)
	if err := numbering.Seed(ctx, sheetRepo); err != nil {
		logger.Error("seed sheet sequence", slog.Any("error", err))
		os.Exit(1)
	}
	sheetService := sheets.NewService(sheetRepo, shipmentService, directoryService, numbering, boundary, logger)
	sheetService.SetCache(sheets.NewDriverSheetCache(redisClient, cfg.DriverSheetCacheTTL, logger))

	router := app.NewRouter(app.RouterParams{
		Logger:           logger,
		Config:           cfg,
		SheetHandler:     sheets.NewHandler(logger, sheetService),
		ShipmentHandler:  shipments.NewHandler(logger, shipmentService),
		DirectoryHandler: directory.NewHandler(logger, directoryService),
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", slog.String("addr", cfg.AppAddr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", slog.Any("error", err))
		}
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server run", slog.Any("error", err))
			os.Exit(1)
		}
	}
}
