package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hibiken/asynq"

	"github.com/meridian-ims/meridian/internal/app"
	"github.com/meridian-ims/meridian/internal/ledger"
	"github.com/meridian-ims/meridian/internal/observability"
	"github.com/meridian-ims/meridian/internal/platform/cache"
	"github.com/meridian-ims/meridian/internal/platform/db"
	"github.com/meridian-ims/meridian/internal/procurement"
	"github.com/meridian-ims/meridian/internal/sales"
	"github.com/meridian-ims/meridian/internal/shared"
	"github.com/meridian-ims/meridian/internal/stockops"
	"github.com/meridian-ims/meridian/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	dbpool, err := db.New(ctx, cfg.PGDSN)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Warn("redis unavailable, running without cache", slog.Any("error", err))
		redisClient = nil
	}
	defer func() {
		if redisClient != nil {
			if err := redisClient.Close(); err != nil {
				logger.Warn("redis close", slog.Any("error", err))
			}
		}
	}()

	metrics := observability.NewMetrics()
	auditLogger := shared.NewAuditLogger(dbpool)
	validate := validator.New()

	ledgerRepo := ledger.NewRepository(dbpool)
	var ledgerCache *ledger.Cache
	if redisClient != nil {
		ledgerCache = ledger.NewCache(redisClient, cfg.CacheTTL)
	}
	engine := ledger.NewEngine(ledgerRepo, ledgerCache, metrics, ledger.EngineConfig{
		AverageCostWindow: cfg.AverageCostWindow,
	})

	var queue *jobs.Client
	if redisClient != nil {
		queue, err = jobs.NewClient(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		if err != nil {
			logger.Warn("asynq client unavailable", slog.Any("error", err))
		} else {
			defer func() {
				if err := queue.Close(); err != nil {
					logger.Warn("asynq close", slog.Any("error", err))
				}
			}()
		}
	}
	var enqueuer stockops.Enqueuer
	var salesEnqueuer sales.Enqueuer
	if queue != nil {
		enqueuer = queue
		salesEnqueuer = queue
	}

	stockOpsService := stockops.NewService(engine, ledgerRepo, auditLogger, enqueuer, stockops.ServiceConfig{
		AllowNegativeStock: cfg.AllowNegativeStock,
	}, logger)
	stockOpsHandler := stockops.NewHandler(logger, stockOpsService, validate)

	salesRepo := sales.NewRepository(dbpool)
	salesService := sales.NewService(engine, salesRepo, auditLogger, salesEnqueuer, logger)
	salesHandler := sales.NewHandler(logger, salesService, validate)

	procurementRepo := procurement.NewRepository(dbpool)
	procurementService := procurement.NewService(engine, procurementRepo, auditLogger, logger)
	procurementHandler := procurement.NewHandler(logger, procurementService, validate)

	ledgerHandler := ledger.NewHandler(logger, engine)

	var jobHandler *jobs.Handler
	if redisClient != nil {
		inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
		defer func() {
			if err := inspector.Close(); err != nil {
				logger.Warn("inspector close", slog.Any("error", err))
			}
		}()
		jobHandler = jobs.NewHandler(inspector, logger)
	}

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		StockOpsHandler:    stockOpsHandler,
		SalesHandler:       salesHandler,
		ProcurementHandler: procurementHandler,
		LedgerHandler:      ledgerHandler,
		JobHandler:         jobHandler,
		Pool:               dbpool,
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
