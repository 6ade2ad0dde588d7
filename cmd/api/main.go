// @title        Sanctions Watch API
// @version      1.0
// @description  Sanctions list change detection: scheduled ingestion of OFAC, UN, EU and UK HMT lists with risk-classified change events and notifications.
// @host         localhost:8080
// @BasePath     /
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/exaring/otelpgx"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/nats-io/nats.go"
	"go.opentelemetry.io/contrib/instrumentation/github.com/labstack/echo/otelecho"
	"go.uber.org/zap"

	"github.com/arc-self/sanctions-watch/internal/cache"
	"github.com/arc-self/sanctions-watch/internal/config"
	"github.com/arc-self/sanctions-watch/internal/consumer"
	"github.com/arc-self/sanctions-watch/internal/fetcher"
	"github.com/arc-self/sanctions-watch/internal/handler"
	"github.com/arc-self/sanctions-watch/internal/natsclient"
	"github.com/arc-self/sanctions-watch/internal/notifier"
	"github.com/arc-self/sanctions-watch/internal/orchestrator"
	"github.com/arc-self/sanctions-watch/internal/parser"
	"github.com/arc-self/sanctions-watch/internal/repository"
	"github.com/arc-self/sanctions-watch/internal/repository/postgres"
	"github.com/arc-self/sanctions-watch/internal/telemetry"
)

func main() {
	logger, _ := zap.NewProduction()
	defer logger.Sync()

	// ── OpenTelemetry ──────────────────────────────────────────────────────
	otelEndpoint := os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT")
	if otelEndpoint != "" {
		tp, err := telemetry.InitTracer(context.Background(), "sanctions-watch", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel tracer", zap.Error(err))
		} else {
			defer tp.Shutdown(context.Background())
			logger.Info("OTel tracer initialized", zap.String("endpoint", otelEndpoint))
		}
		mp, err := telemetry.InitMeterProvider(context.Background(), "sanctions-watch", otelEndpoint)
		if err != nil {
			logger.Error("failed to init OTel meter provider", zap.Error(err))
		} else {
			defer mp.Shutdown(context.Background())
		}
	}

	// ── Secrets & configuration ────────────────────────────────────────────
	secrets, err := config.LoadSecrets()
	if err != nil {
		logger.Fatal("failed to load secrets", zap.Error(err))
	}
	cfg, err := config.Load(secrets)
	if err != nil {
		logger.Fatal("invalid configuration", zap.Error(err))
	}

	// ── Database ───────────────────────────────────────────────────────────
	poolCfg, err := pgxpool.ParseConfig(cfg.PGURL)
	if err != nil {
		logger.Fatal("failed to parse PG_URL", zap.Error(err))
	}
	poolCfg.ConnConfig.Tracer = otelpgx.NewTracer()
	pool, err := pgxpool.NewWithConfig(context.Background(), poolCfg)
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	defer pool.Close()
	logger.Info("connected to database (OTel-instrumented)")

	uow := postgres.NewUnitOfWork(pool, logger)
	runsRepo := postgres.NewScraperRunRepo(pool)
	entityRepo := postgres.NewEntityRepo(pool)
	eventRepo := postgres.NewChangeEventRepo(pool)

	// ── NATS JetStream ─────────────────────────────────────────────────────
	nc, err := natsclient.Connect(cfg.NATSURL, logger)
	if err != nil {
		logger.Fatal("NATS initialization failed", zap.Error(err))
	}
	defer natsclient.Shutdown(nc, logger)

	js, err := nc.JetStream()
	if err != nil {
		logger.Fatal("JetStream context failed", zap.Error(err))
	}
	if err := natsclient.ProvisionStreams(js, logger); err != nil {
		logger.Fatal("NATS stream provisioning failed", zap.Error(err))
	}
	publisher := natsclient.NewPublisher(js)

	// ── Redis cache ────────────────────────────────────────────────────────
	var runCache *cache.Cache
	if cfg.RedisURL != "" {
		runCache, err = cache.New(cfg.RedisURL, logger)
		if err != nil {
			logger.Fatal("redis initialization failed", zap.Error(err))
		}
		defer runCache.Close()
	}

	// ── Pipeline ───────────────────────────────────────────────────────────
	fetch := fetcher.New(cfg.FetchTimeout, cfg.UserAgent, cfg.MinContentSize, cfg.MaxContentSize, runsRepo, logger)
	parsers := parser.NewRegistry(logger)
	channels := notifier.BuildChannels(cfg.Channels, logger)
	dispatcher := notifier.New(channels, publisher, eventRepo, logger)

	// Nil interface values must stay nil, not wrap a nil *Cache.
	var changesPub orchestrator.ChangesPublisher = publisher
	var cacheDep orchestrator.RunCache
	var handlerCache handler.ChangesCache
	if runCache != nil {
		cacheDep = runCache
		handlerCache = runCache
	}

	orch := orchestrator.New(cfg, fetch, parsers, uow, runsRepo, entityRepo, dispatcher, changesPub, cacheDep, logger)

	// ── Digest consumer ────────────────────────────────────────────────────
	_, stopConsumer, err := consumer.NewFromConn(nc, js, channels, eventRepo, logger)
	if err != nil {
		logger.Fatal("digest consumer failed to start", zap.Error(err))
	}
	defer stopConsumer()
	logger.Info("digest consumer started")

	// ── Scheduler ──────────────────────────────────────────────────────────
	sched, err := orchestrator.NewScheduler(orch, cfg, nc, logger)
	if err != nil {
		logger.Fatal("scheduler initialization failed", zap.Error(err))
	}
	sched.Start()

	// ── HTTP Server ────────────────────────────────────────────────────────
	e := echo.New()
	e.HideBanner = true
	e.Use(otelecho.Middleware("sanctions-watch"))
	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogURI:    true,
		LogStatus: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			logger.Info("HTTP request",
				zap.String("URI", v.URI),
				zap.Int("status", v.Status),
			)
			return nil
		},
	}))
	e.Use(middleware.Recover())

	h := handler.New(orch, runsRepo, eventRepo, &healthCheck{uow: uow, nc: nc, cache: runCache}, handlerCache, logger)
	h.Register(e)

	go func() {
		logger.Info("sanctions-watch HTTP server listening", zap.String("addr", cfg.HTTPAddr))
		if err := e.Start(cfg.HTTPAddr); err != nil && err != http.ErrServerClosed {
			logger.Fatal("HTTP server failure", zap.Error(err))
		}
	}()

	// ── Graceful Shutdown ──────────────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, os.Interrupt, syscall.SIGTERM)
	<-quit
	logger.Info("initiating graceful shutdown")

	sched.Stop()
	orch.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		logger.Error("Echo shutdown error", zap.Error(err))
	}
	logger.Info("sanctions-watch shut down cleanly")
}

// healthCheck aggregates the infrastructure probes behind /healthz.
type healthCheck struct {
	uow   repository.UnitOfWork
	nc    *nats.Conn
	cache *cache.Cache
}

func (h *healthCheck) Health(ctx context.Context) error {
	if err := h.uow.Health(ctx); err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	if !h.nc.IsConnected() {
		return fmt.Errorf("nats: not connected")
	}
	if h.cache != nil {
		if err := h.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}
	return nil
}
