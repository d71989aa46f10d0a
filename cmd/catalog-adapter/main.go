package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/Checker-Finance/catalog-adapter/internal/api"
	"github.com/Checker-Finance/catalog-adapter/internal/app"
	"github.com/Checker-Finance/catalog-adapter/internal/catalog"
	"github.com/Checker-Finance/catalog-adapter/internal/config"
	"github.com/Checker-Finance/catalog-adapter/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Info("starting [catalog-adapter]...")

	// prices are served as JSON numbers
	decimal.MarshalJSONWithoutQuotes = true

	// --- Postgres, redis, NATS and the ingestion pipeline ---
	deps, err := app.Build(ctx, cfg, logger.L())
	if err != nil {
		logg.Fatalw("failed to init dependencies", "error", err)
	}

	// --- Scheduled ingestion ---
	var poller *catalog.Poller
	if cfg.IngestInterval > 0 {
		poller = catalog.NewPoller(logger.Named("poller"), deps.Runner, cfg.IngestInterval)
		go poller.Start(ctx)
	}

	// --- Fiber HTTP Server ---
	fapp := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	checks := map[string]api.HealthChecker{"postgres": deps.Store}
	if deps.Redis != nil {
		checks["redis"] = deps.Redis
	}

	productHandler := api.NewProductHandler(logger.Named("api"), deps.Store)
	ingestionHandler := api.NewIngestionHandler(ctx, logger.Named("api"), deps.Runner)
	api.RegisterRoutes(fapp, deps.NC, checks, productHandler, ingestionHandler)

	go func() {
		logg.Infof("HTTP API listening on :%d", cfg.Port)
		if err := fapp.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	// --- Main process stays alive until interrupted ---
	logg.Infow("[catalog-adapter] running",
		"env", cfg.Env,
		"endpoint", cfg.CatalogEndpoint,
		"ingest_interval", cfg.IngestInterval,
		"duplicate_urls", cfg.DuplicateURLPolicy,
		"redis", cfg.RedisAddr != "",
		"nats", cfg.NATSURL != "")

	<-ctx.Done()
	logg.Info("shutting down [catalog-adapter]...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if poller != nil {
		poller.Stop()
		select {
		case <-poller.Done():
		case <-shutdownCtx.Done():
			logg.Warn("poller did not stop before the shutdown deadline")
		}
	}

	if err := fapp.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}

	// runs must release the redis lock before redis is closed
	if err := deps.Runner.Wait(shutdownCtx); err != nil {
		logg.Warnw("ingest.wait_failed", "error", err)
	}

	deps.Close()
	logg.Info("[catalog-adapter] stopped")
}
