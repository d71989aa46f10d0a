package main

import (
	"context"
	"errors"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/app"
	"github.com/Checker-Finance/catalog-adapter/internal/catalog"
	"github.com/Checker-Finance/catalog-adapter/internal/config"
	"github.com/Checker-Finance/catalog-adapter/pkg/logger"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// Exit codes: 0 completed or capped, 1 setup or fetch failure, 2 another run holds the lock,
// 130 interrupted.
func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg := config.Load()
	cfg.ServiceName = "catalog-ingest"

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	log := logger.L()

	deps, err := app.Build(ctx, cfg, log)
	if err != nil {
		log.Error("ingest.init_failed", zap.Error(err))
		return 1
	}
	defer deps.Close()

	summary, err := deps.Runner.RunOnce(ctx)
	switch {
	case errors.Is(err, catalog.ErrRunInProgress):
		log.Warn("ingest.skipped_running")
		return 2
	case summary.Outcome == model.OutcomeCanceled:
		return 130
	case err != nil:
		log.Error("ingest.failed", zap.String("run_id", summary.RunID.String()), zap.Error(err))
		return 1
	}
	return 0
}
