package api

import (
	"context"
	"errors"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/catalog"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// IngestionRunner starts ingestion runs and reports their status.
type IngestionRunner interface {
	Trigger(ctx context.Context) error
	LastRun(ctx context.Context) (*model.RunSummary, error)
	Running() bool
}

// IngestionHandler exposes manual ingestion control.
type IngestionHandler struct {
	logger *zap.Logger
	runner IngestionRunner
	runCtx context.Context
}

// NewIngestionHandler creates the handler. Triggered runs live under runCtx,
// not under the request that started them.
func NewIngestionHandler(runCtx context.Context, logger *zap.Logger, runner IngestionRunner) *IngestionHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &IngestionHandler{logger: logger, runner: runner, runCtx: runCtx}
}

// Status handles GET /ingestion/status.
func (h *IngestionHandler) Status(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), requestTimeout)
	defer cancel()

	last, err := h.runner.LastRun(ctx)
	if err != nil {
		h.logger.Error("api.ingestion_status.failed", zap.Error(err))
		return internalError(c)
	}
	return success(c, fiber.StatusOK, "Ingestion status retrieved successfully", fiber.Map{
		"running": h.runner.Running(),
		"lastRun": last,
	})
}

// Run handles POST /ingestion/run.
func (h *IngestionHandler) Run(c *fiber.Ctx) error {
	err := h.runner.Trigger(h.runCtx)
	switch {
	case errors.Is(err, catalog.ErrRunInProgress):
		return fail(c, fiber.StatusConflict, "Ingestion is already running")
	case err != nil:
		h.logger.Error("api.ingestion_trigger.failed", zap.Error(err))
		return internalError(c)
	}
	h.logger.Info("api.ingestion_triggered")
	return success(c, fiber.StatusAccepted, "Ingestion started", nil)
}
