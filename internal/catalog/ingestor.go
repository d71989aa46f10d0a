package catalog

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/errsink"
	"github.com/Checker-Finance/catalog-adapter/internal/metrics"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// ErrFetchFailed is returned by Run when a page could not be fetched or parsed.
var ErrFetchFailed = errors.New("catalog page fetch failed")

// PageFetcher returns one classified catalog page.
type PageFetcher interface {
	FetchPage(ctx context.Context, page int) PageResult
}

// ProductWriter persists one canonical product.
type ProductWriter interface {
	Create(ctx context.Context, in model.ProductInput) (int64, error)
}

// IngestorConfig bounds a run. MaxPages 0 means no cap.
type IngestorConfig struct {
	StartPage int
	MaxPages  int
}

// Ingestor walks the catalog page by page, strictly in order, and persists every item.
type Ingestor struct {
	logger  *zap.Logger
	fetcher PageFetcher
	mapper  *Mapper
	store   ProductWriter
	sink    errsink.Reporter
	cfg     IngestorConfig
}

func NewIngestor(
	logger *zap.Logger,
	fetcher PageFetcher,
	mapper *Mapper,
	store ProductWriter,
	sink errsink.Reporter,
	cfg IngestorConfig,
) *Ingestor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = errsink.Nop{}
	}
	if cfg.StartPage < 1 {
		cfg.StartPage = 1
	}
	return &Ingestor{
		logger:  logger,
		fetcher: fetcher,
		mapper:  mapper,
		store:   store,
		sink:    sink,
		cfg:     cfg,
	}
}

// Run ingests from the start page until a page comes back empty. It stops early with
// ErrFetchFailed when a fetch fails, with the context error when ctx is done, and
// without error when the page cap is reached. Item level store failures are counted
// and do not stop the run.
func (in *Ingestor) Run(ctx context.Context) (model.RunSummary, error) {
	summary := model.RunSummary{
		RunID:     uuid.New(),
		StartPage: in.cfg.StartPage,
		StartedAt: time.Now().UTC(),
	}
	log := in.logger.With(zap.String("run_id", summary.RunID.String()))
	log.Info("ingest.run_started", zap.Int("start_page", in.cfg.StartPage))

	err := in.run(ctx, log, &summary)

	summary.FinishedAt = time.Now().UTC()
	switch {
	case err == nil && summary.Outcome == "":
		summary.Outcome = model.OutcomeCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		summary.Outcome = model.OutcomeCanceled
	case err != nil:
		summary.Outcome = model.OutcomeFailed
	}
	if err != nil {
		summary.Error = err.Error()
	}

	metrics.IncRun(summary.Outcome)
	if summary.Outcome == model.OutcomeCompleted {
		metrics.SetLastRun(summary.FinishedAt)
	}

	log.Info("ingest.run_finished",
		zap.String("outcome", summary.Outcome),
		zap.Int("pages", summary.Pages),
		zap.Int("items", summary.Items),
		zap.Int("stored", summary.Stored),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("elapsed", summary.FinishedAt.Sub(summary.StartedAt)))

	return summary, err
}

func (in *Ingestor) run(ctx context.Context, log *zap.Logger, summary *model.RunSummary) error {
	for page := in.cfg.StartPage; ; page++ {
		if in.cfg.MaxPages > 0 && summary.Pages >= in.cfg.MaxPages {
			summary.Outcome = model.OutcomeCapped
			log.Warn("ingest.page_cap_reached", zap.Int("max_pages", in.cfg.MaxPages))
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		res := in.fetcher.FetchPage(ctx, page)
		summary.Pages++
		summary.LastPage = page

		switch res.Kind {
		case PageExhausted:
			return nil
		case PageFailed:
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("%w: page %d: %w", ErrFetchFailed, page, res.Err)
		}

		if res.Malformed > 0 {
			summary.Items += res.Malformed
			summary.Failed += res.Malformed
			metrics.IncIngested("failed", res.Malformed)
		}
		for _, item := range res.Items {
			if err := ctx.Err(); err != nil {
				return err
			}
			summary.Items++
			in.storeItem(ctx, log, res, item, summary)
		}
	}
}

func (in *Ingestor) storeItem(ctx context.Context, log *zap.Logger, res PageResult, item RawItem, summary *model.RunSummary) {
	if !item.Slug.Valid || item.Slug.Value == "" {
		summary.Failed++
		metrics.IncIngested("failed", 1)
		in.sink.ReportError(ctx, &model.ParseError{
			URL:    res.URL,
			Status: res.Status,
			Detail: "item without slug",
		})
		return
	}

	product := in.mapper.Map(item)
	id, err := in.store.Create(ctx, product)

	var pe *model.PersistenceError
	switch {
	case err == nil:
		summary.Stored++
		metrics.IncIngested("stored", 1)
		log.Debug("ingest.product_stored", zap.Int64("id", id), zap.String("url", product.URL))
	case errors.Is(err, model.ErrDeleted):
		summary.Skipped++
		metrics.IncIngested("skipped", 1)
		log.Debug("ingest.product_deleted", zap.String("url", product.URL))
	case errors.As(err, &pe):
		// already reported by the store
		summary.Failed++
		metrics.IncIngested("failed", 1)
	default:
		summary.Failed++
		metrics.IncIngested("failed", 1)
		log.Warn("ingest.product_rejected", zap.String("url", product.URL), zap.Error(err))
		in.sink.Report(ctx, product.URL, 409, err.Error())
	}
}
