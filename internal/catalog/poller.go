package catalog

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Poller re-runs ingestion on a fixed interval. Re-ingesting is safe because
// products are upserted by url.
type Poller struct {
	logger   *zap.Logger
	runner   *Runner
	interval time.Duration
	stopCh   chan struct{}
	stopOnce sync.Once
	done     chan struct{}
}

func NewPoller(logger *zap.Logger, runner *Runner, interval time.Duration) *Poller {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Poller{
		logger:   logger,
		runner:   runner,
		interval: interval,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start runs ingestion immediately and then on every tick until ctx is done or Stop is called.
// Start must be called at most once.
func (p *Poller) Start(ctx context.Context) {
	defer close(p.done)
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			p.logger.Info("ingest.poller_stopped", zap.String("reason", "poller_shutdown"))
			return
		default:
		}
		p.runOnce(ctx)

		select {
		case <-ticker.C:
			continue
		case <-p.stopCh:
			p.logger.Info("ingest.poller_stopped", zap.String("reason", "poller_shutdown"))
			return
		case <-ctx.Done():
			p.logger.Info("ingest.poller_stopped")
			return
		}
	}
}

// Stop signals the poller to stop gracefully. It does not wait; use Done for that.
func (p *Poller) Stop() {
	p.stopOnce.Do(func() { close(p.stopCh) })
}

// Done is closed once Start has returned.
func (p *Poller) Done() <-chan struct{} {
	return p.done
}

func (p *Poller) runOnce(ctx context.Context) {
	summary, err := p.runner.RunOnce(ctx)
	switch {
	case errors.Is(err, ErrRunInProgress):
		p.logger.Debug("ingest.poll_skipped_running")
	case err != nil:
		p.logger.Warn("ingest.poll_failed",
			zap.String("outcome", summary.Outcome),
			zap.Error(err))
	default:
		p.logger.Info("ingest.poll_complete",
			zap.Int("stored", summary.Stored),
			zap.Int("pages", summary.Pages))
	}
}
