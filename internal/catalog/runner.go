package catalog

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

// ErrRunInProgress is returned when another ingestion run holds the lock.
var ErrRunInProgress = errors.New("ingestion run already in progress")

// RunLock serializes ingestion across processes. Release must only free a lock
// still held under token.
type RunLock interface {
	Acquire(ctx context.Context, token string) (bool, error)
	Release(ctx context.Context, token string) error
}

// StatusStore keeps the summary of the most recent run.
type StatusStore interface {
	SaveSummary(ctx context.Context, s model.RunSummary) error
	LastSummary(ctx context.Context) (*model.RunSummary, error)
}

// EventPublisher announces finished runs.
type EventPublisher interface {
	PublishRunCompleted(ctx context.Context, s model.RunSummary) error
}

// Runner wraps an Ingestor with the single writer guarantee and run bookkeeping.
// lock, status and pub are optional.
type Runner struct {
	logger   *zap.Logger
	ingestor *Ingestor
	lock     RunLock
	status   StatusStore
	pub      EventPublisher

	running atomic.Bool
	active  sync.WaitGroup
	last    atomic.Pointer[model.RunSummary]
}

func NewRunner(logger *zap.Logger, ingestor *Ingestor, lock RunLock, status StatusStore, pub EventPublisher) *Runner {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Runner{
		logger:   logger,
		ingestor: ingestor,
		lock:     lock,
		status:   status,
		pub:      pub,
	}
}

// RunOnce runs ingestion synchronously.
func (r *Runner) RunOnce(ctx context.Context) (model.RunSummary, error) {
	release, err := r.begin(ctx)
	if err != nil {
		return model.RunSummary{}, err
	}
	defer release()
	return r.execute(ctx)
}

// Trigger claims the run synchronously and ingests in the background under ctx.
// It returns ErrRunInProgress when a run is already active here or elsewhere.
func (r *Runner) Trigger(ctx context.Context) error {
	release, err := r.begin(ctx)
	if err != nil {
		return err
	}
	go func() {
		defer release()
		_, _ = r.execute(ctx)
	}()
	return nil
}

// Running reports whether this process is currently ingesting.
func (r *Runner) Running() bool {
	return r.running.Load()
}

// Wait blocks until every claimed run has finished its bookkeeping and released
// the lock, or until ctx is done. Call it before closing redis, NATS or the pool.
func (r *Runner) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		r.active.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LastRun returns the most recent summary, preferring the shared status store.
// It returns nil when no run has finished yet.
func (r *Runner) LastRun(ctx context.Context) (*model.RunSummary, error) {
	if r.status != nil {
		s, err := r.status.LastSummary(ctx)
		if err != nil {
			return nil, err
		}
		if s != nil {
			return s, nil
		}
	}
	return r.last.Load(), nil
}

func (r *Runner) begin(ctx context.Context) (func(), error) {
	if !r.running.CompareAndSwap(false, true) {
		return nil, ErrRunInProgress
	}
	r.active.Add(1)
	if r.lock == nil {
		return func() {
			r.running.Store(false)
			r.active.Done()
		}, nil
	}

	token := uuid.NewString()
	ok, err := r.lock.Acquire(ctx, token)
	if err != nil {
		r.running.Store(false)
		r.active.Done()
		return nil, err
	}
	if !ok {
		r.running.Store(false)
		r.active.Done()
		return nil, ErrRunInProgress
	}

	return func() {
		defer r.active.Done()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 3*time.Second)
		defer cancel()
		if err := r.lock.Release(releaseCtx, token); err != nil {
			r.logger.Warn("ingest.lock_release_failed", zap.Error(err))
		}
		r.running.Store(false)
	}, nil
}

func (r *Runner) execute(ctx context.Context) (model.RunSummary, error) {
	summary, runErr := r.ingestor.Run(ctx)
	r.last.Store(&summary)

	bookCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	if r.status != nil {
		if err := r.status.SaveSummary(bookCtx, summary); err != nil {
			r.logger.Warn("ingest.status_save_failed", zap.Error(err))
		}
	}
	if r.pub != nil {
		if err := r.pub.PublishRunCompleted(bookCtx, summary); err != nil {
			r.logger.Warn("ingest.publish_failed", zap.Error(err))
		}
	}
	return summary, runErr
}
