package app

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/catalog"
	"github.com/Checker-Finance/catalog-adapter/internal/config"
	"github.com/Checker-Finance/catalog-adapter/internal/errsink"
	"github.com/Checker-Finance/catalog-adapter/internal/publisher"
	"github.com/Checker-Finance/catalog-adapter/internal/rate"
	"github.com/Checker-Finance/catalog-adapter/internal/runstate"
	"github.com/Checker-Finance/catalog-adapter/internal/store"
	"github.com/Checker-Finance/catalog-adapter/pkg/secrets"
	"github.com/Checker-Finance/catalog-adapter/pkg/utils"
)

// Deps holds the long-lived components shared by the API and the one-shot ingest binary.
// Redis, NC and Publisher are nil when their address is not configured.
type Deps struct {
	Pool      *pgxpool.Pool
	Sink      *errsink.PGSink
	Store     *store.PGStore
	Client    *catalog.Client
	Runner    *catalog.Runner
	Redis     *runstate.Store
	NC        *nats.Conn
	Publisher *publisher.Publisher

	logger *zap.Logger
}

// DatabaseURL returns cfg.DatabaseURL, or the DSN stored under cfg.DBSecretName when set.
func DatabaseURL(ctx context.Context, cfg *config.Config, provider secrets.Provider) (string, error) {
	if cfg.DBSecretName == "" {
		return cfg.DatabaseURL, nil
	}
	if provider == nil {
		p, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			return "", err
		}
		provider = p
	}
	dsn, err := secrets.ResolveDatabaseURL(ctx, provider, cfg.DBSecretName)
	if err != nil {
		return "", fmt.Errorf("resolve database url: %w", err)
	}
	return dsn, nil
}

// Build connects postgres, and redis and NATS when configured, then assembles the
// ingestion pipeline. On error everything opened so far is closed.
func Build(ctx context.Context, cfg *config.Config, logger *zap.Logger) (_ *Deps, err error) {
	d := &Deps{logger: logger}
	defer func() {
		if err != nil {
			d.Close()
		}
	}()

	dsn, err := DatabaseURL(ctx, cfg, nil)
	if err != nil {
		return nil, err
	}
	logger.Info("app.database", zap.String("dsn", utils.MaskDSN(dsn)))

	d.Pool, err = store.NewPool(ctx, dsn, store.PGPoolConfig{
		MaxConns:          int32(cfg.PGMaxConns),
		MinConns:          int32(cfg.PGMinConns),
		MaxConnLifetime:   cfg.PGMaxConnLifetime,
		MaxConnIdleTime:   cfg.PGMaxConnIdleTime,
		HealthCheckPeriod: cfg.PGHealthCheckPeriod,
	})
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	d.Sink = errsink.New(d.Pool, logger.Named("errsink"))
	d.Store = store.New(d.Pool, d.Sink, logger.Named("store"), cfg.DuplicateURLPolicy == config.DuplicateUpsert)
	if cfg.EnsureSchema {
		if err = d.Store.EnsureSchema(ctx); err != nil {
			return nil, fmt.Errorf("ensure schema: %w", err)
		}
	}

	// interfaces stay nil unless the backing service is configured
	var (
		lock   catalog.RunLock
		status catalog.StatusStore
		events catalog.EventPublisher
	)

	if cfg.RedisAddr != "" {
		rdb, rerr := runstate.Connect(ctx, cfg.RedisAddr, cfg.RedisPass, cfg.RedisDB)
		if rerr != nil {
			return nil, fmt.Errorf("connect redis: %w", rerr)
		}
		d.Redis = runstate.New(rdb, logger.Named("runstate"), cfg.IngestLockTTL)
		lock, status = d.Redis, d.Redis
	} else {
		logger.Warn("app.redis_disabled", zap.String("reason", "REDIS_ADDR not set; run lock is process local"))
	}

	if cfg.NATSURL != "" {
		d.NC, err = nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		if err = publisher.EnsureStream(d.NC, cfg.StreamName, cfg.OutboundSubject); err != nil {
			return nil, fmt.Errorf("ensure stream %s: %w", cfg.StreamName, err)
		}
		d.Publisher, err = publisher.New(d.NC, cfg.OutboundSubject, cfg.ServiceName)
		if err != nil {
			return nil, fmt.Errorf("init publisher: %w", err)
		}
		events = d.Publisher
	}

	rateMgr := rate.NewManager(rate.Config{
		RequestsPerSecond: cfg.CatalogRPS,
		Burst:             cfg.CatalogBurst,
	})

	d.Client = catalog.NewClient(logger.Named("catalog"), catalog.ClientConfig{
		Endpoint:   cfg.CatalogEndpoint,
		CategoryID: cfg.CatalogCategoryID,
		PageSize:   cfg.CatalogPageSize,
		Timeout:    cfg.CatalogTimeout,
		RetryMax:   cfg.CatalogRetryMax,
	}, rateMgr, d.Sink)

	ingestor := catalog.NewIngestor(
		logger.Named("ingest"),
		d.Client,
		catalog.NewMapper(cfg.ProductBasePath),
		d.Store,
		d.Sink,
		catalog.IngestorConfig{
			StartPage: cfg.CatalogStartPage,
			MaxPages:  cfg.CatalogMaxPages,
		},
	)
	d.Runner = catalog.NewRunner(logger.Named("runner"), ingestor, lock, status, events)

	return d, nil
}

// Close drains NATS and closes redis and the pool. It is safe on a partially built Deps.
func (d *Deps) Close() {
	switch {
	case d.Publisher != nil:
		if err := d.Publisher.Close(); err != nil {
			d.logger.Warn("app.nats_drain_failed", zap.Error(err))
		}
	case d.NC != nil:
		if err := d.NC.Drain(); err != nil {
			d.logger.Warn("app.nats_drain_failed", zap.Error(err))
		}
	}
	if d.Redis != nil {
		if err := d.Redis.Close(); err != nil {
			d.logger.Warn("app.redis_close_failed", zap.Error(err))
		}
	}
	if d.Store != nil {
		d.Store.Close()
	} else if d.Pool != nil {
		d.Pool.Close()
	}
}
