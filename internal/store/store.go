package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/internal/errsink"
	"github.com/Checker-Finance/catalog-adapter/internal/metrics"
	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

const (
	defaultLimit = 10
	maxLimit     = 100
)

// Store defines the contract for persisting and querying catalog products.
// Failures are reported to the error sink and surface as *model.PersistenceError
// alongside a safe zero value; driver errors never escape unwrapped.
type Store interface {
	Create(ctx context.Context, in model.ProductInput) (int64, error)
	GetByID(ctx context.Context, id int64) (*model.Product, error)
	List(ctx context.Context, limit, offset int) ([]model.Product, error)
	SearchByName(ctx context.Context, name string, limit, offset int) ([]model.Product, error)
	SearchByPriceRange(ctx context.Context, minPrice, maxPrice decimal.Decimal, limit, offset int) ([]model.Product, error)
	Update(ctx context.Context, id int64, in model.ProductInput) (int64, error)
	SoftDelete(ctx context.Context, id int64) (bool, error)
	HealthCheck(ctx context.Context) error
	Close()
}

// DB is the subset of pgxpool.Pool used by the store.
type DB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Ping(ctx context.Context) error
	Close()
}

type PGPoolConfig struct {
	MaxConns          int32
	MinConns          int32
	MaxConnLifetime   time.Duration
	MaxConnIdleTime   time.Duration
	HealthCheckPeriod time.Duration
}

// NewPool opens the bounded, process-wide connection pool.
func NewPool(ctx context.Context, pgURL string, poolCfg PGPoolConfig) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(pgURL)
	if err != nil {
		return nil, fmt.Errorf("invalid pg config: %w", err)
	}
	if poolCfg.MaxConns > 0 {
		cfg.MaxConns = poolCfg.MaxConns
	}
	if poolCfg.MinConns > 0 {
		cfg.MinConns = poolCfg.MinConns
	}
	if poolCfg.MaxConnLifetime > 0 {
		cfg.MaxConnLifetime = poolCfg.MaxConnLifetime
	}
	if poolCfg.MaxConnIdleTime > 0 {
		cfg.MaxConnIdleTime = poolCfg.MaxConnIdleTime
	}
	if poolCfg.HealthCheckPeriod > 0 {
		cfg.HealthCheckPeriod = poolCfg.HealthCheckPeriod
	}

	connectCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(connectCtx, cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("postgres ping failed: %w", err)
	}
	return pool, nil
}

// PGStore is the Postgres-backed product store.
type PGStore struct {
	db     DB
	sink   errsink.Reporter
	logger *zap.Logger
	upsert bool
}

// New wraps db. When upsertByURL is set, Create is an insert-or-update keyed by url;
// otherwise every Create inserts a new row.
func New(db DB, sink errsink.Reporter, logger *zap.Logger, upsertByURL bool) *PGStore {
	if logger == nil {
		logger = zap.NewNop()
	}
	if sink == nil {
		sink = errsink.Nop{}
	}
	return &PGStore{db: db, sink: sink, logger: logger, upsert: upsertByURL}
}

// Create stores in and returns the product id. With url upserts, an existing live row is
// overwritten in place; a soft-deleted row is left untouched and model.ErrDeleted is returned.
func (s *PGStore) Create(ctx context.Context, in model.ProductInput) (int64, error) {
	const op = "create_product"
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), op)

	query := insertProduct
	if s.upsert {
		query = upsertProduct
	}

	var id int64
	err := s.db.QueryRow(ctx, query,
		in.URL, in.Name, in.DiscountPrice, in.BasePrice, in.NameFa, in.NameEn, in.ImageURL,
	).Scan(&id)
	switch {
	case err == nil:
		return id, nil
	case s.upsert && errors.Is(err, pgx.ErrNoRows):
		s.logger.Debug("store.pg.create_skipped_deleted", zap.String("url", in.URL))
		return 0, model.ErrDeleted
	case isUniqueViolation(err):
		return 0, model.ErrDuplicateURL
	default:
		return 0, s.fail(ctx, op, fmt.Errorf("url=%s: %w", in.URL, err))
	}
}

// GetByID returns the live product with id, or a *model.NotFoundError.
func (s *PGStore) GetByID(ctx context.Context, id int64) (*model.Product, error) {
	op := fmt.Sprintf("get_product_by_id_%d", id)
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), "get_product_by_id")

	p, err := scanProduct(s.db.QueryRow(ctx, selectByID, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, &model.NotFoundError{Entity: "product", ID: id}
		}
		return nil, s.fail(ctx, op, err)
	}
	return &p, nil
}

// List returns live products ordered by id.
func (s *PGStore) List(ctx context.Context, limit, offset int) ([]model.Product, error) {
	const op = "get_products"
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), op)

	limit, offset = NormalizePage(limit, offset)
	return s.queryProducts(ctx, op, selectLive, limit, offset)
}

// SearchByName returns live products whose name contains name, case-insensitively.
func (s *PGStore) SearchByName(ctx context.Context, name string, limit, offset int) ([]model.Product, error) {
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), "search_products_by_name")

	limit, offset = NormalizePage(limit, offset)
	pattern := "%" + escapeLike(name) + "%"
	return s.queryProducts(ctx, "search_products_by_name_"+name, selectByName, pattern, limit, offset)
}

// SearchByPriceRange returns live products with minPrice <= base_price <= maxPrice.
// Products without a base price never match; an inverted range yields no rows.
func (s *PGStore) SearchByPriceRange(ctx context.Context, minPrice, maxPrice decimal.Decimal, limit, offset int) ([]model.Product, error) {
	const op = "search_products_by_price_range"
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), op)

	limit, offset = NormalizePage(limit, offset)
	return s.queryProducts(ctx, op, selectByPrice, minPrice, maxPrice, limit, offset)
}

// Update replaces the mutable fields of a live product and returns the affected row count.
// Zero means the product does not exist or is deleted.
func (s *PGStore) Update(ctx context.Context, id int64, in model.ProductInput) (int64, error) {
	op := fmt.Sprintf("update_product_%d", id)
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), "update_product")

	tag, err := s.db.Exec(ctx, updateProduct,
		in.URL, in.Name, in.DiscountPrice, in.BasePrice, in.NameFa, in.NameEn, in.ImageURL, id,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, model.ErrDuplicateURL
		}
		return 0, s.fail(ctx, op, err)
	}
	return tag.RowsAffected(), nil
}

// SoftDelete marks a live product deleted. It returns false when the product is missing
// or already deleted.
func (s *PGStore) SoftDelete(ctx context.Context, id int64) (bool, error) {
	op := fmt.Sprintf("soft_delete_product_%d", id)
	defer metrics.ObserveDuration(metrics.StoreOpDuration, time.Now(), "soft_delete_product")

	tag, err := s.db.Exec(ctx, softDeleteProduct, id)
	if err != nil {
		return false, s.fail(ctx, op, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *PGStore) HealthCheck(ctx context.Context) error {
	if s.db == nil {
		return fmt.Errorf("postgres not initialized")
	}
	if err := s.db.Ping(ctx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}

func (s *PGStore) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

func (s *PGStore) queryProducts(ctx context.Context, op, query string, args ...any) ([]model.Product, error) {
	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, s.fail(ctx, op, err)
	}
	defer rows.Close()

	products := make([]model.Product, 0)
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, s.fail(ctx, op, err)
		}
		products = append(products, p)
	}
	if err := rows.Err(); err != nil {
		return nil, s.fail(ctx, op, err)
	}
	return products, nil
}

func (s *PGStore) fail(ctx context.Context, op string, err error) error {
	pe := &model.PersistenceError{Op: op, Err: err}
	s.logger.Error("store.pg.op_failed", zap.String("op", op), zap.Error(err))
	s.sink.ReportError(ctx, pe)
	return pe
}

func scanProduct(row pgx.Row) (model.Product, error) {
	var p model.Product
	err := row.Scan(
		&p.ID,
		&p.URL,
		&p.Name,
		&p.NameFa,
		&p.NameEn,
		&p.BasePrice,
		&p.DiscountPrice,
		&p.ImageURL,
		&p.CreateTime,
		&p.UpdateTime,
		&p.DeleteTime,
		&p.IsDeleted,
	)
	return p, err
}

// NormalizePage clamps limit into [1, 100] (0 or negative means 10) and offset to >= 0.
func NormalizePage(limit, offset int) (int, int) {
	switch {
	case limit <= 0:
		limit = defaultLimit
	case limit > maxLimit:
		limit = maxLimit
	}
	if offset < 0 {
		offset = 0
	}
	return limit, offset
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// escapeLike makes s match literally inside an ILIKE pattern.
func escapeLike(s string) string {
	return likeEscaper.Replace(s)
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
