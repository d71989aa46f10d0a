package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/pashagolub/pgxmock/v3"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/Checker-Finance/catalog-adapter/pkg/model"
)

type recordingSink struct {
	errs []error
}

func (r *recordingSink) Report(context.Context, string, int, string) {}

func (r *recordingSink) ReportError(_ context.Context, err error) {
	r.errs = append(r.errs, err)
}

var productCols = []string{
	"id", "url", "name", "name_fa", "name_en", "base_price", "discount_price", "image_url",
	"create_time", "update_time", "delete_time", "is_deleted",
}

func newMockStore(t *testing.T, upsert bool) (*PGStore, pgxmock.PgxPoolIface, *recordingSink) {
	t.Helper()
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)

	sink := &recordingSink{}
	return New(mock, sink, zap.NewNop(), upsert), mock, sink
}

func sampleInput() model.ProductInput {
	return model.ProductInput{
		URL:           "https://www.khanoumi.com/products/lipstick-1",
		Name:          "Lipstick",
		NameFa:        model.StringPtr("رژ لب"),
		NameEn:        model.StringPtr("Lipstick"),
		BasePrice:     decimal.NewNullDecimal(decimal.NewFromInt(120000)),
		DiscountPrice: decimal.NewNullDecimal(decimal.NewFromInt(99000)),
		ImageURL:      model.StringPtr("https://cdn.example.com/lipstick.jpg"),
	}
}

func addProductRow(rows *pgxmock.Rows, id int64, url, name string, base decimal.NullDecimal) *pgxmock.Rows {
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	return rows.AddRow(id, url, name, model.StringPtr(name), (*string)(nil), base,
		decimal.NullDecimal{}, (*string)(nil), now, now, nil, false)
}

func insertArgs(in model.ProductInput) []any {
	return []any{in.URL, in.Name, in.DiscountPrice, in.BasePrice, in.NameFa, in.NameEn, in.ImageURL}
}

func TestCreate_UpsertReturnsID(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectQuery(`ON CONFLICT \(url\) DO UPDATE`).
		WithArgs(insertArgs(in)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(42)))

	id, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)
	assert.Empty(t, sink.errs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UpsertOnDeletedRowReturnsErrDeleted(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectQuery(`ON CONFLICT \(url\) DO UPDATE`).
		WithArgs(insertArgs(in)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}))

	id, err := s.Create(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrDeleted)
	assert.Zero(t, id)
	assert.Empty(t, sink.errs, "a deleted row is not a store failure")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_AllowModeInsertsPlainRow(t *testing.T) {
	s, mock, _ := newMockStore(t, false)
	in := sampleInput()

	mock.ExpectQuery(`INSERT INTO catalog.products \(url`).
		WithArgs(insertArgs(in)...).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(7)))

	id, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(7), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_DriverErrorIsReported(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectQuery(`INSERT INTO catalog.products`).
		WithArgs(insertArgs(in)...).
		WillReturnError(errors.New("connection reset"))

	id, err := s.Create(context.Background(), in)
	assert.Zero(t, id)

	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "create_product", pe.Op)
	require.Len(t, sink.errs, 1)
	assert.ErrorAs(t, sink.errs[0], &pe)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreate_UniqueViolationIsDuplicate(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectQuery(`INSERT INTO catalog.products`).
		WithArgs(insertArgs(in)...).
		WillReturnError(&pgconn.PgError{Code: "23505", Message: "duplicate key value"})

	_, err := s.Create(context.Background(), in)
	assert.ErrorIs(t, err, model.ErrDuplicateURL)
	assert.Empty(t, sink.errs)
}

func TestGetByID(t *testing.T) {
	s, mock, _ := newMockStore(t, true)
	price := decimal.NewNullDecimal(decimal.RequireFromString("150.50"))

	mock.ExpectQuery(`FROM catalog.products\s+WHERE id = \$1 AND is_deleted = FALSE`).
		WithArgs(int64(3)).
		WillReturnRows(addProductRow(pgxmock.NewRows(productCols), 3, "https://x/p3", "Mascara", price))

	p, err := s.GetByID(context.Background(), 3)
	require.NoError(t, err)
	require.NotNil(t, p)
	assert.Equal(t, int64(3), p.ID)
	assert.Equal(t, "Mascara", p.Name)
	assert.True(t, p.BasePrice.Valid)
	assert.True(t, p.BasePrice.Decimal.Equal(decimal.RequireFromString("150.5")))
	assert.False(t, p.DiscountPrice.Valid)
	assert.Nil(t, p.DeleteTime)
	assert.False(t, p.IsDeleted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_Missing(t *testing.T) {
	s, mock, sink := newMockStore(t, true)

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs(int64(99)).
		WillReturnRows(pgxmock.NewRows(productCols))

	p, err := s.GetByID(context.Background(), 99)
	assert.Nil(t, p)
	assert.True(t, model.IsNotFound(err))
	assert.Empty(t, sink.errs)
}

func TestGetByID_ErrorUsesScopedKey(t *testing.T) {
	s, mock, sink := newMockStore(t, true)

	mock.ExpectQuery(`WHERE id = \$1`).
		WithArgs(int64(7)).
		WillReturnError(errors.New("timeout"))

	p, err := s.GetByID(context.Background(), 7)
	assert.Nil(t, p)

	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "get_product_by_id_7", pe.Op)
	assert.Len(t, sink.errs, 1)
}

func TestList_NormalizesPageAndOrders(t *testing.T) {
	s, mock, _ := newMockStore(t, true)

	rows := pgxmock.NewRows(productCols)
	addProductRow(rows, 1, "https://x/p1", "A", decimal.NullDecimal{})
	addProductRow(rows, 2, "https://x/p2", "B", decimal.NullDecimal{})

	mock.ExpectQuery(`ORDER BY id ASC\s+LIMIT \$1 OFFSET \$2`).
		WithArgs(10, 0).
		WillReturnRows(rows)

	products, err := s.List(context.Background(), 0, -5)
	require.NoError(t, err)
	require.Len(t, products, 2)
	assert.Equal(t, int64(1), products[0].ID)
	assert.Equal(t, int64(2), products[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestList_EmptyIsNotNil(t *testing.T) {
	s, mock, _ := newMockStore(t, true)

	mock.ExpectQuery(`WHERE is_deleted = FALSE`).
		WithArgs(100, 20).
		WillReturnRows(pgxmock.NewRows(productCols))

	products, err := s.List(context.Background(), 500, 20)
	require.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
}

func TestList_QueryErrorReturnsNil(t *testing.T) {
	s, mock, sink := newMockStore(t, true)

	mock.ExpectQuery(`WHERE is_deleted = FALSE`).
		WithArgs(10, 0).
		WillReturnError(errors.New("pool closed"))

	products, err := s.List(context.Background(), 10, 0)
	assert.Nil(t, products)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "get_products", pe.Op)
	assert.Len(t, sink.errs, 1)
}

func TestSearchByName_EscapesPattern(t *testing.T) {
	s, mock, _ := newMockStore(t, true)

	mock.ExpectQuery(`name ILIKE \$1`).
		WithArgs(`%50\%\_off%`, 10, 0).
		WillReturnRows(pgxmock.NewRows(productCols))

	products, err := s.SearchByName(context.Background(), "50%_off", 10, 0)
	require.NoError(t, err)
	assert.Empty(t, products)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchByName_ErrorUsesScopedKey(t *testing.T) {
	s, mock, sink := newMockStore(t, true)

	mock.ExpectQuery(`name ILIKE \$1`).
		WithArgs("%cream%", 10, 0).
		WillReturnError(errors.New("boom"))

	_, err := s.SearchByName(context.Background(), "cream", 10, 0)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "search_products_by_name_cream", pe.Op)
	assert.Len(t, sink.errs, 1)
}

func TestSearchByPriceRange(t *testing.T) {
	s, mock, _ := newMockStore(t, true)
	lo := decimal.NewFromInt(100)
	hi := decimal.NewFromInt(200)

	rows := addProductRow(pgxmock.NewRows(productCols), 5, "https://x/p5", "Serum",
		decimal.NewNullDecimal(decimal.NewFromInt(150)))

	mock.ExpectQuery(`base_price BETWEEN \$1 AND \$2`).
		WithArgs(lo, hi, 10, 0).
		WillReturnRows(rows)

	products, err := s.SearchByPriceRange(context.Background(), lo, hi, 10, 0)
	require.NoError(t, err)
	require.Len(t, products, 1)
	assert.Equal(t, "Serum", products[0].Name)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchByPriceRange_InvertedRangeIsEmpty(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	lo := decimal.NewFromInt(200)
	hi := decimal.NewFromInt(100)

	mock.ExpectQuery(`base_price BETWEEN \$1 AND \$2`).
		WithArgs(lo, hi, 10, 0).
		WillReturnRows(pgxmock.NewRows(productCols))

	products, err := s.SearchByPriceRange(context.Background(), lo, hi, 10, 0)
	assert.NoError(t, err)
	assert.NotNil(t, products)
	assert.Empty(t, products)
	assert.Empty(t, sink.errs)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestReadQueriesFilterDeleted(t *testing.T) {
	for name, q := range map[string]string{
		"selectByID":    selectByID,
		"selectLive":    selectLive,
		"selectByName":  selectByName,
		"selectByPrice": selectByPrice,
		"updateProduct": updateProduct,
		"softDelete":    softDeleteProduct,
	} {
		assert.Contains(t, q, "is_deleted = FALSE", name)
	}
	assert.Contains(t, upsertProduct, "WHERE p.is_deleted = FALSE", "upsert never revives a deleted row")
}

func TestSelectByPrice_NullPriceNeverMatches(t *testing.T) {
	// NULL BETWEEN a AND b is NULL, so rows with an unknown price drop out
	// as long as base_price is compared without a fallback value.
	assert.Contains(t, selectByPrice, "base_price BETWEEN $1 AND $2")
	assert.NotContains(t, selectByPrice, "COALESCE")
}

func TestCreate_NullPriceStaysNull(t *testing.T) {
	s, mock, _ := newMockStore(t, true)
	in := sampleInput()
	in.BasePrice = decimal.NullDecimal{}

	mock.ExpectQuery(`ON CONFLICT \(url\) DO UPDATE`).
		WithArgs(in.URL, in.Name, in.DiscountPrice, decimal.NullDecimal{Valid: false}, in.NameFa, in.NameEn, in.ImageURL).
		WillReturnRows(pgxmock.NewRows([]string{"id"}).AddRow(int64(9)))

	id, err := s.Create(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, int64(9), id)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetByID_NullPriceScansInvalid(t *testing.T) {
	s, mock, _ := newMockStore(t, true)

	mock.ExpectQuery(`WHERE id = \$1 AND is_deleted = FALSE`).
		WithArgs(int64(3)).
		WillReturnRows(addProductRow(pgxmock.NewRows(productCols), 3, "https://x/p3", "Toner", decimal.NullDecimal{}))

	p, err := s.GetByID(context.Background(), 3)
	require.NoError(t, err)
	assert.False(t, p.BasePrice.Valid)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate(t *testing.T) {
	s, mock, _ := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectExec(`UPDATE catalog.products SET`).
		WithArgs(append(insertArgs(in), int64(4))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`UPDATE catalog.products SET`).
		WithArgs(append(insertArgs(in), int64(5))...).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	n, err := s.Update(context.Background(), 4, in)
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	n, err = s.Update(context.Background(), 5, in)
	require.NoError(t, err)
	assert.Zero(t, n, "missing or deleted rows are not updated")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdate_ErrorUsesScopedKey(t *testing.T) {
	s, mock, sink := newMockStore(t, true)
	in := sampleInput()

	mock.ExpectExec(`UPDATE catalog.products SET`).
		WithArgs(append(insertArgs(in), int64(8))...).
		WillReturnError(errors.New("deadlock detected"))

	n, err := s.Update(context.Background(), 8, in)
	assert.Zero(t, n)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "update_product_8", pe.Op)
	assert.Len(t, sink.errs, 1)
}

func TestSoftDelete(t *testing.T) {
	s, mock, _ := newMockStore(t, true)

	mock.ExpectExec(`SET\s+is_deleted = TRUE`).
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 1))
	mock.ExpectExec(`SET\s+is_deleted = TRUE`).
		WithArgs(int64(2)).
		WillReturnResult(pgxmock.NewResult("UPDATE", 0))

	ok, err := s.SoftDelete(context.Background(), 2)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = s.SoftDelete(context.Background(), 2)
	require.NoError(t, err)
	assert.False(t, ok, "deleting twice reports false")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSoftDelete_Error(t *testing.T) {
	s, mock, sink := newMockStore(t, true)

	mock.ExpectExec(`SET\s+is_deleted = TRUE`).
		WithArgs(int64(3)).
		WillReturnError(errors.New("read-only transaction"))

	ok, err := s.SoftDelete(context.Background(), 3)
	assert.False(t, ok)
	var pe *model.PersistenceError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "soft_delete_product_3", pe.Op)
	assert.Len(t, sink.errs, 1)
}

func TestEnsureSchema(t *testing.T) {
	t.Run("upsert adds unique url index", func(t *testing.T) {
		s, mock, _ := newMockStore(t, true)
		for range schemaStatements {
			mock.ExpectExec(`CREATE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}
		mock.ExpectExec(`CREATE UNIQUE INDEX IF NOT EXISTS products_url_key`).
			WillReturnResult(pgxmock.NewResult("CREATE", 0))

		require.NoError(t, s.EnsureSchema(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("allow skips unique index", func(t *testing.T) {
		s, mock, _ := newMockStore(t, false)
		for range schemaStatements {
			mock.ExpectExec(`CREATE`).WillReturnResult(pgxmock.NewResult("CREATE", 0))
		}

		require.NoError(t, s.EnsureSchema(context.Background()))
		require.NoError(t, mock.ExpectationsWereMet())
	})

	t.Run("stops on first failure", func(t *testing.T) {
		s, mock, _ := newMockStore(t, true)
		mock.ExpectExec(`CREATE SCHEMA`).WillReturnError(errors.New("permission denied"))

		err := s.EnsureSchema(context.Background())
		require.Error(t, err)
		assert.Contains(t, err.Error(), "permission denied")
	})
}

func TestHealthCheck(t *testing.T) {
	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	t.Cleanup(mock.Close)
	s := New(mock, nil, nil, true)

	mock.ExpectPing()
	require.NoError(t, s.HealthCheck(context.Background()))

	mock.ExpectPing().WillReturnError(errors.New("down"))
	assert.Error(t, s.HealthCheck(context.Background()))
}

func TestNormalizePage(t *testing.T) {
	cases := []struct {
		limit, offset     int
		wantLim, wantOffs int
	}{
		{0, 0, 10, 0},
		{-1, -1, 10, 0},
		{1, 3, 1, 3},
		{100, 0, 100, 0},
		{101, 0, 100, 0},
	}
	for _, c := range cases {
		l, o := NormalizePage(c.limit, c.offset)
		assert.Equal(t, c.wantLim, l, "limit %d", c.limit)
		assert.Equal(t, c.wantOffs, o, "offset %d", c.offset)
	}
}
