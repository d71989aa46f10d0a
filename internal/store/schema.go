package store

import (
	"context"
	"fmt"
)

const productColumns = `id, url, name, name_fa, name_en, base_price, discount_price, image_url,
	create_time, update_time, delete_time, is_deleted`

const (
	insertProduct = `
	INSERT INTO catalog.products (url, name, discount_price, base_price, name_fa, name_en, image_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	RETURNING id`

	// Conflicts against a soft-deleted row update nothing and return no row.
	upsertProduct = `
	INSERT INTO catalog.products AS p (url, name, discount_price, base_price, name_fa, name_en, image_url)
	VALUES ($1, $2, $3, $4, $5, $6, $7)
	ON CONFLICT (url) DO UPDATE SET
		name = EXCLUDED.name,
		discount_price = EXCLUDED.discount_price,
		base_price = EXCLUDED.base_price,
		name_fa = EXCLUDED.name_fa,
		name_en = EXCLUDED.name_en,
		image_url = EXCLUDED.image_url,
		update_time = NOW()
	WHERE p.is_deleted = FALSE
	RETURNING id`

	selectByID = `SELECT ` + productColumns + `
	FROM catalog.products
	WHERE id = $1 AND is_deleted = FALSE`

	selectLive = `SELECT ` + productColumns + `
	FROM catalog.products
	WHERE is_deleted = FALSE
	ORDER BY id ASC
	LIMIT $1 OFFSET $2`

	selectByName = `SELECT ` + productColumns + `
	FROM catalog.products
	WHERE is_deleted = FALSE AND name ILIKE $1 ESCAPE '\'
	ORDER BY id ASC
	LIMIT $2 OFFSET $3`

	selectByPrice = `SELECT ` + productColumns + `
	FROM catalog.products
	WHERE is_deleted = FALSE AND base_price BETWEEN $1 AND $2
	ORDER BY id ASC
	LIMIT $3 OFFSET $4`

	updateProduct = `
	UPDATE catalog.products SET
		url = $1,
		name = $2,
		discount_price = $3,
		base_price = $4,
		name_fa = $5,
		name_en = $6,
		image_url = $7,
		update_time = NOW()
	WHERE id = $8 AND is_deleted = FALSE`

	softDeleteProduct = `
	UPDATE catalog.products SET
		is_deleted = TRUE,
		delete_time = NOW()
	WHERE id = $1 AND is_deleted = FALSE`
)

var schemaStatements = []string{
	`CREATE SCHEMA IF NOT EXISTS catalog`,
	`CREATE TABLE IF NOT EXISTS catalog.products (
		id             BIGSERIAL PRIMARY KEY,
		url            TEXT NOT NULL,
		name           TEXT NOT NULL,
		name_fa        TEXT,
		name_en        TEXT,
		base_price     NUMERIC(20, 2) CHECK (base_price >= 0),
		discount_price NUMERIC(20, 2) CHECK (discount_price >= 0),
		image_url      TEXT,
		create_time    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		update_time    TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		delete_time    TIMESTAMPTZ,
		is_deleted     BOOLEAN NOT NULL DEFAULT FALSE,
		CONSTRAINT products_delete_time_chk CHECK ((delete_time IS NOT NULL) = is_deleted)
	)`,
	`CREATE INDEX IF NOT EXISTS products_name_idx ON catalog.products (name) WHERE is_deleted = FALSE`,
	`CREATE INDEX IF NOT EXISTS products_base_price_idx ON catalog.products (base_price) WHERE is_deleted = FALSE`,
	`CREATE TABLE IF NOT EXISTS catalog.errors (
		id            BIGSERIAL PRIMARY KEY,
		url           TEXT NOT NULL,
		status_code   INTEGER NOT NULL,
		error_message TEXT,
		timestamp     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
}

const urlUniqueIndex = `CREATE UNIQUE INDEX IF NOT EXISTS products_url_key ON catalog.products (url)`

// EnsureSchema creates the catalog schema, tables and indexes if they are missing.
// The unique url index is only created when the store upserts by url.
func (s *PGStore) EnsureSchema(ctx context.Context) error {
	stmts := schemaStatements
	if s.upsert {
		stmts = append(append([]string{}, schemaStatements...), urlUniqueIndex)
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensure schema: %w", err)
		}
	}
	s.logger.Info("store.pg.schema_ready")
	return nil
}
