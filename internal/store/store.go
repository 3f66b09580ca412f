// Package store owns all persistence. Every ledger mutation runs inside a
// single transaction that locks the product row, and every approval
// transition is a compare-and-swap on the pending status, so concurrent
// operations against the same product or the same request serialize here.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/shopspring/decimal"
)

var (
	// ErrNotFound is returned when a product, movement, sale or audit does
	// not exist within the caller's owner scope.
	ErrNotFound = errors.New("not found")
	// ErrOutOfStock is returned when a delta would drive loose kg or boxes
	// negative.
	ErrOutOfStock = errors.New("out of stock")
	// ErrAlreadyProcessed is returned when a terminal movement or audit is
	// transitioned again. The first transition won; the ledger is unchanged
	// by the losing call.
	ErrAlreadyProcessed = errors.New("already processed")
)

// Pagination bounds applied by all listing queries.
const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

type Store struct {
	db *sqlx.DB
}

// NewStore creates a new database store
func NewStore(databaseURL string) (*Store, error) {
	db, err := sqlx.Connect("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection
func (s *Store) Close() error {
	return s.db.Close()
}

// GetDB returns the underlying database connection
func (s *Store) GetDB() *sqlx.DB {
	return s.db
}

// lockProduct loads a product row FOR UPDATE inside tx. Every code path
// that changes loose_kg or boxes goes through this lock.
func lockProduct(ctx context.Context, tx *sqlx.Tx, ownerID string, productID int64) (*models.Product, error) {
	var product models.Product
	err := tx.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 AND owner_id = $2 FOR UPDATE", productID, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock product %d: %w", productID, err)
	}
	return &product, nil
}

// applyDeltaLocked adds the signed deltas to an already locked product and
// persists the result. It rejects any outcome that would leave a negative
// quantity.
func applyDeltaLocked(ctx context.Context, tx *sqlx.Tx, product *models.Product, boxDelta int64, kgDelta decimal.Decimal) error {
	newLooseKg := product.LooseKg.Add(kgDelta)
	newBoxes := product.Boxes + boxDelta
	if newLooseKg.IsNegative() || newBoxes < 0 {
		return fmt.Errorf("product %d: delta (%+d boxes, %s kg) against (%d boxes, %s kg): %w",
			product.ID, boxDelta, kgDelta.String(), product.Boxes, product.LooseKg.String(), ErrOutOfStock)
	}
	return writeQuantitiesLocked(ctx, tx, product, newLooseKg, newBoxes)
}

// writeQuantitiesLocked overwrites an already locked product's quantities.
func writeQuantitiesLocked(ctx context.Context, tx *sqlx.Tx, product *models.Product, looseKg decimal.Decimal, boxes int64) error {
	err := tx.GetContext(ctx, &product.UpdatedAt,
		"UPDATE products SET loose_kg = $1, boxes = $2, updated_at = NOW() WHERE id = $3 RETURNING updated_at",
		looseKg, boxes, product.ID)
	if err != nil {
		return fmt.Errorf("failed to update product %d quantities: %w", product.ID, err)
	}
	product.LooseKg = looseKg
	product.Boxes = boxes
	return nil
}

// normalizePage clamps pagination inputs to sane bounds.
func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = DefaultPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	return page, limit
}
