package store

import (
	"context"
	"database/sql"
	"fmt"

	"inventory-service/internal/models"

	"github.com/shopspring/decimal"
)

// GetProduct retrieves a product by ID within the owner's scope
func (s *Store) GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error) {
	var product models.Product
	err := s.db.GetContext(ctx, &product,
		"SELECT * FROM products WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("product %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &product, nil
}

// ListProducts retrieves all products for an owner
func (s *Store) ListProducts(ctx context.Context, ownerID string) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products,
		"SELECT * FROM products WHERE owner_id = $1 ORDER BY name, id", ownerID)
	return products, err
}

// ListAllProducts retrieves every product across all owners. Used by the
// boot sync that warms the stock snapshot cache.
func (s *Store) ListAllProducts(ctx context.Context) ([]models.Product, error) {
	var products []models.Product
	err := s.db.SelectContext(ctx, &products, "SELECT * FROM products ORDER BY id")
	return products, err
}

// ApplyStockDelta is the stock ledger's only mutation primitive: it applies
// signed box/kg deltas to a product inside one row-locked transaction and
// rejects any result that would leave a negative quantity with ErrOutOfStock.
func (s *Store) ApplyStockDelta(ctx context.Context, ownerID string, productID int64, boxDelta int64, kgDelta decimal.Decimal) (*models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	product, err := lockProduct(ctx, tx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	if err := applyDeltaLocked(ctx, tx, product, boxDelta, kgDelta); err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return product, nil
}
