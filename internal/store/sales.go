package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"inventory-service/internal/models"
	"inventory-service/internal/stock"
)

// CreateSaleAllocated creates a sale and applies its stock deduction as one
// atomic unit: lock the product row, run the allocation against the locked
// quantities, write the new quantities, insert the sale. The allocation seen
// by the caller beforehand is advisory; the plan computed under the lock is
// the one that counts, so a concurrent sale can still surface insufficient
// stock here and abort the whole thing.
func (s *Store) CreateSaleAllocated(ctx context.Context, sale *models.Sale, req stock.Request) (*stock.Plan, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	product, err := lockProduct(ctx, tx, sale.OwnerID, sale.ProductID)
	if err != nil {
		return nil, nil, err
	}

	plan, err := stock.Allocate(req, stock.State{
		LooseKg:      product.LooseKg,
		Boxes:        product.Boxes,
		BoxToKgRatio: product.BoxToKgRatio,
	})
	if err != nil {
		return nil, nil, err
	}

	if err := writeQuantitiesLocked(ctx, tx, product, plan.NewLooseKg, plan.NewBoxes); err != nil {
		return nil, nil, err
	}

	query := `
		INSERT INTO sales
			(owner_id, product_id, boxes_quantity, kg_quantity, box_price, kg_price,
			 total_amount, amount_paid, remaining_amount, payment_status, payment_method,
			 client_name, sold_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		RETURNING id, created_at, updated_at`
	err = tx.GetContext(ctx, sale, query,
		sale.OwnerID, sale.ProductID, sale.BoxesQuantity, sale.KgQuantity,
		sale.BoxPrice, sale.KgPrice, sale.TotalAmount, sale.AmountPaid,
		sale.RemainingAmount, sale.PaymentStatus, sale.PaymentMethod,
		sale.ClientName, sale.SoldBy)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to insert sale: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return &plan, product, nil
}

// GetSale retrieves a sale by ID within the owner's scope
func (s *Store) GetSale(ctx context.Context, ownerID string, id int64) (*models.Sale, error) {
	var sale models.Sale
	err := s.db.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &sale, nil
}

// ListSales retrieves sales matching the filter, newest first, with the
// total match count piggybacked on each row.
func (s *Store) ListSales(ctx context.Context, ownerID string, f models.SaleFilter) ([]models.Sale, int64, error) {
	page, limit := normalizePage(f.Page, f.Limit)

	conds := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.ProductID != nil {
		add("product_id = $%d", *f.ProductID)
	}
	if f.PaymentStatus != "" {
		add("payment_status = $%d", f.PaymentStatus)
	}
	if f.From != nil {
		add("created_at >= $%d", *f.From)
	}
	if f.To != nil {
		add("created_at <= $%d", *f.To)
	}

	args = append(args, limit, (page-1)*limit)
	query := fmt.Sprintf(`
		SELECT *, COUNT(*) OVER() AS total_count
		FROM sales
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conds, " AND "), len(args)-1, len(args))

	var rows []struct {
		models.Sale
		TotalCount int64 `db:"total_count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	sales := make([]models.Sale, len(rows))
	var total int64
	for i, r := range rows {
		sales[i] = r.Sale
		total = r.TotalCount
	}
	return sales, total, nil
}
