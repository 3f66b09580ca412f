package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"inventory-service/internal/models"

	"github.com/jmoiron/sqlx"
	"github.com/shopspring/decimal"
)

// CreateMovement persists a pending stock movement
func (s *Store) CreateMovement(ctx context.Context, m *models.StockMovement) error {
	query := `
		INSERT INTO stock_movements
			(owner_id, product_id, kind, status, box_delta, kg_delta,
			 field_changed, old_value, new_value, reason, requested_by)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9, $10)
		RETURNING id, status, created_at, updated_at`

	return s.db.GetContext(ctx, m, query,
		m.OwnerID, m.ProductID, m.Kind, m.BoxDelta, m.KgDelta,
		m.FieldChanged, m.OldValue, m.NewValue, m.Reason, m.RequestedBy)
}

// GetMovement retrieves a movement by ID within the owner's scope
func (s *Store) GetMovement(ctx context.Context, ownerID string, id int64) (*models.StockMovement, error) {
	var m models.StockMovement
	err := s.db.GetContext(ctx, &m,
		"SELECT * FROM stock_movements WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("movement %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &m, nil
}

// ListMovements retrieves movements matching the filter, newest first,
// with the total match count piggybacked on each row via a window function.
func (s *Store) ListMovements(ctx context.Context, ownerID string, f models.MovementFilter) ([]models.StockMovement, int64, error) {
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
	if f.Kind != "" {
		add("kind = $%d", f.Kind)
	}
	if f.Status != "" {
		add("status = $%d", f.Status)
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
		FROM stock_movements
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conds, " AND "), len(args)-1, len(args))

	var rows []struct {
		models.StockMovement
		TotalCount int64 `db:"total_count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	movements := make([]models.StockMovement, len(rows))
	var total int64
	for i, r := range rows {
		movements[i] = r.StockMovement
		total = r.TotalCount
	}
	return movements, total, nil
}

// claimMovement flips a pending movement to a terminal status. The WHERE on
// status makes the transition first-wins: a second caller matches zero rows
// and gets ErrAlreadyProcessed, so an approved delta can never apply twice.
func claimMovement(ctx context.Context, tx *sqlx.Tx, ownerID string, id int64, to models.MovementStatus, actor, reason string) (*models.StockMovement, error) {
	var m models.StockMovement
	err := tx.GetContext(ctx, &m, `
		UPDATE stock_movements
		SET status = $1, approved_by = $2, approved_at = NOW(), updated_at = NOW(),
		    reason = CASE WHEN $3 = '' THEN reason ELSE reason || ' | ' || $3 END
		WHERE id = $4 AND owner_id = $5 AND status = 'pending'
		RETURNING *`,
		to, actor, reason, id, ownerID)
	if err == sql.ErrNoRows {
		var status models.MovementStatus
		err = tx.GetContext(ctx, &status,
			"SELECT status FROM stock_movements WHERE id = $1 AND owner_id = $2", id, ownerID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("movement %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("movement %d is %s: %w", id, status, ErrAlreadyProcessed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim movement %d: %w", id, err)
	}
	return &m, nil
}

// CompleteQuantityMovement executes an approved new_stock, stock_correction
// or damage movement: claim to completed, apply the stored deltas under the
// product row lock, and for damage write the loss record, all in one
// transaction. Any failure leaves the movement pending.
func (s *Store) CompleteQuantityMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	m, err := claimMovement(ctx, tx, ownerID, movementID, models.MovementCompleted, approvedBy, "")
	if err != nil {
		return nil, nil, err
	}
	if !m.Kind.IsQuantityKind() {
		return nil, nil, fmt.Errorf("movement %d: kind %s carries no quantity delta", m.ID, m.Kind)
	}
	if m.ProductID == nil {
		return nil, nil, fmt.Errorf("movement %d has no product", m.ID)
	}

	payload, err := m.DecodePayload()
	if err != nil {
		return nil, nil, err
	}
	q := payload.(models.QuantityPayload)

	product, err := lockProduct(ctx, tx, ownerID, *m.ProductID)
	if err != nil {
		return nil, nil, err
	}
	if err := applyDeltaLocked(ctx, tx, product, q.BoxDelta, q.KgDelta); err != nil {
		return nil, nil, err
	}

	if m.Kind == models.MovementDamage {
		if err := insertDamageRecord(ctx, tx, m, product, q); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return m, product, nil
}

// insertDamageRecord values the damaged quantity at cost and links it to the
// completed movement. Damage deltas are negative; the record stores the
// positive magnitudes.
func insertDamageRecord(ctx context.Context, tx *sqlx.Tx, m *models.StockMovement, product *models.Product, q models.QuantityPayload) error {
	boxesLost := -q.BoxDelta
	kgLost := q.KgDelta.Neg()
	loss := kgLost.Add(decimal.NewFromInt(boxesLost).Mul(product.BoxToKgRatio)).Mul(product.CostPerKg)

	_, err := tx.ExecContext(ctx, `
		INSERT INTO damage_records (owner_id, product_id, movement_id, boxes, kg, loss_amount, reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.OwnerID, product.ID, m.ID, boxesLost, kgLost, loss, m.Reason)
	if err != nil {
		return fmt.Errorf("failed to record damage for movement %d: %w", m.ID, err)
	}
	return nil
}

// CompleteEditMovement executes an approved product_edit: claim to completed
// and write the new value into the named catalog field. Numeric fields are
// parsed; the field name is checked against the editable whitelist before it
// reaches the query.
func (s *Store) CompleteEditMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	m, err := claimMovement(ctx, tx, ownerID, movementID, models.MovementCompleted, approvedBy, "")
	if err != nil {
		return nil, nil, err
	}
	if m.Kind != models.MovementProductEdit {
		return nil, nil, fmt.Errorf("movement %d: kind %s is not an edit", m.ID, m.Kind)
	}
	if m.ProductID == nil {
		return nil, nil, fmt.Errorf("movement %d has no product", m.ID)
	}

	payload, err := m.DecodePayload()
	if err != nil {
		return nil, nil, err
	}
	edit := payload.(models.FieldEditPayload)

	numeric, ok := models.EditableProductField(edit.Field)
	if !ok {
		return nil, nil, fmt.Errorf("movement %d: field %q is not editable", m.ID, edit.Field)
	}
	var value interface{} = edit.NewValue
	if numeric {
		dec, err := decimal.NewFromString(edit.NewValue)
		if err != nil {
			return nil, nil, fmt.Errorf("movement %d: field %s wants a number, got %q", m.ID, edit.Field, edit.NewValue)
		}
		value = dec
	}

	var product models.Product
	query := fmt.Sprintf(
		"UPDATE products SET %s = $1, updated_at = NOW() WHERE id = $2 AND owner_id = $3 RETURNING *",
		edit.Field)
	err = tx.GetContext(ctx, &product, query, value, *m.ProductID, ownerID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("product %d: %w", *m.ProductID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply edit for movement %d: %w", m.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return m, &product, nil
}

// CompleteCreateMovement executes an approved product_create: claim to
// completed, materialize the staged product, and backfill the movement's
// product_id with the new row's id.
func (s *Store) CompleteCreateMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	m, err := claimMovement(ctx, tx, ownerID, movementID, models.MovementCompleted, approvedBy, "")
	if err != nil {
		return nil, nil, err
	}
	if m.Kind != models.MovementProductCreate {
		return nil, nil, fmt.Errorf("movement %d: kind %s does not create a product", m.ID, m.Kind)
	}

	payload, err := m.DecodePayload()
	if err != nil {
		return nil, nil, err
	}
	staged := payload.(models.StagedProductPayload).Product

	var product models.Product
	err = tx.GetContext(ctx, &product, `
		INSERT INTO products
			(owner_id, name, loose_kg, boxes, box_to_kg_ratio, box_price, kg_price, cost_per_kg, low_stock_kg)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING *`,
		m.OwnerID, staged.Name, staged.LooseKg, staged.Boxes, staged.BoxToKgRatio,
		staged.BoxPrice, staged.KgPrice, staged.CostPerKg, staged.LowStockKg)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create product for movement %d: %w", m.ID, err)
	}

	_, err = tx.ExecContext(ctx,
		"UPDATE stock_movements SET product_id = $1, updated_at = NOW() WHERE id = $2", product.ID, m.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to backfill product id on movement %d: %w", m.ID, err)
	}
	m.ProductID = &product.ID

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return m, &product, nil
}

// CompleteDeleteMovement executes an approved product_delete: claim to
// completed, remove the product's dependent records in order, then the
// product itself, in one transaction. Each dependent cleanup runs under a
// savepoint so a failed one is noted and skipped rather than aborting the
// whole delete; the product row delete itself must succeed or everything
// rolls back and the movement stays pending. The returned notes report what
// each cleanup did.
func (s *Store) CompleteDeleteMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, []string, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	m, err := claimMovement(ctx, tx, ownerID, movementID, models.MovementCompleted, approvedBy, "")
	if err != nil {
		return nil, nil, err
	}
	if m.Kind != models.MovementProductDelete {
		return nil, nil, fmt.Errorf("movement %d: kind %s does not delete a product", m.ID, m.Kind)
	}
	if m.ProductID == nil {
		return nil, nil, fmt.Errorf("movement %d has no product", m.ID)
	}
	productID := *m.ProductID

	// Lock the product first so in-flight sales and approvals on it drain
	// before the cascade starts.
	if _, err := lockProduct(ctx, tx, ownerID, productID); err != nil {
		return nil, nil, err
	}

	cleanups := []struct {
		label string
		query string
		args  []interface{}
	}{
		{"sale", "DELETE FROM sales WHERE product_id = $1 AND owner_id = $2", []interface{}{productID, ownerID}},
		{"damage record", "DELETE FROM damage_records WHERE product_id = $1 AND owner_id = $2", []interface{}{productID, ownerID}},
		{"stock movement", "DELETE FROM stock_movements WHERE product_id = $1 AND owner_id = $2 AND id <> $3", []interface{}{productID, ownerID, m.ID}},
	}

	var notes []string
	for i, c := range cleanups {
		sp := fmt.Sprintf("cleanup_%d", i)
		if _, err := tx.ExecContext(ctx, "SAVEPOINT "+sp); err != nil {
			return nil, nil, err
		}
		res, err := tx.ExecContext(ctx, c.query, c.args...)
		if err != nil {
			if _, rbErr := tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+sp); rbErr != nil {
				return nil, nil, rbErr
			}
			notes = append(notes, fmt.Sprintf("failed to delete dependent %ss: %v", c.label, err))
			continue
		}
		if _, err := tx.ExecContext(ctx, "RELEASE SAVEPOINT "+sp); err != nil {
			return nil, nil, err
		}
		n, _ := res.RowsAffected()
		notes = append(notes, fmt.Sprintf("deleted %d dependent %s(s)", n, c.label))
	}

	res, err := tx.ExecContext(ctx,
		"DELETE FROM products WHERE id = $1 AND owner_id = $2", productID, ownerID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to delete product %d: %w", productID, err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, nil, fmt.Errorf("product %d: %w", productID, ErrNotFound)
	}
	// The FK on stock_movements.product_id nulls our own reference when the
	// product row goes away.
	m.ProductID = nil

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return m, notes, nil
}

// RejectMovement flips a pending movement to rejected or cancelled and
// appends the given reason for audit. The ledger is never touched.
func (s *Store) RejectMovement(ctx context.Context, ownerID string, movementID int64, actor, reason string, to models.MovementStatus) (*models.StockMovement, error) {
	if to != models.MovementRejected && to != models.MovementCancelled {
		return nil, fmt.Errorf("invalid terminal status %q", to)
	}

	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	m, err := claimMovement(ctx, tx, ownerID, movementID, to, actor, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return m, nil
}

// ListDamageRecords retrieves damage records for an owner, optionally
// narrowed to one product, newest first.
func (s *Store) ListDamageRecords(ctx context.Context, ownerID string, productID *int64) ([]models.DamageRecord, error) {
	var records []models.DamageRecord
	if productID != nil {
		err := s.db.SelectContext(ctx, &records,
			"SELECT * FROM damage_records WHERE owner_id = $1 AND product_id = $2 ORDER BY recorded_at DESC, id DESC",
			ownerID, *productID)
		return records, err
	}
	err := s.db.SelectContext(ctx, &records,
		"SELECT * FROM damage_records WHERE owner_id = $1 ORDER BY recorded_at DESC, id DESC", ownerID)
	return records, err
}
