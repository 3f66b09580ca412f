package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"inventory-service/internal/models"
	"inventory-service/internal/stock"

	"github.com/jmoiron/sqlx"
)

// CreateSaleAudit persists a pending sale audit
func (s *Store) CreateSaleAudit(ctx context.Context, a *models.SaleAudit) error {
	query := `
		INSERT INTO sale_audits
			(owner_id, sale_id, audit_type, status, boxes_change, kg_change,
			 old_values, new_values, reason, requested_by)
		VALUES ($1, $2, $3, 'pending', $4, $5, $6, $7, $8, $9)
		RETURNING id, status, created_at, updated_at`

	return s.db.GetContext(ctx, a, query,
		a.OwnerID, a.SaleID, a.AuditType, a.BoxesChange, a.KgChange,
		a.OldValues, a.NewValues, a.Reason, a.RequestedBy)
}

// GetSaleAudit retrieves a sale audit by ID within the owner's scope
func (s *Store) GetSaleAudit(ctx context.Context, ownerID string, id int64) (*models.SaleAudit, error) {
	var a models.SaleAudit
	err := s.db.GetContext(ctx, &a,
		"SELECT * FROM sale_audits WHERE id = $1 AND owner_id = $2", id, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale audit %d: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, err
	}
	return &a, nil
}

// ListSaleAudits retrieves sale audits matching the filter, newest first,
// with the total match count piggybacked on each row.
func (s *Store) ListSaleAudits(ctx context.Context, ownerID string, f models.AuditFilter) ([]models.SaleAudit, int64, error) {
	page, limit := normalizePage(f.Page, f.Limit)

	conds := []string{"owner_id = $1"}
	args := []interface{}{ownerID}
	add := func(cond string, v interface{}) {
		args = append(args, v)
		conds = append(conds, fmt.Sprintf(cond, len(args)))
	}
	if f.SaleID != nil {
		add("sale_id = $%d", *f.SaleID)
	}
	if f.AuditType != "" {
		add("audit_type = $%d", f.AuditType)
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
		FROM sale_audits
		WHERE %s
		ORDER BY created_at DESC, id DESC
		LIMIT $%d OFFSET $%d`,
		strings.Join(conds, " AND "), len(args)-1, len(args))

	var rows []struct {
		models.SaleAudit
		TotalCount int64 `db:"total_count"`
	}
	if err := s.db.SelectContext(ctx, &rows, query, args...); err != nil {
		return nil, 0, err
	}

	audits := make([]models.SaleAudit, len(rows))
	var total int64
	for i, r := range rows {
		audits[i] = r.SaleAudit
		total = r.TotalCount
	}
	return audits, total, nil
}

// claimAudit flips a pending sale audit to a terminal status, first-wins,
// same contract as claimMovement.
func claimAudit(ctx context.Context, tx *sqlx.Tx, ownerID string, id int64, to models.SaleAuditStatus, actor, reason string) (*models.SaleAudit, error) {
	var a models.SaleAudit
	err := tx.GetContext(ctx, &a, `
		UPDATE sale_audits
		SET status = $1, approved_by = $2, approved_at = NOW(), updated_at = NOW(),
		    reason = CASE WHEN $3 = '' THEN reason ELSE reason || ' | ' || $3 END
		WHERE id = $4 AND owner_id = $5 AND status = 'pending'
		RETURNING *`,
		to, actor, reason, id, ownerID)
	if err == sql.ErrNoRows {
		var status models.SaleAuditStatus
		err = tx.GetContext(ctx, &status,
			"SELECT status FROM sale_audits WHERE id = $1 AND owner_id = $2", id, ownerID)
		if err == sql.ErrNoRows {
			return nil, fmt.Errorf("sale audit %d: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("sale audit %d is %s: %w", id, status, ErrAlreadyProcessed)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim sale audit %d: %w", id, err)
	}
	return &a, nil
}

// lockSale loads a sale row FOR UPDATE inside tx so concurrent audits on the
// same sale serialize.
func lockSale(ctx context.Context, tx *sqlx.Tx, ownerID string, saleID int64) (*models.Sale, error) {
	var sale models.Sale
	err := tx.GetContext(ctx, &sale,
		"SELECT * FROM sales WHERE id = $1 AND owner_id = $2 FOR UPDATE", saleID, ownerID)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("sale %d: %w", saleID, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to lock sale %d: %w", saleID, err)
	}
	return &sale, nil
}

// ApproveQuantityAudit executes an approved quantity_change audit. Inside one
// transaction it claims the audit, locks the sale and its product, virtually
// restores the sale's recorded quantities to the ledger, re-allocates the new
// quantities against that restored state, then writes the resulting ledger
// state and the audit's new sale snapshot. The net ledger effect is exactly
// new minus old, with box conversion handled the same way a fresh sale would.
func (s *Store) ApproveQuantityAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tx.Rollback()

	a, err := claimAudit(ctx, tx, ownerID, auditID, models.AuditApproved, approvedBy, "")
	if err != nil {
		return nil, nil, nil, err
	}
	if a.AuditType != models.AuditQuantityChange {
		return nil, nil, nil, fmt.Errorf("sale audit %d: type %s is not a quantity change", a.ID, a.AuditType)
	}
	if a.SaleID == nil {
		return nil, nil, nil, fmt.Errorf("sale for audit %d no longer exists: %w", a.ID, ErrNotFound)
	}

	newSnap, err := models.DecodeSnapshot(a.NewValues)
	if err != nil {
		return nil, nil, nil, err
	}

	sale, err := lockSale(ctx, tx, ownerID, *a.SaleID)
	if err != nil {
		return nil, nil, nil, err
	}
	product, err := lockProduct(ctx, tx, ownerID, sale.ProductID)
	if err != nil {
		return nil, nil, nil, err
	}

	restored := stock.State{
		LooseKg:      product.LooseKg.Add(sale.KgQuantity),
		Boxes:        product.Boxes + sale.BoxesQuantity,
		BoxToKgRatio: product.BoxToKgRatio,
	}
	plan, err := stock.Allocate(stock.Request{Boxes: newSnap.BoxesQuantity, Kg: newSnap.KgQuantity}, restored)
	if err != nil {
		return nil, nil, nil, err
	}
	if err := writeQuantitiesLocked(ctx, tx, product, plan.NewLooseKg, plan.NewBoxes); err != nil {
		return nil, nil, nil, err
	}

	err = tx.GetContext(ctx, sale, `
		UPDATE sales
		SET boxes_quantity = $1, kg_quantity = $2, total_amount = $3, amount_paid = $4,
		    remaining_amount = $5, payment_status = $6, payment_method = $7, updated_at = NOW()
		WHERE id = $8 AND owner_id = $9
		RETURNING *`,
		newSnap.BoxesQuantity, newSnap.KgQuantity, newSnap.TotalAmount, newSnap.AmountPaid,
		newSnap.RemainingAmount, newSnap.PaymentStatus, newSnap.PaymentMethod,
		sale.ID, ownerID)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to apply audit %d to sale %d: %w", a.ID, sale.ID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, err
	}
	return a, sale, product, nil
}

// ApprovePaymentMethodAudit executes an approved payment_method_change audit.
// Only the payment method field changes; quantities, amounts and the ledger
// are untouched.
func (s *Store) ApprovePaymentMethodAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	defer tx.Rollback()

	a, err := claimAudit(ctx, tx, ownerID, auditID, models.AuditApproved, approvedBy, "")
	if err != nil {
		return nil, nil, err
	}
	if a.AuditType != models.AuditPaymentMethodChange {
		return nil, nil, fmt.Errorf("sale audit %d: type %s is not a payment method change", a.ID, a.AuditType)
	}
	if a.SaleID == nil {
		return nil, nil, fmt.Errorf("sale for audit %d no longer exists: %w", a.ID, ErrNotFound)
	}

	newSnap, err := models.DecodeSnapshot(a.NewValues)
	if err != nil {
		return nil, nil, err
	}

	var sale models.Sale
	err = tx.GetContext(ctx, &sale, `
		UPDATE sales
		SET payment_method = $1, updated_at = NOW()
		WHERE id = $2 AND owner_id = $3
		RETURNING *`,
		newSnap.PaymentMethod, *a.SaleID, ownerID)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("sale %d: %w", *a.SaleID, ErrNotFound)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("failed to apply audit %d to sale %d: %w", a.ID, *a.SaleID, err)
	}

	if err := tx.Commit(); err != nil {
		return nil, nil, err
	}
	return a, &sale, nil
}

// ApproveDeletionAudit executes an approved deletion audit: restore to the
// ledger exactly the quantities the sale consumed, then delete the sale row.
// The audit survives with sale_id nulled and keeps the sale's last snapshot
// in old_values. Returns the deleted sale as it was at deletion time.
func (s *Store) ApproveDeletionAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, nil, nil, err
	}
	defer tx.Rollback()

	a, err := claimAudit(ctx, tx, ownerID, auditID, models.AuditApproved, approvedBy, "")
	if err != nil {
		return nil, nil, nil, err
	}
	if a.AuditType != models.AuditDeletion {
		return nil, nil, nil, fmt.Errorf("sale audit %d: type %s is not a deletion", a.ID, a.AuditType)
	}
	if a.SaleID == nil {
		return nil, nil, nil, fmt.Errorf("sale for audit %d no longer exists: %w", a.ID, ErrNotFound)
	}

	sale, err := lockSale(ctx, tx, ownerID, *a.SaleID)
	if err != nil {
		return nil, nil, nil, err
	}
	product, err := lockProduct(ctx, tx, ownerID, sale.ProductID)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := applyDeltaLocked(ctx, tx, product, sale.BoxesQuantity, sale.KgQuantity); err != nil {
		return nil, nil, nil, err
	}

	if _, err := tx.ExecContext(ctx,
		"DELETE FROM sales WHERE id = $1 AND owner_id = $2", sale.ID, ownerID); err != nil {
		return nil, nil, nil, fmt.Errorf("failed to delete sale %d: %w", sale.ID, err)
	}
	// The FK on sale_audits.sale_id nulls the reference when the sale row
	// goes away.
	a.SaleID = nil

	if err := tx.Commit(); err != nil {
		return nil, nil, nil, err
	}
	return a, sale, product, nil
}

// RejectSaleAudit flips a pending sale audit to rejected and appends the
// reason. Neither the sale nor the ledger is touched.
func (s *Store) RejectSaleAudit(ctx context.Context, ownerID string, auditID int64, actor, reason string) (*models.SaleAudit, error) {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	a, err := claimAudit(ctx, tx, ownerID, auditID, models.AuditRejected, actor, reason)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return a, nil
}
