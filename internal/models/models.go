package models

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

// Product represents a perishable commodity tracked in two fungible units:
// loose kilograms and fixed-size boxes convertible at BoxToKgRatio kg/box.
type Product struct {
	ID           int64           `db:"id" json:"id"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	Name         string          `db:"name" json:"name"`
	LooseKg      decimal.Decimal `db:"loose_kg" json:"loose_kg"`
	Boxes        int64           `db:"boxes" json:"boxes"`
	BoxToKgRatio decimal.Decimal `db:"box_to_kg_ratio" json:"box_to_kg_ratio"`
	BoxPrice     decimal.Decimal `db:"box_price" json:"box_price"`
	KgPrice      decimal.Decimal `db:"kg_price" json:"kg_price"`
	CostPerKg    decimal.Decimal `db:"cost_per_kg" json:"cost_per_kg"`
	LowStockKg   decimal.Decimal `db:"low_stock_kg" json:"low_stock_kg"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// TotalKg returns the kg-equivalent of all stock, loose plus boxed.
func (p *Product) TotalKg() decimal.Decimal {
	return p.LooseKg.Add(decimal.NewFromInt(p.Boxes).Mul(p.BoxToKgRatio))
}

// IsLowStock reports whether total stock has fallen to or below the
// product's alert threshold. A zero threshold disables the alert.
func (p *Product) IsLowStock() bool {
	return p.LowStockKg.IsPositive() && p.TotalKg().LessThanOrEqual(p.LowStockKg)
}

// MovementKind discriminates what a stock movement proposes to change.
type MovementKind string

const (
	MovementNewStock      MovementKind = "new_stock"
	MovementCorrection    MovementKind = "stock_correction"
	MovementDamage        MovementKind = "damage"
	MovementProductEdit   MovementKind = "product_edit"
	MovementProductCreate MovementKind = "product_create"
	MovementProductDelete MovementKind = "product_delete"
)

// IsQuantityKind reports whether the kind carries box/kg deltas.
func (k MovementKind) IsQuantityKind() bool {
	switch k {
	case MovementNewStock, MovementCorrection, MovementDamage:
		return true
	}
	return false
}

// Valid reports whether the kind is one of the supported movement kinds.
func (k MovementKind) Valid() bool {
	switch k {
	case MovementNewStock, MovementCorrection, MovementDamage,
		MovementProductEdit, MovementProductCreate, MovementProductDelete:
		return true
	}
	return false
}

// MovementStatus captures the approval lifecycle of a movement.
// Transitions are one-directional: pending is the only non-terminal state.
type MovementStatus string

const (
	MovementPending   MovementStatus = "pending"
	MovementCompleted MovementStatus = "completed"
	MovementRejected  MovementStatus = "rejected"
	MovementCancelled MovementStatus = "cancelled"
)

// Terminal reports whether no further transition is permitted.
func (s MovementStatus) Terminal() bool {
	return s != MovementPending
}

// StockMovement is a durable, approval-gated proposal to change stock
// quantities or catalog data. Terminal rows are retained forever for audit.
type StockMovement struct {
	ID           int64           `db:"id" json:"id"`
	OwnerID      string          `db:"owner_id" json:"owner_id"`
	ProductID    *int64          `db:"product_id" json:"product_id,omitempty"`
	Kind         MovementKind    `db:"kind" json:"kind"`
	Status       MovementStatus  `db:"status" json:"status"`
	BoxDelta     int64           `db:"box_delta" json:"box_delta"`
	KgDelta      decimal.Decimal `db:"kg_delta" json:"kg_delta"`
	FieldChanged *string         `db:"field_changed" json:"field_changed,omitempty"`
	OldValue     *string         `db:"old_value" json:"old_value,omitempty"`
	NewValue     *string         `db:"new_value" json:"new_value,omitempty"`
	Reason       string          `db:"reason" json:"reason"`
	RequestedBy  string          `db:"requested_by" json:"requested_by"`
	ApprovedBy   *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt   *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt    time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time       `db:"updated_at" json:"updated_at"`
}

// MovementPayload is the decoded, kind-specific content of a movement.
// The raw old/new string columns are decoded exactly once, at the boundary,
// so executors never parse stringly-typed values.
type MovementPayload interface {
	isMovementPayload()
}

// QuantityPayload carries signed stock deltas for new_stock,
// stock_correction and damage movements.
type QuantityPayload struct {
	BoxDelta int64
	KgDelta  decimal.Decimal
}

// FieldEditPayload carries a single catalog field change for product_edit.
type FieldEditPayload struct {
	Field    string
	OldValue string
	NewValue string
}

// StagedProductPayload carries the full product staged by product_create.
type StagedProductPayload struct {
	Product StagedProduct
}

// DeletePayload marks a product_delete movement; it has no extra data.
type DeletePayload struct{}

func (QuantityPayload) isMovementPayload()      {}
func (FieldEditPayload) isMovementPayload()     {}
func (StagedProductPayload) isMovementPayload() {}
func (DeletePayload) isMovementPayload()        {}

// StagedProduct is the JSON shape stored in new_value by product_create
// movements until an approver materializes it as a Product row.
type StagedProduct struct {
	Name         string          `json:"name"`
	LooseKg      decimal.Decimal `json:"loose_kg"`
	Boxes        int64           `json:"boxes"`
	BoxToKgRatio decimal.Decimal `json:"box_to_kg_ratio"`
	BoxPrice     decimal.Decimal `json:"box_price"`
	KgPrice      decimal.Decimal `json:"kg_price"`
	CostPerKg    decimal.Decimal `json:"cost_per_kg"`
	LowStockKg   decimal.Decimal `json:"low_stock_kg"`
}

// DecodePayload converts the movement's raw columns into its typed payload.
// It fails on malformed content rather than letting executors guess.
func (m *StockMovement) DecodePayload() (MovementPayload, error) {
	switch m.Kind {
	case MovementNewStock, MovementCorrection, MovementDamage:
		if m.BoxDelta == 0 && m.KgDelta.IsZero() {
			return nil, fmt.Errorf("movement %d: %s requires a nonzero box or kg delta", m.ID, m.Kind)
		}
		return QuantityPayload{BoxDelta: m.BoxDelta, KgDelta: m.KgDelta}, nil

	case MovementProductEdit:
		if m.FieldChanged == nil || m.NewValue == nil {
			return nil, fmt.Errorf("movement %d: product_edit requires field_changed and new_value", m.ID)
		}
		old := ""
		if m.OldValue != nil {
			old = *m.OldValue
		}
		return FieldEditPayload{Field: *m.FieldChanged, OldValue: old, NewValue: *m.NewValue}, nil

	case MovementProductCreate:
		if m.NewValue == nil {
			return nil, fmt.Errorf("movement %d: product_create requires a staged product in new_value", m.ID)
		}
		var staged StagedProduct
		if err := json.Unmarshal([]byte(*m.NewValue), &staged); err != nil {
			return nil, fmt.Errorf("movement %d: invalid staged product: %w", m.ID, err)
		}
		return StagedProductPayload{Product: staged}, nil

	case MovementProductDelete:
		if m.FieldChanged == nil || m.OldValue == nil {
			return nil, fmt.Errorf("movement %d: product_delete requires field_changed and a product snapshot in old_value", m.ID)
		}
		return DeletePayload{}, nil
	}
	return nil, fmt.Errorf("movement %d: unknown kind %q", m.ID, m.Kind)
}

// Editable product fields for product_edit movements. The bool marks fields
// whose new_value must parse as a decimal before execution.
var editableProductFields = map[string]bool{
	"name":            false,
	"box_price":       true,
	"kg_price":        true,
	"cost_per_kg":     true,
	"box_to_kg_ratio": true,
	"low_stock_kg":    true,
}

// EditableProductField reports whether field may be changed by a
// product_edit movement and whether its value is numeric.
func EditableProductField(field string) (numeric, ok bool) {
	numeric, ok = editableProductFields[field]
	return numeric, ok
}

// PaymentStatus describes how much of a sale has been collected.
type PaymentStatus string

const (
	PaymentPaid    PaymentStatus = "paid"
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
)

// Valid reports whether the status is one of the supported payment states.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPaid, PaymentPending, PaymentPartial:
		return true
	}
	return false
}

// Sale records a completed sale. Quantities are the amounts the customer
// received; the physical decomposition (which boxes were opened) lives in
// the allocation trace, not here.
type Sale struct {
	ID              int64           `db:"id" json:"id"`
	OwnerID         string          `db:"owner_id" json:"owner_id"`
	ProductID       int64           `db:"product_id" json:"product_id"`
	BoxesQuantity   int64           `db:"boxes_quantity" json:"boxes_quantity"`
	KgQuantity      decimal.Decimal `db:"kg_quantity" json:"kg_quantity"`
	BoxPrice        decimal.Decimal `db:"box_price" json:"box_price"`
	KgPrice         decimal.Decimal `db:"kg_price" json:"kg_price"`
	TotalAmount     decimal.Decimal `db:"total_amount" json:"total_amount"`
	AmountPaid      decimal.Decimal `db:"amount_paid" json:"amount_paid"`
	RemainingAmount decimal.Decimal `db:"remaining_amount" json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `db:"payment_status" json:"payment_status"`
	PaymentMethod   string          `db:"payment_method" json:"payment_method"`
	ClientName      *string         `db:"client_name" json:"client_name,omitempty"`
	SoldBy          string          `db:"sold_by" json:"sold_by"`
	CreatedAt       time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleAuditType classifies what a sale audit proposes.
type SaleAuditType string

const (
	AuditQuantityChange      SaleAuditType = "quantity_change"
	AuditPaymentMethodChange SaleAuditType = "payment_method_change"
	AuditDeletion            SaleAuditType = "deletion"
)

// SaleAuditStatus captures the approval lifecycle of a sale audit.
type SaleAuditStatus string

const (
	AuditPending  SaleAuditStatus = "pending"
	AuditApproved SaleAuditStatus = "approved"
	AuditRejected SaleAuditStatus = "rejected"
)

// Terminal reports whether no further transition is permitted.
func (s SaleAuditStatus) Terminal() bool {
	return s != AuditPending
}

// SaleAudit is an approval-gated proposal to edit or delete an existing
// sale. It outlives the sale itself: after an approved deletion the sale_id
// goes NULL and old_values keeps the sale's last known snapshot.
type SaleAudit struct {
	ID          int64           `db:"id" json:"id"`
	OwnerID     string          `db:"owner_id" json:"owner_id"`
	SaleID      *int64          `db:"sale_id" json:"sale_id,omitempty"`
	AuditType   SaleAuditType   `db:"audit_type" json:"audit_type"`
	Status      SaleAuditStatus `db:"status" json:"status"`
	BoxesChange int64           `db:"boxes_change" json:"boxes_change"`
	KgChange    decimal.Decimal `db:"kg_change" json:"kg_change"`
	OldValues   json.RawMessage `db:"old_values" json:"old_values"`
	NewValues   json.RawMessage `db:"new_values" json:"new_values,omitempty"`
	Reason      string          `db:"reason" json:"reason"`
	RequestedBy string          `db:"requested_by" json:"requested_by"`
	ApprovedBy  *string         `db:"approved_by" json:"approved_by,omitempty"`
	ApprovedAt  *time.Time      `db:"approved_at" json:"approved_at,omitempty"`
	CreatedAt   time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time       `db:"updated_at" json:"updated_at"`
}

// SaleSnapshot is the structured before/after content of a sale audit.
type SaleSnapshot struct {
	BoxesQuantity   int64           `json:"boxes_quantity"`
	KgQuantity      decimal.Decimal `json:"kg_quantity"`
	TotalAmount     decimal.Decimal `json:"total_amount"`
	AmountPaid      decimal.Decimal `json:"amount_paid"`
	RemainingAmount decimal.Decimal `json:"remaining_amount"`
	PaymentStatus   PaymentStatus   `json:"payment_status"`
	PaymentMethod   string          `json:"payment_method"`
	ClientName      *string         `json:"client_name,omitempty"`
}

// SnapshotSale captures the audit-relevant state of a sale.
func SnapshotSale(s *Sale) SaleSnapshot {
	return SaleSnapshot{
		BoxesQuantity:   s.BoxesQuantity,
		KgQuantity:      s.KgQuantity,
		TotalAmount:     s.TotalAmount,
		AmountPaid:      s.AmountPaid,
		RemainingAmount: s.RemainingAmount,
		PaymentStatus:   s.PaymentStatus,
		PaymentMethod:   s.PaymentMethod,
		ClientName:      s.ClientName,
	}
}

// DecodeSnapshot parses a stored sale snapshot.
func DecodeSnapshot(raw json.RawMessage) (SaleSnapshot, error) {
	var snap SaleSnapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return SaleSnapshot{}, fmt.Errorf("invalid sale snapshot: %w", err)
	}
	return snap, nil
}

// DamageRecord links an approved damage movement to its loss value for
// reporting. Written in the same transaction that completes the movement.
type DamageRecord struct {
	ID         int64           `db:"id" json:"id"`
	OwnerID    string          `db:"owner_id" json:"owner_id"`
	ProductID  int64           `db:"product_id" json:"product_id"`
	MovementID int64           `db:"movement_id" json:"movement_id"`
	Boxes      int64           `db:"boxes" json:"boxes"`
	Kg         decimal.Decimal `db:"kg" json:"kg"`
	LossAmount decimal.Decimal `db:"loss_amount" json:"loss_amount"`
	Reason     string          `db:"reason" json:"reason"`
	RecordedAt time.Time       `db:"recorded_at" json:"recorded_at"`
}

// MovementFilter constrains movement listing queries.
type MovementFilter struct {
	ProductID *int64
	Kind      MovementKind
	Status    MovementStatus
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

// AuditFilter constrains sale audit listing queries.
type AuditFilter struct {
	SaleID    *int64
	AuditType SaleAuditType
	Status    SaleAuditStatus
	From      *time.Time
	To        *time.Time
	Page      int
	Limit     int
}

// SaleFilter constrains sale listing queries.
type SaleFilter struct {
	ProductID     *int64
	PaymentStatus PaymentStatus
	From          *time.Time
	To            *time.Time
	Page          int
	Limit         int
}
