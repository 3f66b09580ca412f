package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Event types
const (
	EventTypeSaleCreated       = "SALE_CREATED"
	EventTypeSaleUpdated       = "SALE_UPDATED"
	EventTypeSaleDeleted       = "SALE_DELETED"
	EventTypeMovementCreated   = "MOVEMENT_CREATED"
	EventTypeMovementCompleted = "MOVEMENT_COMPLETED"
	EventTypeMovementRejected  = "MOVEMENT_REJECTED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	OwnerID   string    `json:"owner_id"`
	Timestamp time.Time `json:"timestamp"`
}

// StockLevel carries a product's stock state after the event took effect.
// Consumers use it for low-stock detection without re-reading the database.
type StockLevel struct {
	ProductID  int64           `json:"product_id"`
	Name       string          `json:"name"`
	LooseKg    decimal.Decimal `json:"loose_kg"`
	Boxes      int64           `json:"boxes"`
	TotalKg    decimal.Decimal `json:"total_kg"`
	LowStockKg decimal.Decimal `json:"low_stock_kg"`
}

// SaleCreatedEvent published when a sale deducted stock synchronously
type SaleCreatedEvent struct {
	BaseEvent
	SaleID        int64           `json:"sale_id"`
	ProductID     int64           `json:"product_id"`
	BoxesQuantity int64           `json:"boxes_quantity"`
	KgQuantity    decimal.Decimal `json:"kg_quantity"`
	TotalAmount   decimal.Decimal `json:"total_amount"`
	PaymentStatus PaymentStatus   `json:"payment_status"`
	SoldBy        string          `json:"sold_by"`
	Stock         StockLevel      `json:"stock"`
}

// SaleUpdatedEvent published when an approved audit changed a sale
type SaleUpdatedEvent struct {
	BaseEvent
	SaleID    int64         `json:"sale_id"`
	AuditID   int64         `json:"audit_id"`
	AuditType SaleAuditType `json:"audit_type"`
	Stock     *StockLevel   `json:"stock,omitempty"`
}

// SaleDeletedEvent published when an approved deletion restored stock
type SaleDeletedEvent struct {
	BaseEvent
	SaleID        int64           `json:"sale_id"`
	AuditID       int64           `json:"audit_id"`
	BoxesRestored int64           `json:"boxes_restored"`
	KgRestored    decimal.Decimal `json:"kg_restored"`
	Stock         StockLevel      `json:"stock"`
}

// MovementCreatedEvent published when a movement enters the pending state
type MovementCreatedEvent struct {
	BaseEvent
	MovementID  int64        `json:"movement_id"`
	ProductID   *int64       `json:"product_id,omitempty"`
	Kind        MovementKind `json:"kind"`
	RequestedBy string       `json:"requested_by"`
}

// MovementCompletedEvent published when an approver executed a movement
type MovementCompletedEvent struct {
	BaseEvent
	MovementID int64        `json:"movement_id"`
	ProductID  *int64       `json:"product_id,omitempty"`
	Kind       MovementKind `json:"kind"`
	ApprovedBy string       `json:"approved_by"`
	Stock      *StockLevel  `json:"stock,omitempty"`
}

// MovementRejectedEvent published when a movement was rejected or cancelled
type MovementRejectedEvent struct {
	BaseEvent
	MovementID int64          `json:"movement_id"`
	Kind       MovementKind   `json:"kind"`
	Status     MovementStatus `json:"status"`
	Reason     string         `json:"reason"`
}
