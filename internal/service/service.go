// Package service implements the engine's business operations: synchronous
// sale creation with stock allocation, the approval state machine for stock
// movements, and the audit-gated sale edit and delete flows. Handlers stay
// thin; stores do the transactional work; this package validates, dispatches
// and reports.
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"

	"github.com/google/uuid"
)

// ErrNoChange is returned when a sale edit request differs in nothing from
// the sale's current state. Nothing is recorded for such requests.
var ErrNoChange = errors.New("no change requested")

// ValidationError reports malformed or inconsistent input. It is rejected
// before any state change, so the caller can correct and resubmit.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string {
	return e.Message
}

func validationf(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Message: fmt.Sprintf(format, args...)}
}

// StockCache is the read-side cache the services refresh after committed
// ledger changes. Failures here are logged, never propagated: the database
// is the only correctness authority.
type StockCache interface {
	SetStockSnapshot(ctx context.Context, product *models.Product) error
	DeleteStockSnapshot(ctx context.Context, productID int64) error
}

// EventPublisher publishes domain events after state changes commit.
// Publish failures are logged, never propagated.
type EventPublisher interface {
	PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error
	PublishSaleUpdated(ctx context.Context, event *models.SaleUpdatedEvent) error
	PublishSaleDeleted(ctx context.Context, event *models.SaleDeletedEvent) error
	PublishMovementCreated(ctx context.Context, event *models.MovementCreatedEvent) error
	PublishMovementCompleted(ctx context.Context, event *models.MovementCompletedEvent) error
	PublishMovementRejected(ctx context.Context, event *models.MovementRejectedEvent) error
}

func newBaseEvent(eventType, ownerID string) models.BaseEvent {
	return models.BaseEvent{
		EventID:   uuid.New().String(),
		EventType: eventType,
		OwnerID:   ownerID,
		Timestamp: time.Now(),
	}
}

func stockLevel(p *models.Product) models.StockLevel {
	return models.StockLevel{
		ProductID:  p.ID,
		Name:       p.Name,
		LooseKg:    p.LooseKg,
		Boxes:      p.Boxes,
		TotalKg:    p.TotalKg(),
		LowStockKg: p.LowStockKg,
	}
}
