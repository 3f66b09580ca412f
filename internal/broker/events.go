package broker

import (
	"context"
	"encoding/json"
	"fmt"

	"inventory-service/internal/models"
	"inventory-service/internal/util"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"
)

// EventPublisher handles publishing domain events. Messages are keyed by
// product where one is involved, so stock changes for a product stay ordered
// within their partition.
type EventPublisher struct {
	producer *Producer
}

// NewEventPublisher creates a new event publisher
func NewEventPublisher(producer *Producer) *EventPublisher {
	return &EventPublisher{producer: producer}
}

// PublishSaleCreated publishes SaleCreated event
func (ep *EventPublisher) PublishSaleCreated(ctx context.Context, event *models.SaleCreatedEvent) error {
	key := fmt.Sprintf("product-%d", event.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSaleUpdated publishes SaleUpdated event
func (ep *EventPublisher) PublishSaleUpdated(ctx context.Context, event *models.SaleUpdatedEvent) error {
	key := fmt.Sprintf("sale-%d", event.SaleID)
	if event.Stock != nil {
		key = fmt.Sprintf("product-%d", event.Stock.ProductID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishSaleDeleted publishes SaleDeleted event
func (ep *EventPublisher) PublishSaleDeleted(ctx context.Context, event *models.SaleDeletedEvent) error {
	key := fmt.Sprintf("product-%d", event.Stock.ProductID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishMovementCreated publishes MovementCreated event
func (ep *EventPublisher) PublishMovementCreated(ctx context.Context, event *models.MovementCreatedEvent) error {
	key := fmt.Sprintf("movement-%d", event.MovementID)
	if event.ProductID != nil {
		key = fmt.Sprintf("product-%d", *event.ProductID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishMovementCompleted publishes MovementCompleted event
func (ep *EventPublisher) PublishMovementCompleted(ctx context.Context, event *models.MovementCompletedEvent) error {
	key := fmt.Sprintf("movement-%d", event.MovementID)
	if event.ProductID != nil {
		key = fmt.Sprintf("product-%d", *event.ProductID)
	}
	return ep.producer.PublishEvent(ctx, key, event)
}

// PublishMovementRejected publishes MovementRejected event
func (ep *EventPublisher) PublishMovementRejected(ctx context.Context, event *models.MovementRejectedEvent) error {
	key := fmt.Sprintf("movement-%d", event.MovementID)
	return ep.producer.PublishEvent(ctx, key, event)
}

// EventHandler handles incoming events
type EventHandler struct {
	onSaleCreated       func(context.Context, *models.SaleCreatedEvent) error
	onSaleUpdated       func(context.Context, *models.SaleUpdatedEvent) error
	onSaleDeleted       func(context.Context, *models.SaleDeletedEvent) error
	onMovementCompleted func(context.Context, *models.MovementCompletedEvent) error
	logger              *zap.Logger
}

// NewEventHandler creates a new event handler
func NewEventHandler() *EventHandler {
	return &EventHandler{logger: util.GetLogger()}
}

// OnSaleCreated registers a handler for SaleCreated events
func (eh *EventHandler) OnSaleCreated(handler func(context.Context, *models.SaleCreatedEvent) error) {
	eh.onSaleCreated = handler
}

// OnSaleUpdated registers a handler for SaleUpdated events
func (eh *EventHandler) OnSaleUpdated(handler func(context.Context, *models.SaleUpdatedEvent) error) {
	eh.onSaleUpdated = handler
}

// OnSaleDeleted registers a handler for SaleDeleted events
func (eh *EventHandler) OnSaleDeleted(handler func(context.Context, *models.SaleDeletedEvent) error) {
	eh.onSaleDeleted = handler
}

// OnMovementCompleted registers a handler for MovementCompleted events
func (eh *EventHandler) OnMovementCompleted(handler func(context.Context, *models.MovementCompletedEvent) error) {
	eh.onMovementCompleted = handler
}

// HandleMessage routes messages to appropriate handlers
func (eh *EventHandler) HandleMessage(ctx context.Context, msg kafka.Message) error {
	var baseEvent models.BaseEvent
	if err := json.Unmarshal(msg.Value, &baseEvent); err != nil {
		return fmt.Errorf("failed to unmarshal base event: %w", err)
	}

	eh.logger.Debug("Handling event",
		zap.String("type", baseEvent.EventType),
		zap.String("id", baseEvent.EventID))

	switch baseEvent.EventType {
	case models.EventTypeSaleCreated:
		if eh.onSaleCreated != nil {
			var event models.SaleCreatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleCreated event: %w", err)
			}
			return eh.onSaleCreated(ctx, &event)
		}

	case models.EventTypeSaleUpdated:
		if eh.onSaleUpdated != nil {
			var event models.SaleUpdatedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleUpdated event: %w", err)
			}
			return eh.onSaleUpdated(ctx, &event)
		}

	case models.EventTypeSaleDeleted:
		if eh.onSaleDeleted != nil {
			var event models.SaleDeletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal SaleDeleted event: %w", err)
			}
			return eh.onSaleDeleted(ctx, &event)
		}

	case models.EventTypeMovementCompleted:
		if eh.onMovementCompleted != nil {
			var event models.MovementCompletedEvent
			if err := json.Unmarshal(msg.Value, &event); err != nil {
				return fmt.Errorf("failed to unmarshal MovementCompleted event: %w", err)
			}
			return eh.onMovementCompleted(ctx, &event)
		}

	default:
		eh.logger.Debug("Unhandled event type", zap.String("type", baseEvent.EventType))
	}

	return nil
}
