package worker

import (
	"context"
	"time"

	"inventory-service/internal/broker"
	"inventory-service/internal/models"
	"inventory-service/internal/redisclient"
	"inventory-service/internal/util"

	"go.uber.org/zap"
)

// AlertWorker watches stock levels on the event stream and raises a low
// stock alert when a product's total falls to or below its threshold. A
// per-product cooldown in redis keeps one shortage from alerting on every
// subsequent sale.
type AlertWorker struct {
	consumer     *broker.Consumer
	eventHandler *broker.EventHandler
	redis        *redisclient.Client
	cooldown     time.Duration
	logger       *zap.Logger
}

// NewAlertWorker creates a new alert worker
func NewAlertWorker(consumer *broker.Consumer, redis *redisclient.Client, cooldown time.Duration) *AlertWorker {
	w := &AlertWorker{
		consumer: consumer,
		redis:    redis,
		cooldown: cooldown,
		logger:   util.GetLogger(),
	}

	eventHandler := broker.NewEventHandler()
	eventHandler.OnSaleCreated(func(ctx context.Context, e *models.SaleCreatedEvent) error {
		return w.checkLevel(ctx, e.Stock)
	})
	eventHandler.OnSaleUpdated(func(ctx context.Context, e *models.SaleUpdatedEvent) error {
		if e.Stock == nil {
			return nil
		}
		return w.checkLevel(ctx, *e.Stock)
	})
	eventHandler.OnSaleDeleted(func(ctx context.Context, e *models.SaleDeletedEvent) error {
		return w.checkLevel(ctx, e.Stock)
	})
	eventHandler.OnMovementCompleted(func(ctx context.Context, e *models.MovementCompletedEvent) error {
		if e.Stock == nil {
			return nil
		}
		return w.checkLevel(ctx, *e.Stock)
	})
	w.eventHandler = eventHandler

	return w
}

// checkLevel raises or re-arms the low stock alert for one product. Always
// returns nil: alerting must never hold up event consumption.
func (w *AlertWorker) checkLevel(ctx context.Context, lvl models.StockLevel) error {
	if !lvl.LowStockKg.IsPositive() {
		return nil
	}

	if lvl.TotalKg.GreaterThan(lvl.LowStockKg) {
		// back above the threshold, re-arm so the next shortage alerts
		if err := w.redis.ClearAlertCooldown(ctx, lvl.ProductID); err != nil {
			w.logger.Warn("Failed to clear alert cooldown",
				zap.Int64("product_id", lvl.ProductID),
				zap.Error(err))
		}
		return nil
	}

	acquired, err := w.redis.AcquireAlertCooldown(ctx, lvl.ProductID, w.cooldown)
	if err != nil {
		w.logger.Warn("Failed to acquire alert cooldown",
			zap.Int64("product_id", lvl.ProductID),
			zap.Error(err))
		return nil
	}
	if !acquired {
		return nil
	}

	util.LowStockAlertsTotal.Inc()
	w.logger.Warn("Low stock alert",
		zap.Int64("product_id", lvl.ProductID),
		zap.String("name", lvl.Name),
		zap.String("total_kg", lvl.TotalKg.String()),
		zap.String("threshold_kg", lvl.LowStockKg.String()))
	return nil
}

// Start starts the worker
func (w *AlertWorker) Start(ctx context.Context) error {
	w.logger.Info("Starting low stock alert worker")
	return w.consumer.StartConsuming(ctx, w.eventHandler.HandleMessage)
}

// Stop stops the worker
func (w *AlertWorker) Stop() error {
	w.logger.Info("Stopping low stock alert worker")
	return w.consumer.Close()
}
