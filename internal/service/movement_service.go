package service

import (
	"context"
	"encoding/json"
	"fmt"

	"inventory-service/internal/models"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// MovementStore is the persistence surface the movement service drives.
// Every Complete method claims the pending status and executes the movement
// in one transaction; see the store package for the locking contract.
type MovementStore interface {
	GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error)
	CreateMovement(ctx context.Context, m *models.StockMovement) error
	GetMovement(ctx context.Context, ownerID string, id int64) (*models.StockMovement, error)
	ListMovements(ctx context.Context, ownerID string, f models.MovementFilter) ([]models.StockMovement, int64, error)
	CompleteQuantityMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error)
	CompleteEditMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error)
	CompleteCreateMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error)
	CompleteDeleteMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, []string, error)
	RejectMovement(ctx context.Context, ownerID string, movementID int64, actor, reason string, to models.MovementStatus) (*models.StockMovement, error)
	ListDamageRecords(ctx context.Context, ownerID string, productID *int64) ([]models.DamageRecord, error)
}

// MovementService runs the approval state machine for stock movements. One
// generic approve/reject flow, with per-kind execution behind the executor
// registry, replaces what would otherwise be a handler pair per kind.
type MovementService struct {
	store     MovementStore
	cache     StockCache
	publisher EventPublisher
	logger    *zap.Logger
	executors map[models.MovementKind]movementExecutor
}

type movementExecutor func(ctx context.Context, m *models.StockMovement, approvedBy string) (*MovementResult, error)

// MovementResult is the outcome of an executed movement: the terminal
// movement row, the affected product where one survives, and for deletes the
// per-dependent cleanup notes.
type MovementResult struct {
	Movement     *models.StockMovement `json:"movement"`
	Product      *models.Product       `json:"product,omitempty"`
	CleanupNotes []string              `json:"cleanup_notes,omitempty"`
}

// NewMovementService creates a new movement service
func NewMovementService(store MovementStore, cache StockCache, publisher EventPublisher) *MovementService {
	s := &MovementService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
	s.executors = map[models.MovementKind]movementExecutor{
		models.MovementNewStock:      s.executeQuantity,
		models.MovementCorrection:    s.executeQuantity,
		models.MovementDamage:        s.executeQuantity,
		models.MovementProductEdit:   s.executeEdit,
		models.MovementProductCreate: s.executeCreate,
		models.MovementProductDelete: s.executeDelete,
	}
	return s
}

// CreateMovementRequest represents a request to propose a stock or catalog
// change. Kind decides which fields matter.
type CreateMovementRequest struct {
	Kind      models.MovementKind   `json:"kind" binding:"required"`
	ProductID *int64                `json:"product_id,omitempty"`
	BoxDelta  int64                 `json:"box_delta,omitempty"`
	KgDelta   decimal.Decimal       `json:"kg_delta,omitempty"`
	Field     string                `json:"field_changed,omitempty"`
	NewValue  string                `json:"new_value,omitempty"`
	Product   *models.StagedProduct `json:"product,omitempty"`
	Reason    string                `json:"reason" binding:"required"`
}

// CreateMovement validates the kind-specific payload and persists the
// movement as pending. The ledger is not touched until approval.
func (s *MovementService) CreateMovement(ctx context.Context, ownerID, requestedBy string, req *CreateMovementRequest) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "MovementService.CreateMovement")
	defer span.End()

	m, err := s.buildMovement(ctx, ownerID, requestedBy, req)
	if err != nil {
		return nil, err
	}

	if err := s.store.CreateMovement(ctx, m); err != nil {
		return nil, fmt.Errorf("failed to create movement: %w", err)
	}

	util.MovementsCreatedTotal.WithLabelValues(string(m.Kind)).Inc()
	s.logger.Info("Movement created",
		zap.Int64("movement_id", m.ID),
		zap.String("kind", string(m.Kind)),
		zap.String("requested_by", requestedBy))

	event := &models.MovementCreatedEvent{
		BaseEvent:   newBaseEvent(models.EventTypeMovementCreated, ownerID),
		MovementID:  m.ID,
		ProductID:   m.ProductID,
		Kind:        m.Kind,
		RequestedBy: requestedBy,
	}
	if err := s.publisher.PublishMovementCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish MovementCreated event", zap.Error(err))
	}

	return m, nil
}

func (s *MovementService) buildMovement(ctx context.Context, ownerID, requestedBy string, req *CreateMovementRequest) (*models.StockMovement, error) {
	if !req.Kind.Valid() {
		return nil, validationf("unknown movement kind %q", req.Kind)
	}
	if req.Reason == "" {
		return nil, validationf("reason is required")
	}

	m := &models.StockMovement{
		OwnerID:     ownerID,
		Kind:        req.Kind,
		Reason:      req.Reason,
		RequestedBy: requestedBy,
	}

	switch {
	case req.Kind.IsQuantityKind():
		if req.ProductID == nil {
			return nil, validationf("product_id is required for %s movements", req.Kind)
		}
		if req.BoxDelta == 0 && req.KgDelta.IsZero() {
			return nil, validationf("box_delta or kg_delta must be nonzero")
		}
		switch req.Kind {
		case models.MovementNewStock:
			if req.BoxDelta < 0 || req.KgDelta.IsNegative() {
				return nil, validationf("new_stock deltas must not be negative")
			}
		case models.MovementDamage:
			if req.BoxDelta > 0 || req.KgDelta.IsPositive() {
				return nil, validationf("damage deltas must not be positive")
			}
		}
		if _, err := s.store.GetProduct(ctx, ownerID, *req.ProductID); err != nil {
			return nil, err
		}
		m.ProductID = req.ProductID
		m.BoxDelta = req.BoxDelta
		m.KgDelta = req.KgDelta

	case req.Kind == models.MovementProductEdit:
		if req.ProductID == nil {
			return nil, validationf("product_id is required for product_edit movements")
		}
		numeric, ok := models.EditableProductField(req.Field)
		if !ok {
			return nil, validationf("field %q is not editable", req.Field)
		}
		if req.NewValue == "" {
			return nil, validationf("new_value is required")
		}
		if numeric {
			v, err := decimal.NewFromString(req.NewValue)
			if err != nil {
				return nil, validationf("field %s wants a numeric value, got %q", req.Field, req.NewValue)
			}
			if req.Field == "box_to_kg_ratio" && !v.IsPositive() {
				return nil, validationf("box_to_kg_ratio must be positive")
			}
			if v.IsNegative() {
				return nil, validationf("field %s must not be negative", req.Field)
			}
		}
		product, err := s.store.GetProduct(ctx, ownerID, *req.ProductID)
		if err != nil {
			return nil, err
		}
		old := currentFieldValue(product, req.Field)
		m.ProductID = req.ProductID
		m.FieldChanged = &req.Field
		m.OldValue = &old
		m.NewValue = &req.NewValue

	case req.Kind == models.MovementProductCreate:
		if req.Product == nil {
			return nil, validationf("product payload is required for product_create movements")
		}
		if err := validateStagedProduct(req.Product); err != nil {
			return nil, err
		}
		raw, err := json.Marshal(req.Product)
		if err != nil {
			return nil, fmt.Errorf("failed to encode staged product: %w", err)
		}
		field, value := "product", string(raw)
		m.FieldChanged = &field
		m.NewValue = &value

	case req.Kind == models.MovementProductDelete:
		if req.ProductID == nil {
			return nil, validationf("product_id is required for product_delete movements")
		}
		product, err := s.store.GetProduct(ctx, ownerID, *req.ProductID)
		if err != nil {
			return nil, err
		}
		// Snapshot the product into old_value so the audit trail still
		// describes it after the row is gone.
		raw, err := json.Marshal(product)
		if err != nil {
			return nil, fmt.Errorf("failed to encode product snapshot: %w", err)
		}
		field, old := "product", string(raw)
		m.ProductID = req.ProductID
		m.FieldChanged = &field
		m.OldValue = &old
	}

	return m, nil
}

func validateStagedProduct(p *models.StagedProduct) error {
	if p.Name == "" {
		return validationf("product name is required")
	}
	if p.LooseKg.IsNegative() || p.Boxes < 0 {
		return validationf("product quantities must not be negative")
	}
	if !p.BoxToKgRatio.IsPositive() {
		return validationf("box_to_kg_ratio must be positive")
	}
	if p.BoxPrice.IsNegative() || p.KgPrice.IsNegative() || p.CostPerKg.IsNegative() || p.LowStockKg.IsNegative() {
		return validationf("product prices and thresholds must not be negative")
	}
	return nil
}

func currentFieldValue(p *models.Product, field string) string {
	switch field {
	case "name":
		return p.Name
	case "box_price":
		return p.BoxPrice.String()
	case "kg_price":
		return p.KgPrice.String()
	case "cost_per_kg":
		return p.CostPerKg.String()
	case "box_to_kg_ratio":
		return p.BoxToKgRatio.String()
	case "low_stock_kg":
		return p.LowStockKg.String()
	}
	return ""
}

// Approve executes a pending movement exactly once. The executor claims the
// pending status and applies the kind's effect in a single transaction; a
// movement already in a terminal state surfaces store.ErrAlreadyProcessed
// and leaves the ledger alone.
func (s *MovementService) Approve(ctx context.Context, ownerID, approverID string, movementID int64) (*MovementResult, error) {
	ctx, span := util.StartSpan(ctx, "MovementService.Approve")
	defer span.End()

	m, err := s.store.GetMovement(ctx, ownerID, movementID)
	if err != nil {
		return nil, err
	}
	execute, ok := s.executors[m.Kind]
	if !ok {
		return nil, fmt.Errorf("no executor registered for movement kind %q", m.Kind)
	}

	result, err := execute(ctx, m, approverID)
	if err != nil {
		return nil, err
	}

	util.MovementsCompletedTotal.WithLabelValues(string(m.Kind)).Inc()
	s.logger.Info("Movement completed",
		zap.Int64("movement_id", movementID),
		zap.String("kind", string(m.Kind)),
		zap.String("approved_by", approverID))

	event := &models.MovementCompletedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeMovementCompleted, ownerID),
		MovementID: movementID,
		ProductID:  result.Movement.ProductID,
		Kind:       m.Kind,
		ApprovedBy: approverID,
	}
	if result.Product != nil {
		lvl := stockLevel(result.Product)
		event.Stock = &lvl
	}
	if err := s.publisher.PublishMovementCompleted(ctx, event); err != nil {
		s.logger.Error("Failed to publish MovementCompleted event", zap.Error(err))
	}

	return result, nil
}

// Reject transitions a pending movement to rejected. Requires a reason,
// which is appended to the movement's reason for audit. Never touches the
// ledger.
func (s *MovementService) Reject(ctx context.Context, ownerID, approverID string, movementID int64, reason string) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "MovementService.Reject")
	defer span.End()

	if reason == "" {
		return nil, validationf("a reason is required to reject a movement")
	}

	m, err := s.store.RejectMovement(ctx, ownerID, movementID, approverID, "rejected: "+reason, models.MovementRejected)
	if err != nil {
		return nil, err
	}

	util.MovementsRejectedTotal.WithLabelValues(string(models.MovementRejected)).Inc()
	s.logger.Info("Movement rejected",
		zap.Int64("movement_id", movementID),
		zap.String("rejected_by", approverID))

	s.publishRejected(ctx, m, reason)
	return m, nil
}

// Cancel lets the original requester withdraw their own pending movement.
// Same first-wins transition as rejection, distinct terminal status.
func (s *MovementService) Cancel(ctx context.Context, ownerID, requesterID string, movementID int64) (*models.StockMovement, error) {
	ctx, span := util.StartSpan(ctx, "MovementService.Cancel")
	defer span.End()

	current, err := s.store.GetMovement(ctx, ownerID, movementID)
	if err != nil {
		return nil, err
	}
	if current.RequestedBy != requesterID {
		return nil, validationf("only the requester may cancel a movement")
	}

	m, err := s.store.RejectMovement(ctx, ownerID, movementID, requesterID, "cancelled by requester", models.MovementCancelled)
	if err != nil {
		return nil, err
	}

	util.MovementsRejectedTotal.WithLabelValues(string(models.MovementCancelled)).Inc()
	s.logger.Info("Movement cancelled",
		zap.Int64("movement_id", movementID),
		zap.String("requested_by", requesterID))

	s.publishRejected(ctx, m, "cancelled by requester")
	return m, nil
}

func (s *MovementService) publishRejected(ctx context.Context, m *models.StockMovement, reason string) {
	event := &models.MovementRejectedEvent{
		BaseEvent:  newBaseEvent(models.EventTypeMovementRejected, m.OwnerID),
		MovementID: m.ID,
		Kind:       m.Kind,
		Status:     m.Status,
		Reason:     reason,
	}
	if err := s.publisher.PublishMovementRejected(ctx, event); err != nil {
		s.logger.Error("Failed to publish MovementRejected event", zap.Error(err))
	}
}

// executeQuantity applies new_stock, stock_correction and damage movements.
func (s *MovementService) executeQuantity(ctx context.Context, m *models.StockMovement, approvedBy string) (*MovementResult, error) {
	movement, product, err := s.store.CompleteQuantityMovement(ctx, m.OwnerID, m.ID, approvedBy)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx, product)
	return &MovementResult{Movement: movement, Product: product}, nil
}

// executeEdit applies product_edit movements.
func (s *MovementService) executeEdit(ctx context.Context, m *models.StockMovement, approvedBy string) (*MovementResult, error) {
	movement, product, err := s.store.CompleteEditMovement(ctx, m.OwnerID, m.ID, approvedBy)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx, product)
	return &MovementResult{Movement: movement, Product: product}, nil
}

// executeCreate materializes product_create movements.
func (s *MovementService) executeCreate(ctx context.Context, m *models.StockMovement, approvedBy string) (*MovementResult, error) {
	movement, product, err := s.store.CompleteCreateMovement(ctx, m.OwnerID, m.ID, approvedBy)
	if err != nil {
		return nil, err
	}
	s.refreshSnapshot(ctx, product)
	return &MovementResult{Movement: movement, Product: product}, nil
}

// executeDelete runs product_delete movements and their ordered cascade.
func (s *MovementService) executeDelete(ctx context.Context, m *models.StockMovement, approvedBy string) (*MovementResult, error) {
	if m.ProductID == nil {
		return nil, fmt.Errorf("movement %d has no product", m.ID)
	}
	productID := *m.ProductID

	movement, notes, err := s.store.CompleteDeleteMovement(ctx, m.OwnerID, m.ID, approvedBy)
	if err != nil {
		return nil, err
	}

	for _, note := range notes {
		s.logger.Info("Product delete cleanup",
			zap.Int64("movement_id", m.ID),
			zap.Int64("product_id", productID),
			zap.String("note", note))
	}
	if err := s.cache.DeleteStockSnapshot(ctx, productID); err != nil {
		s.logger.Warn("Failed to drop stock snapshot",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	return &MovementResult{Movement: movement, CleanupNotes: notes}, nil
}

func (s *MovementService) refreshSnapshot(ctx context.Context, product *models.Product) {
	if err := s.cache.SetStockSnapshot(ctx, product); err != nil {
		s.logger.Warn("Failed to refresh stock snapshot",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}
}

// GetMovement retrieves a movement by ID
func (s *MovementService) GetMovement(ctx context.Context, ownerID string, movementID int64) (*models.StockMovement, error) {
	return s.store.GetMovement(ctx, ownerID, movementID)
}

// ListMovements retrieves movements matching the filter with the total count
func (s *MovementService) ListMovements(ctx context.Context, ownerID string, f models.MovementFilter) ([]models.StockMovement, int64, error) {
	ctx, span := util.StartSpan(ctx, "MovementService.ListMovements")
	defer span.End()
	return s.store.ListMovements(ctx, ownerID, f)
}

// ListDamageRecords retrieves damage loss records, optionally per product
func (s *MovementService) ListDamageRecords(ctx context.Context, ownerID string, productID *int64) ([]models.DamageRecord, error) {
	return s.store.ListDamageRecords(ctx, ownerID, productID)
}
