package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"inventory-service/internal/models"
	"inventory-service/internal/stock"
	"inventory-service/internal/store"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// SaleStore is the persistence surface the sale service drives. Sale
// creation allocates and deducts stock in one transaction; audits follow the
// same claim-then-execute contract as movements.
type SaleStore interface {
	GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error)
	CreateSaleAllocated(ctx context.Context, sale *models.Sale, req stock.Request) (*stock.Plan, *models.Product, error)
	GetSale(ctx context.Context, ownerID string, id int64) (*models.Sale, error)
	ListSales(ctx context.Context, ownerID string, f models.SaleFilter) ([]models.Sale, int64, error)
	CreateSaleAudit(ctx context.Context, a *models.SaleAudit) error
	GetSaleAudit(ctx context.Context, ownerID string, id int64) (*models.SaleAudit, error)
	ListSaleAudits(ctx context.Context, ownerID string, f models.AuditFilter) ([]models.SaleAudit, int64, error)
	ApproveQuantityAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error)
	ApprovePaymentMethodAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, error)
	ApproveDeletionAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error)
	RejectSaleAudit(ctx context.Context, ownerID string, auditID int64, actor, reason string) (*models.SaleAudit, error)
}

// SaleService creates sales synchronously and runs the audit approval flow
// for sale edits and deletions.
type SaleService struct {
	store     SaleStore
	cache     StockCache
	publisher EventPublisher
	logger    *zap.Logger
}

// NewSaleService creates a new sale service
func NewSaleService(store SaleStore, cache StockCache, publisher EventPublisher) *SaleService {
	return &SaleService{
		store:     store,
		cache:     cache,
		publisher: publisher,
		logger:    util.GetLogger(),
	}
}

// CreateSaleRequest represents a request to sell boxes and loose kilograms
// of a product.
type CreateSaleRequest struct {
	ProductID     int64                `json:"product_id" binding:"required"`
	BoxesQuantity int64                `json:"boxes_quantity"`
	KgQuantity    decimal.Decimal      `json:"kg_quantity"`
	PaymentStatus models.PaymentStatus `json:"payment_status" binding:"required"`
	PaymentMethod string               `json:"payment_method" binding:"required"`
	AmountPaid    decimal.Decimal      `json:"amount_paid"`
	ClientName    *string              `json:"client_name,omitempty"`
}

// CreateSaleResponse carries the recorded sale, how the stock was drawn to
// fill it, and the product's stock level afterwards.
type CreateSaleResponse struct {
	Status     string            `json:"status"`
	Sale       *models.Sale      `json:"sale"`
	Allocation *stock.Plan       `json:"allocation"`
	Stock      models.StockLevel `json:"stock"`
}

// CreateSale records a sale and deducts its stock in one transaction. Unlike
// movements, sales take effect immediately; only later changes to them go
// through approval.
func (s *SaleService) CreateSale(ctx context.Context, ownerID, soldBy string, req *CreateSaleRequest) (*CreateSaleResponse, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.CreateSale")
	defer span.End()

	if req.BoxesQuantity < 0 || req.KgQuantity.IsNegative() {
		return nil, validationf("quantities must not be negative")
	}
	if req.BoxesQuantity == 0 && req.KgQuantity.IsZero() {
		return nil, validationf("a sale needs at least one box or a kg amount")
	}
	if !req.PaymentStatus.Valid() {
		return nil, validationf("unknown payment status %q", req.PaymentStatus)
	}
	if req.PaymentMethod == "" {
		return nil, validationf("payment_method is required")
	}

	product, err := s.store.GetProduct(ctx, ownerID, req.ProductID)
	if err != nil {
		return nil, err
	}

	total := req.KgQuantity.Mul(product.KgPrice).
		Add(decimal.NewFromInt(req.BoxesQuantity).Mul(product.BoxPrice))
	amountPaid, remaining, err := settlePayment(req, total)
	if err != nil {
		return nil, err
	}

	sale := &models.Sale{
		OwnerID:         ownerID,
		ProductID:       product.ID,
		BoxesQuantity:   req.BoxesQuantity,
		KgQuantity:      req.KgQuantity,
		BoxPrice:        product.BoxPrice,
		KgPrice:         product.KgPrice,
		TotalAmount:     total,
		AmountPaid:      amountPaid,
		RemainingAmount: remaining,
		PaymentStatus:   req.PaymentStatus,
		PaymentMethod:   req.PaymentMethod,
		ClientName:      req.ClientName,
		SoldBy:          soldBy,
	}

	start := time.Now()
	plan, product, err := s.store.CreateSaleAllocated(ctx, sale, stock.Request{
		Boxes: req.BoxesQuantity,
		Kg:    req.KgQuantity,
	})
	util.AllocationLatency.Observe(time.Since(start).Seconds())
	if err != nil {
		var shortage *stock.InsufficientStockError
		switch {
		case errors.As(err, &shortage):
			util.InsufficientStockTotal.Inc()
			util.SalesFailedTotal.WithLabelValues("insufficient_stock").Inc()
			s.logger.Warn("Sale rejected for insufficient stock",
				zap.Int64("product_id", req.ProductID),
				zap.String("shortage_kg", shortage.ShortageKg.String()))
		case errors.Is(err, stock.ErrInvalidRequest), errors.Is(err, stock.ErrInvalidRatio):
			util.SalesFailedTotal.WithLabelValues("invalid_request").Inc()
		case errors.Is(err, store.ErrNotFound):
			util.SalesFailedTotal.WithLabelValues("not_found").Inc()
		default:
			util.SalesFailedTotal.WithLabelValues("internal").Inc()
		}
		return nil, err
	}

	util.SalesCreatedTotal.Inc()
	s.logger.Info("Sale created",
		zap.Int64("sale_id", sale.ID),
		zap.Int64("product_id", product.ID),
		zap.Int64("boxes", sale.BoxesQuantity),
		zap.String("kg", sale.KgQuantity.String()),
		zap.String("total", sale.TotalAmount.String()),
		zap.String("sold_by", soldBy))

	s.refreshSnapshot(ctx, product)

	event := &models.SaleCreatedEvent{
		BaseEvent:     newBaseEvent(models.EventTypeSaleCreated, ownerID),
		SaleID:        sale.ID,
		ProductID:     product.ID,
		BoxesQuantity: sale.BoxesQuantity,
		KgQuantity:    sale.KgQuantity,
		TotalAmount:   sale.TotalAmount,
		PaymentStatus: sale.PaymentStatus,
		SoldBy:        soldBy,
		Stock:         stockLevel(product),
	}
	if err := s.publisher.PublishSaleCreated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleCreated event", zap.Error(err))
	}

	return &CreateSaleResponse{
		Status:     "created",
		Sale:       sale,
		Allocation: plan,
		Stock:      stockLevel(product),
	}, nil
}

// settlePayment derives the paid and remaining amounts from the declared
// payment status and checks their consistency.
func settlePayment(req *CreateSaleRequest, total decimal.Decimal) (paid, remaining decimal.Decimal, err error) {
	switch req.PaymentStatus {
	case models.PaymentPaid:
		if !req.AmountPaid.IsZero() && !req.AmountPaid.Equal(total) {
			return paid, remaining, validationf("amount_paid must equal the total %s for a paid sale", total)
		}
		return total, decimal.Zero, nil

	case models.PaymentPending:
		if !req.AmountPaid.IsZero() {
			return paid, remaining, validationf("amount_paid must be zero for a pending sale")
		}
		if req.ClientName == nil || *req.ClientName == "" {
			return paid, remaining, validationf("client_name is required when payment is outstanding")
		}
		return decimal.Zero, total, nil

	case models.PaymentPartial:
		if !req.AmountPaid.IsPositive() || req.AmountPaid.GreaterThanOrEqual(total) {
			return paid, remaining, validationf("a partial payment must be between zero and the total %s", total)
		}
		if req.ClientName == nil || *req.ClientName == "" {
			return paid, remaining, validationf("client_name is required when payment is outstanding")
		}
		return req.AmountPaid, total.Sub(req.AmountPaid), nil
	}
	return paid, remaining, validationf("unknown payment status %q", req.PaymentStatus)
}

// EditSaleRequest proposes changes to an existing sale. Quantity changes take
// precedence when classifying the audit; a payment method sent alongside them
// rides along in the new snapshot.
type EditSaleRequest struct {
	BoxesQuantity *int64           `json:"boxes_quantity,omitempty"`
	KgQuantity    *decimal.Decimal `json:"kg_quantity,omitempty"`
	PaymentMethod *string          `json:"payment_method,omitempty"`
	Reason        string           `json:"reason" binding:"required"`
}

// RequestEdit stages a sale change as a pending audit. The sale and the
// ledger stay untouched until an approver acts.
func (s *SaleService) RequestEdit(ctx context.Context, ownerID, requestedBy string, saleID int64, req *EditSaleRequest) (*models.SaleAudit, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.RequestEdit")
	defer span.End()

	if req.Reason == "" {
		return nil, validationf("reason is required")
	}

	sale, err := s.store.GetSale(ctx, ownerID, saleID)
	if err != nil {
		return nil, err
	}

	newBoxes := sale.BoxesQuantity
	if req.BoxesQuantity != nil {
		newBoxes = *req.BoxesQuantity
	}
	newKg := sale.KgQuantity
	if req.KgQuantity != nil {
		newKg = *req.KgQuantity
	}
	newMethod := sale.PaymentMethod
	if req.PaymentMethod != nil {
		newMethod = *req.PaymentMethod
	}

	quantityChanged := newBoxes != sale.BoxesQuantity || !newKg.Equal(sale.KgQuantity)
	methodChanged := newMethod != sale.PaymentMethod
	if !quantityChanged && !methodChanged {
		return nil, ErrNoChange
	}
	if newMethod == "" {
		return nil, validationf("payment_method must not be empty")
	}

	audit := &models.SaleAudit{
		OwnerID:     ownerID,
		SaleID:      &sale.ID,
		AuditType:   models.AuditPaymentMethodChange,
		Reason:      req.Reason,
		RequestedBy: requestedBy,
	}
	newSnap := models.SnapshotSale(sale)
	newSnap.PaymentMethod = newMethod

	if quantityChanged {
		if newBoxes < 0 || newKg.IsNegative() {
			return nil, validationf("quantities must not be negative")
		}
		if newBoxes == 0 && newKg.IsZero() {
			return nil, validationf("a sale needs at least one box or a kg amount; request a deletion instead")
		}

		newTotal := newKg.Mul(sale.KgPrice).
			Add(decimal.NewFromInt(newBoxes).Mul(sale.BoxPrice))

		// A paid sale stays settled at the corrected total, and a pending one
		// keeps the whole amount outstanding. A partial payment carries over
		// and must not exceed the corrected total.
		amountPaid := sale.AmountPaid
		switch sale.PaymentStatus {
		case models.PaymentPaid:
			amountPaid = newTotal
		case models.PaymentPartial:
			if amountPaid.GreaterThan(newTotal) {
				return nil, validationf("amount already paid %s exceeds the new total %s", amountPaid, newTotal)
			}
		}
		remaining := newTotal.Sub(amountPaid)

		newSnap.BoxesQuantity = newBoxes
		newSnap.KgQuantity = newKg
		newSnap.TotalAmount = newTotal
		newSnap.AmountPaid = amountPaid
		newSnap.RemainingAmount = remaining
		newSnap.PaymentStatus = paymentStatusFor(amountPaid, remaining)

		audit.AuditType = models.AuditQuantityChange
		audit.BoxesChange = newBoxes - sale.BoxesQuantity
		audit.KgChange = newKg.Sub(sale.KgQuantity)
	}

	oldValues, err := json.Marshal(models.SnapshotSale(sale))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale snapshot: %w", err)
	}
	newValues, err := json.Marshal(newSnap)
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale snapshot: %w", err)
	}
	audit.OldValues = oldValues
	audit.NewValues = newValues

	if err := s.store.CreateSaleAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("failed to create sale audit: %w", err)
	}

	util.SaleAuditsCreatedTotal.WithLabelValues(string(audit.AuditType)).Inc()
	s.logger.Info("Sale audit created",
		zap.Int64("audit_id", audit.ID),
		zap.Int64("sale_id", sale.ID),
		zap.String("type", string(audit.AuditType)),
		zap.String("requested_by", requestedBy))

	return audit, nil
}

func paymentStatusFor(amountPaid, remaining decimal.Decimal) models.PaymentStatus {
	switch {
	case remaining.IsZero():
		return models.PaymentPaid
	case amountPaid.IsZero():
		return models.PaymentPending
	}
	return models.PaymentPartial
}

// RequestDelete stages a sale deletion as a pending audit. Approval removes
// the sale and restores its quantities to stock.
func (s *SaleService) RequestDelete(ctx context.Context, ownerID, requestedBy string, saleID int64, reason string) (*models.SaleAudit, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.RequestDelete")
	defer span.End()

	if reason == "" {
		return nil, validationf("reason is required")
	}

	sale, err := s.store.GetSale(ctx, ownerID, saleID)
	if err != nil {
		return nil, err
	}

	oldValues, err := json.Marshal(models.SnapshotSale(sale))
	if err != nil {
		return nil, fmt.Errorf("failed to encode sale snapshot: %w", err)
	}
	audit := &models.SaleAudit{
		OwnerID:     ownerID,
		SaleID:      &sale.ID,
		AuditType:   models.AuditDeletion,
		OldValues:   oldValues,
		Reason:      reason,
		RequestedBy: requestedBy,
	}

	if err := s.store.CreateSaleAudit(ctx, audit); err != nil {
		return nil, fmt.Errorf("failed to create sale audit: %w", err)
	}

	util.SaleAuditsCreatedTotal.WithLabelValues(string(models.AuditDeletion)).Inc()
	s.logger.Info("Sale deletion requested",
		zap.Int64("audit_id", audit.ID),
		zap.Int64("sale_id", sale.ID),
		zap.String("requested_by", requestedBy))

	return audit, nil
}

// AuditResult is the outcome of an approved sale audit. Sale is absent for
// deletions; Stock is absent when the audit did not touch the ledger.
type AuditResult struct {
	Audit *models.SaleAudit  `json:"audit"`
	Sale  *models.Sale       `json:"sale,omitempty"`
	Stock *models.StockLevel `json:"stock,omitempty"`
}

// ApproveAudit executes a pending sale audit exactly once. Quantity changes
// restore the sale's stock and reallocate the new quantities; deletions
// restore stock outright; payment method changes never touch the ledger.
func (s *SaleService) ApproveAudit(ctx context.Context, ownerID, approverID string, auditID int64) (*AuditResult, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.ApproveAudit")
	defer span.End()

	a, err := s.store.GetSaleAudit(ctx, ownerID, auditID)
	if err != nil {
		return nil, err
	}

	var result *AuditResult
	switch a.AuditType {
	case models.AuditQuantityChange:
		audit, sale, product, err := s.store.ApproveQuantityAudit(ctx, ownerID, auditID, approverID)
		if err != nil {
			return nil, err
		}
		s.refreshSnapshot(ctx, product)
		lvl := stockLevel(product)
		s.publishSaleUpdated(ctx, audit, sale.ID, &lvl)
		result = &AuditResult{Audit: audit, Sale: sale, Stock: &lvl}

	case models.AuditPaymentMethodChange:
		audit, sale, err := s.store.ApprovePaymentMethodAudit(ctx, ownerID, auditID, approverID)
		if err != nil {
			return nil, err
		}
		s.publishSaleUpdated(ctx, audit, sale.ID, nil)
		result = &AuditResult{Audit: audit, Sale: sale}

	case models.AuditDeletion:
		audit, sale, product, err := s.store.ApproveDeletionAudit(ctx, ownerID, auditID, approverID)
		if err != nil {
			return nil, err
		}
		s.refreshSnapshot(ctx, product)
		event := &models.SaleDeletedEvent{
			BaseEvent:     newBaseEvent(models.EventTypeSaleDeleted, ownerID),
			SaleID:        sale.ID,
			AuditID:       audit.ID,
			BoxesRestored: sale.BoxesQuantity,
			KgRestored:    sale.KgQuantity,
			Stock:         stockLevel(product),
		}
		if err := s.publisher.PublishSaleDeleted(ctx, event); err != nil {
			s.logger.Error("Failed to publish SaleDeleted event", zap.Error(err))
		}
		lvl := stockLevel(product)
		result = &AuditResult{Audit: audit, Stock: &lvl}

	default:
		return nil, fmt.Errorf("unknown audit type %q", a.AuditType)
	}

	util.SaleAuditsApprovedTotal.WithLabelValues(string(a.AuditType)).Inc()
	s.logger.Info("Sale audit approved",
		zap.Int64("audit_id", auditID),
		zap.String("type", string(a.AuditType)),
		zap.String("approved_by", approverID))

	return result, nil
}

func (s *SaleService) publishSaleUpdated(ctx context.Context, audit *models.SaleAudit, saleID int64, lvl *models.StockLevel) {
	event := &models.SaleUpdatedEvent{
		BaseEvent: newBaseEvent(models.EventTypeSaleUpdated, audit.OwnerID),
		SaleID:    saleID,
		AuditID:   audit.ID,
		AuditType: audit.AuditType,
		Stock:     lvl,
	}
	if err := s.publisher.PublishSaleUpdated(ctx, event); err != nil {
		s.logger.Error("Failed to publish SaleUpdated event", zap.Error(err))
	}
}

// RejectAudit transitions a pending sale audit to rejected. Requires a
// reason. Never touches the sale or the ledger.
func (s *SaleService) RejectAudit(ctx context.Context, ownerID, approverID string, auditID int64, reason string) (*models.SaleAudit, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.RejectAudit")
	defer span.End()

	if reason == "" {
		return nil, validationf("a reason is required to reject an audit")
	}

	audit, err := s.store.RejectSaleAudit(ctx, ownerID, auditID, approverID, "rejected: "+reason)
	if err != nil {
		return nil, err
	}

	util.SaleAuditsRejectedTotal.Inc()
	s.logger.Info("Sale audit rejected",
		zap.Int64("audit_id", auditID),
		zap.String("rejected_by", approverID))

	return audit, nil
}

func (s *SaleService) refreshSnapshot(ctx context.Context, product *models.Product) {
	if err := s.cache.SetStockSnapshot(ctx, product); err != nil {
		s.logger.Warn("Failed to refresh stock snapshot",
			zap.Int64("product_id", product.ID),
			zap.Error(err))
	}
}

// GetSale retrieves a sale by ID
func (s *SaleService) GetSale(ctx context.Context, ownerID string, saleID int64) (*models.Sale, error) {
	return s.store.GetSale(ctx, ownerID, saleID)
}

// ListSales retrieves sales matching the filter with the total count
func (s *SaleService) ListSales(ctx context.Context, ownerID string, f models.SaleFilter) ([]models.Sale, int64, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.ListSales")
	defer span.End()
	return s.store.ListSales(ctx, ownerID, f)
}

// GetSaleAudit retrieves a sale audit by ID
func (s *SaleService) GetSaleAudit(ctx context.Context, ownerID string, auditID int64) (*models.SaleAudit, error) {
	return s.store.GetSaleAudit(ctx, ownerID, auditID)
}

// ListSaleAudits retrieves sale audits matching the filter with the total count
func (s *SaleService) ListSaleAudits(ctx context.Context, ownerID string, f models.AuditFilter) ([]models.SaleAudit, int64, error) {
	ctx, span := util.StartSpan(ctx, "SaleService.ListSaleAudits")
	defer span.End()
	return s.store.ListSaleAudits(ctx, ownerID, f)
}
