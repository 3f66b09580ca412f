package service

import (
	"context"
	"fmt"
	"testing"

	"inventory-service/internal/models"
	"inventory-service/internal/stock"
	"inventory-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func d(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func assertDec(t *testing.T, want string, got decimal.Decimal) {
	t.Helper()
	assert.True(t, got.Equal(d(want)), "want %s, got %s", want, got)
}

type fakeCache struct {
	deleted []int64
}

func (f *fakeCache) SetStockSnapshot(ctx context.Context, p *models.Product) error { return nil }

func (f *fakeCache) DeleteStockSnapshot(ctx context.Context, productID int64) error {
	f.deleted = append(f.deleted, productID)
	return nil
}

type fakePublisher struct {
	events []string
}

func (f *fakePublisher) record(eventType string) error {
	f.events = append(f.events, eventType)
	return nil
}

func (f *fakePublisher) PublishSaleCreated(ctx context.Context, e *models.SaleCreatedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishSaleUpdated(ctx context.Context, e *models.SaleUpdatedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishSaleDeleted(ctx context.Context, e *models.SaleDeletedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishMovementCreated(ctx context.Context, e *models.MovementCreatedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishMovementCompleted(ctx context.Context, e *models.MovementCompletedEvent) error {
	return f.record(e.EventType)
}

func (f *fakePublisher) PublishMovementRejected(ctx context.Context, e *models.MovementRejectedEvent) error {
	return f.record(e.EventType)
}

// fakeSaleStore mirrors the store contract in memory: allocation runs the
// real algorithm, approvals claim the pending status first.
type fakeSaleStore struct {
	product *models.Product
	sales   map[int64]*models.Sale
	audits  map[int64]*models.SaleAudit
	nextID  int64
}

func newFakeSaleStore(product *models.Product) *fakeSaleStore {
	return &fakeSaleStore{
		product: product,
		sales:   make(map[int64]*models.Sale),
		audits:  make(map[int64]*models.SaleAudit),
	}
}

func (f *fakeSaleStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeSaleStore) GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error) {
	if f.product == nil || f.product.ID != id || f.product.OwnerID != ownerID {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	p := *f.product
	return &p, nil
}

func (f *fakeSaleStore) CreateSaleAllocated(ctx context.Context, sale *models.Sale, req stock.Request) (*stock.Plan, *models.Product, error) {
	plan, err := stock.Allocate(req, stock.State{
		LooseKg:      f.product.LooseKg,
		Boxes:        f.product.Boxes,
		BoxToKgRatio: f.product.BoxToKgRatio,
	})
	if err != nil {
		return nil, nil, err
	}
	f.product.LooseKg = plan.NewLooseKg
	f.product.Boxes = plan.NewBoxes
	sale.ID = f.id()
	f.sales[sale.ID] = sale
	p := *f.product
	return &plan, &p, nil
}

func (f *fakeSaleStore) GetSale(ctx context.Context, ownerID string, id int64) (*models.Sale, error) {
	s, ok := f.sales[id]
	if !ok {
		return nil, fmt.Errorf("sale %d: %w", id, store.ErrNotFound)
	}
	cp := *s
	return &cp, nil
}

func (f *fakeSaleStore) ListSales(ctx context.Context, ownerID string, filter models.SaleFilter) ([]models.Sale, int64, error) {
	return nil, 0, nil
}

func (f *fakeSaleStore) CreateSaleAudit(ctx context.Context, a *models.SaleAudit) error {
	a.ID = f.id()
	a.Status = models.AuditPending
	f.audits[a.ID] = a
	return nil
}

func (f *fakeSaleStore) GetSaleAudit(ctx context.Context, ownerID string, id int64) (*models.SaleAudit, error) {
	a, ok := f.audits[id]
	if !ok {
		return nil, fmt.Errorf("sale audit %d: %w", id, store.ErrNotFound)
	}
	cp := *a
	return &cp, nil
}

func (f *fakeSaleStore) ListSaleAudits(ctx context.Context, ownerID string, filter models.AuditFilter) ([]models.SaleAudit, int64, error) {
	return nil, 0, nil
}

func (f *fakeSaleStore) claimAudit(id int64, want models.SaleAuditType) (*models.SaleAudit, error) {
	a, ok := f.audits[id]
	if !ok {
		return nil, fmt.Errorf("sale audit %d: %w", id, store.ErrNotFound)
	}
	if a.Status.Terminal() {
		return nil, fmt.Errorf("sale audit %d is %s: %w", id, a.Status, store.ErrAlreadyProcessed)
	}
	if want != "" && a.AuditType != want {
		return nil, fmt.Errorf("sale audit %d is a %s audit", id, a.AuditType)
	}
	return a, nil
}

func (f *fakeSaleStore) ApproveQuantityAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error) {
	a, err := f.claimAudit(auditID, models.AuditQuantityChange)
	if err != nil {
		return nil, nil, nil, err
	}
	snap, err := models.DecodeSnapshot(a.NewValues)
	if err != nil {
		return nil, nil, nil, err
	}
	sale := f.sales[*a.SaleID]

	restored := stock.State{
		LooseKg:      f.product.LooseKg.Add(sale.KgQuantity),
		Boxes:        f.product.Boxes + sale.BoxesQuantity,
		BoxToKgRatio: f.product.BoxToKgRatio,
	}
	plan, err := stock.Allocate(stock.Request{Boxes: snap.BoxesQuantity, Kg: snap.KgQuantity}, restored)
	if err != nil {
		return nil, nil, nil, err
	}
	f.product.LooseKg = plan.NewLooseKg
	f.product.Boxes = plan.NewBoxes

	sale.BoxesQuantity = snap.BoxesQuantity
	sale.KgQuantity = snap.KgQuantity
	sale.TotalAmount = snap.TotalAmount
	sale.AmountPaid = snap.AmountPaid
	sale.RemainingAmount = snap.RemainingAmount
	sale.PaymentStatus = snap.PaymentStatus
	sale.PaymentMethod = snap.PaymentMethod

	a.Status = models.AuditApproved
	a.ApprovedBy = &approvedBy
	cpA, cpS, cpP := *a, *sale, *f.product
	return &cpA, &cpS, &cpP, nil
}

func (f *fakeSaleStore) ApprovePaymentMethodAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, error) {
	a, err := f.claimAudit(auditID, models.AuditPaymentMethodChange)
	if err != nil {
		return nil, nil, err
	}
	snap, err := models.DecodeSnapshot(a.NewValues)
	if err != nil {
		return nil, nil, err
	}
	sale := f.sales[*a.SaleID]
	sale.PaymentMethod = snap.PaymentMethod
	a.Status = models.AuditApproved
	a.ApprovedBy = &approvedBy
	cpA, cpS := *a, *sale
	return &cpA, &cpS, nil
}

func (f *fakeSaleStore) ApproveDeletionAudit(ctx context.Context, ownerID string, auditID int64, approvedBy string) (*models.SaleAudit, *models.Sale, *models.Product, error) {
	a, err := f.claimAudit(auditID, models.AuditDeletion)
	if err != nil {
		return nil, nil, nil, err
	}
	sale := f.sales[*a.SaleID]
	f.product.LooseKg = f.product.LooseKg.Add(sale.KgQuantity)
	f.product.Boxes += sale.BoxesQuantity
	delete(f.sales, sale.ID)
	a.SaleID = nil
	a.Status = models.AuditApproved
	a.ApprovedBy = &approvedBy
	cpA, cpS, cpP := *a, *sale, *f.product
	return &cpA, &cpS, &cpP, nil
}

func (f *fakeSaleStore) RejectSaleAudit(ctx context.Context, ownerID string, auditID int64, actor, reason string) (*models.SaleAudit, error) {
	a, err := f.claimAudit(auditID, "")
	if err != nil {
		return nil, err
	}
	a.Status = models.AuditRejected
	a.ApprovedBy = &actor
	a.Reason = a.Reason + " | " + reason
	cp := *a
	return &cp, nil
}

func testProduct() *models.Product {
	return &models.Product{
		ID:           1,
		OwnerID:      "owner-1",
		Name:         "Salmon",
		LooseKg:      d("5"),
		Boxes:        2,
		BoxToKgRatio: d("10"),
		BoxPrice:     d("200"),
		KgPrice:      d("25"),
		CostPerKg:    d("12"),
		LowStockKg:   d("10"),
	}
}

func newTestSaleService(p *models.Product) (*SaleService, *fakeSaleStore, *fakePublisher) {
	st := newFakeSaleStore(p)
	pub := &fakePublisher{}
	return NewSaleService(st, &fakeCache{}, pub), st, pub
}

func sellKg(t *testing.T, svc *SaleService, kg string) *models.Sale {
	t.Helper()
	resp, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		KgQuantity:    d(kg),
		PaymentStatus: models.PaymentPaid,
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	return resp.Sale
}

func TestCreateSaleAllocatesAcrossPools(t *testing.T) {
	svc, _, pub := newTestSaleService(testProduct())

	resp, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		KgQuantity:    d("12"),
		PaymentStatus: models.PaymentPaid,
		PaymentMethod: "cash",
	})
	require.NoError(t, err)

	assert.Equal(t, "created", resp.Status)
	assertDec(t, "3", resp.Stock.LooseKg)
	assert.Equal(t, int64(1), resp.Stock.Boxes)
	assertDec(t, "300", resp.Sale.TotalAmount)
	assertDec(t, "300", resp.Sale.AmountPaid)
	assert.True(t, resp.Sale.RemainingAmount.IsZero())
	assert.NotEmpty(t, resp.Allocation.Steps)
	assert.Equal(t, []string{models.EventTypeSaleCreated}, pub.events)
}

func TestCreateSaleInsufficientStock(t *testing.T) {
	svc, st, pub := newTestSaleService(testProduct())

	_, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		KgQuantity:    d("30"),
		PaymentStatus: models.PaymentPaid,
		PaymentMethod: "cash",
	})

	var shortage *stock.InsufficientStockError
	require.ErrorAs(t, err, &shortage)
	assertDec(t, "5", shortage.ShortageKg)
	assertDec(t, "5", st.product.LooseKg)
	assert.Equal(t, int64(2), st.product.Boxes)
	assert.Empty(t, pub.events)
}

func TestCreateSaleRequiresClientNameWhenUnpaid(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())

	_, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		BoxesQuantity: 1,
		PaymentStatus: models.PaymentPending,
		PaymentMethod: "transfer",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestCreateSaleRejectsEmptyRequest(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())

	_, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		PaymentStatus: models.PaymentPaid,
		PaymentMethod: "cash",
	})

	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestSettlePayment(t *testing.T) {
	client := "Maria"
	total := d("100")

	tests := []struct {
		name    string
		req     CreateSaleRequest
		paid    string
		left    string
		wantErr bool
	}{
		{"paid fills amounts", CreateSaleRequest{PaymentStatus: models.PaymentPaid}, "100", "0", false},
		{"paid rejects mismatched amount", CreateSaleRequest{PaymentStatus: models.PaymentPaid, AmountPaid: d("40")}, "", "", true},
		{"pending owes everything", CreateSaleRequest{PaymentStatus: models.PaymentPending, ClientName: &client}, "0", "100", false},
		{"pending rejects prepayment", CreateSaleRequest{PaymentStatus: models.PaymentPending, AmountPaid: d("10"), ClientName: &client}, "", "", true},
		{"partial splits the total", CreateSaleRequest{PaymentStatus: models.PaymentPartial, AmountPaid: d("40"), ClientName: &client}, "40", "60", false},
		{"partial rejects the full amount", CreateSaleRequest{PaymentStatus: models.PaymentPartial, AmountPaid: d("100"), ClientName: &client}, "", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			paid, left, err := settlePayment(&tt.req, total)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assertDec(t, tt.paid, paid)
			assertDec(t, tt.left, left)
		})
	}
}

func TestRequestEditClassifiesQuantityChange(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())
	sale := sellKg(t, svc, "10")

	method := "transfer"
	newKg := d("6")
	audit, err := svc.RequestEdit(context.Background(), "owner-1", "bob", sale.ID, &EditSaleRequest{
		KgQuantity:    &newKg,
		PaymentMethod: &method,
		Reason:        "count correction",
	})
	require.NoError(t, err)

	// quantity wins the classification; the method rides along
	assert.Equal(t, models.AuditQuantityChange, audit.AuditType)
	assertDec(t, "-4", audit.KgChange)
	assert.Equal(t, int64(0), audit.BoxesChange)

	snap, err := models.DecodeSnapshot(audit.NewValues)
	require.NoError(t, err)
	assertDec(t, "6", snap.KgQuantity)
	assertDec(t, "150", snap.TotalAmount)
	assertDec(t, "150", snap.AmountPaid)
	assert.Equal(t, models.PaymentPaid, snap.PaymentStatus)
	assert.Equal(t, "transfer", snap.PaymentMethod)
}

func TestRequestEditClassifiesPaymentMethodChange(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())
	sale := sellKg(t, svc, "4")

	method := "transfer"
	audit, err := svc.RequestEdit(context.Background(), "owner-1", "bob", sale.ID, &EditSaleRequest{
		PaymentMethod: &method,
		Reason:        "customer paid by transfer",
	})
	require.NoError(t, err)

	assert.Equal(t, models.AuditPaymentMethodChange, audit.AuditType)
	assert.Equal(t, int64(0), audit.BoxesChange)
	assert.True(t, audit.KgChange.IsZero())
}

func TestRequestEditNoChange(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())
	sale := sellKg(t, svc, "4")

	sameKg := sale.KgQuantity
	sameMethod := sale.PaymentMethod
	_, err := svc.RequestEdit(context.Background(), "owner-1", "bob", sale.ID, &EditSaleRequest{
		KgQuantity:    &sameKg,
		PaymentMethod: &sameMethod,
		Reason:        "nothing really",
	})
	assert.ErrorIs(t, err, ErrNoChange)
}

func TestApproveQuantityAuditAppliesNetDelta(t *testing.T) {
	svc, st, pub := newTestSaleService(testProduct())
	sale := sellKg(t, svc, "10")

	newKg := d("6")
	audit, err := svc.RequestEdit(context.Background(), "owner-1", "bob", sale.ID, &EditSaleRequest{
		KgQuantity: &newKg,
		Reason:     "count correction",
	})
	require.NoError(t, err)

	result, err := svc.ApproveAudit(context.Background(), "owner-1", "carol", audit.ID)
	require.NoError(t, err)

	assertDec(t, "6", result.Sale.KgQuantity)
	assertDec(t, "150", result.Sale.TotalAmount)

	// the 10kg sale left loose=5 boxes=1; shrinking it to 6kg hands back 4kg
	assertDec(t, "9", st.product.LooseKg)
	assert.Equal(t, int64(1), st.product.Boxes)
	assert.Equal(t, []string{models.EventTypeSaleCreated, models.EventTypeSaleUpdated}, pub.events)

	// approving again must not move the ledger
	_, err = svc.ApproveAudit(context.Background(), "owner-1", "carol", audit.ID)
	require.ErrorIs(t, err, store.ErrAlreadyProcessed)
	assertDec(t, "9", st.product.LooseKg)
	assert.Equal(t, int64(1), st.product.Boxes)
}

func TestApproveDeletionAuditRestoresStock(t *testing.T) {
	svc, st, pub := newTestSaleService(testProduct())

	resp, err := svc.CreateSale(context.Background(), "owner-1", "alice", &CreateSaleRequest{
		ProductID:     1,
		BoxesQuantity: 1,
		KgQuantity:    d("2"),
		PaymentStatus: models.PaymentPaid,
		PaymentMethod: "cash",
	})
	require.NoError(t, err)
	sale := resp.Sale

	audit, err := svc.RequestDelete(context.Background(), "owner-1", "bob", sale.ID, "entered twice")
	require.NoError(t, err)

	result, err := svc.ApproveAudit(context.Background(), "owner-1", "carol", audit.ID)
	require.NoError(t, err)

	assert.Nil(t, result.Sale)
	assert.Nil(t, result.Audit.SaleID)
	assertDec(t, "5", st.product.LooseKg)
	assert.Equal(t, int64(2), st.product.Boxes)

	_, err = svc.GetSale(context.Background(), "owner-1", sale.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
	assert.Contains(t, pub.events, models.EventTypeSaleDeleted)

	// the audit still carries the sale's last snapshot
	snap, err := models.DecodeSnapshot(result.Audit.OldValues)
	require.NoError(t, err)
	assert.Equal(t, int64(1), snap.BoxesQuantity)
	assertDec(t, "2", snap.KgQuantity)
}

func TestRejectAuditRequiresReason(t *testing.T) {
	svc, _, _ := newTestSaleService(testProduct())
	sale := sellKg(t, svc, "4")

	audit, err := svc.RequestDelete(context.Background(), "owner-1", "bob", sale.ID, "entered twice")
	require.NoError(t, err)

	_, err = svc.RejectAudit(context.Background(), "owner-1", "carol", audit.ID, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	rejected, err := svc.RejectAudit(context.Background(), "owner-1", "carol", audit.ID, "sale is genuine")
	require.NoError(t, err)
	assert.Equal(t, models.AuditRejected, rejected.Status)

	_, err = svc.ApproveAudit(context.Background(), "owner-1", "carol", audit.ID)
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
}
