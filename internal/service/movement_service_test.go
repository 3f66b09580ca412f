package service

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"inventory-service/internal/models"
	"inventory-service/internal/store"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeMovementStore mirrors the store contract in memory: every Complete
// method claims the pending status before touching anything, and quantity
// changes refuse to drive stock negative.
type fakeMovementStore struct {
	products  map[int64]*models.Product
	movements map[int64]*models.StockMovement
	damage    []models.DamageRecord
	nextID    int64
}

func newFakeMovementStore(products ...*models.Product) *fakeMovementStore {
	f := &fakeMovementStore{
		products:  make(map[int64]*models.Product),
		movements: make(map[int64]*models.StockMovement),
	}
	for _, p := range products {
		f.products[p.ID] = p
	}
	return f
}

func (f *fakeMovementStore) id() int64 {
	f.nextID++
	return f.nextID
}

func (f *fakeMovementStore) GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error) {
	p, ok := f.products[id]
	if !ok || p.OwnerID != ownerID {
		return nil, fmt.Errorf("product %d: %w", id, store.ErrNotFound)
	}
	cp := *p
	return &cp, nil
}

func (f *fakeMovementStore) CreateMovement(ctx context.Context, m *models.StockMovement) error {
	m.ID = f.id()
	m.Status = models.MovementPending
	f.movements[m.ID] = m
	return nil
}

func (f *fakeMovementStore) GetMovement(ctx context.Context, ownerID string, id int64) (*models.StockMovement, error) {
	m, ok := f.movements[id]
	if !ok {
		return nil, fmt.Errorf("movement %d: %w", id, store.ErrNotFound)
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMovementStore) ListMovements(ctx context.Context, ownerID string, filter models.MovementFilter) ([]models.StockMovement, int64, error) {
	return nil, 0, nil
}

func (f *fakeMovementStore) claim(id int64) (*models.StockMovement, error) {
	m, ok := f.movements[id]
	if !ok {
		return nil, fmt.Errorf("movement %d: %w", id, store.ErrNotFound)
	}
	if m.Status.Terminal() {
		return nil, fmt.Errorf("movement %d is %s: %w", id, m.Status, store.ErrAlreadyProcessed)
	}
	return m, nil
}

func (f *fakeMovementStore) CompleteQuantityMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	m, err := f.claim(movementID)
	if err != nil {
		return nil, nil, err
	}
	p := f.products[*m.ProductID]

	newLoose := p.LooseKg.Add(m.KgDelta)
	newBoxes := p.Boxes + m.BoxDelta
	if newLoose.IsNegative() || newBoxes < 0 {
		return nil, nil, fmt.Errorf("product %d: %w", p.ID, store.ErrOutOfStock)
	}
	p.LooseKg = newLoose
	p.Boxes = newBoxes

	if m.Kind == models.MovementDamage {
		f.damage = append(f.damage, models.DamageRecord{
			OwnerID:    ownerID,
			ProductID:  p.ID,
			MovementID: m.ID,
			Boxes:      -m.BoxDelta,
			Kg:         m.KgDelta.Neg(),
			Reason:     m.Reason,
		})
	}

	m.Status = models.MovementCompleted
	m.ApprovedBy = &approvedBy
	cpM, cpP := *m, *p
	return &cpM, &cpP, nil
}

func (f *fakeMovementStore) CompleteEditMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	m, err := f.claim(movementID)
	if err != nil {
		return nil, nil, err
	}
	p := f.products[*m.ProductID]

	switch *m.FieldChanged {
	case "name":
		p.Name = *m.NewValue
	case "box_price":
		p.BoxPrice = decimal.RequireFromString(*m.NewValue)
	case "kg_price":
		p.KgPrice = decimal.RequireFromString(*m.NewValue)
	case "cost_per_kg":
		p.CostPerKg = decimal.RequireFromString(*m.NewValue)
	case "box_to_kg_ratio":
		p.BoxToKgRatio = decimal.RequireFromString(*m.NewValue)
	case "low_stock_kg":
		p.LowStockKg = decimal.RequireFromString(*m.NewValue)
	}

	m.Status = models.MovementCompleted
	m.ApprovedBy = &approvedBy
	cpM, cpP := *m, *p
	return &cpM, &cpP, nil
}

func (f *fakeMovementStore) CompleteCreateMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, *models.Product, error) {
	m, err := f.claim(movementID)
	if err != nil {
		return nil, nil, err
	}
	var staged models.StagedProduct
	if err := json.Unmarshal([]byte(*m.NewValue), &staged); err != nil {
		return nil, nil, err
	}

	p := &models.Product{
		ID:           f.id(),
		OwnerID:      ownerID,
		Name:         staged.Name,
		LooseKg:      staged.LooseKg,
		Boxes:        staged.Boxes,
		BoxToKgRatio: staged.BoxToKgRatio,
		BoxPrice:     staged.BoxPrice,
		KgPrice:      staged.KgPrice,
		CostPerKg:    staged.CostPerKg,
		LowStockKg:   staged.LowStockKg,
	}
	f.products[p.ID] = p

	m.ProductID = &p.ID
	m.Status = models.MovementCompleted
	m.ApprovedBy = &approvedBy
	cpM, cpP := *m, *p
	return &cpM, &cpP, nil
}

func (f *fakeMovementStore) CompleteDeleteMovement(ctx context.Context, ownerID string, movementID int64, approvedBy string) (*models.StockMovement, []string, error) {
	m, err := f.claim(movementID)
	if err != nil {
		return nil, nil, err
	}
	delete(f.products, *m.ProductID)
	notes := []string{"deleted 0 dependent sale(s)"}

	m.ProductID = nil
	m.Status = models.MovementCompleted
	m.ApprovedBy = &approvedBy
	cpM := *m
	return &cpM, notes, nil
}

func (f *fakeMovementStore) RejectMovement(ctx context.Context, ownerID string, movementID int64, actor, reason string, to models.MovementStatus) (*models.StockMovement, error) {
	m, err := f.claim(movementID)
	if err != nil {
		return nil, err
	}
	m.Status = to
	m.ApprovedBy = &actor
	if reason != "" {
		m.Reason = m.Reason + " | " + reason
	}
	cp := *m
	return &cp, nil
}

func (f *fakeMovementStore) ListDamageRecords(ctx context.Context, ownerID string, productID *int64) ([]models.DamageRecord, error) {
	return f.damage, nil
}

func newTestMovementService(products ...*models.Product) (*MovementService, *fakeMovementStore, *fakeCache, *fakePublisher) {
	st := newFakeMovementStore(products...)
	cache := &fakeCache{}
	pub := &fakePublisher{}
	return NewMovementService(st, cache, pub), st, cache, pub
}

func TestCreateMovementValidation(t *testing.T) {
	pid := int64(1)

	tests := []struct {
		name string
		req  CreateMovementRequest
	}{
		{"unknown kind", CreateMovementRequest{Kind: "refill", Reason: "x"}},
		{"missing reason", CreateMovementRequest{Kind: models.MovementNewStock, ProductID: &pid, BoxDelta: 1}},
		{"quantity kind without product", CreateMovementRequest{Kind: models.MovementNewStock, BoxDelta: 1, Reason: "x"}},
		{"zero deltas", CreateMovementRequest{Kind: models.MovementNewStock, ProductID: &pid, Reason: "x"}},
		{"negative restock", CreateMovementRequest{Kind: models.MovementNewStock, ProductID: &pid, BoxDelta: -1, Reason: "x"}},
		{"positive damage", CreateMovementRequest{Kind: models.MovementDamage, ProductID: &pid, KgDelta: d("2"), Reason: "x"}},
		{"edit of unknown field", CreateMovementRequest{Kind: models.MovementProductEdit, ProductID: &pid, Field: "sku", NewValue: "1", Reason: "x"}},
		{"edit with bad number", CreateMovementRequest{Kind: models.MovementProductEdit, ProductID: &pid, Field: "kg_price", NewValue: "abc", Reason: "x"}},
		{"edit ratio to zero", CreateMovementRequest{Kind: models.MovementProductEdit, ProductID: &pid, Field: "box_to_kg_ratio", NewValue: "0", Reason: "x"}},
		{"create without payload", CreateMovementRequest{Kind: models.MovementProductCreate, Reason: "x"}},
		{"create without name", CreateMovementRequest{Kind: models.MovementProductCreate, Product: &models.StagedProduct{BoxToKgRatio: d("10")}, Reason: "x"}},
		{"create with zero ratio", CreateMovementRequest{Kind: models.MovementProductCreate, Product: &models.StagedProduct{Name: "Tuna"}, Reason: "x"}},
		{"delete without product", CreateMovementRequest{Kind: models.MovementProductDelete, Reason: "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, _, _, _ := newTestMovementService(testProduct())
			_, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &tt.req)
			var verr *ValidationError
			assert.ErrorAs(t, err, &verr)
		})
	}
}

func TestCreateEditMovementRecordsOldValue(t *testing.T) {
	svc, _, _, pub := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementProductEdit,
		ProductID: &pid,
		Field:     "kg_price",
		NewValue:  "30",
		Reason:    "price update",
	})
	require.NoError(t, err)

	assert.Equal(t, models.MovementPending, m.Status)
	assert.Equal(t, "kg_price", *m.FieldChanged)
	assert.Equal(t, "25", *m.OldValue)
	assert.Equal(t, "30", *m.NewValue)
	assert.Equal(t, []string{models.EventTypeMovementCreated}, pub.events)
}

func TestApproveNewStockAppliesOnce(t *testing.T) {
	svc, st, _, pub := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementNewStock,
		ProductID: &pid,
		BoxDelta:  3,
		Reason:    "weekly delivery",
	})
	require.NoError(t, err)

	result, err := svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MovementCompleted, result.Movement.Status)
	assert.Equal(t, int64(5), result.Product.Boxes)

	_, err = svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.ErrorIs(t, err, store.ErrAlreadyProcessed)
	assert.Equal(t, int64(5), st.products[pid].Boxes)
	assert.Contains(t, pub.events, models.EventTypeMovementCompleted)
}

func TestApproveDamageRecordsLoss(t *testing.T) {
	svc, st, _, _ := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementDamage,
		ProductID: &pid,
		KgDelta:   d("-2"),
		Reason:    "dropped crate",
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.NoError(t, err)

	assertDec(t, "3", st.products[pid].LooseKg)
	records, err := svc.ListDamageRecords(context.Background(), "owner-1", nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assertDec(t, "2", records[0].Kg)
	assert.Equal(t, m.ID, records[0].MovementID)
}

func TestApproveCorrectionCannotGoNegative(t *testing.T) {
	svc, st, _, _ := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementCorrection,
		ProductID: &pid,
		BoxDelta:  -5,
		Reason:    "recount",
	})
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.ErrorIs(t, err, store.ErrOutOfStock)

	// the failed approval leaves the movement pending and the stock alone
	assert.Equal(t, models.MovementPending, st.movements[m.ID].Status)
	assert.Equal(t, int64(2), st.products[pid].Boxes)
}

func TestApproveProductCreate(t *testing.T) {
	svc, _, _, _ := newTestMovementService(testProduct())

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind: models.MovementProductCreate,
		Product: &models.StagedProduct{
			Name:         "Tuna",
			LooseKg:      d("8"),
			Boxes:        4,
			BoxToKgRatio: d("12"),
			BoxPrice:     d("240"),
			KgPrice:      d("30"),
			CostPerKg:    d("15"),
			LowStockKg:   d("20"),
		},
		Reason: "new product line",
	})
	require.NoError(t, err)
	assert.Nil(t, m.ProductID)

	result, err := svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.NoError(t, err)

	require.NotNil(t, result.Product)
	assert.Equal(t, "Tuna", result.Product.Name)
	assert.Equal(t, int64(4), result.Product.Boxes)
	require.NotNil(t, result.Movement.ProductID)
	assert.Equal(t, result.Product.ID, *result.Movement.ProductID)
}

func TestApproveProductDeleteDropsSnapshot(t *testing.T) {
	svc, st, cache, _ := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementProductDelete,
		ProductID: &pid,
		Reason:    "discontinued",
	})
	require.NoError(t, err)
	require.NotNil(t, m.OldValue)
	assert.Contains(t, *m.OldValue, `"name":"Salmon"`)

	result, err := svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	require.NoError(t, err)

	assert.Nil(t, result.Movement.ProductID)
	assert.NotEmpty(t, result.CleanupNotes)
	assert.Empty(t, st.products)
	assert.Equal(t, []int64{pid}, cache.deleted)
}

func TestCancelOnlyRequester(t *testing.T) {
	svc, _, _, _ := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementNewStock,
		ProductID: &pid,
		BoxDelta:  1,
		Reason:    "delivery",
	})
	require.NoError(t, err)

	_, err = svc.Cancel(context.Background(), "owner-1", "bob", m.ID)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	cancelled, err := svc.Cancel(context.Background(), "owner-1", "alice", m.ID)
	require.NoError(t, err)
	assert.Equal(t, models.MovementCancelled, cancelled.Status)

	_, err = svc.Approve(context.Background(), "owner-1", "boss", m.ID)
	assert.ErrorIs(t, err, store.ErrAlreadyProcessed)
}

func TestRejectMovementRequiresReason(t *testing.T) {
	svc, _, _, _ := newTestMovementService(testProduct())
	pid := int64(1)

	m, err := svc.CreateMovement(context.Background(), "owner-1", "alice", &CreateMovementRequest{
		Kind:      models.MovementNewStock,
		ProductID: &pid,
		BoxDelta:  1,
		Reason:    "delivery",
	})
	require.NoError(t, err)

	_, err = svc.Reject(context.Background(), "owner-1", "boss", m.ID, "")
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	rejected, err := svc.Reject(context.Background(), "owner-1", "boss", m.ID, "wrong count")
	require.NoError(t, err)
	assert.Equal(t, models.MovementRejected, rejected.Status)
	assert.Contains(t, rejected.Reason, "rejected: wrong count")
}
