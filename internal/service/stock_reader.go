package service

import (
	"context"
	"errors"

	"inventory-service/internal/models"
	"inventory-service/internal/redisclient"
	"inventory-service/internal/util"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// StockReaderStore is the database surface backing catalog and stock reads.
type StockReaderStore interface {
	GetProduct(ctx context.Context, ownerID string, id int64) (*models.Product, error)
	ListProducts(ctx context.Context, ownerID string) ([]models.Product, error)
	ListAllProducts(ctx context.Context) ([]models.Product, error)
}

// SnapshotSource extends the write-side cache with reads, for the snapshot
// fast path.
type SnapshotSource interface {
	StockCache
	GetStockSnapshot(ctx context.Context, productID int64) (*redisclient.StockSnapshot, error)
}

// StockReader serves catalog and stock level reads. Snapshot lookups go to
// redis first and fall back to the database, which stays authoritative.
type StockReader struct {
	store  StockReaderStore
	cache  SnapshotSource
	logger *zap.Logger
}

// NewStockReader creates a new stock reader
func NewStockReader(store StockReaderStore, cache SnapshotSource) *StockReader {
	return &StockReader{
		store:  store,
		cache:  cache,
		logger: util.GetLogger(),
	}
}

// ProductStock is a product with its derived stock figures.
type ProductStock struct {
	models.Product
	TotalKg  decimal.Decimal `json:"total_kg"`
	LowStock bool            `json:"low_stock"`
}

func productStock(p models.Product) ProductStock {
	return ProductStock{
		Product:  p,
		TotalKg:  p.TotalKg(),
		LowStock: p.IsLowStock(),
	}
}

// GetProduct retrieves a product with derived stock figures
func (r *StockReader) GetProduct(ctx context.Context, ownerID string, productID int64) (*ProductStock, error) {
	product, err := r.store.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	ps := productStock(*product)
	return &ps, nil
}

// ListProducts retrieves the owner's catalog with derived stock figures
func (r *StockReader) ListProducts(ctx context.Context, ownerID string) ([]ProductStock, error) {
	ctx, span := util.StartSpan(ctx, "StockReader.ListProducts")
	defer span.End()

	products, err := r.store.ListProducts(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	out := make([]ProductStock, 0, len(products))
	for _, p := range products {
		out = append(out, productStock(p))
	}
	return out, nil
}

// GetStockSnapshot returns a product's stock level, served from the redis
// snapshot when it is present and owned by the caller, otherwise from the
// database with a cache backfill.
func (r *StockReader) GetStockSnapshot(ctx context.Context, ownerID string, productID int64) (*redisclient.StockSnapshot, error) {
	ctx, span := util.StartSpan(ctx, "StockReader.GetStockSnapshot")
	defer span.End()

	snap, err := r.cache.GetStockSnapshot(ctx, productID)
	if err == nil && snap.OwnerID == ownerID {
		return snap, nil
	}
	if err != nil && !errors.Is(err, redisclient.ErrCacheMiss) {
		r.logger.Warn("Stock cache read failed, falling back to database",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	product, err := r.store.GetProduct(ctx, ownerID, productID)
	if err != nil {
		return nil, err
	}
	if err := r.cache.SetStockSnapshot(ctx, product); err != nil {
		r.logger.Warn("Failed to backfill stock snapshot",
			zap.Int64("product_id", productID),
			zap.Error(err))
	}

	return snapshotFromProduct(product), nil
}

func snapshotFromProduct(p *models.Product) *redisclient.StockSnapshot {
	return &redisclient.StockSnapshot{
		ProductID:    p.ID,
		OwnerID:      p.OwnerID,
		Name:         p.Name,
		LooseKg:      p.LooseKg,
		Boxes:        p.Boxes,
		BoxToKgRatio: p.BoxToKgRatio,
		TotalKg:      p.TotalKg(),
	}
}

// SyncStockToRedis warms the snapshot cache from the database at boot.
// Per-product failures are logged and skipped; a later ledger change or
// read-through will repair them.
func (r *StockReader) SyncStockToRedis(ctx context.Context) error {
	products, err := r.store.ListAllProducts(ctx)
	if err != nil {
		return err
	}

	synced := 0
	for i := range products {
		if err := r.cache.SetStockSnapshot(ctx, &products[i]); err != nil {
			r.logger.Warn("Failed to sync stock snapshot",
				zap.Int64("product_id", products[i].ID),
				zap.Error(err))
			continue
		}
		synced++
	}

	r.logger.Info("Stock snapshots synced to Redis",
		zap.Int("synced", synced),
		zap.Int("total", len(products)))
	return nil
}
