// Package redisclient wraps redis for the read-side stock snapshot cache
// and low-stock alert cooldowns. The database stays the only authority on
// quantities; redis serves fast dashboard reads and deduplicates alerts.
package redisclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"inventory-service/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/shopspring/decimal"
)

// ErrCacheMiss is returned when no snapshot is cached for a product.
var ErrCacheMiss = errors.New("stock snapshot not cached")

type Client struct {
	rdb *redis.Client
}

// NewClient creates a new Redis client
func NewClient(addr, password string, db int) (*Client, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	return &Client{rdb: rdb}, nil
}

// GetClient returns the underlying Redis client
func (c *Client) GetClient() *redis.Client {
	return c.rdb
}

// Close closes the Redis connection
func (c *Client) Close() error {
	return c.rdb.Close()
}

func stockKey(productID int64) string {
	return fmt.Sprintf("stock:%d", productID)
}

// StockSnapshot is the cached read model of a product's quantities.
type StockSnapshot struct {
	ProductID    int64           `json:"product_id"`
	OwnerID      string          `json:"owner_id"`
	Name         string          `json:"name"`
	LooseKg      decimal.Decimal `json:"loose_kg"`
	Boxes        int64           `json:"boxes"`
	BoxToKgRatio decimal.Decimal `json:"box_to_kg_ratio"`
	TotalKg      decimal.Decimal `json:"total_kg"`
}

// SetStockSnapshot caches a product's current quantities. Called after every
// committed ledger change and during the boot sync.
func (c *Client) SetStockSnapshot(ctx context.Context, product *models.Product) error {
	pipe := c.rdb.Pipeline()
	key := stockKey(product.ID)
	pipe.HSet(ctx, key, "owner_id", product.OwnerID)
	pipe.HSet(ctx, key, "name", product.Name)
	pipe.HSet(ctx, key, "loose_kg", product.LooseKg.String())
	pipe.HSet(ctx, key, "boxes", product.Boxes)
	pipe.HSet(ctx, key, "box_to_kg_ratio", product.BoxToKgRatio.String())
	pipe.HSet(ctx, key, "total_kg", product.TotalKg().String())

	_, err := pipe.Exec(ctx)
	return err
}

// GetStockSnapshot retrieves the cached quantities for a product.
func (c *Client) GetStockSnapshot(ctx context.Context, productID int64) (*StockSnapshot, error) {
	result, err := c.rdb.HGetAll(ctx, stockKey(productID)).Result()
	if err != nil {
		return nil, err
	}
	if len(result) == 0 {
		return nil, fmt.Errorf("product %d: %w", productID, ErrCacheMiss)
	}

	snap := &StockSnapshot{
		ProductID: productID,
		OwnerID:   result["owner_id"],
		Name:      result["name"],
	}
	if snap.LooseKg, err = decimal.NewFromString(result["loose_kg"]); err != nil {
		return nil, fmt.Errorf("bad cached loose_kg for product %d: %w", productID, err)
	}
	if snap.Boxes, err = strconv.ParseInt(result["boxes"], 10, 64); err != nil {
		return nil, fmt.Errorf("bad cached boxes for product %d: %w", productID, err)
	}
	if snap.BoxToKgRatio, err = decimal.NewFromString(result["box_to_kg_ratio"]); err != nil {
		return nil, fmt.Errorf("bad cached ratio for product %d: %w", productID, err)
	}
	if snap.TotalKg, err = decimal.NewFromString(result["total_kg"]); err != nil {
		return nil, fmt.Errorf("bad cached total_kg for product %d: %w", productID, err)
	}
	return snap, nil
}

// DeleteStockSnapshot drops the cached quantities for a deleted product.
func (c *Client) DeleteStockSnapshot(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, stockKey(productID)).Err()
}

// AcquireAlertCooldown marks a product as recently alerted. Returns false
// while a previous alert is still within its cooldown window.
func (c *Client) AcquireAlertCooldown(ctx context.Context, productID int64, ttl time.Duration) (bool, error) {
	return c.rdb.SetNX(ctx, fmt.Sprintf("alert:low_stock:%d", productID), "1", ttl).Result()
}

// ClearAlertCooldown re-arms the low stock alert for a product, used once
// its stock recovers above the threshold.
func (c *Client) ClearAlertCooldown(ctx context.Context, productID int64) error {
	return c.rdb.Del(ctx, fmt.Sprintf("alert:low_stock:%d", productID)).Err()
}
