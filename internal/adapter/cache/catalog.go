package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

const DefaultTTL = 30 * time.Second

// RedisCatalog caches inventory snapshots under inventory:<id>. Entries are
// only ever deleted by writers, never refreshed in place.
type RedisCatalog struct {
	rdb *redis.Client
	ttl time.Duration
}

var _ ports.CatalogCache = (*RedisCatalog)(nil)

func NewRedisCatalog(rdb *redis.Client, ttl time.Duration) *RedisCatalog {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &RedisCatalog{rdb: rdb, ttl: ttl}
}

func ItemKey(itemID uuid.UUID) string {
	return fmt.Sprintf("inventory:%s", itemID.String())
}

func (c *RedisCatalog) GetItem(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error) {
	raw, err := c.rdb.Get(ctx, ItemKey(itemID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ports.ErrCacheMiss
		}
		return nil, err
	}

	var item domain.InventoryItem
	if err := json.Unmarshal(raw, &item); err != nil {
		return nil, fmt.Errorf("decode cached item %s: %w", itemID, err)
	}
	return &item, nil
}

func (c *RedisCatalog) SetItem(ctx context.Context, item *domain.InventoryItem) error {
	raw, err := json.Marshal(item)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, ItemKey(item.ID), raw, c.ttl).Err()
}

func (c *RedisCatalog) Invalidate(ctx context.Context, itemID uuid.UUID) error {
	return c.rdb.Del(ctx, ItemKey(itemID)).Err()
}
