package services

import (
	"context"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"

	"github.com/google/uuid"
	"github.com/gosimple/slug"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

const maxPrice = 1e10

type CreateItemRequest struct {
	Kind        string  `json:"kind" validate:"required,oneof=tour car flight hot_deal"`
	Name        string  `json:"name" validate:"required,max=200"`
	Capacity    int     `json:"capacity" validate:"gte=1"`
	Price       float64 `json:"price" validate:"gte=0"`
	PricingUnit string  `json:"pricing_unit,omitempty" validate:"omitempty,oneof=per_unit per_day"`
}

// InventoryService owns the catalog: creating items and switching them on and
// off. Reads go through the catalog cache; admissions never do.
type InventoryService struct {
	repo  ports.InventoryRepository
	cache ports.CatalogCache
}

func NewInventoryService(repo ports.InventoryRepository, cache ports.CatalogCache) *InventoryService {
	return &InventoryService{repo: repo, cache: cache}
}

func (s *InventoryService) CreateItem(ctx context.Context, req CreateItemRequest) (*domain.InventoryItem, error) {
	kind := domain.InventoryKind(strings.ToLower(strings.TrimSpace(req.Kind)))
	if !kind.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}

	name := strings.TrimSpace(req.Name)
	if name == "" {
		return nil, fmt.Errorf("%w: name is required", ErrInvalidRequest)
	}
	if req.Capacity < 1 {
		return nil, fmt.Errorf("%w: capacity must be at least 1", ErrInvalidRequest)
	}
	if req.Price < 0 {
		return nil, fmt.Errorf("%w: price must not be negative", ErrInvalidRequest)
	}
	if req.Price >= maxPrice {
		return nil, fmt.Errorf("%w: price must be below %.0f", ErrInvalidRequest, maxPrice)
	}
	// Prices are stored as NUMERIC(12, 2).
	if cents := req.Price * 100; math.Abs(cents-math.Round(cents)) > 1e-6 {
		return nil, fmt.Errorf("%w: price has more than 2 decimal places", ErrInvalidRequest)
	}

	unit := domain.PricingUnit(req.PricingUnit)
	if unit == "" {
		unit = kind.DefaultPricingUnit()
	}
	if !unit.Valid() {
		return nil, fmt.Errorf("%w: unknown pricing unit %q", ErrInvalidRequest, req.PricingUnit)
	}

	id := uuid.New()
	item := &domain.InventoryItem{
		ID:                id,
		Kind:              kind,
		Name:              name,
		Slug:              fmt.Sprintf("%s-%s", slug.Make(name), id.String()[:8]),
		Capacity:          req.Capacity,
		CapacityRemaining: req.Capacity,
		Price:             req.Price,
		PricingUnit:       unit,
		Active:            true,
	}

	if err := s.repo.CreateItem(ctx, item); err != nil {
		return nil, storageError("create item", err)
	}
	return item, nil
}

// GetItem serves the display view of an item. The snapshot may be up to one
// cache TTL old.
func (s *InventoryService) GetItem(ctx context.Context, itemID string) (*domain.InventoryItem, error) {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid item id", ErrInvalidRequest)
	}

	if s.cache != nil {
		item, err := s.cache.GetItem(ctx, id)
		if err == nil {
			return item, nil
		}
		if !errors.Is(err, ports.ErrCacheMiss) {
			log.Printf("Cache read failed for item %s: %v", id, err)
		}
	}

	item, err := s.repo.GetItem(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrItemNotFound) {
			return nil, err
		}
		return nil, storageError("load item", err)
	}

	if s.cache != nil {
		if err := s.cache.SetItem(ctx, item); err != nil {
			log.Printf("Cache write failed for item %s: %v", id, err)
		}
	}
	return item, nil
}

func (s *InventoryService) ListItems(ctx context.Context, kind string, activeOnly bool) ([]domain.InventoryItem, error) {
	k := domain.InventoryKind(strings.ToLower(strings.TrimSpace(kind)))
	if k != "" && !k.Valid() {
		return nil, fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, kind)
	}

	items, err := s.repo.ListItems(ctx, k, activeOnly)
	if err != nil {
		return nil, storageError("list items", err)
	}
	if items == nil {
		items = []domain.InventoryItem{}
	}
	return items, nil
}

// Deactivate soft-deletes an item. Existing bookings are untouched; new
// admissions are rejected with InventoryUnavailable.
func (s *InventoryService) Deactivate(ctx context.Context, itemID string) error {
	return s.setActive(ctx, itemID, false)
}

func (s *InventoryService) Activate(ctx context.Context, itemID string) error {
	return s.setActive(ctx, itemID, true)
}

func (s *InventoryService) setActive(ctx context.Context, itemID string, active bool) error {
	id, err := uuid.Parse(itemID)
	if err != nil {
		return fmt.Errorf("%w: invalid item id", ErrInvalidRequest)
	}

	if err := s.repo.SetActive(ctx, id, active); err != nil {
		if errors.Is(err, ports.ErrItemNotFound) {
			return err
		}
		return storageError("set item active", err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, id); err != nil {
			log.Printf("Failed to invalidate cache for item %s: %v", id, err)
		}
	}
	return nil
}
