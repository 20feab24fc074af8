package domain

import (
	"time"

	"github.com/google/uuid"
)

type InventoryKind string

const (
	KindTour    InventoryKind = "tour"
	KindCar     InventoryKind = "car"
	KindFlight  InventoryKind = "flight"
	KindHotDeal InventoryKind = "hot_deal"
)

func (k InventoryKind) Valid() bool {
	switch k {
	case KindTour, KindCar, KindFlight, KindHotDeal:
		return true
	}
	return false
}

// UnitNoun is the plural noun shown to customers when talking about capacity.
func (k InventoryKind) UnitNoun() string {
	switch k {
	case KindTour:
		return "spots"
	case KindCar:
		return "cars"
	case KindFlight:
		return "seats"
	case KindHotDeal:
		return "slots"
	}
	return "units"
}

// DefaultPricingUnit returns the pricing unit used when an item is created without one.
func (k InventoryKind) DefaultPricingUnit() PricingUnit {
	if k == KindCar {
		return PricePerDay
	}
	return PricePerUnit
}

type PricingUnit string

const (
	PricePerUnit PricingUnit = "per_unit"
	PricePerDay  PricingUnit = "per_day"
)

func (p PricingUnit) Valid() bool {
	return p == PricePerUnit || p == PricePerDay
}

type InventoryItem struct {
	ID                uuid.UUID     `json:"id"`
	Kind              InventoryKind `json:"kind"`
	Name              string        `json:"name"`
	Slug              string        `json:"slug"`
	Capacity          int           `json:"capacity"`
	CapacityRemaining int           `json:"capacity_remaining"`
	Price             float64       `json:"price"`
	PricingUnit       PricingUnit   `json:"pricing_unit"`
	Active            bool          `json:"active"`
	Version           int           `json:"version"`
	CreatedAt         time.Time     `json:"created_at"`
	UpdatedAt         time.Time     `json:"updated_at"`
}

func (i *InventoryItem) IsAvailable() bool {
	return i.Active && i.CapacityRemaining > 0
}
