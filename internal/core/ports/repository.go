package ports

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/travel_booking/internal/core/domain"
)

var (
	ErrItemNotFound    = errors.New("inventory item not found")
	ErrBookingNotFound = errors.New("booking not found")
	ErrVersionConflict = errors.New("optimistic lock failed: inventory item was modified by another transaction")
	ErrStatusConflict  = errors.New("booking status was modified by another transaction")
)

type InventoryRepository interface {
	CreateItem(ctx context.Context, item *domain.InventoryItem) error
	GetItem(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error)
	ListItems(ctx context.Context, kind domain.InventoryKind, activeOnly bool) ([]domain.InventoryItem, error)
	SetActive(ctx context.Context, itemID uuid.UUID, active bool) error
}

type BookingRepository interface {
	// CommitAdmission decrements the item's remaining capacity by
	// booking.Quantity and inserts the booking in one transaction. The
	// decrement only applies while the item is still at expectedVersion, is
	// active and has enough capacity; otherwise nothing is written and
	// ErrVersionConflict is returned.
	CommitAdmission(ctx context.Context, booking *domain.Booking, expectedVersion int) (*domain.InventoryItem, error)

	// CommitCancellation marks the booking CANCELLED and gives its quantity
	// back to the item in one transaction. A terminal booking yields a
	// *domain.RejectionError of kind AlreadyTerminal.
	CommitCancellation(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, *domain.InventoryItem, error)

	UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus) error
	GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error)
	ListBookingsByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error)
	GetExpiredBookings(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error)
}

type EventPublisher interface {
	Publish(ctx context.Context, event domain.BookingEvent) error
}

var ErrCacheMiss = errors.New("cache miss")

// CatalogCache holds inventory snapshots for display reads. Admission never
// consults it; writers only invalidate.
type CatalogCache interface {
	GetItem(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error)
	SetItem(ctx context.Context, item *domain.InventoryItem) error
	Invalidate(ctx context.Context, itemID uuid.UUID) error
}
