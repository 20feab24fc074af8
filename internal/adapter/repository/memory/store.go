// Package memory is a process-local implementation of the repository ports.
// It applies the same version compare-and-swap as the Postgres store, so the
// admission service behaves identically on top of it. Used by tests and by
// STORAGE_DRIVER=memory for local runs.
package memory

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

var ErrDuplicateID = errors.New("record with this id already exists")

type Store struct {
	mu        sync.Mutex
	items     map[uuid.UUID]domain.InventoryItem
	itemOrder []uuid.UUID
	bookings  map[uuid.UUID]domain.Booking
	now       func() time.Time
}

var (
	_ ports.InventoryRepository = (*Store)(nil)
	_ ports.BookingRepository   = (*Store)(nil)
)

func NewStore() *Store {
	return &Store{
		items:    make(map[uuid.UUID]domain.InventoryItem),
		bookings: make(map[uuid.UUID]domain.Booking),
		now:      func() time.Time { return time.Now().UTC() },
	}
}

func (s *Store) CreateItem(ctx context.Context, item *domain.InventoryItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.items[item.ID]; exists {
		return fmt.Errorf("create item %s: %w", item.ID, ErrDuplicateID)
	}

	now := s.now()
	if item.CreatedAt.IsZero() {
		item.CreatedAt = now
	}
	item.UpdatedAt = now
	if item.Version == 0 {
		item.Version = 1
	}

	s.items[item.ID] = *item
	s.itemOrder = append(s.itemOrder, item.ID)
	return nil
}

func (s *Store) GetItem(ctx context.Context, itemID uuid.UUID) (*domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return nil, ports.ErrItemNotFound
	}
	return &item, nil
}

func (s *Store) ListItems(ctx context.Context, kind domain.InventoryKind, activeOnly bool) ([]domain.InventoryItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]domain.InventoryItem, 0, len(s.itemOrder))
	for _, id := range s.itemOrder {
		item := s.items[id]
		if kind != "" && item.Kind != kind {
			continue
		}
		if activeOnly && !item.Active {
			continue
		}
		items = append(items, item)
	}
	return items, nil
}

// SetActive bumps the version so an admission that read the item before the
// flag changed cannot commit against it.
func (s *Store) SetActive(ctx context.Context, itemID uuid.UUID, active bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[itemID]
	if !ok {
		return ports.ErrItemNotFound
	}
	item.Active = active
	item.Version++
	item.UpdatedAt = s.now()
	s.items[itemID] = item
	return nil
}

func (s *Store) CommitAdmission(ctx context.Context, booking *domain.Booking, expectedVersion int) (*domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	item, ok := s.items[booking.ItemID]
	if !ok {
		return nil, ports.ErrItemNotFound
	}
	if item.Version != expectedVersion || !item.Active || item.CapacityRemaining < booking.Quantity {
		return nil, ports.ErrVersionConflict
	}
	if _, exists := s.bookings[booking.ID]; exists {
		return nil, fmt.Errorf("insert booking %s: %w", booking.ID, ErrDuplicateID)
	}

	item.CapacityRemaining -= booking.Quantity
	item.Version++
	item.UpdatedAt = s.now()

	s.items[item.ID] = item
	s.bookings[booking.ID] = *booking
	return &item, nil
}

func (s *Store) CommitCancellation(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, *domain.InventoryItem, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, nil, ports.ErrBookingNotFound
	}
	item, ok := s.items[booking.ItemID]
	if !ok {
		return nil, nil, ports.ErrItemNotFound
	}

	cancelled, restored, err := domain.Cancel(booking, item, s.now())
	if err != nil {
		return nil, nil, err
	}
	restored.Version++

	s.bookings[bookingID] = cancelled
	s.items[restored.ID] = restored
	return &cancelled, &restored, nil
}

func (s *Store) UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[bookingID]
	if !ok {
		return ports.ErrBookingNotFound
	}
	if booking.Status != from {
		return ports.ErrStatusConflict
	}
	booking.Status = to
	booking.UpdatedAt = s.now()
	s.bookings[bookingID] = booking
	return nil
}

func (s *Store) GetBooking(ctx context.Context, bookingID uuid.UUID) (*domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	booking, ok := s.bookings[bookingID]
	if !ok {
		return nil, ports.ErrBookingNotFound
	}
	return &booking, nil
}

func (s *Store) ListBookingsByRequester(ctx context.Context, requesterID uuid.UUID) ([]domain.Booking, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var bookings []domain.Booking
	for _, b := range s.bookings {
		if b.RequesterID == requesterID {
			bookings = append(bookings, b)
		}
	}
	sort.Slice(bookings, func(i, j int) bool {
		return bookings[i].CreatedAt.After(bookings[j].CreatedAt)
	})
	return bookings, nil
}

func (s *Store) GetExpiredBookings(ctx context.Context, createdBefore time.Time, limit int) ([]uuid.UUID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	var expired []domain.Booking
	for _, b := range s.bookings {
		if b.Status == domain.BookingPending && b.CreatedAt.Before(createdBefore) {
			expired = append(expired, b)
		}
	}
	sort.Slice(expired, func(i, j int) bool {
		return expired[i].CreatedAt.Before(expired[j].CreatedAt)
	})

	ids := make([]uuid.UUID, 0, len(expired))
	for _, b := range expired {
		if limit > 0 && len(ids) == limit {
			break
		}
		ids = append(ids, b.ID)
	}
	return ids, nil
}

// CommittedQuantity sums the quantities of non-cancelled bookings on an item.
func (s *Store) CommittedQuantity(itemID uuid.UUID) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	total := 0
	for _, b := range s.bookings {
		if b.ItemID == itemID && b.CountsAgainstCapacity() {
			total += b.Quantity
		}
	}
	return total
}
