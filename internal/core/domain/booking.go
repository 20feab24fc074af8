package domain

import (
	"time"

	"github.com/google/uuid"
)

type BookingStatus string

const (
	BookingPending   BookingStatus = "PENDING"
	BookingConfirmed BookingStatus = "CONFIRMED"
	BookingCompleted BookingStatus = "COMPLETED"
	BookingCancelled BookingStatus = "CANCELLED"
)

func (s BookingStatus) Valid() bool {
	switch s {
	case BookingPending, BookingConfirmed, BookingCompleted, BookingCancelled:
		return true
	}
	return false
}

func (s BookingStatus) IsTerminal() bool {
	return s == BookingCancelled || s == BookingCompleted
}

// Booking is the durable record of an admitted request. RequesterID and ItemID
// are plain references; the booking owns neither.
type Booking struct {
	ID          uuid.UUID      `json:"id"`
	RequesterID uuid.UUID      `json:"requester_id"`
	ItemID      uuid.UUID      `json:"item_id"`
	ItemKind    InventoryKind  `json:"item_kind"`
	Quantity    int            `json:"quantity"`
	UnitPrice   float64        `json:"unit_price"`
	TotalAmount float64        `json:"total_amount"`
	Status      BookingStatus  `json:"status"`
	StartDate   *time.Time     `json:"start_date,omitempty"`
	EndDate     *time.Time     `json:"end_date,omitempty"`
	Details     BookingDetails `json:"-"`
	CreatedAt   time.Time      `json:"created_at"`
	UpdatedAt   time.Time      `json:"updated_at"`
}

// CountsAgainstCapacity reports whether the booking still holds capacity on its item.
func (b *Booking) CountsAgainstCapacity() bool {
	return b.Status != BookingCancelled
}

// DateRange is a half-open rental period [Start, End).
type DateRange struct {
	Start time.Time
	End   time.Time
}

type BookingRequest struct {
	ItemID      uuid.UUID
	RequesterID uuid.UUID
	Quantity    int
	// FractionalQuantity holds the caller's literal when the quantity sent
	// was not a whole number. Quantity is then meaningless.
	FractionalQuantity string
	// Range is set for rentals and stays; Date for single-day items such as a
	// tour departure. At most one of the two is expected.
	Range   *DateRange
	Date    *time.Time
	Details BookingDetails
}
