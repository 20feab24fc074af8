package domain

import (
	"time"

	"github.com/google/uuid"
)

type EventType string

const (
	EventBookingAdmitted      EventType = "booking.admitted"
	EventBookingCancelled     EventType = "booking.cancelled"
	EventBookingStatusChanged EventType = "booking.status_changed"
)

// BookingEvent is published after a booking write has been committed.
type BookingEvent struct {
	Type              EventType     `json:"type"`
	BookingID         uuid.UUID     `json:"booking_id"`
	ItemID            uuid.UUID     `json:"item_id"`
	ItemKind          InventoryKind `json:"item_kind"`
	RequesterID       uuid.UUID     `json:"requester_id"`
	Quantity          int           `json:"quantity"`
	TotalAmount       float64       `json:"total_amount"`
	Status            BookingStatus `json:"status"`
	CapacityRemaining *int          `json:"capacity_remaining,omitempty"`
	OccurredAt        time.Time     `json:"occurred_at"`
}

func NewBookingEvent(t EventType, b *Booking, item *InventoryItem, at time.Time) BookingEvent {
	ev := BookingEvent{
		Type:        t,
		BookingID:   b.ID,
		ItemID:      b.ItemID,
		ItemKind:    b.ItemKind,
		RequesterID: b.RequesterID,
		Quantity:    b.Quantity,
		TotalAmount: b.TotalAmount,
		Status:      b.Status,
		OccurredAt:  at.UTC(),
	}
	if item != nil {
		remaining := item.CapacityRemaining
		ev.CapacityRemaining = &remaining
	}
	return ev
}
