package domain

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

const Day = 24 * time.Hour

var ErrDetailsMismatch = errors.New("booking details do not match the inventory kind")

// Decision is the outcome of evaluating one request against one item snapshot.
// Exactly one of Rejection or (Booking, UpdatedItem) is set.
type Decision struct {
	Admitted    bool
	Rejection   *RejectionError
	Booking     *Booking
	UpdatedItem *InventoryItem
}

// RentalDays counts whole days in [start, end), rounding a partial day up.
func RentalDays(start, end time.Time) int {
	span := end.Sub(start)
	if span <= 0 {
		return 0
	}
	days := int(span / Day)
	if span%Day != 0 {
		days++
	}
	return days
}

func TotalAmount(item InventoryItem, quantity int, r *DateRange) float64 {
	total := item.Price * float64(quantity)
	if item.PricingUnit == PricePerDay && r != nil {
		total *= float64(RentalDays(r.Start, r.End))
	}
	return total
}

// CheckDetails verifies that request details, if any, belong to the item's kind.
func CheckDetails(item InventoryItem, d BookingDetails) error {
	if d == nil || d.Kind() == item.Kind {
		return nil
	}
	return fmt.Errorf("%w: got %s details for a %s", ErrDetailsMismatch, d.Kind(), item.Kind)
}

// Evaluate decides whether req can be admitted against item. item is taken by
// value and never modified; on admission the decremented copy is returned in
// UpdatedItem. Checks run in a fixed order and the first failure wins.
func Evaluate(item InventoryItem, req BookingRequest, now time.Time) Decision {
	if rej := check(item, req, now); rej != nil {
		return Decision{Rejection: rej}
	}

	updated := item
	updated.CapacityRemaining -= req.Quantity

	booking := &Booking{
		ID:          uuid.New(),
		RequesterID: req.RequesterID,
		ItemID:      item.ID,
		ItemKind:    item.Kind,
		Quantity:    req.Quantity,
		UnitPrice:   item.Price,
		TotalAmount: TotalAmount(item, req.Quantity, req.Range),
		Status:      BookingPending,
		Details:     req.Details,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	switch {
	case req.Range != nil:
		start, end := req.Range.Start, req.Range.End
		booking.StartDate = &start
		booking.EndDate = &end
	case req.Date != nil:
		d := *req.Date
		booking.StartDate = &d
	}

	return Decision{Admitted: true, Booking: booking, UpdatedItem: &updated}
}

func check(item InventoryItem, req BookingRequest, now time.Time) *RejectionError {
	if !item.Active {
		return Reject(InventoryUnavailable, "%s is no longer available", displayName(item))
	}

	if req.FractionalQuantity != "" {
		return Reject(InvalidQuantity, "quantity must be a whole number, got %s", req.FractionalQuantity)
	}
	if req.Quantity < 1 {
		return Reject(InvalidQuantity, "quantity must be at least 1, got %d", req.Quantity)
	}

	switch {
	case req.Range != nil:
		if !req.Range.Start.Before(req.Range.End) {
			return Reject(InvalidDateRange, "end date must be after start date")
		}
		if req.Range.Start.Before(now) {
			return Reject(DateInPast, "start date %s has already passed", req.Range.Start.Format(time.DateOnly))
		}
	case item.PricingUnit == PricePerDay:
		return Reject(InvalidDateRange, "a rental period is required for %s", displayName(item))
	case req.Date != nil && req.Date.Before(now):
		return Reject(DateInPast, "date %s has already passed", req.Date.Format(time.DateOnly))
	}

	if req.Quantity > item.CapacityRemaining {
		return capacityRejection(item)
	}
	return nil
}

func capacityRejection(item InventoryItem) *RejectionError {
	noun := item.Kind.UnitNoun()
	if item.CapacityRemaining <= 0 {
		return Reject(CapacityExceeded, "no %s remain", noun)
	}
	if item.CapacityRemaining == 1 {
		return Reject(CapacityExceeded, "only 1 %s remains", strings.TrimSuffix(noun, "s"))
	}
	return Reject(CapacityExceeded, "only %d %s remain", item.CapacityRemaining, noun)
}

func displayName(item InventoryItem) string {
	if item.Name != "" {
		return item.Name
	}
	return "this " + strings.ReplaceAll(string(item.Kind), "_", " ")
}

// Cancel releases the capacity held by b. Only PENDING and CONFIRMED bookings
// can be cancelled.
func Cancel(b Booking, item InventoryItem, now time.Time) (Booking, InventoryItem, error) {
	if b.Status.IsTerminal() {
		return b, item, Reject(AlreadyTerminal, "booking is already %s", strings.ToLower(string(b.Status)))
	}
	b.Status = BookingCancelled
	b.UpdatedAt = now
	item.CapacityRemaining += b.Quantity
	item.UpdatedAt = now
	return b, item, nil
}

// Transition applies an administrative status change. Cancellation is not a
// transition; it goes through Cancel so capacity is restored.
func Transition(b Booking, to BookingStatus, now time.Time) (Booking, error) {
	if b.Status.IsTerminal() {
		return b, Reject(AlreadyTerminal, "booking is already %s", strings.ToLower(string(b.Status)))
	}
	switch {
	case b.Status == BookingPending && to == BookingConfirmed:
	case b.Status == BookingConfirmed && to == BookingCompleted:
	case to == BookingCancelled:
		return b, Reject(InvalidTransition, "use cancellation to cancel a booking")
	default:
		return b, Reject(InvalidTransition, "cannot move booking from %s to %s", b.Status, to)
	}
	b.Status = to
	b.UpdatedAt = now
	return b, nil
}
