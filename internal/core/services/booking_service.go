package services

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

var (
	// ErrStorage wraps every infrastructure failure. Callers should show a
	// generic retry-later message and never the wrapped detail.
	ErrStorage        = errors.New("service temporarily unavailable, please retry later")
	ErrInvalidRequest = errors.New("invalid request")
)

const (
	defaultMaxAttempts   = 8
	defaultCommitTimeout = 5 * time.Second
	defaultSweepInterval = time.Minute
	expiryBatchSize      = 100
	sideEffectTimeout    = 2 * time.Second
)

type Options struct {
	// MaxAttempts bounds how often an admission is re-evaluated after losing
	// the version race.
	MaxAttempts uint
	// CommitTimeout bounds the storage commit, which runs detached from the
	// caller's context.
	CommitTimeout time.Duration
	// PendingTTL enables expiry of unconfirmed bookings when positive.
	PendingTTL    time.Duration
	SweepInterval time.Duration
	Now           func() time.Time
}

func (o Options) withDefaults() Options {
	if o.MaxAttempts == 0 {
		o.MaxAttempts = defaultMaxAttempts
	}
	if o.CommitTimeout <= 0 {
		o.CommitTimeout = defaultCommitTimeout
	}
	if o.SweepInterval <= 0 {
		o.SweepInterval = defaultSweepInterval
	}
	if o.Now == nil {
		o.Now = func() time.Time { return time.Now().UTC() }
	}
	return o
}

type AdmitRequest struct {
	ItemID      string `json:"item_id" validate:"required,uuid"`
	RequesterID string `json:"requester_id" validate:"required,uuid"`
	Quantity    int    `json:"quantity"`
	// StartDate and EndDate accept 2006-01-02 or RFC 3339. A start date on its
	// own is a single-day booking.
	StartDate string          `json:"start_date,omitempty"`
	EndDate   string          `json:"end_date,omitempty"`
	Metadata  json.RawMessage `json:"metadata,omitempty"`

	fractionalQuantity string
}

// UnmarshalJSON accepts any JSON number as the quantity so that a fractional
// one is rejected as InvalidQuantity instead of failing the whole body.
// Unknown fields are refused.
func (r *AdmitRequest) UnmarshalJSON(data []byte) error {
	type plain AdmitRequest
	aux := struct {
		*plain
		Quantity json.Number `json:"quantity"`
	}{plain: (*plain)(r)}

	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(&aux); err != nil {
		return err
	}

	r.Quantity, r.fractionalQuantity = 0, ""
	if aux.Quantity == "" {
		return nil
	}

	f, err := aux.Quantity.Float64()
	if err != nil {
		return fmt.Errorf("quantity: %w", err)
	}
	switch {
	case f != math.Trunc(f):
		r.fractionalQuantity = aux.Quantity.String()
	case f > math.MaxInt32:
		r.Quantity = math.MaxInt32
	case f < math.MinInt32:
		r.Quantity = math.MinInt32
	default:
		r.Quantity = int(f)
	}
	return nil
}

type AdmitResponse struct {
	Admitted                 bool             `json:"admitted"`
	BookingID                string           `json:"booking_id,omitempty"`
	TotalAmount              *float64         `json:"total_amount,omitempty"`
	UpdatedCapacityRemaining *int             `json:"updated_capacity_remaining,omitempty"`
	Status                   string           `json:"status,omitempty"`
	ExpiresAt                string           `json:"expires_at,omitempty"`
	Reason                   domain.ErrorKind `json:"reason,omitempty"`
	Message                  string           `json:"message,omitempty"`
}

type CancelResponse struct {
	Booking           *domain.Booking `json:"booking"`
	CapacityRemaining int             `json:"capacity_remaining"`
}

type BookingService struct {
	inventoryRepo ports.InventoryRepository
	bookingRepo   ports.BookingRepository
	cache         ports.CatalogCache
	publisher     ports.EventPublisher
	opts          Options
	admissions    metric.Int64Counter
}

func NewBookingService(
	inventoryRepo ports.InventoryRepository,
	bookingRepo ports.BookingRepository,
	cache ports.CatalogCache,
	publisher ports.EventPublisher,
	opts Options,
) *BookingService {
	admissions, err := otel.Meter("travel_booking/services").Int64Counter(
		"booking.admissions",
		metric.WithDescription("Admission decisions by outcome"),
	)
	if err != nil {
		log.Printf("Failed to create admissions counter: %v", err)
	}

	return &BookingService{
		inventoryRepo: inventoryRepo,
		bookingRepo:   bookingRepo,
		cache:         cache,
		publisher:     publisher,
		opts:          opts.withDefaults(),
		admissions:    admissions,
	}
}

// Admit evaluates the request against the current item state and, when it
// passes, commits the capacity decrement and the booking together. Losing the
// version race re-reads the item and evaluates again, so a retry can still end
// in a rejection. Rejections are returned as a response, not an error.
func (s *BookingService) Admit(ctx context.Context, req AdmitRequest) (*AdmitResponse, error) {
	bookingReq, err := parseAdmitRequest(req)
	if err != nil {
		return nil, err
	}

	resp, err := backoff.Retry(ctx, func() (*AdmitResponse, error) {
		return s.tryAdmit(ctx, bookingReq, req.Metadata)
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(s.opts.MaxAttempts))
	if err != nil {
		if errors.Is(err, ports.ErrVersionConflict) {
			s.record(ctx, "conflict")
			return nil, storageError(fmt.Sprintf("admit on item %s", bookingReq.ItemID), err)
		}
		if errors.Is(err, ErrStorage) {
			s.record(ctx, "error")
		}
		return nil, err
	}

	if resp.Admitted {
		s.record(ctx, "admitted")
	} else {
		s.record(ctx, string(resp.Reason))
	}
	return resp, nil
}

func (s *BookingService) tryAdmit(ctx context.Context, req domain.BookingRequest, metadata json.RawMessage) (*AdmitResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, backoff.Permanent(err)
	}

	item, err := s.inventoryRepo.GetItem(ctx, req.ItemID)
	if err != nil {
		if errors.Is(err, ports.ErrItemNotFound) {
			return rejected(domain.Reject(domain.InventoryUnavailable, "this item does not exist")), nil
		}
		return nil, backoff.Permanent(storageError("load item", err))
	}

	req.Details, err = decodeMetadata(metadata, *item)
	if err != nil {
		return nil, backoff.Permanent(fmt.Errorf("%w: %v", ErrInvalidRequest, err))
	}

	decision := domain.Evaluate(*item, req, s.opts.Now())
	if !decision.Admitted {
		return rejected(decision.Rejection), nil
	}

	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
	defer cancel()

	updated, err := s.bookingRepo.CommitAdmission(commitCtx, decision.Booking, item.Version)
	if err != nil {
		switch {
		case errors.Is(err, ports.ErrVersionConflict):
			return nil, err
		case errors.Is(err, ports.ErrItemNotFound):
			return rejected(domain.Reject(domain.InventoryUnavailable, "this item does not exist")), nil
		default:
			return nil, backoff.Permanent(storageError("commit admission", err))
		}
	}

	s.afterCommit(ctx, domain.EventBookingAdmitted, decision.Booking, updated)

	remaining := updated.CapacityRemaining
	total := decision.Booking.TotalAmount
	resp := &AdmitResponse{
		Admitted:                 true,
		BookingID:                decision.Booking.ID.String(),
		TotalAmount:              &total,
		UpdatedCapacityRemaining: &remaining,
		Status:                   string(decision.Booking.Status),
	}
	if s.opts.PendingTTL > 0 {
		resp.ExpiresAt = decision.Booking.CreatedAt.Add(s.opts.PendingTTL).Format(time.RFC3339)
	}
	return resp, nil
}

// Cancel releases the booking's capacity back to its item. Only PENDING and
// CONFIRMED bookings can be cancelled.
func (s *BookingService) Cancel(ctx context.Context, bookingID string) (*CancelResponse, error) {
	id, err := uuid.Parse(bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid booking id", ErrInvalidRequest)
	}
	return s.cancel(ctx, id)
}

func (s *BookingService) cancel(ctx context.Context, id uuid.UUID) (*CancelResponse, error) {
	commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
	defer cancel()

	booking, item, err := s.bookingRepo.CommitCancellation(commitCtx, id)
	if err != nil {
		var rej *domain.RejectionError
		switch {
		case errors.As(err, &rej):
			return nil, rej
		case errors.Is(err, ports.ErrBookingNotFound):
			return nil, err
		default:
			return nil, storageError("commit cancellation", err)
		}
	}

	s.afterCommit(ctx, domain.EventBookingCancelled, booking, item)

	return &CancelResponse{Booking: booking, CapacityRemaining: item.CapacityRemaining}, nil
}

// UpdateStatus moves a booking forward: PENDING to CONFIRMED, CONFIRMED to
// COMPLETED. The status write is conditional on the status it was read with.
func (s *BookingService) UpdateStatus(ctx context.Context, bookingID, status string) (*domain.Booking, error) {
	id, err := uuid.Parse(bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid booking id", ErrInvalidRequest)
	}

	to := domain.BookingStatus(strings.ToUpper(strings.TrimSpace(status)))
	if !to.Valid() {
		return nil, fmt.Errorf("%w: unknown status %q", ErrInvalidRequest, status)
	}

	updated, err := backoff.Retry(ctx, func() (*domain.Booking, error) {
		current, err := s.bookingRepo.GetBooking(ctx, id)
		if err != nil {
			if errors.Is(err, ports.ErrBookingNotFound) {
				return nil, backoff.Permanent(err)
			}
			return nil, backoff.Permanent(storageError("load booking", err))
		}

		next, err := domain.Transition(*current, to, s.opts.Now())
		if err != nil {
			return nil, backoff.Permanent(err)
		}

		commitCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.opts.CommitTimeout)
		defer cancel()

		if err := s.bookingRepo.UpdateStatus(commitCtx, id, current.Status, to); err != nil {
			switch {
			case errors.Is(err, ports.ErrStatusConflict):
				return nil, err
			case errors.Is(err, ports.ErrBookingNotFound):
				return nil, backoff.Permanent(err)
			default:
				return nil, backoff.Permanent(storageError("update booking status", err))
			}
		}
		return &next, nil
	}, backoff.WithBackOff(newBackOff()), backoff.WithMaxTries(3))
	if err != nil {
		return nil, err
	}

	s.afterCommit(ctx, domain.EventBookingStatusChanged, updated, nil)
	return updated, nil
}

func (s *BookingService) GetBooking(ctx context.Context, bookingID string) (*domain.Booking, error) {
	id, err := uuid.Parse(bookingID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid booking id", ErrInvalidRequest)
	}

	booking, err := s.bookingRepo.GetBooking(ctx, id)
	if err != nil {
		if errors.Is(err, ports.ErrBookingNotFound) {
			return nil, err
		}
		return nil, storageError("load booking", err)
	}
	return booking, nil
}

func (s *BookingService) ListByRequester(ctx context.Context, requesterID string) ([]domain.Booking, error) {
	id, err := uuid.Parse(requesterID)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid requester id", ErrInvalidRequest)
	}

	bookings, err := s.bookingRepo.ListBookingsByRequester(ctx, id)
	if err != nil {
		return nil, storageError("list bookings", err)
	}
	if bookings == nil {
		bookings = []domain.Booking{}
	}
	return bookings, nil
}

func (s *BookingService) RunPendingExpiry(ctx context.Context) {
	if s.opts.PendingTTL <= 0 {
		log.Println("Pending expiry disabled.")
		return
	}

	ticker := time.NewTicker(s.opts.SweepInterval)
	defer ticker.Stop()

	log.Printf("Background Worker started: expiring PENDING bookings older than %s every %s...", s.opts.PendingTTL, s.opts.SweepInterval)

	for {
		select {
		case <-ctx.Done():
			log.Println("Background Worker stopped.")
			return
		case <-ticker.C:
			if _, err := s.ExpirePendingBookings(ctx); err != nil {
				log.Printf("Error expiring pending bookings: %v", err)
			}
		}
	}
}

// ExpirePendingBookings cancels PENDING bookings older than the configured
// TTL and returns how many were released.
func (s *BookingService) ExpirePendingBookings(ctx context.Context) (int, error) {
	if s.opts.PendingTTL <= 0 {
		return 0, nil
	}

	cutoff := s.opts.Now().Add(-s.opts.PendingTTL)
	ids, err := s.bookingRepo.GetExpiredBookings(ctx, cutoff, expiryBatchSize)
	if err != nil {
		return 0, storageError("fetch expired bookings", err)
	}

	if len(ids) == 0 {
		return 0, nil
	}

	log.Printf("Found %d expired bookings. Cleaning up...", len(ids))

	released := 0
	for _, id := range ids {
		if _, err := s.cancel(ctx, id); err != nil {
			// Confirmed or cancelled since the scan.
			if errors.Is(err, domain.ErrAlreadyTerminal) {
				continue
			}
			log.Printf("Failed to cancel booking %s: %v", id, err)
			continue
		}
		released++
		log.Printf("Booking %s expired and capacity released.", id)
	}
	return released, nil
}

// afterCommit runs the best-effort side effects of a committed write. item is
// nil when the write did not touch capacity.
func (s *BookingService) afterCommit(ctx context.Context, eventType domain.EventType, booking *domain.Booking, item *domain.InventoryItem) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sideEffectTimeout)
	defer cancel()

	if item != nil && s.cache != nil {
		if err := s.cache.Invalidate(ctx, item.ID); err != nil {
			log.Printf("Failed to invalidate cache for item %s: %v", item.ID, err)
		}
	}

	if s.publisher != nil {
		event := domain.NewBookingEvent(eventType, booking, item, s.opts.Now())
		if err := s.publisher.Publish(ctx, event); err != nil {
			log.Printf("Failed to publish %s for booking %s: %v", eventType, booking.ID, err)
		}
	}
}

func (s *BookingService) record(ctx context.Context, outcome string) {
	if s.admissions == nil {
		return
	}
	s.admissions.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", outcome)))
}

func rejected(rej *domain.RejectionError) *AdmitResponse {
	return &AdmitResponse{Admitted: false, Reason: rej.Kind, Message: rej.Message}
}

func storageError(op string, err error) error {
	log.Printf("Storage failure during %s: %v", op, err)
	return fmt.Errorf("%w: %s: %v", ErrStorage, op, err)
}

func newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 5 * time.Millisecond
	b.MaxInterval = 200 * time.Millisecond
	return b
}

func parseAdmitRequest(req AdmitRequest) (domain.BookingRequest, error) {
	itemID, err := uuid.Parse(req.ItemID)
	if err != nil {
		return domain.BookingRequest{}, fmt.Errorf("%w: invalid item id", ErrInvalidRequest)
	}

	requesterID, err := uuid.Parse(req.RequesterID)
	if err != nil {
		return domain.BookingRequest{}, fmt.Errorf("%w: invalid requester id", ErrInvalidRequest)
	}

	out := domain.BookingRequest{
		ItemID:      itemID,
		RequesterID: requesterID,
		Quantity:    req.Quantity,

		FractionalQuantity: req.fractionalQuantity,
	}

	start, err := parseDate(req.StartDate)
	if err != nil {
		return out, fmt.Errorf("%w: start_date: %v", ErrInvalidRequest, err)
	}
	end, err := parseDate(req.EndDate)
	if err != nil {
		return out, fmt.Errorf("%w: end_date: %v", ErrInvalidRequest, err)
	}

	switch {
	case start != nil && end != nil:
		out.Range = &domain.DateRange{Start: *start, End: *end}
	case start != nil:
		out.Date = start
	case end != nil:
		return out, fmt.Errorf("%w: end_date given without start_date", ErrInvalidRequest)
	}
	return out, nil
}

func parseDate(s string) (*time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, nil
	}
	if t, err := time.Parse(time.DateOnly, s); err == nil {
		return &t, nil
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, fmt.Errorf("expected YYYY-MM-DD or RFC 3339, got %q", s)
	}
	t = t.UTC()
	return &t, nil
}

// decodeMetadata turns the free-form metadata object into the details variant
// for the item's kind. The "kind" tag may be omitted.
func decodeMetadata(raw json.RawMessage, item domain.InventoryItem) (domain.BookingDetails, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return nil, fmt.Errorf("metadata must be an object: %v", err)
	}
	if _, ok := fields["kind"]; !ok {
		fields["kind"], _ = json.Marshal(item.Kind)
		tagged, err := json.Marshal(fields)
		if err != nil {
			return nil, err
		}
		raw = tagged
	}

	details, err := domain.DecodeDetails(raw)
	if err != nil {
		return nil, err
	}
	if err := domain.CheckDetails(item, details); err != nil {
		return nil, err
	}
	return details, nil
}
