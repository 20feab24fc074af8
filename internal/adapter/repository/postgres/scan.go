package postgres

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

const itemColumns = `id, kind, name, slug, capacity, capacity_remaining, price, pricing_unit, active, version, created_at, updated_at`

const bookingColumns = `id, requester_id, item_id, item_kind, quantity, unit_price, total_amount, status, start_date, end_date, details, created_at, updated_at`

var tracer = otel.Tracer("travel_booking/postgres")

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*domain.InventoryItem, error) {
	var item domain.InventoryItem
	err := row.Scan(
		&item.ID,
		&item.Kind,
		&item.Name,
		&item.Slug,
		&item.Capacity,
		&item.CapacityRemaining,
		&item.Price,
		&item.PricingUnit,
		&item.Active,
		&item.Version,
		&item.CreatedAt,
		&item.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}

func scanBooking(row rowScanner) (*domain.Booking, error) {
	var b domain.Booking
	var startDate, endDate sql.NullTime
	var details []byte

	err := row.Scan(
		&b.ID,
		&b.RequesterID,
		&b.ItemID,
		&b.ItemKind,
		&b.Quantity,
		&b.UnitPrice,
		&b.TotalAmount,
		&b.Status,
		&startDate,
		&endDate,
		&details,
		&b.CreatedAt,
		&b.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if startDate.Valid {
		b.StartDate = &startDate.Time
	}
	if endDate.Valid {
		b.EndDate = &endDate.Time
	}

	b.Details, err = domain.DecodeDetails(details)
	if err != nil {
		return nil, fmt.Errorf("booking %s: %w", b.ID, err)
	}
	return &b, nil
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

// translateError maps serialization failures and deadlocks onto
// ErrVersionConflict so the service retries them like a lost CAS.
func translateError(err error) error {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code {
		case "40001", "40P01":
			return fmt.Errorf("%w: %s", ports.ErrVersionConflict, pqErr.Message)
		}
	}
	return err
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
