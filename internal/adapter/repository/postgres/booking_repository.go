package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

type BookingRepository struct {
	db *sql.DB
}

var _ ports.BookingRepository = (*BookingRepository)(nil)

func NewBookingRepository(db *sql.DB) *BookingRepository {
	return &BookingRepository{db: db}
}

func (r *BookingRepository) CommitAdmission(ctx context.Context, booking *domain.Booking, expectedVersion int) (_ *domain.InventoryItem, err error) {
	ctx, span := tracer.Start(ctx, "booking.commit_admission",
		trace.WithAttributes(
			attribute.String("booking.id", booking.ID.String()),
			attribute.String("item.id", booking.ItemID.String()),
			attribute.Int("booking.quantity", booking.Quantity),
			attribute.Int("expected.version", expectedVersion),
		),
	)
	defer func() { endSpan(span, err) }()

	details, err := domain.MarshalDetails(booking.Details)
	if err != nil {
		return nil, err
	}

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}

	defer tx.Rollback()

	// The version predicate is the compare-and-swap; the capacity predicate
	// keeps the floor at zero even if a caller skipped evaluation.
	queryDecrement := `
	UPDATE inventory_items
	SET capacity_remaining = capacity_remaining - $1,
		version = version + 1,
		updated_at = NOW()
	WHERE id = $2 AND version = $3 AND active AND capacity_remaining >= $1
	RETURNING ` + itemColumns

	item, err := scanItem(tx.QueryRowContext(ctx, queryDecrement, booking.Quantity, booking.ItemID, expectedVersion))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			span.SetAttributes(attribute.Bool("conflict.detected", true))
			return nil, ports.ErrVersionConflict
		}
		return nil, translateError(fmt.Errorf("failed to decrement capacity: %w", err))
	}

	queryInsert := `
	INSERT INTO bookings (id, requester_id, item_id, item_kind, quantity, unit_price, total_amount, status, start_date, end_date, details, created_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`

	_, err = tx.ExecContext(ctx, queryInsert,
		booking.ID, booking.RequesterID, booking.ItemID, booking.ItemKind, booking.Quantity,
		booking.UnitPrice, booking.TotalAmount, booking.Status,
		nullTime(booking.StartDate), nullTime(booking.EndDate),
		sql.NullString{String: string(details), Valid: len(details) > 0},
		booking.CreatedAt, booking.UpdatedAt,
	)
	if err != nil {
		return nil, translateError(fmt.Errorf("failed to insert booking: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return nil, translateError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	span.SetAttributes(attribute.Int("item.capacity_remaining", item.CapacityRemaining))
	return item, nil
}

func (r *BookingRepository) CommitCancellation(ctx context.Context, bookingID uuid.UUID) (_ *domain.Booking, _ *domain.InventoryItem, err error) {
	ctx, span := tracer.Start(ctx, "booking.commit_cancellation",
		trace.WithAttributes(attribute.String("booking.id", bookingID.String())),
	)
	defer func() { endSpan(span, err) }()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}

	defer tx.Rollback()

	booking, err := scanBooking(tx.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1 FOR UPDATE`, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ports.ErrBookingNotFound
		}
		return nil, nil, translateError(err)
	}

	item, err := scanItem(tx.QueryRowContext(ctx,
		`SELECT `+itemColumns+` FROM inventory_items WHERE id = $1 FOR UPDATE`, booking.ItemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil, ports.ErrItemNotFound
		}
		return nil, nil, translateError(err)
	}

	cancelled, _, err := domain.Cancel(*booking, *item, time.Now().UTC())
	if err != nil {
		return nil, nil, err
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE bookings SET status = $1, updated_at = $2 WHERE id = $3`,
		cancelled.Status, cancelled.UpdatedAt, cancelled.ID)
	if err != nil {
		return nil, nil, translateError(fmt.Errorf("failed to update booking status: %w", err))
	}

	restored, err := scanItem(tx.QueryRowContext(ctx, `
	UPDATE inventory_items
	SET capacity_remaining = capacity_remaining + $1,
		version = version + 1,
		updated_at = NOW()
	WHERE id = $2
	RETURNING `+itemColumns, cancelled.Quantity, cancelled.ItemID))
	if err != nil {
		return nil, nil, translateError(fmt.Errorf("failed to restore capacity: %w", err))
	}

	if err = tx.Commit(); err != nil {
		return nil, nil, translateError(fmt.Errorf("failed to commit transaction: %w", err))
	}

	return &cancelled, restored, nil
}

func (r *BookingRepository) UpdateStatus(ctx context.Context, bookingID uuid.UUID, from, to domain.BookingStatus) (err error) {
	ctx, span := tracer.Start(ctx, "booking.update_status",
		trace.WithAttributes(
			attribute.String("booking.id", bookingID.String()),
			attribute.String("status.from", string(from)),
			attribute.String("status.to", string(to)),
		),
	)
	defer func() { endSpan(span, err) }()

	query := `
	UPDATE bookings
	SET status = $1, updated_at = NOW()
	WHERE id = $2 AND status = $3
	`

	result, err := r.db.ExecContext(ctx, query, to, bookingID, from)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		var exists bool
		if err := r.db.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM bookings WHERE id = $1)`, bookingID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return ports.ErrBookingNotFound
		}
		return ports.ErrStatusConflict
	}

	return nil
}

func (r *BookingRepository) GetBooking(ctx context.Context, bookingID uuid.UUID) (_ *domain.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.get",
		trace.WithAttributes(attribute.String("booking.id", bookingID.String())),
	)
	defer func() { endSpan(span, err) }()

	booking, err := scanBooking(r.db.QueryRowContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE id = $1`, bookingID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrBookingNotFound
		}
		return nil, err
	}

	return booking, nil
}

func (r *BookingRepository) ListBookingsByRequester(ctx context.Context, requesterID uuid.UUID) (_ []domain.Booking, err error) {
	ctx, span := tracer.Start(ctx, "booking.list_by_requester",
		trace.WithAttributes(attribute.String("requester.id", requesterID.String())),
	)
	defer func() { endSpan(span, err) }()

	rows, err := r.db.QueryContext(ctx,
		`SELECT `+bookingColumns+` FROM bookings WHERE requester_id = $1 ORDER BY created_at DESC`, requesterID)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var bookings []domain.Booking
	for rows.Next() {
		booking, err := scanBooking(rows)
		if err != nil {
			return nil, err
		}

		bookings = append(bookings, *booking)
	}

	return bookings, rows.Err()
}

func (r *BookingRepository) GetExpiredBookings(ctx context.Context, createdBefore time.Time, limit int) (_ []uuid.UUID, err error) {
	ctx, span := tracer.Start(ctx, "booking.list_expired",
		trace.WithAttributes(attribute.Int("batch.limit", limit)),
	)
	defer func() { endSpan(span, err) }()

	query := `
	SELECT id FROM bookings
	WHERE status = 'PENDING' AND created_at < $1
	ORDER BY created_at ASC
	LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, createdBefore, limit)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var ids []uuid.UUID
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}

		ids = append(ids, id)
	}

	return ids, rows.Err()
}
