package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/srgjo27/travel_booking/internal/core/domain"
	"github.com/srgjo27/travel_booking/internal/core/ports"
)

type InventoryRepository struct {
	db *sql.DB
}

var _ ports.InventoryRepository = (*InventoryRepository)(nil)

func NewInventoryRepository(db *sql.DB) *InventoryRepository {
	return &InventoryRepository{db: db}
}

func (r *InventoryRepository) CreateItem(ctx context.Context, item *domain.InventoryItem) (err error) {
	ctx, span := tracer.Start(ctx, "inventory.create",
		trace.WithAttributes(
			attribute.String("item.id", item.ID.String()),
			attribute.String("item.kind", string(item.Kind)),
		),
	)
	defer func() { endSpan(span, err) }()

	query := `
	INSERT INTO inventory_items (id, kind, name, slug, capacity, capacity_remaining, price, pricing_unit, active, version)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, 1)
	RETURNING version, created_at, updated_at
	`

	err = r.db.QueryRowContext(ctx, query,
		item.ID, item.Kind, item.Name, item.Slug, item.Capacity, item.CapacityRemaining,
		item.Price, item.PricingUnit, item.Active,
	).Scan(&item.Version, &item.CreatedAt, &item.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert inventory item: %w", err)
	}

	return nil
}

func (r *InventoryRepository) GetItem(ctx context.Context, itemID uuid.UUID) (_ *domain.InventoryItem, err error) {
	ctx, span := tracer.Start(ctx, "inventory.get",
		trace.WithAttributes(attribute.String("item.id", itemID.String())),
	)
	defer func() { endSpan(span, err) }()

	query := `SELECT ` + itemColumns + ` FROM inventory_items WHERE id = $1`

	item, err := scanItem(r.db.QueryRowContext(ctx, query, itemID))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ports.ErrItemNotFound
		}
		return nil, err
	}

	span.SetAttributes(
		attribute.Int("item.version", item.Version),
		attribute.Int("item.capacity_remaining", item.CapacityRemaining),
	)
	return item, nil
}

func (r *InventoryRepository) ListItems(ctx context.Context, kind domain.InventoryKind, activeOnly bool) (_ []domain.InventoryItem, err error) {
	ctx, span := tracer.Start(ctx, "inventory.list",
		trace.WithAttributes(
			attribute.String("item.kind", string(kind)),
			attribute.Bool("active_only", activeOnly),
		),
	)
	defer func() { endSpan(span, err) }()

	query := `
	SELECT ` + itemColumns + `
	FROM inventory_items
	WHERE ($1 = '' OR kind = $1) AND (NOT $2 OR active)
	ORDER BY created_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, string(kind), activeOnly)
	if err != nil {
		return nil, err
	}

	defer rows.Close()

	var items []domain.InventoryItem
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, err
		}

		items = append(items, *item)
	}

	return items, rows.Err()
}

// SetActive flips the soft-delete flag. The version bump makes any admission
// that read the old state fail its compare-and-swap.
func (r *InventoryRepository) SetActive(ctx context.Context, itemID uuid.UUID, active bool) (err error) {
	ctx, span := tracer.Start(ctx, "inventory.set_active",
		trace.WithAttributes(
			attribute.String("item.id", itemID.String()),
			attribute.Bool("item.active", active),
		),
	)
	defer func() { endSpan(span, err) }()

	query := `
	UPDATE inventory_items
	SET active = $1,
		version = version + 1,
		updated_at = NOW()
	WHERE id = $2
	`

	result, err := r.db.ExecContext(ctx, query, active, itemID)
	if err != nil {
		return err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rowsAffected == 0 {
		return ports.ErrItemNotFound
	}

	return nil
}
