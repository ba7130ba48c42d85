package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dealdesk/internal/domain/catalog"
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository using the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByIDs loads the listed items. Any missing id fails the whole call with
// ErrNotFound, so callers never price a partial set.
func (r *CatalogRepository) GetByIDs(ctx context.Context, ids []string) ([]catalog.Item, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, name, unit_price, currency, serialized, available_quantity
		FROM catalog_items
		WHERE id = ANY($1)
	`, ids)
	if err != nil {
		return nil, fmt.Errorf("getting catalog items: %w", err)
	}
	defer rows.Close()

	out := make([]catalog.Item, 0, len(ids))
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning catalog item: %w", err)
		}
		out = append(out, *item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading catalog items: %w", err)
	}
	if len(out) != len(ids) {
		return nil, catalog.ErrNotFound
	}
	return out, nil
}

// UnitStatuses returns vin -> status for the given units of an item. Unknown
// VINs are absent from the result.
func (r *CatalogRepository) UnitStatuses(ctx context.Context, catalogItemID string, vins []string) (map[string]string, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT vin, status
		FROM vehicle_units
		WHERE catalog_item_id = $1 AND vin = ANY($2)
	`, catalogItemID, vins)
	if err != nil {
		return nil, fmt.Errorf("getting unit statuses for %q: %w", catalogItemID, err)
	}
	defer rows.Close()

	out := make(map[string]string, len(vins))
	for rows.Next() {
		var vin, status string
		if err := rows.Scan(&vin, &status); err != nil {
			return nil, fmt.Errorf("scanning unit status: %w", err)
		}
		out[vin] = status
	}
	return out, rows.Err()
}

func scanItem(row pgx.Row) (*catalog.Item, error) {
	var item catalog.Item
	err := row.Scan(
		&item.ID, &item.Name, &item.UnitPrice.Amount, &item.UnitPrice.Currency,
		&item.Serialized, &item.AvailableQuantity,
	)
	if err != nil {
		return nil, err
	}
	return &item, nil
}
