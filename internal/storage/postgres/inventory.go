package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dealdesk/internal/domain/inventory"
)

var _ inventory.Store = (*InventoryStore)(nil)

// InventoryStore implements inventory.Store backed by PostgreSQL. Every check
// lives in the WHERE clause of the statement that mutates, so concurrent
// callers can never both pass a capacity or availability check.
type InventoryStore struct {
	pool *pgxpool.Pool
}

// NewInventoryStore returns an InventoryStore using the given pool.
func NewInventoryStore(pool *pgxpool.Pool) *InventoryStore {
	return &InventoryStore{pool: pool}
}

// DecrementStock performs the atomic compare-and-decrement on the item's
// available quantity. Zero rows matched means the stock was insufficient (or
// the item unknown), and nothing was changed.
func (s *InventoryStore) DecrementStock(ctx context.Context, catalogItemID string, qty int) error {
	tag, err := s.pool.Exec(ctx, `
		UPDATE catalog_items
		SET available_quantity = available_quantity - $2
		WHERE id = $1 AND available_quantity >= $2
	`, catalogItemID, qty)
	if err != nil {
		return fmt.Errorf("decrementing stock for %q: %w", catalogItemID, err)
	}
	if tag.RowsAffected() == 0 {
		return &inventory.InsufficientStockError{CatalogItemID: catalogItemID, Requested: qty}
	}
	return nil
}

// RestoreStock adds qty back to the item's available quantity.
func (s *InventoryStore) RestoreStock(ctx context.Context, catalogItemID string, qty int) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE catalog_items
		SET available_quantity = available_quantity + $2
		WHERE id = $1
	`, catalogItemID, qty)
	if err != nil {
		return fmt.Errorf("restoring stock for %q: %w", catalogItemID, err)
	}
	return nil
}

// MarkUnitsSold flips the listed units from available to sold inside one
// transaction. If any unit is no longer available the transaction rolls back,
// leaving none of them flipped.
func (s *InventoryStore) MarkUnitsSold(ctx context.Context, quotationID string, vins []string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("beginning unit transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	rows, err := tx.Query(ctx, `
		UPDATE vehicle_units
		SET status = 'sold', quotation_id = $1, updated_at = now()
		WHERE vin = ANY($2) AND status = 'available'
		RETURNING vin
	`, quotationID, vins)
	if err != nil {
		return fmt.Errorf("marking units sold: %w", err)
	}

	flipped := make(map[string]struct{}, len(vins))
	for rows.Next() {
		var vin string
		if err := rows.Scan(&vin); err != nil {
			rows.Close()
			return fmt.Errorf("scanning flipped unit: %w", err)
		}
		flipped[vin] = struct{}{}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return fmt.Errorf("reading flipped units: %w", err)
	}

	if len(flipped) != len(vins) {
		// Rollback via the deferred tx.Rollback; report the first loser.
		for _, vin := range vins {
			if _, ok := flipped[vin]; !ok {
				return &inventory.UnitUnavailableError{VIN: vin}
			}
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing unit transaction: %w", err)
	}
	return nil
}

// ReleaseUnits flips the listed units back to available.
func (s *InventoryStore) ReleaseUnits(ctx context.Context, vins []string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE vehicle_units
		SET status = 'available', quotation_id = NULL, updated_at = now()
		WHERE vin = ANY($1)
	`, vins)
	if err != nil {
		return fmt.Errorf("releasing units: %w", err)
	}
	return nil
}

// SaveReservation persists the committed lines for a quotation. A second
// reservation for the same quotation fails with ErrAlreadyReserved.
func (s *InventoryStore) SaveReservation(ctx context.Context, res *inventory.Reservation) error {
	lines, err := json.Marshal(res.Lines)
	if err != nil {
		return fmt.Errorf("marshaling reservation lines: %w", err)
	}

	tag, err := s.pool.Exec(ctx, `
		INSERT INTO reservations (quotation_id, lines, created_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (quotation_id) DO NOTHING
	`, res.QuotationID, lines, res.CreatedAt)
	if err != nil {
		return fmt.Errorf("saving reservation for %q: %w", res.QuotationID, err)
	}
	if tag.RowsAffected() == 0 {
		return inventory.ErrAlreadyReserved
	}
	return nil
}

// GetReservation loads the committed reservation for a quotation.
func (s *InventoryStore) GetReservation(ctx context.Context, quotationID string) (*inventory.Reservation, error) {
	var (
		res   inventory.Reservation
		lines []byte
	)
	err := s.pool.QueryRow(ctx, `
		SELECT quotation_id, lines, created_at
		FROM reservations
		WHERE quotation_id = $1
	`, quotationID).Scan(&res.QuotationID, &lines, &res.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, inventory.ErrReservationNotFound
		}
		return nil, fmt.Errorf("getting reservation for %q: %w", quotationID, err)
	}

	if err := json.Unmarshal(lines, &res.Lines); err != nil {
		return nil, fmt.Errorf("unmarshaling reservation lines: %w", err)
	}
	return &res, nil
}

// DeleteReservation removes the reservation record.
func (s *InventoryStore) DeleteReservation(ctx context.Context, quotationID string) error {
	_, err := s.pool.Exec(ctx,
		`DELETE FROM reservations WHERE quotation_id = $1`, quotationID)
	if err != nil {
		return fmt.Errorf("deleting reservation for %q: %w", quotationID, err)
	}
	return nil
}
