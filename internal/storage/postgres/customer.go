package postgres

import (
	"context"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dealdesk/internal/domain/customer"
)

var _ customer.Directory = (*CustomerDirectory)(nil)

// CustomerDirectory implements customer.Directory backed by PostgreSQL.
type CustomerDirectory struct {
	pool *pgxpool.Pool
}

// NewCustomerDirectory returns a CustomerDirectory using the given pool.
func NewCustomerDirectory(pool *pgxpool.Pool) *CustomerDirectory {
	return &CustomerDirectory{pool: pool}
}

// GetByID loads one customer.
func (d *CustomerDirectory) GetByID(ctx context.Context, id string) (*customer.Customer, error) {
	var c customer.Customer
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, billing
		FROM customers
		WHERE id = $1
	`, id).Scan(&c.ID, &c.Name, &c.Email, &c.Phone, &c.Billing)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, customer.ErrNotFound
		}
		return nil, fmt.Errorf("getting customer %q: %w", id, err)
	}
	return &c, nil
}
