package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/pricing"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

var _ quotation.Repository = (*QuotationRepository)(nil)

// QuotationRepository implements quotation.Repository backed by PostgreSQL.
// Document sub-objects (customer snapshot, line items, expenses, breakdown)
// are stored as JSONB; the version column backs optimistic concurrency.
type QuotationRepository struct {
	pool *pgxpool.Pool
}

// NewQuotationRepository returns a QuotationRepository using the given pool.
func NewQuotationRepository(pool *pgxpool.Pool) *QuotationRepository {
	return &QuotationRepository{pool: pool}
}

// Create persists a new quotation at its initial version.
func (r *QuotationRepository) Create(ctx context.Context, q *quotation.Quotation) error {
	doc, err := marshalQuotationDoc(q)
	if err != nil {
		return err
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO quotations (
			id, customer_id, customer, currency, exchange_rate, status,
			discount_type, discount_value, vat_rate,
			line_items, expenses, breakdown,
			valid_until, created_by, version, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		q.ID, q.Customer.ID, doc.customer, q.Currency, q.ExchangeRate, string(q.Status),
		string(q.Discount.Type), q.Discount.Value, q.VATRate,
		doc.lineItems, doc.expenses, doc.breakdown,
		q.ValidUntil, q.CreatedBy, q.Version, q.CreatedAt, q.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating quotation %q: %w", q.ID, err)
	}
	return nil
}

// Get loads a quotation by id.
func (r *QuotationRepository) Get(ctx context.Context, id string) (*quotation.Quotation, error) {
	row := r.pool.QueryRow(ctx, `
		SELECT id, customer, currency, exchange_rate, status,
		       discount_type, discount_value, vat_rate,
		       line_items, expenses, breakdown,
		       valid_until, created_by, version, created_at, updated_at
		FROM quotations
		WHERE id = $1
	`, id)

	q, err := scanQuotation(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, quotation.ErrNotFound
		}
		return nil, fmt.Errorf("getting quotation %q: %w", id, err)
	}
	return q, nil
}

// List returns quotations matching the filter, newest first.
func (r *QuotationRepository) List(ctx context.Context, filter quotation.ListFilter) ([]quotation.Quotation, error) {
	limit := filter.Limit
	if limit <= 0 || limit > 200 {
		limit = 50
	}

	rows, err := r.pool.Query(ctx, `
		SELECT id, customer, currency, exchange_rate, status,
		       discount_type, discount_value, vat_rate,
		       line_items, expenses, breakdown,
		       valid_until, created_by, version, created_at, updated_at
		FROM quotations
		WHERE ($1 = '' OR status = $1)
		  AND ($2 = '' OR customer_id = $2)
		ORDER BY created_at DESC
		LIMIT $3 OFFSET $4
	`, string(filter.Status), filter.CustomerID, limit, filter.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing quotations: %w", err)
	}
	defer rows.Close()

	var out []quotation.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quotation: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// Update persists the already-bumped document only when the stored row still
// carries expectedVersion; otherwise it fails with ErrStaleVersion. The
// version comparison and the write are one statement, so concurrent writers
// cannot both pass the check.
func (r *QuotationRepository) Update(ctx context.Context, q *quotation.Quotation, expectedVersion int) error {
	doc, err := marshalQuotationDoc(q)
	if err != nil {
		return err
	}

	tag, err := r.pool.Exec(ctx, `
		UPDATE quotations
		SET status = $2, discount_type = $3, discount_value = $4, vat_rate = $5,
		    line_items = $6, expenses = $7, breakdown = $8,
		    version = $9, updated_at = $10
		WHERE id = $1 AND version = $11
	`,
		q.ID, string(q.Status), string(q.Discount.Type), q.Discount.Value, q.VATRate,
		doc.lineItems, doc.expenses, doc.breakdown,
		q.Version, q.UpdatedAt, expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("updating quotation %q: %w", q.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictError(ctx, q.ID)
	}
	return nil
}

// Delete removes a quotation under the same optimistic version check.
func (r *QuotationRepository) Delete(ctx context.Context, id string, expectedVersion int) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM quotations WHERE id = $1 AND version = $2`, id, expectedVersion)
	if err != nil {
		return fmt.Errorf("deleting quotation %q: %w", id, err)
	}
	if tag.RowsAffected() == 0 {
		return r.conflictError(ctx, id)
	}
	return nil
}

// ListExpirable returns non-terminal quotations whose validity lapsed.
func (r *QuotationRepository) ListExpirable(ctx context.Context, now time.Time, limit int) ([]quotation.Quotation, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, customer, currency, exchange_rate, status,
		       discount_type, discount_value, vat_rate,
		       line_items, expenses, breakdown,
		       valid_until, created_by, version, created_at, updated_at
		FROM quotations
		WHERE status IN ('draft', 'sent', 'viewed', 'accepted')
		  AND valid_until < $1
		ORDER BY valid_until
		LIMIT $2
	`, now, limit)
	if err != nil {
		return nil, fmt.Errorf("listing expirable quotations: %w", err)
	}
	defer rows.Close()

	var out []quotation.Quotation
	for rows.Next() {
		q, err := scanQuotation(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning quotation: %w", err)
		}
		out = append(out, *q)
	}
	return out, rows.Err()
}

// conflictError distinguishes a missing row from a version mismatch after a
// conditional write matched nothing.
func (r *QuotationRepository) conflictError(ctx context.Context, id string) error {
	var v int
	err := r.pool.QueryRow(ctx, `SELECT version FROM quotations WHERE id = $1`, id).Scan(&v)
	if errors.Is(err, pgx.ErrNoRows) {
		return quotation.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("checking quotation %q version: %w", id, err)
	}
	return quotation.ErrStaleVersion
}

// quotationDoc holds the JSONB payloads of one row.
type quotationDoc struct {
	customer  []byte
	lineItems []byte
	expenses  []byte
	breakdown []byte
}

func marshalQuotationDoc(q *quotation.Quotation) (quotationDoc, error) {
	var (
		doc quotationDoc
		err error
	)
	if doc.customer, err = json.Marshal(q.Customer); err != nil {
		return doc, fmt.Errorf("marshaling customer snapshot: %w", err)
	}
	if doc.lineItems, err = json.Marshal(q.LineItems); err != nil {
		return doc, fmt.Errorf("marshaling line items: %w", err)
	}
	if doc.expenses, err = json.Marshal(q.Expenses); err != nil {
		return doc, fmt.Errorf("marshaling expenses: %w", err)
	}
	if doc.breakdown, err = json.Marshal(q.Breakdown); err != nil {
		return doc, fmt.Errorf("marshaling breakdown: %w", err)
	}
	return doc, nil
}

func scanQuotation(row pgx.Row) (*quotation.Quotation, error) {
	var (
		q            quotation.Quotation
		status       string
		discountType string
		vatRate      *decimal.Decimal
		customerJSON []byte
		linesJSON    []byte
		expensesJSON []byte
		bdJSON       []byte
	)
	err := row.Scan(
		&q.ID, &customerJSON, &q.Currency, &q.ExchangeRate, &status,
		&discountType, &q.Discount.Value, &vatRate,
		&linesJSON, &expensesJSON, &bdJSON,
		&q.ValidUntil, &q.CreatedBy, &q.Version, &q.CreatedAt, &q.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	q.Status = quotation.Status(status)
	q.Discount.Type = pricing.DiscountType(discountType)
	q.VATRate = vatRate

	if err := json.Unmarshal(customerJSON, &q.Customer); err != nil {
		return nil, fmt.Errorf("unmarshaling customer snapshot: %w", err)
	}
	if err := json.Unmarshal(linesJSON, &q.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshaling line items: %w", err)
	}
	if err := json.Unmarshal(expensesJSON, &q.Expenses); err != nil {
		return nil, fmt.Errorf("unmarshaling expenses: %w", err)
	}
	if err := json.Unmarshal(bdJSON, &q.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshaling breakdown: %w", err)
	}
	return &q, nil
}
