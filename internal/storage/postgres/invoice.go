package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/xenking/dealdesk/internal/domain/invoice"
)

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL. The
// UNIQUE constraint on quotation_id enforces one invoice per quotation at the
// storage layer as well.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository using the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// CreateInvoice persists a new invoice.
func (r *InvoiceRepository) CreateInvoice(ctx context.Context, inv *invoice.Invoice) error {
	customerJSON, err := json.Marshal(inv.Customer)
	if err != nil {
		return fmt.Errorf("marshaling invoice customer: %w", err)
	}
	linesJSON, err := json.Marshal(inv.LineItems)
	if err != nil {
		return fmt.Errorf("marshaling invoice line items: %w", err)
	}
	bdJSON, err := json.Marshal(inv.Breakdown)
	if err != nil {
		return fmt.Errorf("marshaling invoice breakdown: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO invoices (
			id, number, quotation_id, customer, currency, exchange_rate,
			line_items, breakdown, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		inv.ID, inv.Number, inv.QuotationID, customerJSON, inv.Currency, inv.ExchangeRate,
		linesJSON, bdJSON, inv.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("creating invoice %q: %w", inv.Number, err)
	}
	return nil
}

// CreateReceipt persists a new receipt.
func (r *InvoiceRepository) CreateReceipt(ctx context.Context, rct *invoice.Receipt) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO receipts (id, number, invoice_id, amount, currency, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, rct.ID, rct.Number, rct.InvoiceID, rct.Amount.Amount, rct.Amount.Currency, rct.CreatedAt)
	if err != nil {
		return fmt.Errorf("creating receipt %q: %w", rct.Number, err)
	}
	return nil
}

// GetInvoiceByQuotation loads the invoice created for a quotation.
func (r *InvoiceRepository) GetInvoiceByQuotation(ctx context.Context, quotationID string) (*invoice.Invoice, error) {
	var (
		inv          invoice.Invoice
		customerJSON []byte
		linesJSON    []byte
		bdJSON       []byte
	)
	err := r.pool.QueryRow(ctx, `
		SELECT id, number, quotation_id, customer, currency, exchange_rate,
		       line_items, breakdown, created_at
		FROM invoices
		WHERE quotation_id = $1
	`, quotationID).Scan(
		&inv.ID, &inv.Number, &inv.QuotationID, &customerJSON, &inv.Currency, &inv.ExchangeRate,
		&linesJSON, &bdJSON, &inv.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("invoice for quotation %q: %w", quotationID, pgx.ErrNoRows)
		}
		return nil, fmt.Errorf("getting invoice for quotation %q: %w", quotationID, err)
	}

	if err := json.Unmarshal(customerJSON, &inv.Customer); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice customer: %w", err)
	}
	if err := json.Unmarshal(linesJSON, &inv.LineItems); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice line items: %w", err)
	}
	if err := json.Unmarshal(bdJSON, &inv.Breakdown); err != nil {
		return nil, fmt.Errorf("unmarshaling invoice breakdown: %w", err)
	}
	return &inv, nil
}
