package invoice

import (
	"context"
	"fmt"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"

	"github.com/xenking/dealdesk/internal/domain/quotation"
)

var _ quotation.DocumentIssuer = (*Factory)(nil)

// Sequence names and number prefixes per document kind.
const (
	invoiceSeq = "invoice"
	receiptSeq = "receipt"
)

// Factory builds invoices and receipts from accepted quotations.
type Factory struct {
	repo Repository
	seq  Sequence
	now  func() time.Time
}

// NewFactory creates a Factory over the given repository and sequence service.
func NewFactory(repo Repository, seq Sequence) *Factory {
	return &Factory{repo: repo, seq: seq, now: time.Now}
}

// CreateInvoice snapshots the quotation into an invoice: breakdown, line
// items, currency, and locked exchange rate are copied verbatim. The customer
// accepted those numbers; recomputing them here would change a quoted price.
func (f *Factory) CreateInvoice(ctx context.Context, q *quotation.Quotation) (*Invoice, error) {
	if q.Status != quotation.StatusAccepted {
		return nil, errors.Wrapf(ErrAlreadyConverted, "status %q", q.Status)
	}

	n, err := f.seq.Next(ctx, invoiceSeq)
	if err != nil {
		return nil, errors.Wrap(err, "next invoice number")
	}

	inv := &Invoice{
		ID:           uuid.New().String(),
		Number:       fmt.Sprintf("INV-%06d", n),
		QuotationID:  q.ID,
		Customer:     q.Customer,
		Currency:     q.Currency,
		ExchangeRate: q.ExchangeRate,
		LineItems:    q.LineItems,
		Breakdown:    q.Breakdown,
		CreatedAt:    f.now(),
	}

	if err := f.repo.CreateInvoice(ctx, inv); err != nil {
		return nil, errors.Wrap(err, "create invoice")
	}
	return inv, nil
}

// CreateReceipt records a receipt for the invoice's grand total.
func (f *Factory) CreateReceipt(ctx context.Context, inv *Invoice) (*Receipt, error) {
	n, err := f.seq.Next(ctx, receiptSeq)
	if err != nil {
		return nil, errors.Wrap(err, "next receipt number")
	}

	rct := &Receipt{
		ID:        uuid.New().String(),
		Number:    fmt.Sprintf("RCT-%06d", n),
		InvoiceID: inv.ID,
		Amount:    inv.Breakdown.GrandTotal,
		CreatedAt: f.now(),
	}

	if err := f.repo.CreateReceipt(ctx, rct); err != nil {
		return nil, errors.Wrap(err, "create receipt")
	}
	return rct, nil
}

// Issue implements quotation.DocumentIssuer: invoice first, then its receipt.
func (f *Factory) Issue(ctx context.Context, q *quotation.Quotation) (string, error) {
	inv, err := f.CreateInvoice(ctx, q)
	if err != nil {
		return "", err
	}
	if _, err := f.CreateReceipt(ctx, inv); err != nil {
		return "", err
	}
	return inv.Number, nil
}
