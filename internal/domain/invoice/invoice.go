// Package invoice builds the downstream financial documents spawned when a
// quotation is converted. Documents are snapshots: the factory copies the
// accepted breakdown verbatim and never reprices.
package invoice

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/money"
	"github.com/xenking/dealdesk/internal/domain/pricing"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

// ErrAlreadyConverted is returned when the factory is invoked on a quotation
// that is not currently accepted.
var ErrAlreadyConverted = errors.New("quotation is not in accepted status")

// Invoice is the billing document created from an accepted quotation.
type Invoice struct {
	ID           string
	Number       string
	QuotationID  string
	Customer     quotation.CustomerSnapshot
	Currency     string
	ExchangeRate decimal.Decimal
	LineItems    []pricing.LineItem
	Breakdown    pricing.Breakdown
	CreatedAt    time.Time
}

// Receipt acknowledges the amount due against an invoice.
type Receipt struct {
	ID        string
	Number    string
	InvoiceID string
	Amount    money.Money
	CreatedAt time.Time
}

// Sequence issues monotonically increasing counters per document kind, for
// human-readable numbers.
type Sequence interface {
	Next(ctx context.Context, name string) (int64, error)
}

// Repository defines persistence for invoices and receipts.
type Repository interface {
	CreateInvoice(ctx context.Context, inv *Invoice) error
	CreateReceipt(ctx context.Context, rct *Receipt) error
	GetInvoiceByQuotation(ctx context.Context, quotationID string) (*Invoice, error)
}
