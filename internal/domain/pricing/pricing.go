// Package pricing computes the priced breakdown of a quotation: subtotal,
// discount, taxable base, VAT, additional expenses, and grand total.
package pricing

import (
	"fmt"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/money"
)

// DiscountType enumerates the supported discount strategies.
type DiscountType string

const (
	// DiscountPercentage applies a 0-100 percentage of the subtotal.
	DiscountPercentage DiscountType = "percentage"
	// DiscountFixed subtracts a fixed amount, capped at the subtotal.
	DiscountFixed DiscountType = "fixed"
)

// ExpenseKind enumerates the ad-hoc expense categories attached to a quotation.
type ExpenseKind string

const (
	ExpenseShipping  ExpenseKind = "shipping"
	ExpenseCustoms   ExpenseKind = "customs"
	ExpenseInsurance ExpenseKind = "insurance"
	ExpenseFees      ExpenseKind = "fees"
	ExpenseOther     ExpenseKind = "other"
	ExpenseNone      ExpenseKind = "none"
)

// Sentinel validation errors.
var (
	ErrInvalidDiscountType  = errors.New("unsupported discount type")
	ErrPercentageOutOfRange = errors.New("percentage discount must be between 0 and 100")
	ErrNegativeDiscount     = errors.New("discount value must not be negative")
)

// InvalidQuantityError indicates a line item with a non-positive quantity.
type InvalidQuantityError struct {
	CatalogItemID string
}

func (e *InvalidQuantityError) Error() string {
	return fmt.Sprintf("quantity must be greater than 0 for item %s", e.CatalogItemID)
}

// LineItem is one catalog entry with quantity and snapshotted unit price.
// Serialized is snapshotted from the catalog item; for serialized lines
// SerializedUnits carries the VINs and quantity must equal the unit count
// (enforced whenever the document's lines change).
type LineItem struct {
	CatalogItemID   string      `json:"catalog_item_id"`
	Name            string      `json:"name"`
	UnitPrice       money.Money `json:"unit_price"`
	Quantity        int         `json:"quantity"`
	Serialized      bool        `json:"serialized,omitempty"`
	SerializedUnits []string    `json:"serialized_units,omitempty"`
}

// AdditionalExpense is an untaxed extra charge on the quotation.
type AdditionalExpense struct {
	Kind        ExpenseKind `json:"kind"`
	Description string      `json:"description"`
	Amount      money.Money `json:"amount"`
}

// DiscountSpec describes the discount applied to the subtotal.
type DiscountSpec struct {
	Type  DiscountType    `json:"type"`
	Value decimal.Decimal `json:"value"`
}

// Validate checks the discount spec against its type's value range.
func (d DiscountSpec) Validate() error {
	if d.Value.IsNegative() {
		return ErrNegativeDiscount
	}
	switch d.Type {
	case DiscountPercentage:
		if d.Value.GreaterThan(decimal.NewFromInt(100)) {
			return ErrPercentageOutOfRange
		}
	case DiscountFixed:
	default:
		return errors.Wrapf(ErrInvalidDiscountType, "%q", d.Type)
	}
	return nil
}

// Breakdown is the immutable output of the engine, all fields in the
// quotation's working currency, rounded to 2 decimal places.
type Breakdown struct {
	Subtotal       money.Money `json:"subtotal"`
	DiscountAmount money.Money `json:"discount_amount"`
	TaxableBase    money.Money `json:"taxable_base"`
	VATAmount      money.Money `json:"vat_amount"`
	ExpensesTotal  money.Money `json:"expenses_total"`
	GrandTotal     money.Money `json:"grand_total"`
}
