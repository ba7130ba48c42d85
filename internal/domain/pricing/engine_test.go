package pricing

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/dealdesk/internal/domain/money"
)

// identity passes amounts through unchanged; all test inputs share a currency
// unless a test installs its own convert func.
func identity(_ context.Context, m money.Money) (money.Money, error) {
	return m, nil
}

func aed(s string) money.Money {
	return money.Money{Amount: decimal.RequireFromString(s), Currency: "AED"}
}

func vat(s string) *decimal.Decimal {
	d := decimal.RequireFromString(s)
	return &d
}

func TestPrice_ReferenceScenario(t *testing.T) {
	// unitPrice=500 AED qty=2, 10% discount, 5% VAT, 50 AED shipping.
	lines := []LineItem{{CatalogItemID: "itm-1", Name: "Alloy wheel set", UnitPrice: aed("500"), Quantity: 2}}
	expenses := []AdditionalExpense{{Kind: ExpenseShipping, Description: "Delivery", Amount: aed("50")}}

	b, err := Price(context.Background(), lines,
		DiscountSpec{Type: DiscountPercentage, Value: decimal.NewFromInt(10)},
		vat("5"), expenses, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "1000.00 AED", b.Subtotal.String())
	assert.Equal(t, "100.00 AED", b.DiscountAmount.String())
	assert.Equal(t, "900.00 AED", b.TaxableBase.String())
	assert.Equal(t, "45.00 AED", b.VATAmount.String())
	assert.Equal(t, "50.00 AED", b.ExpensesTotal.String())
	assert.Equal(t, "995.00 AED", b.GrandTotal.String())
}

func TestPrice_VATComputedAfterDiscount(t *testing.T) {
	// VAT on the taxable base, never the subtotal: 1000 - 10% = 900, 5% VAT = 45.
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("1000"), Quantity: 1}}

	b, err := Price(context.Background(), lines,
		DiscountSpec{Type: DiscountPercentage, Value: decimal.NewFromInt(10)},
		vat("5"), nil, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "45.00 AED", b.VATAmount.String(), "VAT must be 45, not 50")
	assert.Equal(t, "945.00 AED", b.GrandTotal.String())
}

func TestPrice_FixedDiscountCappedAtSubtotal(t *testing.T) {
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("80"), Quantity: 1}}

	b, err := Price(context.Background(), lines,
		DiscountSpec{Type: DiscountFixed, Value: decimal.NewFromInt(500)},
		nil, nil, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "80.00 AED", b.DiscountAmount.String())
	assert.Equal(t, "0.00 AED", b.TaxableBase.String(), "taxable base never goes negative")
	assert.Equal(t, "0.00 AED", b.GrandTotal.String())
}

func TestPrice_NoVATRateMeansZeroVAT(t *testing.T) {
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("100"), Quantity: 3}}

	b, err := Price(context.Background(), lines, DiscountSpec{Type: DiscountFixed, Value: decimal.Zero},
		nil, nil, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "0.00 AED", b.VATAmount.String())
	assert.Equal(t, "300.00 AED", b.GrandTotal.String())
}

func TestPrice_ExpensesAreUntaxed(t *testing.T) {
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("100"), Quantity: 1}}
	expenses := []AdditionalExpense{
		{Kind: ExpenseCustoms, Amount: aed("20")},
		{Kind: ExpenseFees, Amount: aed("5.50")},
	}

	b, err := Price(context.Background(), lines, DiscountSpec{Type: DiscountFixed, Value: decimal.Zero},
		vat("5"), expenses, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "25.50 AED", b.ExpensesTotal.String())
	// VAT applies to 100 only: 5.00, not to the 25.50 of expenses.
	assert.Equal(t, "5.00 AED", b.VATAmount.String())
	assert.Equal(t, "130.50 AED", b.GrandTotal.String())
}

func TestPrice_BreakdownIdentities(t *testing.T) {
	lines := []LineItem{
		{CatalogItemID: "a", UnitPrice: aed("19.99"), Quantity: 3},
		{CatalogItemID: "b", UnitPrice: aed("7.77"), Quantity: 7},
	}
	expenses := []AdditionalExpense{{Kind: ExpenseOther, Amount: aed("12.34")}}

	b, err := Price(context.Background(), lines,
		DiscountSpec{Type: DiscountPercentage, Value: decimal.RequireFromString("12.5")},
		vat("5"), expenses, "AED", identity)
	require.NoError(t, err)

	base, err := b.Subtotal.Sub(b.DiscountAmount)
	require.NoError(t, err)
	assert.True(t, base.Equal(b.TaxableBase), "taxableBase == subtotal - discount")

	sum, err := b.TaxableBase.Add(b.VATAmount)
	require.NoError(t, err)
	sum, err = sum.Add(b.ExpensesTotal)
	require.NoError(t, err)
	assert.True(t, sum.Equal(b.GrandTotal), "grandTotal == taxableBase + vat + expenses")
}

func TestPrice_RoundsOncePerField(t *testing.T) {
	// 3 x 0.335 = 1.005 -> 1.01 only when rounded at the subtotal, not per line.
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("0.335"), Quantity: 3}}

	b, err := Price(context.Background(), lines, DiscountSpec{Type: DiscountFixed, Value: decimal.Zero},
		nil, nil, "AED", identity)

	require.NoError(t, err)
	assert.Equal(t, "1.01 AED", b.Subtotal.String())
}

func TestPrice_ConvertsForeignLinesBeforeMixing(t *testing.T) {
	// USD lines are converted into AED by the supplied func before summing.
	double := func(_ context.Context, m money.Money) (money.Money, error) {
		if m.Currency == "AED" {
			return m, nil
		}
		return money.Money{Amount: m.Amount.Mul(decimal.NewFromInt(2)), Currency: "AED"}, nil
	}
	lines := []LineItem{
		{CatalogItemID: "a", UnitPrice: aed("100"), Quantity: 1},
		{CatalogItemID: "b", UnitPrice: money.Money{Amount: decimal.NewFromInt(50), Currency: "USD"}, Quantity: 2},
	}

	b, err := Price(context.Background(), lines, DiscountSpec{Type: DiscountFixed, Value: decimal.Zero},
		nil, nil, "AED", double)

	require.NoError(t, err)
	assert.Equal(t, "300.00 AED", b.Subtotal.String())
}

func TestPrice_InvalidQuantity(t *testing.T) {
	lines := []LineItem{{CatalogItemID: "itm-1", UnitPrice: aed("10"), Quantity: 0}}

	_, err := Price(context.Background(), lines, DiscountSpec{Type: DiscountFixed, Value: decimal.Zero},
		nil, nil, "AED", identity)

	var iqErr *InvalidQuantityError
	require.ErrorAs(t, err, &iqErr)
	assert.Equal(t, "itm-1", iqErr.CatalogItemID)
}

func TestDiscountSpec_Validate(t *testing.T) {
	tests := []struct {
		name string
		spec DiscountSpec
		want error
	}{
		{"percentage in range", DiscountSpec{Type: DiscountPercentage, Value: decimal.NewFromInt(100)}, nil},
		{"percentage over 100", DiscountSpec{Type: DiscountPercentage, Value: decimal.NewFromInt(101)}, ErrPercentageOutOfRange},
		{"negative value", DiscountSpec{Type: DiscountFixed, Value: decimal.NewFromInt(-1)}, ErrNegativeDiscount},
		{"unknown type", DiscountSpec{Type: "bogus", Value: decimal.Zero}, ErrInvalidDiscountType},
		{"fixed ok", DiscountSpec{Type: DiscountFixed, Value: decimal.NewFromInt(10)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.spec.Validate()
			if tt.want == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.want)
			}
		})
	}
}
