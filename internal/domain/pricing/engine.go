package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/currency"
	"github.com/xenking/dealdesk/internal/domain/money"
)

var hundred = decimal.NewFromInt(100)

// Price computes the breakdown for the given inputs. It is a pure function:
// all currency conversion goes through the supplied convert func, so repricing
// a document with its locked rate produces identical output.
//
// The computation order is the correctness contract:
//
//  1. subtotal: sum of unit price x quantity, each line converted into the
//     quotation currency before mixing.
//  2. discount: percentage of subtotal, or fixed capped at subtotal.
//  3. taxable base = subtotal - discount.
//  4. VAT on the taxable base (after discount), zero when no rate is set.
//  5. expenses total, converted per expense; expenses are untaxed.
//  6. grand total = taxable base + VAT + expenses.
//
// Each reported field is rounded exactly once; intermediate per-line values
// stay unrounded. Derived fields (taxable base, grand total) are sums of
// already-rounded terms, which keeps the breakdown identities exact at
// 2-decimal precision.
func Price(
	ctx context.Context,
	lines []LineItem,
	discount DiscountSpec,
	vatRate *decimal.Decimal,
	expenses []AdditionalExpense,
	quoteCurrency string,
	convert currency.ConvertFunc,
) (Breakdown, error) {
	if err := discount.Validate(); err != nil {
		return Breakdown{}, err
	}

	// 1. Subtotal.
	subtotal := money.Zero(quoteCurrency)
	for i, line := range lines {
		if line.Quantity < 1 {
			return Breakdown{}, &InvalidQuantityError{CatalogItemID: line.CatalogItemID}
		}
		lineTotal := line.UnitPrice.MulInt(line.Quantity)
		converted, err := convert(ctx, lineTotal)
		if err != nil {
			return Breakdown{}, errors.Wrapf(err, "convert line %d", i)
		}
		subtotal, err = subtotal.Add(converted)
		if err != nil {
			return Breakdown{}, errors.Wrapf(err, "line %d", i)
		}
	}
	subtotal = subtotal.Round()

	// 2. Discount.
	discountAmount, err := applyDiscount(discount, subtotal)
	if err != nil {
		return Breakdown{}, err
	}

	// 3. Taxable base. Subtotal and discount are already rounded, and the
	// discount is capped at the subtotal, so the base is exact and never negative.
	taxableBase, err := subtotal.Sub(discountAmount)
	if err != nil {
		return Breakdown{}, err
	}

	// 4. VAT, strictly after the discount.
	vatAmount := money.Zero(quoteCurrency)
	if vatRate != nil {
		vatAmount = taxableBase.Mul(vatRate.Div(hundred)).Round()
	}

	// 5. Expenses, untaxed.
	expensesTotal := money.Zero(quoteCurrency)
	for i, exp := range expenses {
		converted, err := convert(ctx, exp.Amount)
		if err != nil {
			return Breakdown{}, errors.Wrapf(err, "convert expense %d", i)
		}
		expensesTotal, err = expensesTotal.Add(converted)
		if err != nil {
			return Breakdown{}, errors.Wrapf(err, "expense %d", i)
		}
	}
	expensesTotal = expensesTotal.Round()

	// 6. Grand total: a sum of rounded terms, exact by construction.
	grandTotal, err := taxableBase.Add(vatAmount)
	if err != nil {
		return Breakdown{}, err
	}
	grandTotal, err = grandTotal.Add(expensesTotal)
	if err != nil {
		return Breakdown{}, err
	}

	return Breakdown{
		Subtotal:       subtotal,
		DiscountAmount: discountAmount,
		TaxableBase:    taxableBase,
		VATAmount:      vatAmount,
		ExpensesTotal:  expensesTotal,
		GrandTotal:     grandTotal,
	}, nil
}

// applyDiscount computes the discount amount against an already-rounded
// subtotal. A fixed discount never exceeds the subtotal.
func applyDiscount(spec DiscountSpec, subtotal money.Money) (money.Money, error) {
	switch spec.Type {
	case DiscountPercentage:
		return subtotal.Mul(spec.Value.Div(hundred)).Round(), nil
	case DiscountFixed:
		fixed := money.Money{Amount: spec.Value, Currency: subtotal.Currency}
		capped, err := money.Min(fixed, subtotal)
		if err != nil {
			return money.Money{}, err
		}
		return capped.Round(), nil
	default:
		return money.Money{}, errors.Wrapf(ErrInvalidDiscountType, "%q", spec.Type)
	}
}
