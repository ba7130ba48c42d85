// Package currency provides exchange rate caching and conversion against a
// single process-wide base currency.
package currency

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/money"
)

// ErrRateUnavailable is returned when a rate cannot be fetched and no cached
// value (fresh or stale) exists for the requested currency.
var ErrRateUnavailable = errors.New("exchange rate unavailable")

// Provider fetches the current rate for one currency pair. The contract is
// "rate now, or error": one target currency unit count per one base unit.
type Provider interface {
	FetchRate(ctx context.Context, base, target string) (decimal.Decimal, error)
}

// ConvertFunc converts an amount into a predetermined target currency.
// The pricing engine takes one of these so it stays pure.
type ConvertFunc func(ctx context.Context, m money.Money) (money.Money, error)

// rateEntry is a cached base->target rate with its fetch time.
type rateEntry struct {
	rate      decimal.Decimal
	fetchedAt time.Time
}

func (e rateEntry) fresh(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.fetchedAt) < ttl
}
