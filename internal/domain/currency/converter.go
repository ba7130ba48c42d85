package currency

import (
	"context"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/xenking/dealdesk/internal/domain/money"
)

var one = decimal.NewFromInt(1)

// ConverterConfig holds the tunables for a Converter.
type ConverterConfig struct {
	// Base is the process-wide base currency. Rate(Base) is always 1.
	Base string
	// TTL is how long a fetched rate is considered fresh.
	TTL time.Duration
	// FetchTimeout bounds a single provider call.
	FetchTimeout time.Duration
}

// Converter caches base-relative exchange rates with a TTL and converts Money
// between currencies. Cache refreshes are single-flighted per currency, so N
// concurrent callers hitting the same stale rate trigger one provider call.
//
// The cache mutex is never held across the provider fetch.
type Converter struct {
	cfg      ConverterConfig
	provider Provider
	lg       *zap.Logger
	now      func() time.Time

	group singleflight.Group

	mu    sync.RWMutex
	cache map[string]rateEntry
}

// NewConverter creates a Converter with the given provider and config.
func NewConverter(cfg ConverterConfig, provider Provider, lg *zap.Logger) *Converter {
	if cfg.TTL <= 0 {
		cfg.TTL = 15 * time.Minute
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = 5 * time.Second
	}
	return &Converter{
		cfg:      cfg,
		provider: provider,
		lg:       lg,
		now:      time.Now,
		cache:    make(map[string]rateEntry),
	}
}

// Base returns the configured base currency.
func (c *Converter) Base() string {
	return c.cfg.Base
}

// Rate returns the base->target rate. The base currency itself always yields 1
// without touching the cache or the provider. A fresh cached rate is returned
// directly; a miss or expired entry triggers exactly one provider fetch per
// currency per refresh window. When the fetch fails and a stale entry exists,
// the stale rate is returned with a logged warning; with nothing cached the
// call fails with ErrRateUnavailable.
func (c *Converter) Rate(ctx context.Context, target string) (decimal.Decimal, error) {
	if target == c.cfg.Base {
		return one, nil
	}

	c.mu.RLock()
	entry, ok := c.cache[target]
	c.mu.RUnlock()

	if ok && entry.fresh(c.now(), c.cfg.TTL) {
		return entry.rate, nil
	}

	v, err, _ := c.group.Do(target, func() (any, error) {
		// Re-check under the flight: another caller may have refreshed the
		// entry between our cache read and joining the group.
		c.mu.RLock()
		entry, ok := c.cache[target]
		c.mu.RUnlock()
		if ok && entry.fresh(c.now(), c.cfg.TTL) {
			return entry.rate, nil
		}

		fetchCtx, cancel := context.WithTimeout(ctx, c.cfg.FetchTimeout)
		defer cancel()

		rate, err := c.provider.FetchRate(fetchCtx, c.cfg.Base, target)
		if err != nil {
			if ok {
				// Degraded fallback: a stale rate beats no rate, but it is
				// never silently treated as fresh.
				c.lg.Warn("rate fetch failed, serving stale cached rate",
					zap.String("currency", target),
					zap.Time("fetched_at", entry.fetchedAt),
					zap.Error(err),
				)
				return entry.rate, nil
			}
			return decimal.Zero, errors.Wrapf(ErrRateUnavailable, "%s/%s: %s", c.cfg.Base, target, err)
		}
		if !rate.IsPositive() {
			return decimal.Zero, errors.Wrapf(ErrRateUnavailable, "%s/%s: non-positive rate %s", c.cfg.Base, target, rate)
		}

		c.mu.Lock()
		c.cache[target] = rateEntry{rate: rate, fetchedAt: c.now()}
		c.mu.Unlock()

		return rate, nil
	})
	if err != nil {
		return decimal.Zero, err
	}
	return v.(decimal.Decimal), nil
}

// Convert converts m into the target currency. The cross rate
// (base->target / base->source) is computed first and applied as a single
// multiplication, rounded once.
func (c *Converter) Convert(ctx context.Context, m money.Money, target string) (money.Money, error) {
	if m.Currency == target {
		return m, nil
	}

	rt, err := c.Rate(ctx, target)
	if err != nil {
		return money.Money{}, err
	}
	rs, err := c.Rate(ctx, m.Currency)
	if err != nil {
		return money.Money{}, err
	}

	cross := rt.Div(rs)
	return money.Money{Amount: m.Amount.Mul(cross), Currency: target}.Round(), nil
}

// LockedTo returns a ConvertFunc into the quote currency that pins the
// base->quote leg to the given locked rate. A document keeps using the rate it
// captured at creation for every later repricing; only the source->base leg of
// a foreign-priced item consults the live cache.
func (c *Converter) LockedTo(quote string, locked decimal.Decimal) ConvertFunc {
	return func(ctx context.Context, m money.Money) (money.Money, error) {
		switch m.Currency {
		case quote:
			return m, nil
		case c.cfg.Base:
			return money.Money{Amount: m.Amount.Mul(locked), Currency: quote}, nil
		default:
			rs, err := c.Rate(ctx, m.Currency)
			if err != nil {
				return money.Money{}, err
			}
			inBase := m.Amount.Div(rs)
			return money.Money{Amount: inBase.Mul(locked), Currency: quote}, nil
		}
	}
}
