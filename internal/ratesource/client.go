// Package ratesource implements the currency.Provider contract against an
// HTTP rate provider. The provider contract is deliberately small: rate now,
// or error; caching and fallback live in the converter, not here.
package ratesource

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/xenking/dealdesk/internal/domain/currency"
)

var _ currency.Provider = (*Client)(nil)

// maxBodySize bounds how much of a provider response is read.
const maxBodySize = 1 << 20

// Client fetches rates from an HTTP endpoint returning
// {"base": "AED", "rates": {"USD": 0.2723, ...}}.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a Client for the given endpoint. timeout bounds the whole
// request including body read; the converter adds its own per-fetch context
// deadline on top.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: baseURL,
		http: &http.Client{
			Timeout:   timeout,
			Transport: otelhttp.NewTransport(http.DefaultTransport),
		},
	}
}

// FetchRate requests the base->target rate.
func (c *Client) FetchRate(ctx context.Context, base, target string) (decimal.Decimal, error) {
	u := fmt.Sprintf("%s/latest?base=%s&symbols=%s",
		c.baseURL, url.QueryEscape(base), url.QueryEscape(target))

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "build request")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "fetch rate")
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return decimal.Zero, errors.Errorf("rate provider returned %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return decimal.Zero, errors.Wrap(err, "read response")
	}

	rate, err := parseRate(body, target)
	if err != nil {
		return decimal.Zero, errors.Wrapf(err, "parse response for %s", target)
	}
	return rate, nil
}

// parseRate extracts rates[target] from the provider response body.
func parseRate(body []byte, target string) (decimal.Decimal, error) {
	var (
		rate  decimal.Decimal
		found bool
	)

	d := jx.DecodeBytes(body)
	err := d.Obj(func(d *jx.Decoder, key string) error {
		if key != "rates" {
			return d.Skip()
		}
		return d.Obj(func(d *jx.Decoder, cur string) error {
			if cur != target {
				return d.Skip()
			}
			raw, err := d.Num()
			if err != nil {
				return errors.Wrap(err, "decode rate")
			}
			rate, err = decimal.NewFromString(raw.String())
			if err != nil {
				return errors.Wrap(err, "parse rate")
			}
			found = true
			return nil
		})
	})
	if err != nil {
		return decimal.Zero, err
	}
	if !found {
		return decimal.Zero, errors.Errorf("no rate for %q in response", target)
	}
	return rate, nil
}
