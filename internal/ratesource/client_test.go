package ratesource

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFetchRate(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "AED", r.URL.Query().Get("base"))
		assert.Equal(t, "USD", r.URL.Query().Get("symbols"))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"base":"AED","date":"2024-06-01","rates":{"USD":0.2723,"EUR":0.2501}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	rate, err := c.FetchRate(context.Background(), "AED", "USD")

	require.NoError(t, err)
	assert.True(t, decimal.RequireFromString("0.2723").Equal(rate))
}

func TestFetchRate_MissingCurrency(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"base":"AED","rates":{"EUR":0.2501}}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.FetchRate(context.Background(), "AED", "USD")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "no rate")
}

func TestFetchRate_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	_, err := c.FetchRate(context.Background(), "AED", "USD")

	require.Error(t, err)
	assert.Contains(t, err.Error(), "502")
}

func TestFetchRate_Timeout(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(5 * time.Second):
		}
	}))
	defer srv.Close()

	c := NewClient(srv.URL, time.Second)
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	_, err := c.FetchRate(ctx, "AED", "USD")
	require.Error(t, err)
}

func TestParseRate_MalformedBody(t *testing.T) {
	_, err := parseRate([]byte(`not json`), "USD")
	require.Error(t, err)
}
