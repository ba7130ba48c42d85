package handler

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/auth"
	"github.com/xenking/dealdesk/internal/domain/catalog"
	"github.com/xenking/dealdesk/internal/domain/currency"
	"github.com/xenking/dealdesk/internal/domain/customer"
	"github.com/xenking/dealdesk/internal/domain/inventory"
	"github.com/xenking/dealdesk/internal/domain/invoice"
	"github.com/xenking/dealdesk/internal/domain/money"
	"github.com/xenking/dealdesk/internal/domain/pricing"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

// --- Mock implementations ---

type memQuoteRepo struct {
	mu     sync.Mutex
	quotes map[string]*quotation.Quotation
}

func newMemQuoteRepo() *memQuoteRepo {
	return &memQuoteRepo{quotes: make(map[string]*quotation.Quotation)}
}

func (m *memQuoteRepo) Create(_ context.Context, q *quotation.Quotation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cp := *q
	m.quotes[q.ID] = &cp
	return nil
}

func (m *memQuoteRepo) Get(_ context.Context, id string) (*quotation.Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	q, ok := m.quotes[id]
	if !ok {
		return nil, quotation.ErrNotFound
	}
	cp := *q
	return &cp, nil
}

func (m *memQuoteRepo) List(_ context.Context, filter quotation.ListFilter) ([]quotation.Quotation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []quotation.Quotation
	for _, q := range m.quotes {
		if filter.Status != "" && q.Status != filter.Status {
			continue
		}
		out = append(out, *q)
	}
	return out, nil
}

func (m *memQuoteRepo) Update(_ context.Context, q *quotation.Quotation, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.quotes[q.ID]
	if !ok {
		return quotation.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return quotation.ErrStaleVersion
	}
	cp := *q
	m.quotes[q.ID] = &cp
	return nil
}

func (m *memQuoteRepo) Delete(_ context.Context, id string, expectedVersion int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.quotes[id]
	if !ok {
		return quotation.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return quotation.ErrStaleVersion
	}
	delete(m.quotes, id)
	return nil
}

func (m *memQuoteRepo) ListExpirable(_ context.Context, now time.Time, _ int) ([]quotation.Quotation, error) {
	return nil, nil
}

type mockCatalog struct {
	items map[string]catalog.Item
}

func (m *mockCatalog) GetByIDs(_ context.Context, ids []string) ([]catalog.Item, error) {
	out := make([]catalog.Item, 0, len(ids))
	for _, id := range ids {
		item, ok := m.items[id]
		if !ok {
			return nil, catalog.ErrNotFound
		}
		out = append(out, item)
	}
	return out, nil
}

func (m *mockCatalog) UnitStatuses(_ context.Context, _ string, vins []string) (map[string]string, error) {
	out := make(map[string]string, len(vins))
	for _, vin := range vins {
		out[vin] = inventory.UnitAvailable
	}
	return out, nil
}

type mockDirectory struct{}

func (mockDirectory) GetByID(_ context.Context, id string) (*customer.Customer, error) {
	if id != "cust-1" {
		return nil, customer.ErrNotFound
	}
	return &customer.Customer{ID: "cust-1", Name: "Gulf Motors FZE", Email: "fleet@gulfmotors.example"}, nil
}

type mockRates struct{}

func (mockRates) Rate(_ context.Context, target string) (decimal.Decimal, error) {
	if target == "AED" {
		return decimal.NewFromInt(1), nil
	}
	return decimal.RequireFromString("0.27"), nil
}

func (mockRates) LockedTo(quote string, locked decimal.Decimal) currency.ConvertFunc {
	return func(_ context.Context, m money.Money) (money.Money, error) {
		if m.Currency == quote {
			return m, nil
		}
		return money.Money{Amount: m.Amount.Mul(locked).Round(money.Places), Currency: quote}, nil
	}
}

type mockReserver struct {
	reserveErr error
	released   []string
}

func (m *mockReserver) Reserve(_ context.Context, quotationID string, lines []pricing.LineItem) (*inventory.Reservation, error) {
	if m.reserveErr != nil {
		return nil, m.reserveErr
	}
	return &inventory.Reservation{QuotationID: quotationID}, nil
}

func (m *mockReserver) Release(_ context.Context, quotationID string) error {
	m.released = append(m.released, quotationID)
	return nil
}

type mockIssuer struct{}

func (mockIssuer) Issue(_ context.Context, _ *quotation.Quotation) (string, error) {
	return "INV-000001", nil
}

type mockInvoiceRepo struct {
	invoice *invoice.Invoice
}

func (m *mockInvoiceRepo) CreateInvoice(_ context.Context, inv *invoice.Invoice) error {
	m.invoice = inv
	return nil
}

func (m *mockInvoiceRepo) CreateReceipt(_ context.Context, _ *invoice.Receipt) error { return nil }

func (m *mockInvoiceRepo) GetInvoiceByQuotation(_ context.Context, quotationID string) (*invoice.Invoice, error) {
	if m.invoice == nil || m.invoice.QuotationID != quotationID {
		return nil, fmt.Errorf("no invoice for %s", quotationID)
	}
	return m.invoice, nil
}

type mockAPIKeyRepo struct {
	info *auth.APIKeyInfo
	err  error
}

func (m *mockAPIKeyRepo) FindByHash(_ context.Context, _ string) (*auth.APIKeyInfo, error) {
	return m.info, m.err
}

// --- Helpers ---

func newTestServer(t *testing.T) (*httptest.Server, *memQuoteRepo) {
	t.Helper()

	repo := newMemQuoteRepo()
	items := &mockCatalog{items: map[string]catalog.Item{
		"suv-lx": {
			ID:                "suv-lx",
			Name:              "SUV LX",
			UnitPrice:         money.Money{Amount: decimal.RequireFromString("150000.00"), Currency: "AED"},
			AvailableQuantity: 5,
		},
	}}
	svc := quotation.NewService(
		repo, items, mockDirectory{}, mockRates{}, &mockReserver{}, mockIssuer{},
		auth.ScopeGate{}, zap.NewNop(), 14*24*time.Hour,
	)

	h := NewHandler(svc, &mockInvoiceRepo{}, zap.NewNop())

	apiKey := "test-key"
	pepper := []byte("pepper")
	mac := hmac.New(sha256.New, pepper)
	mac.Write([]byte(apiKey))
	sec := NewSecurityMiddleware(&mockAPIKeyRepo{info: &auth.APIKeyInfo{
		ID:      "key-1",
		KeyHash: hex.EncodeToString(mac.Sum(nil)),
		Name:    "test",
		Scopes:  []string{"*"},
	}}, pepper)

	r := chi.NewRouter()
	r.Group(func(r chi.Router) {
		r.Use(sec.Authenticate)
		h.Routes(r)
	})

	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return srv, repo
}

func doRequest(t *testing.T, srv *httptest.Server, method, path string, body any) (*http.Response, []byte) {
	t.Helper()

	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req, err := http.NewRequest(method, srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set(APIKeyHeader, "test-key")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	data := make([]byte, 0)
	if resp.Body != nil {
		buf.Reset()
		_, _ = buf.ReadFrom(resp.Body)
		resp.Body.Close()
		data = buf.Bytes()
	}
	return resp, data
}

func createDraft(t *testing.T, srv *httptest.Server) quotationResponse {
	t.Helper()

	resp, body := doRequest(t, srv, http.MethodPost, "/quotations", map[string]any{
		"customer_id": "cust-1",
		"currency":    "AED",
		"line_items":  []map[string]any{{"catalog_item_id": "suv-lx", "quantity": 1}},
		"discount":    map[string]any{"type": "fixed", "value": "0"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))

	var q quotationResponse
	require.NoError(t, json.Unmarshal(body, &q))
	return q
}

// --- Tests ---

func TestCreateQuotation(t *testing.T) {
	srv, _ := newTestServer(t)

	q := createDraft(t, srv)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, "draft", q.Status)
	assert.Equal(t, 1, q.Version)
	assert.Equal(t, "cust-1", q.Customer.ID)
	assert.Equal(t, "150000", q.Breakdown.Subtotal.Amount.String())
}

func TestCreateQuotation_InvalidDiscount(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/quotations", map[string]any{
		"customer_id": "cust-1",
		"currency":    "AED",
		"line_items":  []map[string]any{{"catalog_item_id": "suv-lx", "quantity": 1}},
		"discount":    map[string]any{"type": "percentage", "value": "150"},
	})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
}

func TestCreateQuotation_UnknownCustomer(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodPost, "/quotations", map[string]any{
		"customer_id": "nobody",
		"currency":    "AED",
		"line_items":  []map[string]any{{"catalog_item_id": "suv-lx", "quantity": 1}},
		"discount":    map[string]any{"type": "fixed", "value": "0"},
	})
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestGetQuotation_NotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/quotations/missing", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestListQuotations_InvalidPagination(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, _ := doRequest(t, srv, http.MethodGet, "/quotations?limit=abc", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/quotations?offset=1.5", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLifecycleActions(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createDraft(t, srv)

	resp, body := doRequest(t, srv, http.MethodPost, "/quotations/"+q.ID+"/send", actionRequest{Version: 1})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var sent quotationResponse
	require.NoError(t, json.Unmarshal(body, &sent))
	assert.Equal(t, "sent", sent.Status)
	assert.Equal(t, 2, sent.Version)

	// Stale version token conflicts.
	resp, _ = doRequest(t, srv, http.MethodPost, "/quotations/"+q.ID+"/accept", actionRequest{Version: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, body = doRequest(t, srv, http.MethodPost, "/quotations/"+q.ID+"/accept", actionRequest{Version: 2})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	resp, body = doRequest(t, srv, http.MethodPost, "/quotations/"+q.ID+"/convert", actionRequest{Version: 3})
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))

	var converted quotationResponse
	require.NoError(t, json.Unmarshal(body, &converted))
	assert.Equal(t, "converted", converted.Status)
}

func TestConvert_FromDraftConflicts(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createDraft(t, srv)

	resp, _ := doRequest(t, srv, http.MethodPost, "/quotations/"+q.ID+"/convert", actionRequest{Version: 1})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
}

func TestDeleteQuotation(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createDraft(t, srv)

	resp, _ := doRequest(t, srv, http.MethodDelete, "/quotations/"+q.ID, nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing version parameter")

	resp, _ = doRequest(t, srv, http.MethodDelete, "/quotations/"+q.ID+"?version=1", nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)

	resp, _ = doRequest(t, srv, http.MethodGet, "/quotations/"+q.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAuthenticate(t *testing.T) {
	srv, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/quotations", nil)
	require.NoError(t, err)

	t.Run("missing key", func(t *testing.T) {
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("wrong key", func(t *testing.T) {
		req.Header.Set(APIKeyHeader, "bogus")
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	})

	t.Run("valid key", func(t *testing.T) {
		req.Header.Set(APIKeyHeader, "test-key")
		resp, err := srv.Client().Do(req)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)
	})
}
