//go:build integration

package integration

import (
	"net/http"
	"regexp"
	"testing"
)

var uuidPattern = regexp.MustCompile(`^[0-9a-f]{8}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{4}-[0-9a-f]{12}$`)

func newDraftRequest() createQuotationRequest {
	return createQuotationRequest{
		CustomerID: "cust-gulf-motors",
		Currency:   "AED",
		LineItems: []lineItemRequest{
			{CatalogItemID: "ext-warranty-3y", Quantity: 2},
		},
		Discount: discountRequest{Type: "fixed", Value: "0"},
		VATRate:  "5",
	}
}

func createDraft(t *testing.T) quotationResponse {
	t.Helper()

	resp := doJSON(t, http.MethodPost, "/api/quotations", newDraftRequest(), testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}
	return decodeJSON[quotationResponse](t, resp)
}

func TestCreateQuotation_NoAuth(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/quotations", newDraftRequest(), "")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateQuotation_InvalidKey(t *testing.T) {
	resp := doJSON(t, http.MethodPost, "/api/quotations", newDraftRequest(), "wrong-key")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", resp.StatusCode)
	}
}

func TestCreateQuotation(t *testing.T) {
	q := createDraft(t)

	if !uuidPattern.MatchString(q.ID) {
		t.Errorf("quotation ID %q is not a valid UUID", q.ID)
	}
	if q.Status != "draft" {
		t.Errorf("status: got %q, want draft", q.Status)
	}
	if q.Version != 1 {
		t.Errorf("version: got %d, want 1", q.Version)
	}
	// 2 x 4500.00 = 9000.00; VAT 5% = 450.00; total 9450.00.
	if q.Breakdown.Subtotal.Amount != "9000" {
		t.Errorf("subtotal: got %v, want 9000", q.Breakdown.Subtotal.Amount)
	}
	if q.Breakdown.VATAmount.Amount != "450" {
		t.Errorf("vat: got %v, want 450", q.Breakdown.VATAmount.Amount)
	}
	if q.Breakdown.GrandTotal.Amount != "9450" {
		t.Errorf("grand total: got %v, want 9450", q.Breakdown.GrandTotal.Amount)
	}
}

func TestCreateQuotation_EmptyLines(t *testing.T) {
	req := newDraftRequest()
	req.LineItems = nil

	resp := doJSON(t, http.MethodPost, "/api/quotations", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestCreateQuotation_UnknownItem(t *testing.T) {
	req := newDraftRequest()
	req.LineItems = []lineItemRequest{{CatalogItemID: "no-such-item", Quantity: 1}}

	resp := doJSON(t, http.MethodPost, "/api/quotations", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}

func TestCreateQuotation_InvalidDiscount(t *testing.T) {
	req := newDraftRequest()
	req.Discount = discountRequest{Type: "percentage", Value: "120"}

	resp := doJSON(t, http.MethodPost, "/api/quotations", req, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp.StatusCode)
	}
}

func TestQuotationLifecycle(t *testing.T) {
	q := createDraft(t)

	// draft -> sent
	resp := doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/send", actionRequest{Version: 1}, testAPIKey)
	sent := decodeJSON[quotationResponse](t, resp)
	resp.Body.Close()
	if sent.Status != "sent" || sent.Version != 2 {
		t.Fatalf("after send: status=%q version=%d", sent.Status, sent.Version)
	}

	// sent -> viewed
	resp = doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/view", actionRequest{Version: 2}, testAPIKey)
	viewed := decodeJSON[quotationResponse](t, resp)
	resp.Body.Close()
	if viewed.Status != "viewed" || viewed.Version != 3 {
		t.Fatalf("after view: status=%q version=%d", viewed.Status, viewed.Version)
	}

	// viewed -> accepted
	resp = doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/accept", actionRequest{Version: 3}, testAPIKey)
	accepted := decodeJSON[quotationResponse](t, resp)
	resp.Body.Close()
	if accepted.Status != "accepted" || accepted.Version != 4 {
		t.Fatalf("after accept: status=%q version=%d", accepted.Status, accepted.Version)
	}

	// accepted -> converted; commits stock and issues the invoice.
	resp = doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/convert", actionRequest{Version: 4}, testAPIKey)
	converted := decodeJSON[quotationResponse](t, resp)
	resp.Body.Close()
	if converted.Status != "converted" || converted.Version != 5 {
		t.Fatalf("after convert: status=%q version=%d", converted.Status, converted.Version)
	}

	// The invoice is retrievable and tied to the quotation.
	req := doJSON(t, http.MethodGet, "/api/quotations/"+q.ID+"/invoice", nil, testAPIKey)
	defer req.Body.Close()
	if req.StatusCode != http.StatusOK {
		t.Fatalf("get invoice: expected 200, got %d", req.StatusCode)
	}
}

func TestQuotation_StaleVersionConflicts(t *testing.T) {
	q := createDraft(t)

	resp := doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/send", actionRequest{Version: 1}, testAPIKey)
	resp.Body.Close()

	// Re-sending with the stale token must conflict.
	resp = doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/accept", actionRequest{Version: 1}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}
}

func TestQuotation_ConvertFromDraftConflicts(t *testing.T) {
	q := createDraft(t)

	resp := doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/convert", actionRequest{Version: 1}, testAPIKey)
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusConflict {
		t.Fatalf("expected 409, got %d", resp.StatusCode)
	}

	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusConflict {
		t.Errorf("error code: got %d, want 409", body.Code)
	}
}

func TestQuotation_DeleteDraft(t *testing.T) {
	q := createDraft(t)

	resp := doJSON(t, http.MethodDelete, "/api/quotations/"+q.ID+"?version=1", nil, testAPIKey)
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("expected 204, got %d", resp.StatusCode)
	}

	resp = doJSON(t, http.MethodGet, "/api/quotations/"+q.ID, nil, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404 after delete, got %d", resp.StatusCode)
	}
}

func TestQuotation_SerializedUnits(t *testing.T) {
	req := createQuotationRequest{
		CustomerID: "cust-atlas-trading",
		Currency:   "AED",
		LineItems: []lineItemRequest{
			{
				CatalogItemID:   "sedan-gt-2025",
				Quantity:        2,
				SerializedUnits: []string{"WBA8E9G50GNT12345", "WBA8E9G50GNT12346"},
			},
		},
		Discount: discountRequest{Type: "fixed", Value: "0"},
	}

	resp := doJSON(t, http.MethodPost, "/api/quotations", req, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	// Quantity not matching the unit count is rejected.
	req.LineItems[0].Quantity = 1
	resp2 := doJSON(t, http.MethodPost, "/api/quotations", req, testAPIKey)
	defer resp2.Body.Close()
	if resp2.StatusCode != http.StatusUnprocessableEntity {
		t.Fatalf("expected 422, got %d", resp2.StatusCode)
	}
}

func TestQuotation_Duplicate(t *testing.T) {
	q := createDraft(t)

	resp := doJSON(t, http.MethodPost, "/api/quotations/"+q.ID+"/duplicate", nil, testAPIKey)
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusCreated {
		t.Fatalf("expected 201, got %d", resp.StatusCode)
	}

	dup := decodeJSON[quotationResponse](t, resp)
	if dup.ID == q.ID {
		t.Error("duplicate kept the source id")
	}
	if dup.Status != "draft" || dup.Version != 1 {
		t.Errorf("duplicate: status=%q version=%d, want draft v1", dup.Status, dup.Version)
	}
}
