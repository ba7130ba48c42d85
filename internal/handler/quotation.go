package handler

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"github.com/xenking/dealdesk/internal/domain/auth"
	"github.com/xenking/dealdesk/internal/domain/money"
	"github.com/xenking/dealdesk/internal/domain/pricing"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

// lineInput is the wire form of a quotation line reference.
type lineInput struct {
	CatalogItemID   string   `json:"catalog_item_id"`
	Quantity        int      `json:"quantity"`
	SerializedUnits []string `json:"serialized_units,omitempty"`
}

type discountInput struct {
	Type  string          `json:"type"`
	Value decimal.Decimal `json:"value"`
}

type expenseInput struct {
	Kind        string          `json:"kind"`
	Description string          `json:"description"`
	Amount      decimal.Decimal `json:"amount"`
}

type createQuotationRequest struct {
	CustomerID string           `json:"customer_id"`
	Currency   string           `json:"currency"`
	Lines      []lineInput      `json:"line_items"`
	Discount   discountInput    `json:"discount"`
	VATRate    *decimal.Decimal `json:"vat_rate,omitempty"`
	Expenses   []expenseInput   `json:"expenses,omitempty"`
	ValidUntil *time.Time       `json:"valid_until,omitempty"`
}

type editQuotationRequest struct {
	Version  int              `json:"version"`
	Lines    []lineInput      `json:"line_items"`
	Discount discountInput    `json:"discount"`
	VATRate  *decimal.Decimal `json:"vat_rate,omitempty"`
	Expenses []expenseInput   `json:"expenses,omitempty"`
}

// actionRequest carries the version token for a lifecycle transition.
type actionRequest struct {
	Version int `json:"version"`
}

type quotationResponse struct {
	ID           string                      `json:"id"`
	Customer     quotation.CustomerSnapshot  `json:"customer"`
	Currency     string                      `json:"currency"`
	ExchangeRate decimal.Decimal             `json:"exchange_rate"`
	Status       string                      `json:"status"`
	Discount     pricing.DiscountSpec        `json:"discount"`
	VATRate      *decimal.Decimal            `json:"vat_rate,omitempty"`
	LineItems    []pricing.LineItem          `json:"line_items"`
	Expenses     []pricing.AdditionalExpense `json:"expenses"`
	Breakdown    pricing.Breakdown           `json:"breakdown"`
	ValidUntil   time.Time                   `json:"valid_until"`
	CreatedBy    string                      `json:"created_by"`
	Version      int                         `json:"version"`
	CreatedAt    time.Time                   `json:"created_at"`
	UpdatedAt    time.Time                   `json:"updated_at"`
}

func toQuotationResponse(q *quotation.Quotation) quotationResponse {
	resp := quotationResponse{
		ID:           q.ID,
		Customer:     q.Customer,
		Currency:     q.Currency,
		ExchangeRate: q.ExchangeRate,
		Status:       string(q.Status),
		Discount:     q.Discount,
		VATRate:      q.VATRate,
		LineItems:    q.LineItems,
		Expenses:     q.Expenses,
		Breakdown:    q.Breakdown,
		ValidUntil:   q.ValidUntil,
		CreatedBy:    q.CreatedBy,
		Version:      q.Version,
		CreatedAt:    q.CreatedAt,
		UpdatedAt:    q.UpdatedAt,
	}
	if resp.Expenses == nil {
		resp.Expenses = []pricing.AdditionalExpense{}
	}
	return resp
}

// CreateQuotation handles POST /quotations.
func (h *Handler) CreateQuotation(w http.ResponseWriter, r *http.Request) {
	var req createQuotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("malformed request body"))
		return
	}

	spec := pricing.DiscountSpec{Type: pricing.DiscountType(req.Discount.Type), Value: req.Discount.Value}
	if err := spec.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	domainReq := quotation.CreateRequest{
		CustomerID: req.CustomerID,
		Currency:   req.Currency,
		Lines:      toLineInputs(req.Lines),
		Discount:   spec,
		VATRate:    req.VATRate,
		Expenses:   toExpenses(req.Expenses, req.Currency),
	}
	if req.ValidUntil != nil {
		domainReq.ValidUntil = *req.ValidUntil
	}

	q, err := h.quotes.Create(r.Context(), actorFrom(r.Context()), domainReq)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toQuotationResponse(q))
}

// EditQuotation handles PUT /quotations/{quotationID}.
func (h *Handler) EditQuotation(w http.ResponseWriter, r *http.Request) {
	var req editQuotationRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.writeError(w, r, badRequest("malformed request body"))
		return
	}

	spec := pricing.DiscountSpec{Type: pricing.DiscountType(req.Discount.Type), Value: req.Discount.Value}
	if err := spec.Validate(); err != nil {
		h.writeError(w, r, err)
		return
	}

	id := chi.URLParam(r, "quotationID")
	q, err := h.quotes.Get(r.Context(), actorFrom(r.Context()), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	updated, err := h.quotes.Edit(r.Context(), actorFrom(r.Context()), id, req.Version, quotation.EditRequest{
		Lines:    toLineInputs(req.Lines),
		Discount: spec,
		VATRate:  req.VATRate,
		Expenses: toExpenses(req.Expenses, q.Currency),
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQuotationResponse(updated))
}

// GetQuotation handles GET /quotations/{quotationID}.
func (h *Handler) GetQuotation(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.Get(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "quotationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, toQuotationResponse(q))
}

// ListQuotations handles GET /quotations.
func (h *Handler) ListQuotations(w http.ResponseWriter, r *http.Request) {
	filter := quotation.ListFilter{
		Status:     quotation.Status(r.URL.Query().Get("status")),
		CustomerID: r.URL.Query().Get("customer_id"),
	}
	var err error
	if v := r.URL.Query().Get("limit"); v != "" {
		if filter.Limit, err = strconv.Atoi(v); err != nil {
			h.writeError(w, r, badRequest("limit must be an integer"))
			return
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if filter.Offset, err = strconv.Atoi(v); err != nil {
			h.writeError(w, r, badRequest("offset must be an integer"))
			return
		}
	}

	quotes, err := h.quotes.List(r.Context(), actorFrom(r.Context()), filter)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	out := make([]quotationResponse, len(quotes))
	for i := range quotes {
		out[i] = toQuotationResponse(&quotes[i])
	}
	h.writeJSON(w, http.StatusOK, map[string]any{"quotations": out})
}

// DeleteQuotation handles DELETE /quotations/{quotationID}?version=N.
func (h *Handler) DeleteQuotation(w http.ResponseWriter, r *http.Request) {
	version, err := strconv.Atoi(r.URL.Query().Get("version"))
	if err != nil {
		h.writeError(w, r, badRequest("version query parameter is required"))
		return
	}

	if err := h.quotes.Delete(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "quotationID"), version); err != nil {
		h.writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// DuplicateQuotation handles POST /quotations/{quotationID}/duplicate.
func (h *Handler) DuplicateQuotation(w http.ResponseWriter, r *http.Request) {
	q, err := h.quotes.Duplicate(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "quotationID"))
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusCreated, toQuotationResponse(q))
}

// action adapts one lifecycle transition method into an HTTP handler. The
// request body carries the version token the caller last read.
func (h *Handler) action(fn func(ctx context.Context, actor auth.Actor, id string, version int) (*quotation.Quotation, error)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req actionRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.writeError(w, r, badRequest("malformed request body"))
			return
		}

		q, err := fn(r.Context(), actorFrom(r.Context()), chi.URLParam(r, "quotationID"), req.Version)
		if err != nil {
			h.writeError(w, r, err)
			return
		}
		h.writeJSON(w, http.StatusOK, toQuotationResponse(q))
	}
}

// GetInvoice handles GET /quotations/{quotationID}/invoice.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "quotationID")

	// Read access mirrors the quotation itself.
	if _, err := h.quotes.Get(r.Context(), actorFrom(r.Context()), id); err != nil {
		h.writeError(w, r, err)
		return
	}

	inv, err := h.invoices.GetInvoiceByQuotation(r.Context(), id)
	if err != nil {
		h.writeError(w, r, err)
		return
	}
	h.writeJSON(w, http.StatusOK, map[string]any{
		"id":            inv.ID,
		"number":        inv.Number,
		"quotation_id":  inv.QuotationID,
		"customer":      inv.Customer,
		"currency":      inv.Currency,
		"exchange_rate": inv.ExchangeRate,
		"line_items":    inv.LineItems,
		"breakdown":     inv.Breakdown,
		"created_at":    inv.CreatedAt,
	})
}

func toLineInputs(in []lineInput) []quotation.LineInput {
	out := make([]quotation.LineInput, len(in))
	for i, l := range in {
		out[i] = quotation.LineInput{
			CatalogItemID:   l.CatalogItemID,
			Quantity:        l.Quantity,
			SerializedUnits: l.SerializedUnits,
		}
	}
	return out
}

func toExpenses(in []expenseInput, currency string) []pricing.AdditionalExpense {
	if len(in) == 0 {
		return nil
	}
	out := make([]pricing.AdditionalExpense, len(in))
	for i, e := range in {
		out[i] = pricing.AdditionalExpense{
			Kind:        pricing.ExpenseKind(e.Kind),
			Description: e.Description,
			Amount:      money.Money{Amount: e.Amount, Currency: currency},
		}
	}
	return out
}
