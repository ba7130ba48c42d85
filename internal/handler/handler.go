// Package handler exposes the quotation lifecycle over HTTP. It translates
// JSON requests into domain calls and domain errors into status codes; no
// business rule lives here.
package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/invoice"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

// Handler serves the quotation API, delegating to the lifecycle service.
type Handler struct {
	quotes   *quotation.Service
	invoices invoice.Repository
	lg       *zap.Logger
}

// NewHandler constructs a Handler with the required domain dependencies.
func NewHandler(quotes *quotation.Service, invoices invoice.Repository, lg *zap.Logger) *Handler {
	return &Handler{
		quotes:   quotes,
		invoices: invoices,
		lg:       lg,
	}
}

// Routes mounts the API on a chi router. The security middleware must already
// have run: every handler here reads the actor from the request context.
func (h *Handler) Routes(r chi.Router) {
	r.Route("/quotations", func(r chi.Router) {
		r.Post("/", h.CreateQuotation)
		r.Get("/", h.ListQuotations)

		r.Route("/{quotationID}", func(r chi.Router) {
			r.Get("/", h.GetQuotation)
			r.Put("/", h.EditQuotation)
			r.Delete("/", h.DeleteQuotation)
			r.Post("/duplicate", h.DuplicateQuotation)
			r.Post("/send", h.action(h.quotes.Send))
			r.Post("/view", h.action(h.quotes.View))
			r.Post("/accept", h.action(h.quotes.Accept))
			r.Post("/reject", h.action(h.quotes.Reject))
			r.Post("/convert", h.action(h.quotes.Convert))
			r.Get("/invoice", h.GetInvoice)
		})
	})
}

func (h *Handler) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		h.lg.Error("encoding response", zap.Error(err))
	}
}
