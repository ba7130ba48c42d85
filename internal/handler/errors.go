package handler

import (
	"net/http"

	"github.com/go-faster/errors"
	"go.uber.org/zap"

	"github.com/xenking/dealdesk/internal/domain/auth"
	"github.com/xenking/dealdesk/internal/domain/catalog"
	"github.com/xenking/dealdesk/internal/domain/currency"
	"github.com/xenking/dealdesk/internal/domain/customer"
	"github.com/xenking/dealdesk/internal/domain/inventory"
	"github.com/xenking/dealdesk/internal/domain/money"
	"github.com/xenking/dealdesk/internal/domain/pricing"
	"github.com/xenking/dealdesk/internal/domain/quotation"
)

// apiError is a request-level error with an explicit HTTP status.
type apiError struct {
	status  int
	message string
}

func (e *apiError) Error() string { return e.message }

func badRequest(message string) error {
	return &apiError{status: http.StatusBadRequest, message: message}
}

type errorResponse struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// writeError maps a domain error to an HTTP status and JSON body. Unmapped
// errors become an opaque 500; the details go to the log, not the client.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := h.statusFor(err)
	message := err.Error()
	if status == http.StatusInternalServerError {
		h.lg.Error("request failed",
			zap.String("path", r.URL.Path),
			zap.Error(err),
		)
		message = "internal error"
	}
	h.writeJSON(w, status, errorResponse{Code: status, Message: message})
}

func (h *Handler) statusFor(err error) int {
	var ae *apiError
	if errors.As(err, &ae) {
		return ae.status
	}

	switch {
	case errors.Is(err, auth.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, quotation.ErrNotFound),
		errors.Is(err, catalog.ErrNotFound),
		errors.Is(err, customer.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, quotation.ErrStaleVersion),
		errors.Is(err, inventory.ErrAlreadyReserved):
		return http.StatusConflict
	case errors.Is(err, quotation.ErrEmptyLineItems),
		errors.Is(err, quotation.ErrPastValidUntil),
		errors.Is(err, pricing.ErrInvalidDiscountType),
		errors.Is(err, pricing.ErrPercentageOutOfRange),
		errors.Is(err, pricing.ErrNegativeDiscount),
		errors.Is(err, money.ErrEmptyCurrency):
		return http.StatusUnprocessableEntity
	case errors.Is(err, currency.ErrRateUnavailable):
		return http.StatusServiceUnavailable
	}

	var (
		transitionErr *quotation.InvalidTransitionError
		stockErr      *inventory.InsufficientStockError
		unitErr       *inventory.UnitUnavailableError
		qtyErr        *pricing.InvalidQuantityError
		mismatchErr   *catalog.UnitMismatchError
	)
	switch {
	case errors.As(err, &transitionErr),
		errors.As(err, &stockErr),
		errors.As(err, &unitErr):
		return http.StatusConflict
	case errors.As(err, &qtyErr),
		errors.As(err, &mismatchErr):
		return http.StatusUnprocessableEntity
	}

	return http.StatusInternalServerError
}
