package httpapi

import (
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/nazeru/storefront-checkout-go/internal/storefront/domain"
)

type errorBody struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

// writeError maps domain failures to one status and one message.
func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	var (
		ve *domain.ValidationError
		se *domain.StockError
	)
	switch {
	case errors.As(err, &ve):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: ve.Message, Field: ve.Field})
	case errors.Is(err, domain.ErrEmptyCart):
		writeJSON(w, http.StatusUnprocessableEntity, errorBody{Error: "Your cart is empty.", Field: "checkout"})
	case errors.As(err, &se):
		writeJSON(w, http.StatusConflict, errorBody{Error: se.Error(), Field: "quantity"})
	case errors.Is(err, domain.ErrNotFound):
		writeJSON(w, http.StatusNotFound, errorBody{Error: "Not found."})
	case domain.IsRetryable(err):
		w.Header().Set("Retry-After", "1")
		writeJSON(w, http.StatusServiceUnavailable, errorBody{
			Error:     "The store is busy with other checkouts. Please try again.",
			Retryable: true,
		})
	default:
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "Something went wrong. Please try again later."})
	}
}
