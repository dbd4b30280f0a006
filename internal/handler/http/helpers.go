package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

// respondWithError writes {"error": message} with the given status.
func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, map[string]string{"error": message})
}

// respondWithJSON marshals payload and writes it with the given status.
func respondWithJSON(w http.ResponseWriter, code int, payload any) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusInternalServerError)
		_, _ = w.Write([]byte(`{"error":"Failed to marshal JSON response"}`))
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if _, err := w.Write(response); err != nil {
		log.Error().Err(err).Msg("Failed to write JSON response")
	}
}

// formatValidationErrors maps each failed field to a readable message.
func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		switch fe.Tag() {
		case "required":
			details[fe.Namespace()] = "is required"
		case "min":
			details[fe.Namespace()] = fmt.Sprintf("must contain at least %s element(s)", fe.Param())
		case "max":
			details[fe.Namespace()] = fmt.Sprintf("must be at most %s characters", fe.Param())
		default:
			details[fe.Namespace()] = fmt.Sprintf("failed on %s", fe.Tag())
		}
	}
	return details
}

// mapErrorToStatusCode picks the HTTP status for a service error.
func mapErrorToStatusCode(err error) int {
	switch {
	case errors.Is(err, order.ErrValidation), errors.Is(err, order.ErrPricing):
		return http.StatusBadRequest
	case errors.Is(err, order.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, order.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, order.ErrPaymentIssuance):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// clientMessage returns the part of err a client may see. Wallet and storage
// details stay in the log.
func clientMessage(err error, fallback string) string {
	var (
		vErr *order.ValidationError
		pErr *order.PricingError
	)
	switch {
	case errors.As(err, &vErr):
		return vErr.Error()
	case errors.As(err, &pErr):
		return pErr.Error()
	case errors.Is(err, order.ErrNotFound):
		return "Order not found"
	case errors.Is(err, order.ErrForbidden):
		return "Access denied"
	case errors.Is(err, order.ErrPaymentIssuance):
		return "Payment address could not be issued, try again later"
	default:
		return fallback
	}
}
