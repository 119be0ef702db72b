package http

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
	"github.com/vasiliy-maslov/storefront-checkout/internal/payment"
	"github.com/vasiliy-maslov/storefront-checkout/internal/shipping"
)

type ErrorResponse struct {
	Error     string `json:"error"`
	Field     string `json:"field,omitempty"`
	Reason    string `json:"reason,omitempty"`
	Retryable bool   `json:"retryable,omitempty"`
}

type ValidationErrorResponse struct {
	Error   string            `json:"error"`
	Details map[string]string `json:"details"`
}

func respondWithError(w http.ResponseWriter, code int, message string) {
	respondWithJSON(w, code, ErrorResponse{Error: message})
}

func respondWithJSON(w http.ResponseWriter, code int, payload interface{}) {
	response, err := json.Marshal(payload)
	if err != nil {
		log.Error().Err(err).Msg("Failed to marshal JSON response")
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

func formatValidationErrors(errs validator.ValidationErrors) map[string]string {
	details := make(map[string]string, len(errs))
	for _, fe := range errs {
		field := strings.ToLower(fe.Field())
		switch fe.Tag() {
		case "required":
			details[field] = "is required"
		case "email":
			details[field] = "must be a valid email address"
		case "uuid":
			details[field] = "must be a valid UUID"
		case "min":
			details[field] = fmt.Sprintf("must be at least %s", fe.Param())
		case "max":
			details[field] = fmt.Sprintf("must be at most %s", fe.Param())
		case "len":
			details[field] = fmt.Sprintf("must be exactly %s characters", fe.Param())
		case "oneof":
			details[field] = fmt.Sprintf("must be one of: %s", fe.Param())
		default:
			details[field] = fmt.Sprintf("failed on %s", fe.Tag())
		}
	}
	return details
}

func mapErrorToStatusCode(err error) int {
	var (
		validationErr  *checkout.ValidationError
		rejection      *checkout.CouponRejection
		dispatchErr    *checkout.DispatchError
		persistenceErr *checkout.PersistenceError
	)
	switch {
	case errors.Is(err, checkout.ErrSessionNotFound),
		errors.Is(err, checkout.ErrOrderNotFound),
		errors.Is(err, checkout.ErrAddressNotFound),
		errors.Is(err, checkout.ErrProductNotFound),
		errors.Is(err, checkout.ErrLineNotFound):
		return http.StatusNotFound
	case errors.Is(err, checkout.ErrOrderAlreadyPlaced),
		errors.Is(err, checkout.ErrCouponLocked),
		errors.Is(err, checkout.ErrPlacementInFlight),
		errors.Is(err, checkout.ErrPaymentSettled),
		errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrStaleSettlement):
		return http.StatusConflict
	case errors.Is(err, checkout.ErrSavedAddressOwner):
		return http.StatusForbidden
	case errors.As(err, &validationErr),
		errors.As(err, &rejection),
		errors.Is(err, checkout.ErrEmptyCart),
		errors.Is(err, checkout.ErrInvalidQuantity),
		errors.Is(err, checkout.ErrQuoteNotOffered),
		errors.Is(err, checkout.ErrAddressIncomplete),
		errors.Is(err, checkout.ErrOrderNotPlaced):
		return http.StatusUnprocessableEntity
	case errors.Is(err, shipping.ErrRatesUnavailable),
		errors.Is(err, payment.ErrGatewayUnavailable):
		return http.StatusServiceUnavailable
	case errors.As(err, &dispatchErr):
		return http.StatusBadGateway
	case errors.As(err, &persistenceErr):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// respondWithDomainError translates a service error into a status code and a
// client-safe body. Unexpected errors are logged and masked.
func respondWithDomainError(w http.ResponseWriter, err error, fallback string) {
	code := mapErrorToStatusCode(err)
	body := ErrorResponse{Error: fallback}

	var (
		validationErr  *checkout.ValidationError
		rejection      *checkout.CouponRejection
		dispatchErr    *checkout.DispatchError
		persistenceErr *checkout.PersistenceError
	)
	switch {
	case errors.As(err, &validationErr):
		body.Error = validationErr.Message
		body.Field = validationErr.Field
	case errors.As(err, &rejection):
		body.Error = "Coupon rejected"
		body.Reason = string(rejection.Reason)
	case errors.As(err, &dispatchErr):
		body.Error = "Payment could not be started"
		body.Retryable = dispatchErr.Retryable()
	case errors.As(err, &persistenceErr):
		body.Error = "Order could not be placed, please try again"
		body.Retryable = true
	case code == http.StatusInternalServerError:
		log.Error().Err(err).Msg(fallback)
	default:
		body.Error = err.Error()
	}
	respondWithJSON(w, code, body)
}

// decodeAndValidate decodes a JSON body into dst and runs struct validation.
// It writes the error response itself and reports whether the handler may
// continue.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, validate *validator.Validate, dst interface{}) bool {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()

	if err := decoder.Decode(dst); err != nil {
		log.Warn().Err(err).Msg("Failed to decode request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload %v", err))
		return false
	}

	if err := validate.Struct(dst); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
		} else {
			log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
			respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		}
		return false
	}
	return true
}
