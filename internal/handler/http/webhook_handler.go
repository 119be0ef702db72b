package http

import (
	"errors"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
	"github.com/vasiliy-maslov/storefront-checkout/internal/payment"
)

const maxWebhookBody = 64 << 10

type SettlementParser interface {
	Parse(payload []byte, signature string) (*payment.Settlement, error)
}

type WebhookResponse struct {
	Status string `json:"status"`
}

type WebhookHandler struct {
	parser SettlementParser
	orders order.Service
}

func NewWebhookHandler(parser SettlementParser, orders order.Service) *WebhookHandler {
	return &WebhookHandler{
		parser: parser,
		orders: orders,
	}
}

func (h *WebhookHandler) RegisterRoutes(router chi.Router) {
	router.Post("/webhooks/stripe", h.Stripe)
}

// Stripe acknowledges every event it understood, including ones that no
// longer move the order, so the gateway stops redelivering them. Only storage
// failures answer 5xx.
func (h *WebhookHandler) Stripe(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxWebhookBody))
	if err != nil {
		respondWithError(w, http.StatusRequestEntityTooLarge, "Webhook payload too large")
		return
	}

	settlement, err := h.parser.Parse(payload, r.Header.Get("Stripe-Signature"))
	if err != nil {
		switch {
		case errors.Is(err, payment.ErrIgnoredEvent):
			respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
		case errors.Is(err, payment.ErrInvalidSignature):
			log.Warn().Err(err).Msg("handler: rejected webhook with invalid signature")
			respondWithError(w, http.StatusBadRequest, "Invalid signature")
		default:
			log.Warn().Err(err).Msg("handler: malformed webhook event")
			respondWithError(w, http.StatusBadRequest, "Malformed event")
		}
		return
	}

	from := order.AttemptRef{ID: settlement.AttemptID, GatewayReference: settlement.GatewayReference}
	err = h.orders.UpdatePaymentStatus(r.Context(), settlement.OrderID, settlement.Status, from)
	switch {
	case err == nil:
		respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "applied"})
	case errors.Is(err, order.ErrInvalidStatusTransition),
		errors.Is(err, order.ErrStaleSettlement),
		errors.Is(err, checkout.ErrOrderNotFound):
		log.Warn().Err(err).
			Str("event_id", settlement.EventID).
			Str("event_type", settlement.EventType).
			Stringer("order_id", settlement.OrderID).
			Msg("handler: webhook event not applied")
		respondWithJSON(w, http.StatusOK, WebhookResponse{Status: "ignored"})
	default:
		log.Error().Err(err).Str("event_id", settlement.EventID).Stringer("order_id", settlement.OrderID).Msg("handler: failed to apply webhook event")
		respondWithError(w, http.StatusInternalServerError, "Failed to apply event")
	}
}
