package payment

import (
	"encoding/json"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/stripe/stripe-go/v80"
	"github.com/stripe/stripe-go/v80/webhook"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

const (
	metadataOrderID   = "order_id"
	metadataReference = "order_reference"
	metadataAttemptID = "payment_attempt_id"
)

var (
	ErrInvalidSignature = errors.New("invalid webhook signature")
	ErrIgnoredEvent     = errors.New("webhook event does not settle an order")
)

// Settlement is the order status change a gateway event asks for.
type Settlement struct {
	EventID          string
	EventType        string
	OrderID          uuid.UUID
	AttemptID        uuid.NullUUID
	GatewayReference string
	Status           checkout.OrderStatus
}

type WebhookParser struct {
	secret string
}

func NewWebhookParser(secret string) *WebhookParser {
	return &WebhookParser{secret: secret}
}

// Parse verifies the Stripe-Signature header and maps the event onto a
// settlement. Events that do not move an order return ErrIgnoredEvent.
func (p *WebhookParser) Parse(payload []byte, signature string) (*Settlement, error) {
	event, err := webhook.ConstructEventWithOptions(payload, signature, p.secret, webhook.ConstructEventOptions{
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidSignature, err)
	}
	return settlementFor(event)
}

func settlementFor(event stripe.Event) (*Settlement, error) {
	settlement := &Settlement{EventID: event.ID, EventType: string(event.Type)}

	switch event.Type {
	case "payment_intent.succeeded", "payment_intent.payment_failed", "payment_intent.canceled":
		var pi stripe.PaymentIntent
		if err := json.Unmarshal(event.Data.Raw, &pi); err != nil {
			return nil, fmt.Errorf("decode payment intent: %w", err)
		}
		settlement.GatewayReference = pi.ID
		settlement.Status = intentStatus(event.Type)
		return withOrderID(settlement, pi.Metadata)

	case "checkout.session.completed", "checkout.session.expired":
		var sess stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &sess); err != nil {
			return nil, fmt.Errorf("decode checkout session: %w", err)
		}
		if event.Type == "checkout.session.completed" && sess.PaymentStatus != stripe.CheckoutSessionPaymentStatusPaid {
			return nil, ErrIgnoredEvent
		}
		settlement.GatewayReference = sess.ID
		settlement.Status = checkout.OrderStatusPaid
		if event.Type == "checkout.session.expired" {
			// An abandoned hosted page leaves the order open for a retry.
			settlement.Status = checkout.OrderStatusFailed
		}
		return withOrderID(settlement, sess.Metadata)
	}

	return nil, ErrIgnoredEvent
}

func intentStatus(t stripe.EventType) checkout.OrderStatus {
	switch t {
	case "payment_intent.succeeded":
		return checkout.OrderStatusPaid
	case "payment_intent.payment_failed":
		return checkout.OrderStatusFailed
	default:
		return checkout.OrderStatusCanceled
	}
}

func withOrderID(s *Settlement, metadata map[string]string) (*Settlement, error) {
	raw, ok := metadata[metadataOrderID]
	if !ok {
		return nil, ErrIgnoredEvent
	}
	id, err := uuid.FromString(raw)
	if err != nil {
		return nil, fmt.Errorf("parse order id from metadata: %w", err)
	}
	s.OrderID = id
	// Attempts placed before the id was stamped carry only the gateway reference.
	if attempt, err := uuid.FromString(metadata[metadataAttemptID]); err == nil {
		s.AttemptID = uuid.NullUUID{UUID: attempt, Valid: true}
	}
	return s, nil
}
