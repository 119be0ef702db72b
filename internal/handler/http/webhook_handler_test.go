package http_test

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	checkoutHandler "github.com/vasiliy-maslov/storefront-checkout/internal/handler/http"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
	"github.com/vasiliy-maslov/storefront-checkout/internal/payment"
)

func TestWebhookHandler_Stripe(t *testing.T) {
	orderID := uuid.Must(uuid.NewV4())
	attemptID := uuid.Must(uuid.NewV4())
	paid := &payment.Settlement{
		EventID:          "evt_1",
		EventType:        "payment_intent.succeeded",
		OrderID:          orderID,
		GatewayReference: "pi_1",
		Status:           checkout.OrderStatusPaid,
	}
	canceled := &payment.Settlement{
		EventID:          "evt_2",
		EventType:        "payment_intent.canceled",
		OrderID:          orderID,
		AttemptID:        uuid.NullUUID{UUID: attemptID, Valid: true},
		GatewayReference: "pi_old",
		Status:           checkout.OrderStatusCanceled,
	}
	paidFrom := order.AttemptRef{GatewayReference: "pi_1"}

	tests := []struct {
		name       string
		parser     *stubParser
		setup      func(m *MockOrderService)
		wantStatus int
		wantBody   string
	}{
		{
			name:   "applied",
			parser: &stubParser{settlement: paid},
			setup: func(m *MockOrderService) {
				m.On("UpdatePaymentStatus", mock.Anything, orderID, checkout.OrderStatusPaid, paidFrom).
					Return(nil).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"applied"}`,
		},
		{
			name:   "stale_transition_acknowledged",
			parser: &stubParser{settlement: paid},
			setup: func(m *MockOrderService) {
				m.On("UpdatePaymentStatus", mock.Anything, orderID, checkout.OrderStatusPaid, paidFrom).
					Return(fmt.Errorf("%w: from canceled to paid", order.ErrInvalidStatusTransition)).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ignored"}`,
		},
		{
			name:   "superseded_attempt_acknowledged",
			parser: &stubParser{settlement: canceled},
			setup: func(m *MockOrderService) {
				from := order.AttemptRef{ID: uuid.NullUUID{UUID: attemptID, Valid: true}, GatewayReference: "pi_old"}
				m.On("UpdatePaymentStatus", mock.Anything, orderID, checkout.OrderStatusCanceled, from).
					Return(order.ErrStaleSettlement).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ignored"}`,
		},
		{
			name:   "unknown_order_acknowledged",
			parser: &stubParser{settlement: paid},
			setup: func(m *MockOrderService) {
				m.On("UpdatePaymentStatus", mock.Anything, orderID, checkout.OrderStatusPaid, paidFrom).
					Return(checkout.ErrOrderNotFound).Once()
			},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ignored"}`,
		},
		{
			name:       "irrelevant_event",
			parser:     &stubParser{err: payment.ErrIgnoredEvent},
			setup:      func(m *MockOrderService) {},
			wantStatus: http.StatusOK,
			wantBody:   `{"status":"ignored"}`,
		},
		{
			name:       "bad_signature",
			parser:     &stubParser{err: fmt.Errorf("%w: timestamp too old", payment.ErrInvalidSignature)},
			setup:      func(m *MockOrderService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Invalid signature"}`,
		},
		{
			name:       "malformed",
			parser:     &stubParser{err: errors.New("decode payment intent: unexpected EOF")},
			setup:      func(m *MockOrderService) {},
			wantStatus: http.StatusBadRequest,
			wantBody:   `{"error":"Malformed event"}`,
		},
		{
			name:   "storage_failure_redelivered",
			parser: &stubParser{settlement: paid},
			setup: func(m *MockOrderService) {
				m.On("UpdatePaymentStatus", mock.Anything, orderID, checkout.OrderStatusPaid, paidFrom).
					Return(errors.New("db down")).Once()
			},
			wantStatus: http.StatusInternalServerError,
			wantBody:   `{"error":"Failed to apply event"}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			orders := new(MockOrderService)
			tt.setup(orders)

			router := chi.NewRouter()
			checkoutHandler.NewWebhookHandler(tt.parser, orders).RegisterRoutes(router)

			req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(`{"id":"evt_1"}`))
			req.Header.Set("Stripe-Signature", "t=1,v1=abc")
			rr := httptest.NewRecorder()
			router.ServeHTTP(rr, req)

			require.Equal(t, tt.wantStatus, rr.Code)
			assert.JSONEq(t, tt.wantBody, rr.Body.String())
			assert.Equal(t, "t=1,v1=abc", tt.parser.signature)
			orders.AssertExpectations(t)
		})
	}
}

func TestWebhookHandler_PayloadTooLarge(t *testing.T) {
	parser := &stubParser{}
	router := chi.NewRouter()
	checkoutHandler.NewWebhookHandler(parser, new(MockOrderService)).RegisterRoutes(router)

	body := `{"pad":"` + strings.Repeat("x", 70<<10) + `"}`
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", strings.NewReader(body))
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	assert.Equal(t, http.StatusRequestEntityTooLarge, rr.Code)
	var resp map[string]string
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&resp))
	assert.Empty(t, parser.signature)
}
