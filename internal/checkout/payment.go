package checkout

import (
	"context"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

// PaymentDispatcher is the thin adapter in front of the payment gateway. It
// bounds the gateway call with a short timeout and records every attempt it
// gets back. Calling it again for the same order creates a new attempt, never
// a new order.
type PaymentDispatcher struct {
	gateway  PaymentGateway
	orders   OrderStore
	timeout  time.Duration
	recorder Recorder
	now      func() time.Time
}

func NewPaymentDispatcher(gateway PaymentGateway, orders OrderStore, timeout time.Duration, recorder Recorder) *PaymentDispatcher {
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &PaymentDispatcher{
		gateway:  gateway,
		orders:   orders,
		timeout:  timeout,
		recorder: recorder,
		now:      time.Now,
	}
}

func (d *PaymentDispatcher) Dispatch(ctx context.Context, order *Order) (*PaymentAttempt, error) {
	attemptID, err := uuid.NewV4()
	if err != nil {
		return nil, &DispatchError{Method: order.PaymentMethod, Err: err}
	}

	gatewayCtx, cancel := context.WithTimeout(ctx, d.timeout)
	defer cancel()

	attempt, err := d.gateway.CreatePaymentIntent(gatewayCtx, PaymentRequest{
		AttemptID: attemptID,
		OrderID:   order.ID,
		Reference: order.Reference,
		Method:    order.PaymentMethod,
		Amount:    order.Prices.FinalTotal,
		Currency:  order.Currency,
		Customer:  order.Customer,
		Address:   order.Address,
	})
	if err != nil {
		d.recorder.PaymentDispatched(order.PaymentMethod, false)
		log.Warn().Err(err).Stringer("order_id", order.ID).Stringer("method", order.PaymentMethod).Msg("checkout: payment dispatch failed")
		return nil, &DispatchError{Method: order.PaymentMethod, Err: err}
	}
	d.recorder.PaymentDispatched(order.PaymentMethod, true)

	attempt.ID = attemptID
	attempt.OrderID = order.ID
	attempt.Method = order.PaymentMethod
	attempt.CreatedAt = d.now().UTC()

	if err := d.orders.AddPaymentAttempt(ctx, attempt); err != nil {
		d.recorder.StepFailed(StepPaymentRecord)
		log.Warn().Err(err).Stringer("order_id", order.ID).Str("gateway_reference", attempt.GatewayReference).Msg("checkout: failed to record payment attempt")
	}

	log.Info().Stringer("order_id", order.ID).Stringer("method", order.PaymentMethod).Str("gateway_reference", attempt.GatewayReference).Msg("checkout: payment dispatched")
	return attempt, nil
}

type noopRecorder struct{}

func (noopRecorder) PlacementFinished(string) {}

func (noopRecorder) StepFailed(Step) {}

func (noopRecorder) PaymentDispatched(PaymentMethod, bool) {}
