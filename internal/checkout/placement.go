package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Step string

const (
	StepReference     Step = "order_reference"
	StepHeader        Step = "order_header"
	StepLines         Step = "order_lines"
	StepSavedAddress  Step = "saved_address"
	StepCouponUsage   Step = "coupon_usage"
	StepOrderEvent    Step = "order_event"
	StepPayment       Step = "payment_dispatch"
	StepPaymentRecord Step = "payment_record"
	StepConfirmation  Step = "confirmation"
)

type OutcomeKind string

const (
	OutcomeSuccess  OutcomeKind = "success"
	OutcomeSkipped  OutcomeKind = "skipped"
	OutcomeNonFatal OutcomeKind = "non_fatal_failure"
	OutcomeFatal    OutcomeKind = "fatal_failure"
)

type StepOutcome struct {
	Step Step        `json:"step"`
	Kind OutcomeKind `json:"kind"`
	Err  error       `json:"-"`
}

type PlacementResult struct {
	Order          *Order          `json:"order"`
	Outcomes       []StepOutcome   `json:"outcomes"`
	Payment        *PaymentAttempt `json:"payment,omitempty"`
	RedirectURL    string          `json:"redirect_url,omitempty"`
	PaymentPending bool            `json:"payment_pending"`
	Resumed        bool            `json:"resumed"`
}

func (r *PlacementResult) Outcome(step Step) (StepOutcome, bool) {
	for _, o := range r.Outcomes {
		if o.Step == step {
			return o, true
		}
	}
	return StepOutcome{}, false
}

func (r *PlacementResult) record(step Step, kind OutcomeKind, err error) {
	r.Outcomes = append(r.Outcomes, StepOutcome{Step: step, Kind: kind, Err: err})
}

const PaymentRetryNotice = "Your order was received but the payment could not be started. You can retry the payment from your order."

type PlacerDeps struct {
	Orders     OrderStore
	Addresses  AddressStore
	Coupons    CouponStore
	Dispatcher *PaymentDispatcher
	Pricing    *PricingEngine
	Events     EventPublisher
	Locker     Locker
	Recorder   Recorder
	References func() string
}

// OrderPlacer runs the placement pipeline. Only the order header step is
// fatal; once it succeeds the order exists and every later step is
// best-effort, so the session always reaches Confirmation unless the buyer is
// handed off to a hosted payment page.
type OrderPlacer struct {
	orders     OrderStore
	addresses  AddressStore
	coupons    CouponStore
	dispatcher *PaymentDispatcher
	pricing    *PricingEngine
	events     EventPublisher
	locker     Locker
	recorder   Recorder
	references func() string
	now        func() time.Time
}

func NewOrderPlacer(deps PlacerDeps) *OrderPlacer {
	recorder := deps.Recorder
	if recorder == nil {
		recorder = noopRecorder{}
	}
	return &OrderPlacer{
		orders:     deps.Orders,
		addresses:  deps.Addresses,
		coupons:    deps.Coupons,
		dispatcher: deps.Dispatcher,
		pricing:    deps.Pricing,
		events:     deps.Events,
		locker:     deps.Locker,
		recorder:   recorder,
		references: deps.References,
		now:        time.Now,
	}
}

func (p *OrderPlacer) Place(ctx context.Context, sess *Session) (*PlacementResult, error) {
	if sess.Placed() {
		return p.replay(ctx, sess)
	}
	if err := p.ready(sess); err != nil {
		return nil, err
	}

	release, err := p.locker.Acquire(ctx, placementLockKey(sess.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	sess.Reprice(p.pricing)
	result := &PlacementResult{}

	reference := p.references()
	result.record(StepReference, OutcomeSuccess, nil)

	order, err := p.buildOrder(sess, reference)
	if err != nil {
		result.record(StepHeader, OutcomeFatal, err)
		p.recorder.PlacementFinished("header_failed")
		return result, &PersistenceError{Step: StepHeader, Fatal: true, Err: err}
	}

	if err := p.orders.CreateOrderHeader(ctx, order); err != nil {
		if !errors.Is(err, ErrDuplicateIdempotency) {
			result.record(StepHeader, OutcomeFatal, err)
			p.recorder.PlacementFinished("header_failed")
			log.Error().Err(err).Str("session_id", sess.ID).Msg("checkout: failed to persist order header")
			return result, &PersistenceError{Step: StepHeader, Fatal: true, Err: err}
		}
		return p.resume(ctx, sess, result)
	}
	result.Order = order
	result.record(StepHeader, OutcomeSuccess, nil)
	log.Info().Stringer("order_id", order.ID).Str("reference", order.Reference).Str("session_id", sess.ID).Msg("checkout: order header persisted")

	p.persistLines(ctx, order, result)
	p.persistAddress(ctx, sess, order, result)
	p.redeemCoupon(ctx, sess, order, result)
	p.publish(ctx, sess, order, result)
	p.dispatch(ctx, order, result)
	p.finish(sess, result)

	return result, nil
}

// RetryPayment dispatches a new payment attempt for the session's order.
func (p *OrderPlacer) RetryPayment(ctx context.Context, sess *Session) (*PaymentAttempt, error) {
	if !sess.Placed() {
		return nil, ErrOrderNotPlaced
	}

	release, err := p.locker.Acquire(ctx, placementLockKey(sess.ID))
	if err != nil {
		return nil, err
	}
	defer release()

	order, err := p.orders.GetOrderByID(ctx, sess.OrderID.UUID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load order for payment retry: %w", err)
	}
	if order.Status != OrderStatusPending && order.Status != OrderStatusFailed {
		return nil, ErrPaymentSettled
	}

	attempt, err := p.dispatcher.Dispatch(ctx, order)
	if err != nil {
		sess.PaymentNotice = PaymentRetryNotice
		return nil, err
	}
	sess.Payment = attempt
	sess.PaymentNotice = ""
	return attempt, nil
}

func (p *OrderPlacer) ready(sess *Session) error {
	if sess.Cart.Empty() {
		return ErrEmptyCart
	}
	if sess.Stage != StagePayment {
		return &ValidationError{Field: "stage", Message: "orders are placed from the payment stage"}
	}
	for _, st := range []Stage{StageIdentification, StageAddress, StagePayment} {
		if !sess.StageComplete(st) {
			return incompleteStage(st)
		}
	}
	return nil
}

func (p *OrderPlacer) buildOrder(sess *Session, reference string) (*Order, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, err
	}
	now := p.now().UTC()

	order := &Order{
		ID:             id,
		Reference:      reference,
		IdempotencyKey: sess.IdempotencyKey,
		SessionID:      sess.ID,
		CustomerID:     sess.CustomerID,
		Customer:       sess.Customer,
		Address:        sess.Address,
		Prices:         sess.Prices,
		Currency:       sess.Cart.Currency,
		PaymentMethod:  sess.PaymentMethod,
		Status:         OrderStatusPending,
		Shipping:       sess.Shipping.Quote,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	if sess.Coupon != nil {
		order.CouponCode = sess.Coupon.Code
	}
	if sess.Referral.Verified {
		order.ReferralCode = sess.Referral.Code
		order.ReferralSellerID = sess.Referral.SellerID
	}

	lines := make([]OrderLine, 0, len(sess.Cart.Lines))
	for i, l := range sess.Cart.Lines {
		lineID, err := uuid.NewV4()
		if err != nil {
			return nil, err
		}
		lines = append(lines, OrderLine{
			ID:                 lineID,
			OrderID:            id,
			Position:           i + 1,
			ProductID:          l.ProductID,
			VariantID:          l.VariantID,
			ProductName:        l.ProductName,
			VariantDescription: l.VariantDescription,
			UnitPrice:          l.UnitPrice,
			Quantity:           l.Quantity,
			ExtendedPrice:      l.ExtendedPrice(),
		})
	}
	order.Lines = lines
	return order, nil
}

// resume handles a header insert that collided on the idempotency key: the
// order already exists, so nothing but a missing payment attempt is redone.
func (p *OrderPlacer) resume(ctx context.Context, sess *Session, result *PlacementResult) (*PlacementResult, error) {
	existing, err := p.orders.GetOrderByIdempotencyKey(ctx, sess.IdempotencyKey)
	if err != nil {
		result.record(StepHeader, OutcomeFatal, err)
		p.recorder.PlacementFinished("header_failed")
		return result, &PersistenceError{Step: StepHeader, Fatal: true, Err: err}
	}

	log.Info().Stringer("order_id", existing.ID).Str("session_id", sess.ID).Msg("checkout: order already exists for idempotency key, resuming")
	result.Order = existing
	result.Resumed = true
	result.record(StepHeader, OutcomeSuccess, nil)
	for _, st := range []Step{StepLines, StepSavedAddress, StepCouponUsage, StepOrderEvent} {
		result.record(st, OutcomeSkipped, nil)
	}

	if n := len(existing.PaymentAttempts); n > 0 {
		result.Payment = &existing.PaymentAttempts[n-1]
		result.record(StepPayment, OutcomeSkipped, nil)
	} else {
		p.dispatch(ctx, existing, result)
	}
	p.finish(sess, result)
	return result, nil
}

// replay answers a repeated Place on a session that already owns an order.
func (p *OrderPlacer) replay(ctx context.Context, sess *Session) (*PlacementResult, error) {
	order, err := p.orders.GetOrderByID(ctx, sess.OrderID.UUID)
	if err != nil {
		return nil, fmt.Errorf("checkout: load placed order: %w", err)
	}
	result := &PlacementResult{
		Order:          order,
		Payment:        sess.Payment,
		PaymentPending: sess.PaymentNotice != "",
		Resumed:        true,
	}
	result.record(StepHeader, OutcomeSkipped, nil)
	if sess.Stage == StagePayment && sess.Payment != nil && sess.Payment.RequiresRedirect() {
		result.RedirectURL = sess.Payment.RedirectURL
	}
	return result, nil
}

func (p *OrderPlacer) persistLines(ctx context.Context, order *Order, result *PlacementResult) {
	if err := p.orders.CreateOrderLines(ctx, order.ID, order.Lines); err != nil {
		p.nonFatal(result, StepLines, order, &PersistenceError{Step: StepLines, Err: err})
		return
	}
	result.record(StepLines, OutcomeSuccess, nil)
}

func (p *OrderPlacer) persistAddress(ctx context.Context, sess *Session, order *Order, result *PlacementResult) {
	if !sess.SaveAddress || !sess.CustomerID.Valid {
		result.record(StepSavedAddress, OutcomeSkipped, nil)
		return
	}
	if err := p.saveDefaultAddress(ctx, sess); err != nil {
		p.nonFatal(result, StepSavedAddress, order, &PersistenceError{Step: StepSavedAddress, Err: err})
		return
	}
	result.record(StepSavedAddress, OutcomeSuccess, nil)
}

// saveDefaultAddress clears the customer's current default before writing the
// new one, keeping at most one default per customer.
func (p *OrderPlacer) saveDefaultAddress(ctx context.Context, sess *Session) error {
	customerID := sess.CustomerID.UUID
	if err := p.addresses.ClearDefault(ctx, customerID); err != nil {
		return fmt.Errorf("clear default address: %w", err)
	}

	now := p.now().UTC()
	if sess.SelectedAddressID.Valid {
		saved := &SavedAddress{
			ID:         sess.SelectedAddressID.UUID,
			CustomerID: customerID,
			Address:    sess.Address,
			IsDefault:  true,
			UpdatedAt:  now,
		}
		err := p.addresses.Update(ctx, saved)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrAddressNotFound) {
			return fmt.Errorf("update saved address: %w", err)
		}
	}

	id, err := uuid.NewV4()
	if err != nil {
		return err
	}
	saved := &SavedAddress{
		ID:         id,
		CustomerID: customerID,
		Address:    sess.Address,
		IsDefault:  true,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if err := p.addresses.Insert(ctx, saved); err != nil {
		return fmt.Errorf("insert saved address: %w", err)
	}
	return nil
}

func (p *OrderPlacer) redeemCoupon(ctx context.Context, sess *Session, order *Order, result *PlacementResult) {
	if sess.Coupon == nil {
		result.record(StepCouponUsage, OutcomeSkipped, nil)
		return
	}
	if err := p.coupons.IncrementUsage(ctx, sess.Coupon.CouponID); err != nil {
		p.nonFatal(result, StepCouponUsage, order, &PersistenceError{Step: StepCouponUsage, Err: err})
		return
	}
	result.record(StepCouponUsage, OutcomeSuccess, nil)
}

func (p *OrderPlacer) publish(ctx context.Context, sess *Session, order *Order, result *PlacementResult) {
	if p.events == nil {
		result.record(StepOrderEvent, OutcomeSkipped, nil)
		return
	}
	err := p.events.PublishOrderPlaced(ctx, OrderPlacedEvent{
		OrderID:       order.ID,
		Reference:     order.Reference,
		SessionID:     sess.ID,
		CustomerEmail: order.Customer.Email,
		PaymentMethod: order.PaymentMethod,
		FinalTotal:    order.Prices.FinalTotal,
		Currency:      order.Currency,
		CouponCode:    order.CouponCode,
		ReferralCode:  order.ReferralCode,
		PlacedAt:      order.CreatedAt,
	})
	if err != nil {
		p.nonFatal(result, StepOrderEvent, order, err)
		return
	}
	result.record(StepOrderEvent, OutcomeSuccess, nil)
}

func (p *OrderPlacer) dispatch(ctx context.Context, order *Order, result *PlacementResult) {
	attempt, err := p.dispatcher.Dispatch(ctx, order)
	if err != nil {
		result.PaymentPending = true
		p.nonFatal(result, StepPayment, order, err)
		return
	}
	result.Payment = attempt
	result.record(StepPayment, OutcomeSuccess, nil)
}

// finish binds the order to the session. A hosted-checkout redirect leaves
// the session on Payment; the buyer returns through Next.
func (p *OrderPlacer) finish(sess *Session, result *PlacementResult) {
	order := result.Order
	sess.OrderID = uuid.NullUUID{UUID: order.ID, Valid: true}
	sess.OrderReference = order.Reference
	sess.Prices = order.Prices
	sess.Payment = result.Payment
	sess.PaymentNotice = ""
	if result.PaymentPending {
		sess.PaymentNotice = PaymentRetryNotice
	}

	if result.Payment != nil && result.Payment.RequiresRedirect() {
		result.RedirectURL = result.Payment.RedirectURL
		result.record(StepConfirmation, OutcomeSkipped, nil)
		p.recorder.PlacementFinished("redirected")
		return
	}

	sess.confirm()
	result.record(StepConfirmation, OutcomeSuccess, nil)
	if result.PaymentPending {
		p.recorder.PlacementFinished("payment_pending")
	} else {
		p.recorder.PlacementFinished("placed")
	}
}

func (p *OrderPlacer) nonFatal(result *PlacementResult, step Step, order *Order, err error) {
	result.record(step, OutcomeNonFatal, err)
	p.recorder.StepFailed(step)
	log.Warn().Err(err).Stringer("order_id", order.ID).Str("step", string(step)).Msg("checkout: non-fatal placement step failed")
}

func placementLockKey(sessionID string) string {
	return "placement:" + sessionID
}
