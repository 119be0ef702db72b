package checkout

import (
	"errors"
	"fmt"
)

var (
	ErrSessionNotFound    = errors.New("checkout session not found")
	ErrEmptyCart          = errors.New("cart is empty")
	ErrLineNotFound       = errors.New("cart line not found")
	ErrInvalidQuantity    = errors.New("quantity must be at least 1")
	ErrOrderAlreadyPlaced = errors.New("an order was already placed for this session")
	ErrOrderNotPlaced     = errors.New("no order has been placed for this session")
	ErrPlacementInFlight  = errors.New("order placement already in progress")
	ErrCouponLocked       = errors.New("another coupon is already applied")
	ErrQuoteNotOffered    = errors.New("shipping quote was not offered for this address")
	ErrAddressIncomplete  = errors.New("delivery address is incomplete")
	ErrSavedAddressOwner  = errors.New("saved address does not belong to this customer")
	ErrPaymentSettled     = errors.New("order payment is no longer pending")

	// Store-level sentinels returned by collaborators.
	ErrCouponNotFound       = errors.New("coupon not found")
	ErrSellerNotFound       = errors.New("seller not found")
	ErrOrderNotFound        = errors.New("order not found")
	ErrAddressNotFound      = errors.New("saved address not found")
	ErrProductNotFound      = errors.New("product not found")
	ErrDuplicateIdempotency = errors.New("order with this idempotency key already exists")
)

// ValidationError is recovered locally: the buyer sees the message and the
// session stays where it was.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

type RejectionReason string

const (
	RejectInvalidCode  RejectionReason = "InvalidCode"
	RejectBelowMinimum RejectionReason = "BelowMinimum"
	RejectExhausted    RejectionReason = "Exhausted"
)

type CouponRejection struct {
	Code   string
	Reason RejectionReason
}

func (e *CouponRejection) Error() string {
	return fmt.Sprintf("coupon %q rejected: %s", e.Code, e.Reason)
}

// PersistenceError wraps a store failure inside the placement pipeline. Only a
// failure of the order header is Fatal.
type PersistenceError struct {
	Step  Step
	Fatal bool
	Err   error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("checkout: persist %s: %v", e.Step, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// DispatchError is a payment-gateway failure. The order already exists, so
// dispatch can always be retried against the same order id.
type DispatchError struct {
	Method PaymentMethod
	Err    error
}

func (e *DispatchError) Error() string {
	return fmt.Sprintf("checkout: dispatch %s payment: %v", e.Method, e.Err)
}

func (e *DispatchError) Unwrap() error {
	return e.Err
}

func (e *DispatchError) Retryable() bool {
	return true
}
