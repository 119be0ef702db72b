package order

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

// Payment status moves only on settlement events. A failed order can still be
// paid by a later retry; paid and canceled are terminal.
var allowedTransitions = map[checkout.OrderStatus]map[checkout.OrderStatus]bool{
	checkout.OrderStatusPending: {
		checkout.OrderStatusPaid:     true,
		checkout.OrderStatusFailed:   true,
		checkout.OrderStatusCanceled: true,
	},
	checkout.OrderStatusFailed: {
		checkout.OrderStatusPaid:     true,
		checkout.OrderStatusCanceled: true,
	},
	checkout.OrderStatusPaid:     {},
	checkout.OrderStatusCanceled: {},
}

var (
	ErrInvalidStatusTransition = errors.New("invalid order status transition")
	ErrStaleSettlement         = errors.New("settlement event is for a superseded payment attempt")
)

// AttemptRef identifies the payment attempt a settlement event came from.
// Either field may be empty when the gateway does not echo it back.
type AttemptRef struct {
	ID               uuid.NullUUID
	GatewayReference string
}

func (a AttemptRef) matches(attempt checkout.PaymentAttempt) bool {
	if a.ID.Valid && a.ID.UUID == attempt.ID {
		return true
	}
	return a.GatewayReference != "" && a.GatewayReference == attempt.GatewayReference
}

type Service interface {
	GetOrderByID(ctx context.Context, id uuid.UUID) (*checkout.Order, error)
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, newStatus checkout.OrderStatus, from AttemptRef) error
}

type service struct {
	orderRepo Repository
}

func NewService(orderRepo Repository) Service {
	return &service{
		orderRepo: orderRepo,
	}
}

func (s *service) GetOrderByID(ctx context.Context, id uuid.UUID) (*checkout.Order, error) {
	order, err := s.orderRepo.GetOrderByID(ctx, id)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", id).Msg("service: order not found by id")
			return nil, checkout.ErrOrderNotFound
		}

		log.Error().Err(err).Msg("service: failed to fetch order by id in repository")
		return nil, fmt.Errorf("service: failed to fetch order by id: %w", err)
	}

	return order, nil
}

func (s *service) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, newStatus checkout.OrderStatus, from AttemptRef) error {
	currentOrder, err := s.orderRepo.GetOrderByID(ctx, orderID)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			log.Warn().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: order not found, cannot update payment status")
			return checkout.ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Msg("service: failed to get order for payment status update")
		return fmt.Errorf("service: failed to get order for payment status update: %w", err)
	}

	// Money captured by any attempt settles the order. Failures and
	// cancellations only count for the attempt the customer is still on.
	if n := len(currentOrder.PaymentAttempts); newStatus != checkout.OrderStatusPaid && n > 0 {
		latest := currentOrder.PaymentAttempts[n-1]
		if !from.matches(latest) {
			log.Warn().
				Stringer("order_id", orderID).
				Stringer("new_status", newStatus).
				Str("gateway_reference", from.GatewayReference).
				Str("latest_reference", latest.GatewayReference).
				Msg("service: ignoring settlement for superseded payment attempt")
			return ErrStaleSettlement
		}
	}

	// Gateways redeliver events.
	if currentOrder.Status == newStatus {
		log.Info().Stringer("order_id", orderID).Stringer("status", newStatus).Msg("service: payment status is already the same, no update needed")
		return nil
	}

	transitions, ok := allowedTransitions[currentOrder.Status]
	if !ok || !transitions[newStatus] {
		log.Warn().
			Stringer("order_id", currentOrder.ID).
			Stringer("current_status", currentOrder.Status).
			Stringer("new_status", newStatus).
			Msg("service: invalid payment status transition attempt")
		return fmt.Errorf("%w: from %s to %s", ErrInvalidStatusTransition, currentOrder.Status, newStatus)
	}

	err = s.orderRepo.UpdatePaymentStatus(ctx, orderID, newStatus)
	if err != nil {
		if errors.Is(err, checkout.ErrOrderNotFound) {
			return checkout.ErrOrderNotFound
		}
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", newStatus).Msg("service: failed to update payment status in repository")
		return fmt.Errorf("service: failed to update payment status: %w", err)
	}

	log.Info().Stringer("order_id", orderID).Stringer("old_status", currentOrder.Status).Stringer("new_status", newStatus).Msg("service: payment status updated successfully")
	return nil
}
