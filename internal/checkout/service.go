package checkout

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"
)

type Service interface {
	StartSession(ctx context.Context, customerID uuid.NullUUID) (*Session, error)
	GetSession(ctx context.Context, id string) (*Session, error)

	AddItem(ctx context.Context, id string, sel LineSelection) (*Session, error)
	UpdateQuantity(ctx context.Context, id string, line, quantity int) (*Session, error)
	RemoveItem(ctx context.Context, id string, line int) (*Session, error)

	SetCustomer(ctx context.Context, id string, customer CustomerIdentity) (*Session, error)
	SetAddress(ctx context.Context, id string, addr DeliveryAddress) (*Session, error)
	SelectSavedAddress(ctx context.Context, id string, addressID uuid.UUID) (*Session, error)
	SetSaveAddress(ctx context.Context, id string, save bool) (*Session, error)
	Quotes(ctx context.Context, id string) ([]ShippingQuote, error)
	BindShipping(ctx context.Context, id, quoteID string) (*Session, error)

	ApplyCoupon(ctx context.Context, id, code string) (*Session, error)
	RemoveCoupon(ctx context.Context, id string) (*Session, error)
	SetReferral(ctx context.Context, id, code string) (*Session, error)
	SetPaymentMethod(ctx context.Context, id string, method PaymentMethod) (*Session, error)

	Next(ctx context.Context, id string) (*Session, error)
	Back(ctx context.Context, id string) (*Session, error)
	GoTo(ctx context.Context, id string, stage Stage) (*Session, error)

	Place(ctx context.Context, id string) (*PlacementResult, error)
	RetryPayment(ctx context.Context, id string) (*PaymentAttempt, error)
}

type ServiceDeps struct {
	Sessions  SessionStore
	Catalog   Catalog
	Addresses AddressStore
	Coupons   *CouponValidator
	Referrals *ReferralVerifier
	Shipping  *ShippingQuoteBinder
	Pricing   *PricingEngine
	Placer    *OrderPlacer
	Currency  string
}

type service struct {
	sessions  SessionStore
	catalog   Catalog
	addresses AddressStore
	coupons   *CouponValidator
	referrals *ReferralVerifier
	shipping  *ShippingQuoteBinder
	pricing   *PricingEngine
	placer    *OrderPlacer
	currency  string
	now       func() time.Time
}

func NewService(deps ServiceDeps) Service {
	return &service{
		sessions:  deps.Sessions,
		catalog:   deps.Catalog,
		addresses: deps.Addresses,
		coupons:   deps.Coupons,
		referrals: deps.Referrals,
		shipping:  deps.Shipping,
		pricing:   deps.Pricing,
		placer:    deps.Placer,
		currency:  deps.Currency,
		now:       time.Now,
	}
}

func (s *service) StartSession(ctx context.Context, customerID uuid.NullUUID) (*Session, error) {
	id, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: generate session id: %w", err)
	}
	key, err := uuid.NewV4()
	if err != nil {
		return nil, fmt.Errorf("service: generate idempotency key: %w", err)
	}

	sess := NewSession(id.String(), key.String(), customerID, s.currency, s.now().UTC())

	if customerID.Valid {
		saved, err := s.addresses.ListByCustomer(ctx, customerID.UUID)
		if err != nil {
			log.Warn().Err(err).Stringer("customer_id", customerID.UUID).Msg("service: failed to preload saved addresses")
		}
		sess.SavedAddresses = saved
		for _, a := range saved {
			if a.IsDefault {
				if err := sess.SelectSavedAddress(a); err != nil {
					return nil, err
				}
				break
			}
		}
	}

	sess.Reprice(s.pricing)
	if err := s.sessions.Save(ctx, sess); err != nil {
		return nil, fmt.Errorf("service: save new session: %w", err)
	}

	log.Info().Str("session_id", sess.ID).Bool("known_customer", customerID.Valid).Msg("service: checkout session started")
	return sess, nil
}

func (s *service) GetSession(ctx context.Context, id string) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	sess.Reprice(s.pricing)
	return sess, nil
}

func (s *service) AddItem(ctx context.Context, id string, sel LineSelection) (*Session, error) {
	if sel.Quantity < 1 {
		return nil, ErrInvalidQuantity
	}
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.editable(); err != nil {
			return err
		}
		// Stock must cover the merged line, not only the units being added.
		merged := sel
		merged.Quantity += sess.Cart.quantityOf(sel)
		line, err := s.catalog.ResolveLine(ctx, merged)
		if err != nil {
			return err
		}
		line.Quantity = sel.Quantity
		if err := sess.AddLine(line); err != nil {
			return err
		}
		return s.revalidateCoupon(ctx, sess)
	})
}

func (s *service) UpdateQuantity(ctx context.Context, id string, line, quantity int) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.editable(); err != nil {
			return err
		}
		if line >= 0 && line < len(sess.Cart.Lines) && quantity > sess.Cart.Lines[line].Quantity {
			if _, err := s.catalog.ResolveLine(ctx, sess.Cart.Lines[line].selection(quantity)); err != nil {
				return err
			}
		}
		if err := sess.UpdateQuantity(line, quantity); err != nil {
			return err
		}
		return s.revalidateCoupon(ctx, sess)
	})
}

func (s *service) RemoveItem(ctx context.Context, id string, line int) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.RemoveLine(line); err != nil {
			return err
		}
		return s.revalidateCoupon(ctx, sess)
	})
}

func (s *service) SetCustomer(ctx context.Context, id string, customer CustomerIdentity) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetCustomer(customer)
	})
}

func (s *service) SetAddress(ctx context.Context, id string, addr DeliveryAddress) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetAddress(addr)
	})
}

func (s *service) SelectSavedAddress(ctx context.Context, id string, addressID uuid.UUID) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.editable(); err != nil {
			return err
		}
		saved, err := s.addresses.GetByID(ctx, addressID)
		if err != nil {
			return err
		}
		return sess.SelectSavedAddress(*saved)
	})
}

func (s *service) SetSaveAddress(ctx context.Context, id string, save bool) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetSaveAddress(save)
	})
}

func (s *service) Quotes(ctx context.Context, id string) ([]ShippingQuote, error) {
	sess, err := s.update(ctx, id, func(sess *Session) error {
		if err := sess.editable(); err != nil {
			return err
		}
		quotes, err := s.shipping.Quote(ctx, sess.Address, sess.Cart)
		if err != nil {
			return err
		}
		return sess.SetQuotes(quotes)
	})
	if err != nil {
		return nil, err
	}
	return sess.Quotes, nil
}

func (s *service) BindShipping(ctx context.Context, id, quoteID string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		binding, err := s.shipping.Bind(sess.Quotes, quoteID, sess.Address)
		if err != nil {
			return err
		}
		return sess.BindShipping(binding)
	})
}

func (s *service) ApplyCoupon(ctx context.Context, id, code string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.editable(); err != nil {
			return err
		}
		if sess.CouponLocked(code) {
			return nil
		}
		if sess.Coupon != nil {
			return ErrCouponLocked
		}
		applied, err := s.coupons.Validate(ctx, code, sess.Cart.Subtotal())
		if err != nil {
			return err
		}
		_, err = sess.ApplyCoupon(applied)
		return err
	})
}

func (s *service) RemoveCoupon(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.RemoveCoupon()
	})
}

func (s *service) SetReferral(ctx context.Context, id, code string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		if err := sess.ClearReferral(); err != nil {
			return err
		}
		return sess.SetReferral(s.referrals.Verify(ctx, code))
	})
}

func (s *service) SetPaymentMethod(ctx context.Context, id string, method PaymentMethod) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.SetPaymentMethod(method)
	})
}

func (s *service) Next(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.Next()
	})
}

func (s *service) Back(ctx context.Context, id string) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.Back()
	})
}

func (s *service) GoTo(ctx context.Context, id string, stage Stage) (*Session, error) {
	return s.update(ctx, id, func(sess *Session) error {
		return sess.GoTo(stage)
	})
}

func (s *service) Place(ctx context.Context, id string) (*PlacementResult, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	result, err := s.placer.Place(ctx, sess)
	if err != nil {
		return result, err
	}

	// The order exists now; a buyer who disconnected must still find it on the session.
	if err := s.sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Stringer("order_id", result.Order.ID).Msg("service: failed to save session after placement")
	}
	return result, nil
}

func (s *service) RetryPayment(ctx context.Context, id string) (*PaymentAttempt, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}

	attempt, retryErr := s.placer.RetryPayment(ctx, sess)
	var dispatchErr *DispatchError
	if retryErr != nil && !errors.As(retryErr, &dispatchErr) {
		return nil, retryErr
	}

	if err := s.sessions.Save(context.WithoutCancel(ctx), sess); err != nil {
		log.Error().Err(err).Str("session_id", sess.ID).Msg("service: failed to save session after payment retry")
	}
	return attempt, retryErr
}

// revalidateCoupon re-checks an applied coupon against the edited cart. A
// coupon the new subtotal no longer qualifies for is dropped; a lookup failure
// keeps it, since the discount is recomputed from its terms anyway.
func (s *service) revalidateCoupon(ctx context.Context, sess *Session) error {
	if sess.Coupon == nil {
		return nil
	}
	applied, err := s.coupons.Validate(ctx, sess.Coupon.Code, sess.Cart.Subtotal())
	if err != nil {
		var rejection *CouponRejection
		if errors.As(err, &rejection) {
			log.Info().Str("session_id", sess.ID).Str("coupon_code", rejection.Code).Str("reason", string(rejection.Reason)).Msg("service: coupon dropped after cart edit")
			return sess.RemoveCoupon()
		}
		log.Warn().Err(err).Str("session_id", sess.ID).Msg("service: coupon revalidation failed, keeping coupon")
		return nil
	}
	sess.Coupon = applied
	return nil
}

func (s *service) load(ctx context.Context, id string) (*Session, error) {
	sess, err := s.sessions.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, ErrSessionNotFound
		}
		log.Error().Err(err).Str("session_id", id).Msg("service: failed to load session")
		return nil, fmt.Errorf("service: load session: %w", err)
	}
	return sess, nil
}

// update loads the session, applies fn, reprices and saves. Nothing is saved
// when fn fails.
func (s *service) update(ctx context.Context, id string, fn func(*Session) error) (*Session, error) {
	sess, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	if err := fn(sess); err != nil {
		return nil, err
	}

	sess.Reprice(s.pricing)
	sess.UpdatedAt = s.now().UTC()
	if err := s.sessions.Save(ctx, sess); err != nil {
		log.Error().Err(err).Str("session_id", id).Msg("service: failed to save session")
		return nil, fmt.Errorf("service: save session: %w", err)
	}
	return sess, nil
}
