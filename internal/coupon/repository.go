package coupon

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) checkout.CouponStore {
	return &postgresRepository{db: db}
}

// FindByCode matches case-insensitively; codes are unique on LOWER(code).
func (r *postgresRepository) FindByCode(ctx context.Context, code string) (*checkout.Coupon, error) {
	query := `
		SELECT id, code, discount_type, discount_value, active, starts_at, ends_at,
			min_order_value, usage_limit, usage_count
		FROM checkout.coupons
		WHERE LOWER(code) = LOWER($1)
	`
	var (
		c            checkout.Coupon
		discountType string
	)
	err := r.db.QueryRow(ctx, query, strings.TrimSpace(code)).Scan(
		&c.ID,
		&c.Code,
		&discountType,
		&c.DiscountValue,
		&c.Active,
		&c.StartsAt,
		&c.EndsAt,
		&c.MinOrderValue,
		&c.UsageLimit,
		&c.UsageCount,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrCouponNotFound
		}
		return nil, fmt.Errorf("repository: failed to select coupon by code: %w", err)
	}
	c.DiscountType = checkout.DiscountType(discountType)
	return &c, nil
}

// IncrementUsage bumps the counter by exactly one. It does not re-check the
// cap: the discount was granted at validation time and is already part of the
// order's price breakdown.
func (r *postgresRepository) IncrementUsage(ctx context.Context, couponID uuid.UUID) error {
	query := `
		UPDATE checkout.coupons
		SET usage_count = usage_count + 1
		WHERE id = $1
	`
	cmdTag, err := r.db.Exec(ctx, query, couponID)
	if err != nil {
		return fmt.Errorf("repository: failed to increment coupon usage %s: %w", couponID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("coupon_id", couponID).Msg("repository: coupon not found for usage increment")
		return checkout.ErrCouponNotFound
	}
	log.Debug().Stringer("coupon_id", couponID).Msg("repository: coupon usage incremented")
	return nil
}
