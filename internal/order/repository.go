package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

const idempotencyConstraint = "orders_idempotency_key_key"

// Repository is the order store used by checkout placement plus the
// settlement-side status update.
type Repository interface {
	checkout.OrderStore
	UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status checkout.OrderStatus) error
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const selectOrderColumns = `
	SELECT id, reference, idempotency_key, session_id, customer_id,
		customer_name, customer_email, customer_phone, customer_document,
		postal_code, street, number, complement, neighborhood, city, state,
		subtotal, coupon_discount, payment_method_discount, shipping_cost, final_total,
		currency, payment_method, payment_status, coupon_code, referral_code, referral_seller_id,
		shipping_quote_id, shipping_carrier, shipping_service, shipping_cost, shipping_delivery_days,
		created_at, updated_at
	FROM checkout.orders
`

func (r *postgresRepository) CreateOrderHeader(ctx context.Context, o *checkout.Order) error {
	query := `
		INSERT INTO checkout.orders (
			id, reference, idempotency_key, session_id, customer_id,
			customer_name, customer_email, customer_phone, customer_document,
			postal_code, street, number, complement, neighborhood, city, state,
			subtotal, coupon_discount, payment_method_discount, shipping_cost, final_total,
			currency, payment_method, payment_status, coupon_code, referral_code, referral_seller_id,
			shipping_quote_id, shipping_carrier, shipping_service, shipping_delivery_days,
			created_at, updated_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16,
			$17, $18, $19, $20, $21, $22, $23, $24, $25, $26, $27, $28, $29, $30, $31, $32, $33)
	`
	_, err := r.db.Exec(ctx, query,
		o.ID,
		o.Reference,
		o.IdempotencyKey,
		o.SessionID,
		o.CustomerID,
		o.Customer.Name,
		o.Customer.Email,
		o.Customer.Phone,
		o.Customer.Document,
		o.Address.PostalCode,
		o.Address.Street,
		o.Address.Number,
		o.Address.Complement,
		o.Address.Neighborhood,
		o.Address.City,
		o.Address.State,
		o.Prices.Subtotal,
		o.Prices.CouponDiscount,
		o.Prices.PaymentMethodDiscount,
		o.Prices.ShippingCost,
		o.Prices.FinalTotal,
		o.Currency,
		string(o.PaymentMethod),
		string(o.Status),
		o.CouponCode,
		o.ReferralCode,
		o.ReferralSellerID,
		o.Shipping.ID,
		o.Shipping.Carrier,
		o.Shipping.Service,
		o.Shipping.DeliveryDays,
		o.CreatedAt,
		o.UpdatedAt,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgerrcode.UniqueViolation && pgErr.ConstraintName == idempotencyConstraint {
			log.Info().Str("idempotency_key", o.IdempotencyKey).Msg("repository: order header already exists for idempotency key")
			return checkout.ErrDuplicateIdempotency
		}
		return fmt.Errorf("repository: failed to insert order header %s: %w", o.ID, err)
	}
	return nil
}

// CreateOrderLines writes every line in one transaction so an order never has
// a partial set of lines.
func (r *postgresRepository) CreateOrderLines(ctx context.Context, orderID uuid.UUID, lines []checkout.OrderLine) (err error) {
	tx, beginErr := r.db.Begin(ctx)
	if beginErr != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", beginErr)
	}
	defer func() {
		if p := recover(); p != nil {
			log.Error().Interface("panic_value", p).Stringer("order_id", orderID).Msg("repository: panic recovered during CreateOrderLines, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction after panic")
			}
			panic(p)
		} else if err != nil {
			log.Warn().Err(err).Stringer("order_id", orderID).Msg("repository: transaction for CreateOrderLines failed, rolling back")
			if rbErr := tx.Rollback(ctx); rbErr != nil {
				log.Error().Err(rbErr).Stringer("order_id", orderID).Msg("repository: failed to rollback transaction")
			}
		} else {
			if commitErr := tx.Commit(ctx); commitErr != nil {
				log.Error().Err(commitErr).Stringer("order_id", orderID).Msg("repository: failed to commit transaction")
				err = fmt.Errorf("repository: failed to commit transaction: %w", commitErr)
			}
		}
	}()

	query := `
		INSERT INTO checkout.order_lines (id, order_id, position, product_id, variant_id,
			product_name, variant_description, unit_price, quantity, extended_price)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	for _, line := range lines {
		_, err = tx.Exec(ctx, query,
			line.ID,
			orderID,
			line.Position,
			line.ProductID,
			line.VariantID,
			line.ProductName,
			line.VariantDescription,
			line.UnitPrice,
			line.Quantity,
			line.ExtendedPrice,
		)
		if err != nil {
			return fmt.Errorf("repository: failed to insert order line %d for order %s: %w", line.Position, orderID, err)
		}
	}
	return nil
}

func (r *postgresRepository) GetOrderByID(ctx context.Context, id uuid.UUID) (*checkout.Order, error) {
	return r.getOrder(ctx, "WHERE id = $1", id)
}

func (r *postgresRepository) GetOrderByIdempotencyKey(ctx context.Context, key string) (*checkout.Order, error) {
	return r.getOrder(ctx, "WHERE idempotency_key = $1", key)
}

func (r *postgresRepository) getOrder(ctx context.Context, where string, arg any) (*checkout.Order, error) {
	var (
		o             checkout.Order
		paymentMethod string
		status        string
	)
	err := r.db.QueryRow(ctx, selectOrderColumns+where, arg).Scan(
		&o.ID,
		&o.Reference,
		&o.IdempotencyKey,
		&o.SessionID,
		&o.CustomerID,
		&o.Customer.Name,
		&o.Customer.Email,
		&o.Customer.Phone,
		&o.Customer.Document,
		&o.Address.PostalCode,
		&o.Address.Street,
		&o.Address.Number,
		&o.Address.Complement,
		&o.Address.Neighborhood,
		&o.Address.City,
		&o.Address.State,
		&o.Prices.Subtotal,
		&o.Prices.CouponDiscount,
		&o.Prices.PaymentMethodDiscount,
		&o.Prices.ShippingCost,
		&o.Prices.FinalTotal,
		&o.Currency,
		&paymentMethod,
		&status,
		&o.CouponCode,
		&o.ReferralCode,
		&o.ReferralSellerID,
		&o.Shipping.ID,
		&o.Shipping.Carrier,
		&o.Shipping.Service,
		&o.Shipping.Price,
		&o.Shipping.DeliveryDays,
		&o.CreatedAt,
		&o.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrOrderNotFound
		}
		return nil, fmt.Errorf("repository: failed to select order: %w", err)
	}
	o.PaymentMethod = checkout.PaymentMethod(paymentMethod)
	o.Status = checkout.OrderStatus(status)

	if o.Lines, err = r.orderLines(ctx, o.ID); err != nil {
		return nil, err
	}
	if o.PaymentAttempts, err = r.paymentAttempts(ctx, o.ID); err != nil {
		return nil, err
	}
	return &o, nil
}

func (r *postgresRepository) orderLines(ctx context.Context, orderID uuid.UUID) ([]checkout.OrderLine, error) {
	query := `
		SELECT id, order_id, position, product_id, variant_id, product_name,
			variant_description, unit_price, quantity, extended_price
		FROM checkout.order_lines
		WHERE order_id = $1
		ORDER BY position
	`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query order lines for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	lines := make([]checkout.OrderLine, 0)
	for rows.Next() {
		var line checkout.OrderLine
		err := rows.Scan(
			&line.ID,
			&line.OrderID,
			&line.Position,
			&line.ProductID,
			&line.VariantID,
			&line.ProductName,
			&line.VariantDescription,
			&line.UnitPrice,
			&line.Quantity,
			&line.ExtendedPrice,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan order line for order id %s: %w", orderID, err)
		}
		lines = append(lines, line)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating order lines for order id %s: %w", orderID, err)
	}
	return lines, nil
}

func (r *postgresRepository) paymentAttempts(ctx context.Context, orderID uuid.UUID) ([]checkout.PaymentAttempt, error) {
	query := `
		SELECT id, order_id, method, gateway_reference, qr_code, qr_code_image_url,
			voucher_url, voucher_number, redirect_url, expires_at, created_at
		FROM checkout.payment_attempts
		WHERE order_id = $1
		ORDER BY created_at
	`
	rows, err := r.db.Query(ctx, query, orderID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query payment attempts for order id %s: %w", orderID, err)
	}
	defer rows.Close()

	attempts := make([]checkout.PaymentAttempt, 0)
	for rows.Next() {
		var (
			a      checkout.PaymentAttempt
			method string
		)
		err := rows.Scan(
			&a.ID,
			&a.OrderID,
			&method,
			&a.GatewayReference,
			&a.QRCode,
			&a.QRCodeImageURL,
			&a.VoucherURL,
			&a.VoucherNumber,
			&a.RedirectURL,
			&a.ExpiresAt,
			&a.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan payment attempt for order id %s: %w", orderID, err)
		}
		a.Method = checkout.PaymentMethod(method)
		attempts = append(attempts, a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating payment attempts for order id %s: %w", orderID, err)
	}
	return attempts, nil
}

func (r *postgresRepository) AddPaymentAttempt(ctx context.Context, a *checkout.PaymentAttempt) error {
	query := `
		INSERT INTO checkout.payment_attempts (id, order_id, method, gateway_reference, qr_code,
			qr_code_image_url, voucher_url, voucher_number, redirect_url, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.OrderID,
		string(a.Method),
		a.GatewayReference,
		a.QRCode,
		a.QRCodeImageURL,
		a.VoucherURL,
		a.VoucherNumber,
		a.RedirectURL,
		a.ExpiresAt,
		a.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert payment attempt for order %s: %w", a.OrderID, err)
	}
	return nil
}

func (r *postgresRepository) UpdatePaymentStatus(ctx context.Context, orderID uuid.UUID, status checkout.OrderStatus) error {
	query := `
		UPDATE checkout.orders
		SET payment_status = $1, updated_at = $2
		WHERE id = $3
	`
	cmdTag, err := r.db.Exec(ctx, query, string(status), time.Now().UTC(), orderID)
	if err != nil {
		log.Error().Err(err).Stringer("order_id", orderID).Stringer("new_status", status).Msg("repository: failed to update payment status")
		return fmt.Errorf("repository: failed to update payment status %s: %w", orderID, err)
	}

	if cmdTag.RowsAffected() == 0 {
		log.Warn().Stringer("order_id", orderID).Stringer("new_status", status).Msg("repository: order not found for status update")
		return checkout.ErrOrderNotFound
	}
	return nil
}
