package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

type postgresRepository struct {
	db *pgxpool.Pool
}

// NewRepository returns the read-only catalog lookup the cart uses to price lines.
func NewRepository(db *pgxpool.Pool) checkout.Catalog {
	return &postgresRepository{db: db}
}

func (r *postgresRepository) ResolveLine(ctx context.Context, sel checkout.LineSelection) (checkout.CartLine, error) {
	line := checkout.CartLine{
		ProductID: sel.ProductID,
		VariantID: sel.VariantID,
		OptionIDs: sel.OptionIDs,
		Quantity:  sel.Quantity,
	}

	var (
		basePrice decimal.Decimal
		stock     int
	)
	productQuery := `
		SELECT name, base_price, weight_kg, length_cm, width_cm, height_cm, stock
		FROM checkout.products
		WHERE id = $1 AND active
	`
	err := r.db.QueryRow(ctx, productQuery, sel.ProductID).Scan(
		&line.ProductName,
		&basePrice,
		&line.WeightKg,
		&line.LengthCm,
		&line.WidthCm,
		&line.HeightCm,
		&stock,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return checkout.CartLine{}, checkout.ErrProductNotFound
		}
		return checkout.CartLine{}, fmt.Errorf("repository: failed to select product %s: %w", sel.ProductID, err)
	}
	if stock < sel.Quantity {
		return checkout.CartLine{}, &checkout.ValidationError{Field: "quantity", Message: fmt.Sprintf("only %d in stock", stock)}
	}

	var override decimal.NullDecimal
	if sel.VariantID.Valid {
		variantQuery := `
			SELECT description, price_override
			FROM checkout.product_variants
			WHERE id = $1 AND product_id = $2 AND active
		`
		err := r.db.QueryRow(ctx, variantQuery, sel.VariantID.UUID, sel.ProductID).Scan(&line.VariantDescription, &override)
		if err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				return checkout.CartLine{}, checkout.ErrProductNotFound
			}
			return checkout.CartLine{}, fmt.Errorf("repository: failed to select variant %s: %w", sel.VariantID.UUID, err)
		}
	}

	optionPrices, err := r.optionPrices(ctx, sel.ProductID, sel.OptionIDs)
	if err != nil {
		return checkout.CartLine{}, err
	}

	line.UnitPrice = checkout.ResolveUnitPrice(basePrice, override, optionPrices)
	return line, nil
}

func (r *postgresRepository) optionPrices(ctx context.Context, productID uuid.UUID, optionIDs []uuid.UUID) ([]decimal.Decimal, error) {
	if len(optionIDs) == 0 {
		return nil, nil
	}
	query := `
		SELECT price
		FROM checkout.product_options
		WHERE product_id = $1 AND id = ANY($2)
	`
	rows, err := r.db.Query(ctx, query, productID, optionIDs)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query options for product %s: %w", productID, err)
	}
	defer rows.Close()

	prices := make([]decimal.Decimal, 0, len(optionIDs))
	for rows.Next() {
		var price decimal.Decimal
		if err := rows.Scan(&price); err != nil {
			return nil, fmt.Errorf("repository: failed to scan option price for product %s: %w", productID, err)
		}
		prices = append(prices, price)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating options for product %s: %w", productID, err)
	}
	if len(prices) != len(optionIDs) {
		return nil, &checkout.ValidationError{Field: "option_ids", Message: "unknown option for product"}
	}
	return prices, nil
}
