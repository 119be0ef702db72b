package seller

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) checkout.SellerRegistry {
	return &postgresRepository{db: db}
}

// FindActiveByCode is an exact, case-sensitive match filtered to active sellers.
func (r *postgresRepository) FindActiveByCode(ctx context.Context, code string) (*checkout.Seller, error) {
	query := `
		SELECT id, code, display_name, active
		FROM checkout.sellers
		WHERE code = $1 AND active
	`
	var s checkout.Seller
	err := r.db.QueryRow(ctx, query, strings.TrimSpace(code)).Scan(&s.ID, &s.Code, &s.DisplayName, &s.Active)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrSellerNotFound
		}
		return nil, fmt.Errorf("repository: failed to select seller by code: %w", err)
	}
	return &s, nil
}
