package address

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/gofrs/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

// Repository is plain per-customer CRUD. The single-default rule is kept by
// the caller clearing the old default before writing a new one.
type Repository interface {
	checkout.AddressStore
}

type postgresRepository struct {
	db *pgxpool.Pool
}

func NewRepository(db *pgxpool.Pool) Repository {
	return &postgresRepository{db: db}
}

const selectColumns = `
	SELECT id, customer_id, postal_code, street, number, complement,
		neighborhood, city, state, is_default, created_at, updated_at
	FROM checkout.saved_addresses
`

func (r *postgresRepository) ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]checkout.SavedAddress, error) {
	rows, err := r.db.Query(ctx, selectColumns+"WHERE customer_id = $1 ORDER BY is_default DESC, updated_at DESC", customerID)
	if err != nil {
		return nil, fmt.Errorf("repository: failed to query saved addresses for customer %s: %w", customerID, err)
	}
	defer rows.Close()

	addresses := make([]checkout.SavedAddress, 0)
	for rows.Next() {
		a, err := scanAddress(rows)
		if err != nil {
			return nil, fmt.Errorf("repository: failed to scan saved address for customer %s: %w", customerID, err)
		}
		addresses = append(addresses, *a)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("repository: error iterating saved addresses for customer %s: %w", customerID, err)
	}
	return addresses, nil
}

func (r *postgresRepository) GetByID(ctx context.Context, id uuid.UUID) (*checkout.SavedAddress, error) {
	a, err := scanAddress(r.db.QueryRow(ctx, selectColumns+"WHERE id = $1", id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, checkout.ErrAddressNotFound
		}
		return nil, fmt.Errorf("repository: failed to select saved address %s: %w", id, err)
	}
	return a, nil
}

func (r *postgresRepository) ClearDefault(ctx context.Context, customerID uuid.UUID) error {
	query := `
		UPDATE checkout.saved_addresses
		SET is_default = FALSE, updated_at = $2
		WHERE customer_id = $1 AND is_default
	`
	if _, err := r.db.Exec(ctx, query, customerID, time.Now().UTC()); err != nil {
		return fmt.Errorf("repository: failed to clear default address for customer %s: %w", customerID, err)
	}
	return nil
}

func (r *postgresRepository) Update(ctx context.Context, a *checkout.SavedAddress) error {
	query := `
		UPDATE checkout.saved_addresses
		SET postal_code = $3, street = $4, number = $5, complement = $6,
			neighborhood = $7, city = $8, state = $9, is_default = $10, updated_at = $11
		WHERE id = $1 AND customer_id = $2
	`
	cmdTag, err := r.db.Exec(ctx, query,
		a.ID,
		a.CustomerID,
		a.Address.PostalCode,
		a.Address.Street,
		a.Address.Number,
		a.Address.Complement,
		a.Address.Neighborhood,
		a.Address.City,
		a.Address.State,
		a.IsDefault,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to update saved address %s: %w", a.ID, err)
	}
	if cmdTag.RowsAffected() == 0 {
		return checkout.ErrAddressNotFound
	}
	return nil
}

func (r *postgresRepository) Insert(ctx context.Context, a *checkout.SavedAddress) error {
	query := `
		INSERT INTO checkout.saved_addresses (id, customer_id, postal_code, street, number,
			complement, neighborhood, city, state, is_default, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`
	_, err := r.db.Exec(ctx, query,
		a.ID,
		a.CustomerID,
		a.Address.PostalCode,
		a.Address.Street,
		a.Address.Number,
		a.Address.Complement,
		a.Address.Neighborhood,
		a.Address.City,
		a.Address.State,
		a.IsDefault,
		a.CreatedAt,
		a.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("repository: failed to insert saved address for customer %s: %w", a.CustomerID, err)
	}
	return nil
}

func scanAddress(row pgx.Row) (*checkout.SavedAddress, error) {
	var a checkout.SavedAddress
	err := row.Scan(
		&a.ID,
		&a.CustomerID,
		&a.Address.PostalCode,
		&a.Address.Street,
		&a.Address.Number,
		&a.Address.Complement,
		&a.Address.Neighborhood,
		&a.Address.City,
		&a.Address.State,
		&a.IsDefault,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &a, nil
}
