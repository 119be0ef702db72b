package seller_test

import (
	"context"
	"testing"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/db/dbtest"
	"github.com/vasiliy-maslov/storefront-checkout/internal/seller"
)

func TestRepository_FindActiveByCode(t *testing.T) {
	ctx := context.Background()
	pool := dbtest.Pool(t)
	repo := seller.NewRepository(pool)

	suffix := uuid.Must(uuid.NewV4()).String()[:8]
	activeID := uuid.Must(uuid.NewV4())
	_, err := pool.Exec(ctx, `INSERT INTO checkout.sellers (id, code, display_name, active) VALUES ($1, $2, 'Maria', TRUE), ($3, $4, 'João', FALSE)`,
		activeID, "MARIA-"+suffix, uuid.Must(uuid.NewV4()), "JOAO-"+suffix)
	require.NoError(t, err)

	s, err := repo.FindActiveByCode(ctx, " MARIA-"+suffix+" ")
	require.NoError(t, err)
	assert.Equal(t, activeID, s.ID)
	assert.Equal(t, "Maria", s.DisplayName)

	_, err = repo.FindActiveByCode(ctx, "JOAO-"+suffix)
	assert.ErrorIs(t, err, checkout.ErrSellerNotFound)

	_, err = repo.FindActiveByCode(ctx, "maria-"+suffix)
	assert.ErrorIs(t, err, checkout.ErrSellerNotFound, "codes are case-sensitive")
}
