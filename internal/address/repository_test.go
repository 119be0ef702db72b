package address_test

import (
	"context"
	"testing"
	"time"

	"github.com/gofrs/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vasiliy-maslov/storefront-checkout/internal/address"
	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/db/dbtest"
)

func savedAddress(customerID uuid.UUID, street string, isDefault bool) *checkout.SavedAddress {
	now := time.Now().UTC()
	return &checkout.SavedAddress{
		ID:         uuid.Must(uuid.NewV4()),
		CustomerID: customerID,
		Address: checkout.DeliveryAddress{
			PostalCode:   "50030-230",
			Street:       street,
			Number:       "10",
			Neighborhood: "Boa Vista",
			City:         "Recife",
			State:        "PE",
		},
		IsDefault: isDefault,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func TestRepository_DefaultAddressSwap(t *testing.T) {
	ctx := context.Background()
	repo := address.NewRepository(dbtest.Pool(t))
	customerID := uuid.Must(uuid.NewV4())

	first := savedAddress(customerID, "Rua da Aurora", true)
	require.NoError(t, repo.Insert(ctx, first))

	// A second default needs the old one cleared first.
	require.NoError(t, repo.ClearDefault(ctx, customerID))
	second := savedAddress(customerID, "Rua do Sol", true)
	require.NoError(t, repo.Insert(ctx, second))

	list, err := repo.ListByCustomer(ctx, customerID)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, second.ID, list[0].ID, "default address is listed first")
	assert.True(t, list[0].IsDefault)
	assert.False(t, list[1].IsDefault)

	got, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, "Rua da Aurora", got.Address.Street)
}

func TestRepository_Update(t *testing.T) {
	ctx := context.Background()
	repo := address.NewRepository(dbtest.Pool(t))
	customerID := uuid.Must(uuid.NewV4())

	a := savedAddress(customerID, "Rua da Aurora", false)
	require.NoError(t, repo.Insert(ctx, a))

	a.Address.Number = "99"
	a.IsDefault = true
	require.NoError(t, repo.Update(ctx, a))

	got, err := repo.GetByID(ctx, a.ID)
	require.NoError(t, err)
	assert.Equal(t, "99", got.Address.Number)
	assert.True(t, got.IsDefault)

	foreign := *a
	foreign.CustomerID = uuid.Must(uuid.NewV4())
	assert.ErrorIs(t, repo.Update(ctx, &foreign), checkout.ErrAddressNotFound)

	_, err = repo.GetByID(ctx, uuid.Must(uuid.NewV4()))
	assert.ErrorIs(t, err, checkout.ErrAddressNotFound)
}
