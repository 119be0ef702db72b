package http

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
	"github.com/vasiliy-maslov/storefront-checkout/internal/order"
)

// AddressLister is the read side of the saved address book.
type AddressLister interface {
	ListByCustomer(ctx context.Context, customerID uuid.UUID) ([]checkout.SavedAddress, error)
}

type OrderHandler struct {
	orders    order.Service
	addresses AddressLister
}

func NewOrderHandler(orders order.Service, addresses AddressLister) *OrderHandler {
	return &OrderHandler{
		orders:    orders,
		addresses: addresses,
	}
}

func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders/{id}", h.GetOrderByID)
	router.Get("/customers/{id}/addresses", h.ListAddresses)
}

func (h *OrderHandler) GetOrderByID(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		log.Warn().Err(err).Str("raw_id", chi.URLParam(r, "id")).Msg("Invalid order ID format received")
		respondWithError(w, http.StatusBadRequest, "Invalid order ID format")
		return
	}

	o, err := h.orders.GetOrderByID(r.Context(), id)
	if err != nil {
		respondWithDomainError(w, err, "Failed to get order")
		return
	}
	respondWithJSON(w, http.StatusOK, o)
}

func (h *OrderHandler) ListAddresses(w http.ResponseWriter, r *http.Request) {
	customerID, err := uuid.FromString(chi.URLParam(r, "id"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid customer ID format")
		return
	}

	addresses, err := h.addresses.ListByCustomer(r.Context(), customerID)
	if err != nil {
		respondWithDomainError(w, err, "Failed to list addresses")
		return
	}
	if addresses == nil {
		addresses = []checkout.SavedAddress{}
	}
	respondWithJSON(w, http.StatusOK, addresses)
}
