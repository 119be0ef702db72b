package http

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/gofrs/uuid"
	"github.com/rs/zerolog/log"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

type StartSessionRequest struct {
	CustomerID string `json:"customer_id" validate:"omitempty,uuid"`
}

type AddItemRequest struct {
	ProductID string   `json:"product_id" validate:"required,uuid"`
	VariantID string   `json:"variant_id" validate:"omitempty,uuid"`
	OptionIDs []string `json:"option_ids" validate:"omitempty,dive,uuid"`
	Quantity  int      `json:"quantity" validate:"required,min=1,max=999"`
}

type UpdateQuantityRequest struct {
	Quantity int `json:"quantity" validate:"required,min=1,max=999"`
}

type CustomerRequest struct {
	Name     string `json:"name" validate:"required,min=2,max=120"`
	Email    string `json:"email" validate:"required,email"`
	Phone    string `json:"phone" validate:"required,min=8,max=20"`
	Document string `json:"document" validate:"omitempty,max=20"`
}

// AddressRequest accepts partial addresses; completeness gates the stage, not
// the write.
type AddressRequest struct {
	PostalCode   string `json:"postal_code" validate:"max=9"`
	Street       string `json:"street" validate:"max=200"`
	Number       string `json:"number" validate:"max=20"`
	Complement   string `json:"complement" validate:"max=100"`
	Neighborhood string `json:"neighborhood" validate:"max=100"`
	City         string `json:"city" validate:"max=100"`
	State        string `json:"state" validate:"omitempty,len=2"`
}

type SaveAddressRequest struct {
	Save *bool `json:"save" validate:"required"`
}

type BindShippingRequest struct {
	QuoteID string `json:"quote_id" validate:"required"`
}

type CouponRequest struct {
	Code string `json:"code" validate:"required,max=64"`
}

type ReferralRequest struct {
	Code string `json:"code" validate:"max=64"`
}

type PaymentMethodRequest struct {
	Method string `json:"method" validate:"required,oneof=instant_transfer card deferred_voucher"`
}

type StageRequest struct {
	Stage string `json:"stage" validate:"required,oneof=identification address payment confirmation"`
}

type StepOutcomeResponse struct {
	Step  checkout.Step        `json:"step"`
	Kind  checkout.OutcomeKind `json:"kind"`
	Error string               `json:"error,omitempty"`
}

type PlacementResponse struct {
	OrderID        uuid.UUID                `json:"order_id"`
	Reference      string                   `json:"reference"`
	Status         checkout.OrderStatus     `json:"status"`
	Prices         checkout.PriceBreakdown  `json:"prices"`
	Payment        *checkout.PaymentAttempt `json:"payment,omitempty"`
	RedirectURL    string                   `json:"redirect_url,omitempty"`
	PaymentPending bool                     `json:"payment_pending"`
	Notice         string                   `json:"notice,omitempty"`
	Resumed        bool                     `json:"resumed"`
	Steps          []StepOutcomeResponse    `json:"steps"`
}

type QuotesResponse struct {
	Quotes []checkout.ShippingQuote `json:"quotes"`
}

type CheckoutHandler struct {
	service  checkout.Service
	validate *validator.Validate
}

func NewCheckoutHandler(s checkout.Service) *CheckoutHandler {
	return &CheckoutHandler{
		service:  s,
		validate: validator.New(),
	}
}

func (h *CheckoutHandler) RegisterRoutes(router chi.Router) {
	router.Route("/checkout/sessions", func(r chi.Router) {
		r.Post("/", h.StartSession)
		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)

			r.Post("/items", h.AddItem)
			r.Patch("/items/{line}", h.UpdateQuantity)
			r.Delete("/items/{line}", h.RemoveItem)

			r.Put("/customer", h.SetCustomer)
			r.Put("/address", h.SetAddress)
			r.Put("/address/{addressID}", h.SelectSavedAddress)
			r.Put("/save-address", h.SetSaveAddress)
			r.Get("/shipping-quotes", h.Quotes)
			r.Put("/shipping", h.BindShipping)

			r.Put("/coupon", h.ApplyCoupon)
			r.Delete("/coupon", h.RemoveCoupon)
			r.Put("/referral", h.SetReferral)
			r.Put("/payment-method", h.SetPaymentMethod)

			r.Post("/next", h.Next)
			r.Post("/back", h.Back)
			r.Post("/stage", h.GoTo)

			r.Post("/place", h.Place)
			r.Post("/payment/retry", h.RetryPayment)
		})
	})
}

func (h *CheckoutHandler) StartSession(w http.ResponseWriter, r *http.Request) {
	var req StartSessionRequest
	if r.ContentLength != 0 {
		if !decodeAndValidate(w, r, h.validate, &req) {
			return
		}
	}

	var customerID uuid.NullUUID
	if req.CustomerID != "" {
		customerID = uuid.NullUUID{UUID: uuid.FromStringOrNil(req.CustomerID), Valid: true}
	}

	sess, err := h.service.StartSession(r.Context(), customerID)
	if err != nil {
		log.Error().Err(err).Msg("handler: failed to start checkout session")
		respondWithDomainError(w, err, "Failed to start checkout")
		return
	}
	respondWithJSON(w, http.StatusCreated, sess)
}

func (h *CheckoutHandler) GetSession(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.GetSession(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err, "Failed to get checkout session")
}

func (h *CheckoutHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	var req AddItemRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	sel := checkout.LineSelection{
		ProductID: uuid.FromStringOrNil(req.ProductID),
		Quantity:  req.Quantity,
	}
	if req.VariantID != "" {
		sel.VariantID = uuid.NullUUID{UUID: uuid.FromStringOrNil(req.VariantID), Valid: true}
	}
	for _, o := range req.OptionIDs {
		sel.OptionIDs = append(sel.OptionIDs, uuid.FromStringOrNil(o))
	}

	sess, err := h.service.AddItem(r.Context(), chi.URLParam(r, "id"), sel)
	h.respondSession(w, sess, err, "Failed to add item")
}

func (h *CheckoutHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	var req UpdateQuantityRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	sess, err := h.service.UpdateQuantity(r.Context(), chi.URLParam(r, "id"), line, req.Quantity)
	h.respondSession(w, sess, err, "Failed to update quantity")
}

func (h *CheckoutHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	line, ok := lineParam(w, r)
	if !ok {
		return
	}
	sess, err := h.service.RemoveItem(r.Context(), chi.URLParam(r, "id"), line)
	h.respondSession(w, sess, err, "Failed to remove item")
}

func (h *CheckoutHandler) SetCustomer(w http.ResponseWriter, r *http.Request) {
	var req CustomerRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.SetCustomer(r.Context(), chi.URLParam(r, "id"), checkout.CustomerIdentity{
		Name:     req.Name,
		Email:    req.Email,
		Phone:    req.Phone,
		Document: req.Document,
	})
	h.respondSession(w, sess, err, "Failed to set customer")
}

func (h *CheckoutHandler) SetAddress(w http.ResponseWriter, r *http.Request) {
	var req AddressRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.SetAddress(r.Context(), chi.URLParam(r, "id"), checkout.DeliveryAddress{
		PostalCode:   req.PostalCode,
		Street:       req.Street,
		Number:       req.Number,
		Complement:   req.Complement,
		Neighborhood: req.Neighborhood,
		City:         req.City,
		State:        req.State,
	})
	h.respondSession(w, sess, err, "Failed to set address")
}

func (h *CheckoutHandler) SelectSavedAddress(w http.ResponseWriter, r *http.Request) {
	addressID, err := uuid.FromString(chi.URLParam(r, "addressID"))
	if err != nil {
		respondWithError(w, http.StatusBadRequest, "Invalid address ID format")
		return
	}
	sess, err := h.service.SelectSavedAddress(r.Context(), chi.URLParam(r, "id"), addressID)
	h.respondSession(w, sess, err, "Failed to select address")
}

func (h *CheckoutHandler) SetSaveAddress(w http.ResponseWriter, r *http.Request) {
	var req SaveAddressRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.SetSaveAddress(r.Context(), chi.URLParam(r, "id"), *req.Save)
	h.respondSession(w, sess, err, "Failed to update address preference")
}

func (h *CheckoutHandler) Quotes(w http.ResponseWriter, r *http.Request) {
	quotes, err := h.service.Quotes(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, err, "Failed to fetch shipping quotes")
		return
	}
	if quotes == nil {
		quotes = []checkout.ShippingQuote{}
	}
	respondWithJSON(w, http.StatusOK, QuotesResponse{Quotes: quotes})
}

func (h *CheckoutHandler) BindShipping(w http.ResponseWriter, r *http.Request) {
	var req BindShippingRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.BindShipping(r.Context(), chi.URLParam(r, "id"), req.QuoteID)
	h.respondSession(w, sess, err, "Failed to select shipping")
}

func (h *CheckoutHandler) ApplyCoupon(w http.ResponseWriter, r *http.Request) {
	var req CouponRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.ApplyCoupon(r.Context(), chi.URLParam(r, "id"), req.Code)
	h.respondSession(w, sess, err, "Failed to apply coupon")
}

func (h *CheckoutHandler) RemoveCoupon(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.RemoveCoupon(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err, "Failed to remove coupon")
}

func (h *CheckoutHandler) SetReferral(w http.ResponseWriter, r *http.Request) {
	var req ReferralRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.SetReferral(r.Context(), chi.URLParam(r, "id"), req.Code)
	h.respondSession(w, sess, err, "Failed to set referral")
}

func (h *CheckoutHandler) SetPaymentMethod(w http.ResponseWriter, r *http.Request) {
	var req PaymentMethodRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.SetPaymentMethod(r.Context(), chi.URLParam(r, "id"), checkout.PaymentMethod(req.Method))
	h.respondSession(w, sess, err, "Failed to set payment method")
}

func (h *CheckoutHandler) Next(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Next(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err, "Failed to advance checkout")
}

func (h *CheckoutHandler) Back(w http.ResponseWriter, r *http.Request) {
	sess, err := h.service.Back(r.Context(), chi.URLParam(r, "id"))
	h.respondSession(w, sess, err, "Failed to go back")
}

func (h *CheckoutHandler) GoTo(w http.ResponseWriter, r *http.Request) {
	var req StageRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	sess, err := h.service.GoTo(r.Context(), chi.URLParam(r, "id"), checkout.Stage(req.Stage))
	h.respondSession(w, sess, err, "Failed to change stage")
}

func (h *CheckoutHandler) Place(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	result, err := h.service.Place(r.Context(), sessionID)
	if err != nil {
		var persistenceErr *checkout.PersistenceError
		if errors.As(err, &persistenceErr) {
			log.Error().Err(err).Str("session_id", sessionID).Str("step", string(persistenceErr.Step)).Msg("handler: order placement failed")
		}
		respondWithDomainError(w, err, "Failed to place order")
		return
	}

	status := http.StatusCreated
	if result.Resumed {
		status = http.StatusOK
	}
	respondWithJSON(w, status, toPlacementResponse(result))
}

func (h *CheckoutHandler) RetryPayment(w http.ResponseWriter, r *http.Request) {
	attempt, err := h.service.RetryPayment(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		respondWithDomainError(w, err, "Failed to retry payment")
		return
	}
	respondWithJSON(w, http.StatusCreated, attempt)
}

func (h *CheckoutHandler) respondSession(w http.ResponseWriter, sess *checkout.Session, err error, fallback string) {
	if err != nil {
		respondWithDomainError(w, err, fallback)
		return
	}
	respondWithJSON(w, http.StatusOK, sess)
}

func lineParam(w http.ResponseWriter, r *http.Request) (int, bool) {
	line, err := strconv.Atoi(chi.URLParam(r, "line"))
	if err != nil || line < 0 {
		respondWithError(w, http.StatusBadRequest, "Invalid line index")
		return 0, false
	}
	return line, true
}

func toPlacementResponse(result *checkout.PlacementResult) PlacementResponse {
	resp := PlacementResponse{
		OrderID:        result.Order.ID,
		Reference:      result.Order.Reference,
		Status:         result.Order.Status,
		Prices:         result.Order.Prices,
		Payment:        result.Payment,
		RedirectURL:    result.RedirectURL,
		PaymentPending: result.PaymentPending,
		Resumed:        result.Resumed,
		Steps:          make([]StepOutcomeResponse, 0, len(result.Outcomes)),
	}
	if result.PaymentPending {
		resp.Notice = checkout.PaymentRetryNotice
	}
	for _, o := range result.Outcomes {
		step := StepOutcomeResponse{Step: o.Step, Kind: o.Kind}
		if o.Err != nil && o.Kind != checkout.OutcomeSuccess {
			step.Error = o.Err.Error()
		}
		resp.Steps = append(resp.Steps, step)
	}
	return resp
}
