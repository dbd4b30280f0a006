package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"path"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"
	"github.com/shopspring/decimal"
	"github.com/vasiliy-maslov/btcshop-orders/internal/auth"
	"github.com/vasiliy-maslov/btcshop-orders/internal/order"
)

type OrderCreator interface {
	CreateOrder(ctx context.Context, sub order.Submission, caller auth.Identity) (*order.Order, error)
}

type OrderLister interface {
	List(ctx context.Context, id auth.Identity) ([]order.Order, error)
}

type OrderFinder interface {
	GetByNumber(ctx context.Context, id auth.Identity, number string) (*order.Order, error)
	GetByID(ctx context.Context, id auth.Identity, orderID int64) (*order.Order, error)
}

type OrderItemRequest struct {
	ProductID int64            `json:"productId" validate:"required"`
	Quantity  int              `json:"quantity" validate:"required"`
	UnitPrice *decimal.Decimal `json:"unitPrice" validate:"required"`
}

// CreateOrderRequest is the cart posted by a client. Owner is accepted for
// compatibility with older clients and ignored.
type CreateOrderRequest struct {
	OrderNumber  string             `json:"orderNumber" validate:"omitempty,max=64"`
	OrderDate    *time.Time         `json:"orderDate"`
	Owner        string             `json:"owner"`
	ExchangeRate *decimal.Decimal   `json:"exchangeRate"`
	Items        []OrderItemRequest `json:"items" validate:"required,min=1,dive"`
}

type OrderItemResponse struct {
	ID        int64  `json:"id"`
	ProductID int64  `json:"productId"`
	Quantity  int    `json:"quantity"`
	UnitPrice string `json:"unitPrice"`
}

type OrderResponse struct {
	ID             int64               `json:"id"`
	OrderNumber    string              `json:"orderNumber"`
	OrderDate      time.Time           `json:"orderDate"`
	Owner          string              `json:"owner"`
	ExchangeRate   string              `json:"exchangeRate"`
	TotalFiat      string              `json:"totalFiat"`
	TotalCrypto    string              `json:"totalCrypto"`
	PaymentAddress string              `json:"paymentAddress"`
	Items          []OrderItemResponse `json:"items"`
}

// toOrderResponse renders decimals as strings so no precision is lost in JSON.
func toOrderResponse(o *order.Order) OrderResponse {
	resp := OrderResponse{
		ID:             o.ID,
		OrderNumber:    o.OrderNumber,
		OrderDate:      o.OrderDate,
		Owner:          o.Owner,
		ExchangeRate:   o.ExchangeRate.String(),
		TotalFiat:      order.FormatFiat(o.TotalFiat),
		TotalCrypto:    o.TotalCrypto.StringFixed(order.CryptoPrecision),
		PaymentAddress: o.PaymentAddress,
		Items:          make([]OrderItemResponse, 0, len(o.Items)),
	}
	for _, item := range o.Items {
		resp.Items = append(resp.Items, OrderItemResponse{
			ID:        item.ID,
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice.String(),
		})
	}
	return resp
}

func (req CreateOrderRequest) toSubmission() order.Submission {
	sub := order.Submission{
		OrderNumber: req.OrderNumber,
		Owner:       req.Owner,
		Items:       make([]order.OrderItem, 0, len(req.Items)),
	}
	if req.OrderDate != nil {
		sub.OrderDate = *req.OrderDate
	}
	if req.ExchangeRate != nil {
		sub.ExchangeRate = *req.ExchangeRate
	}
	for _, item := range req.Items {
		sub.Items = append(sub.Items, order.OrderItem{
			ProductID: item.ProductID,
			Quantity:  item.Quantity,
			UnitPrice: *item.UnitPrice,
		})
	}
	return sub
}

type OrderHandler struct {
	creator  OrderCreator
	lister   OrderLister
	finder   OrderFinder
	validate *validator.Validate
}

func NewOrderHandler(creator OrderCreator, lister OrderLister, finder OrderFinder) *OrderHandler {
	return &OrderHandler{
		creator:  creator,
		lister:   lister,
		finder:   finder,
		validate: validator.New(),
	}
}

// RegisterRoutes expects the router to sit behind auth.Middleware.
func (h *OrderHandler) RegisterRoutes(router chi.Router) {
	router.Get("/orders", h.handleListOrders)
	router.Post("/orders", h.handleCreateOrder)
	router.Get("/orders/{id}", h.handleGetOrderByID)
	router.Get("/orders/number/{number}", h.handleGetOrderByNumber)
}

// callerFrom writes 401 when the request carries no identity.
func callerFrom(w http.ResponseWriter, r *http.Request) (auth.Identity, bool) {
	id, ok := auth.IdentityFromContext(r.Context())
	if !ok {
		log.Error().Str("path", r.URL.Path).Msg("Order route reached without an authenticated identity")
		respondWithError(w, http.StatusUnauthorized, "Unauthorized")
	}
	return id, ok
}

// handleCreateOrder handles POST /orders.
func (h *OrderHandler) handleCreateOrder(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	var requestPayload CreateOrderRequest
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	if err := decoder.Decode(&requestPayload); err != nil {
		log.Warn().Err(err).Str("username", caller.Username).Msg("Failed to decode order request body")
		respondWithError(w, http.StatusBadRequest, fmt.Sprintf("Invalid request payload: %v", err))
		return
	}

	if err := h.validate.Struct(requestPayload); err != nil {
		var validationErrors validator.ValidationErrors
		if errors.As(err, &validationErrors) {
			respondWithJSON(w, http.StatusBadRequest, ValidationErrorResponse{
				Error:   "Validation failed",
				Details: formatValidationErrors(validationErrors),
			})
			return
		}
		log.Error().Err(err).Type("validation_error_type", err).Msg("Unexpected error type during validation")
		respondWithError(w, http.StatusInternalServerError, "Internal validation error")
		return
	}

	created, err := h.creator.CreateOrder(r.Context(), requestPayload.toSubmission(), caller)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to create order"))
		return
	}

	w.Header().Set("Location", path.Join(r.URL.Path, strconv.FormatInt(created.ID, 10)))
	respondWithJSON(w, http.StatusCreated, toOrderResponse(created))
}

func (h *OrderHandler) handleListOrders(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	orders, err := h.lister.List(r.Context(), caller)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to list orders"))
		return
	}

	resp := make([]OrderResponse, 0, len(orders))
	for i := range orders {
		resp = append(resp, toOrderResponse(&orders[i]))
	}
	respondWithJSON(w, http.StatusOK, resp)
}

func (h *OrderHandler) handleGetOrderByID(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	idParam := chi.URLParam(r, "id")
	orderID, err := strconv.ParseInt(idParam, 10, 64)
	if err != nil || orderID <= 0 {
		log.Warn().Str("order_id", idParam).Msg("Failed to parse id parameter from URL")
		respondWithError(w, http.StatusBadRequest, "Invalid id parameter")
		return
	}

	found, err := h.finder.GetByID(r.Context(), caller, orderID)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order by id"))
		return
	}
	respondWithJSON(w, http.StatusOK, toOrderResponse(found))
}

// handleGetOrderByNumber is restricted to admins by the lookup service.
func (h *OrderHandler) handleGetOrderByNumber(w http.ResponseWriter, r *http.Request) {
	caller, ok := callerFrom(w, r)
	if !ok {
		return
	}

	number := chi.URLParam(r, "number")
	found, err := h.finder.GetByNumber(r.Context(), caller, number)
	if err != nil {
		respondWithError(w, mapErrorToStatusCode(err), clientMessage(err, "Failed to get order by number"))
		return
	}
	respondWithJSON(w, http.StatusOK, toOrderResponse(found))
}
