package order_api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"

	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/order"
	"festival-ticketing/internal/order/discount"
	"festival-ticketing/internal/payment/gateway"
	"festival-ticketing/internal/reconcile"
	"festival-ticketing/internal/scheduler"
	"festival-ticketing/internal/sse"
	"festival-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// JobRunner triggers a scheduler job on demand.
type JobRunner interface {
	RunJob(ctx context.Context, name string) error
}

type Handler struct {
	OrderService *order.OrderService
	Reconciler   *reconcile.Handler
	Promos       *discount.PromoService
	Hub          *sse.OrderStatusHub
	Jobs         JobRunner
	Logger       *logger.Logger
}

func NewHandler(orders *order.OrderService, rec *reconcile.Handler, promos *discount.PromoService, hub *sse.OrderStatusHub, jobs JobRunner, log *logger.Logger) *Handler {
	return &Handler{
		OrderService: orders,
		Reconciler:   rec,
		Promos:       promos,
		Hub:          hub,
		Jobs:         jobs,
		Logger:       log,
	}
}

// orderStatusView is what an anonymous buyer may see about an order.
type orderStatusView struct {
	OrderNumber    string               `json:"orderNumber"`
	Status         models.OrderStatus   `json:"status"`
	PaymentStatus  models.PaymentStatus `json:"paymentStatus"`
	TotalAmount    decimal.Decimal      `json:"totalAmount"`
	DiscountAmount decimal.Decimal      `json:"discountAmount"`
	Payable        decimal.Decimal      `json:"payable"`
	Currency       string               `json:"currency"`
	FailureReason  string               `json:"failureReason,omitempty"`
}

func statusView(o *models.Order) orderStatusView {
	return orderStatusView{
		OrderNumber:    o.OrderNumber,
		Status:         o.Status,
		PaymentStatus:  o.PaymentStatus,
		TotalAmount:    o.TotalAmount,
		DiscountAmount: o.DiscountAmount,
		Payable:        o.Payable(),
		Currency:       o.Currency,
		FailureReason:  o.FailureReason,
	}
}

func (h *Handler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateOrderRequest
	if !h.decode(w, r, "CreateOrder", &req) {
		return
	}
	req.ClientIP = clientIP(r)
	h.Logger.Info("API", fmt.Sprintf("CreateOrder: email=%s lines=%d", req.Customer.Email, len(req.Items)))

	res, err := h.OrderService.CreateOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, "CreateOrder", err)
		return
	}
	h.Logger.LogOrder("CREATED", res.Order.OrderNumber, fmt.Sprintf("payable=%s", res.Order.Payable().StringFixed(2)))
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Order created", res))
}

func (h *Handler) StartPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("StartPayment: orderId=%s", orderID))

	txn, err := h.OrderService.StartPayment(r.Context(), orderID, clientIP(r))
	if err != nil {
		h.writeError(w, "StartPayment", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment started", txn))
}

func (h *Handler) GetOrderStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")
	h.Logger.Debug("API", fmt.Sprintf("GetOrderStatus: orderNumber=%s", number))

	o, err := h.OrderService.GetOrderByNumber(r.Context(), number)
	if err != nil {
		h.writeError(w, "GetOrderStatus", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order status", statusView(o)))
}

type validatePromoRequest struct {
	Code      string          `json:"code"`
	Email     string          `json:"email"`
	Total     decimal.Decimal `json:"total"`
	TicketIDs []string        `json:"ticketIds"`
}

// ValidatePromo previews a code against a cart. The code is not consumed.
func (h *Handler) ValidatePromo(w http.ResponseWriter, r *http.Request) {
	var req validatePromoRequest
	if !h.decode(w, r, "ValidatePromo", &req) {
		return
	}
	h.Logger.Info("API", fmt.Sprintf("ValidatePromo: code=%s", discount.NormalizeCode(req.Code)))

	res, err := h.Promos.Validate(r.Context(), req.Code, req.Total, req.Email, req.TicketIDs)
	if err != nil {
		h.writeError(w, "ValidatePromo", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Promo checked", res))
}

func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("ok", nil))
}

func (h *Handler) decode(w http.ResponseWriter, r *http.Request, op string, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(v); err != nil {
		h.Logger.Warn("API", fmt.Sprintf("%s: invalid body: %v", op, err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return false
	}
	return true
}

// writeError maps domain errors onto HTTP status codes.
func (h *Handler) writeError(w http.ResponseWriter, op string, err error) {
	status, msg, code := classify(err)
	if status >= http.StatusInternalServerError {
		h.Logger.Error("API", fmt.Sprintf("%s: %v", op, err))
	} else {
		h.Logger.Warn("API", fmt.Sprintf("%s: %v", op, err))
	}
	resp := utils.ErrorResponse(msg, err.Error())
	resp.Code = code
	if status >= http.StatusInternalServerError {
		resp.Error = ""
	}
	utils.WriteJSON(w, status, resp)
}

func classify(err error) (int, string, string) {
	var verr *order.ValidationError
	var serr *reconcile.SignatureError
	var gerr *gateway.GatewayError
	var perr *order.PersistenceError

	switch {
	case errors.As(err, &verr):
		return http.StatusUnprocessableEntity, verr.Message, verr.Code
	case errors.Is(err, order.ErrOrderNotFound), errors.Is(err, reconcile.ErrSubjectNotFound):
		return http.StatusNotFound, "Order not found", ""
	case errors.As(err, &serr):
		return http.StatusUnauthorized, "Signature rejected", ""
	case errors.Is(err, reconcile.ErrMalformedBody):
		return http.StatusBadRequest, "Malformed body", ""
	case errors.Is(err, scheduler.ErrUnknownJob):
		return http.StatusNotFound, "Unknown job", ""
	case errors.Is(err, scheduler.ErrJobBusy):
		return http.StatusConflict, "Job already running", ""
	case errors.As(err, &gerr):
		return http.StatusBadGateway, "Payment gateway unavailable", gerr.Code
	case errors.As(err, &perr):
		return http.StatusInternalServerError, "Could not save order", ""
	default:
		return http.StatusInternalServerError, "Internal error", ""
	}
}

func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
