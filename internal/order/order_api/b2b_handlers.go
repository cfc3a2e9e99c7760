package order_api

import (
	"fmt"
	"net/http"

	"festival-ticketing/internal/models"
	"festival-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

type quoteRequest struct {
	Items []models.CartLine `json:"items"`
}

func (h *Handler) QuoteB2B(w http.ResponseWriter, r *http.Request) {
	var req quoteRequest
	if !h.decode(w, r, "QuoteB2B", &req) {
		return
	}
	h.Logger.Info("API", fmt.Sprintf("QuoteB2B: lines=%d", len(req.Items)))

	q, err := h.OrderService.QuoteB2B(r.Context(), req.Items)
	if err != nil {
		h.writeError(w, "QuoteB2B", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Quote", q))
}

func (h *Handler) CreateB2BOrder(w http.ResponseWriter, r *http.Request) {
	var req models.CreateB2BOrderRequest
	if !h.decode(w, r, "CreateB2BOrder", &req) {
		return
	}
	req.ClientIP = clientIP(r)
	h.Logger.Info("API", fmt.Sprintf("CreateB2BOrder: company=%s method=%s", req.Company.Name, req.PaymentMethod))

	o, err := h.OrderService.CreateB2BOrder(r.Context(), req)
	if err != nil {
		h.writeError(w, "CreateB2BOrder", err)
		return
	}
	h.Logger.LogOrder("B2B_CREATED", o.OrderNumber, fmt.Sprintf("final=%s", o.FinalAmount.StringFixed(2)))
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Corporate order created", o))
}

func (h *Handler) StartB2BPayment(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("StartB2BPayment: orderId=%s", orderID))

	txn, err := h.OrderService.StartB2BPayment(r.Context(), orderID, clientIP(r))
	if err != nil {
		h.writeError(w, "StartB2BPayment", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Payment started", txn))
}
