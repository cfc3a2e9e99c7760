package order_api

import (
	"fmt"
	"net/http"

	"festival-ticketing/internal/auth"
	"festival-ticketing/internal/models"
	"festival-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

func (h *Handler) audit(r *http.Request, action, target string) {
	h.Logger.LogSecurity("ADMIN_"+action, fmt.Sprintf("by=%s target=%s", auth.UserID(r.Context()), target))
}

func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetOrder: orderId=%s", orderID))

	o, err := h.OrderService.GetOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order", o))
}

func (h *Handler) RefundOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.audit(r, "REFUND", orderID)

	if err := h.OrderService.Refund(r.Context(), orderID); err != nil {
		h.writeError(w, "RefundOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Order refunded", nil))
}

func (h *Handler) ResendConfirmation(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.audit(r, "RESEND", orderID)

	if err := h.OrderService.ResendConfirmation(r.Context(), orderID); err != nil {
		h.writeError(w, "ResendConfirmation", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Confirmation sent", nil))
}

func (h *Handler) CreateInvitation(w http.ResponseWriter, r *http.Request) {
	var req models.CreateInvitationRequest
	if !h.decode(w, r, "CreateInvitation", &req) {
		return
	}
	h.audit(r, "INVITATION", req.Customer.Email)

	o, err := h.OrderService.CreateInvitation(r.Context(), req)
	if err != nil {
		h.writeError(w, "CreateInvitation", err)
		return
	}
	utils.WriteJSON(w, http.StatusCreated, utils.SuccessResponse("Invitation created", o))
}

func (h *Handler) GetB2BOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.Logger.Info("API", fmt.Sprintf("GetB2BOrder: orderId=%s", orderID))

	o, err := h.OrderService.GetB2BOrder(r.Context(), orderID)
	if err != nil {
		h.writeError(w, "GetB2BOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Corporate order", o))
}

func (h *Handler) ConfirmB2BInvoice(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.audit(r, "B2B_INVOICE_PAID", orderID)

	if err := h.OrderService.ConfirmB2BInvoicePayment(r.Context(), orderID); err != nil {
		h.writeError(w, "ConfirmB2BInvoice", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Invoice payment confirmed", nil))
}

func (h *Handler) RefundB2BOrder(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.audit(r, "B2B_REFUND", orderID)

	if err := h.OrderService.RefundB2B(r.Context(), orderID); err != nil {
		h.writeError(w, "RefundB2BOrder", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Corporate order refunded", nil))
}

func (h *Handler) ResendB2BTickets(w http.ResponseWriter, r *http.Request) {
	orderID := chi.URLParam(r, "orderId")
	h.audit(r, "B2B_RESEND", orderID)

	if err := h.OrderService.ResendB2BTickets(r.Context(), orderID); err != nil {
		h.writeError(w, "ResendB2BTickets", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Tickets sent", nil))
}

func (h *Handler) RunJob(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "job")
	h.audit(r, "RUN_JOB", name)

	if h.Jobs == nil {
		utils.WriteJSON(w, http.StatusServiceUnavailable, utils.ErrorResponse("Scheduler disabled", ""))
		return
	}
	if err := h.Jobs.RunJob(r.Context(), name); err != nil {
		h.writeError(w, "RunJob", err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse(fmt.Sprintf("Job %s finished", name), nil))
}
