package order_api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"festival-ticketing/internal/reconcile"
	"festival-ticketing/internal/utils"
)

// PaymentCallback receives the gateway's server-to-server notification.
// Anything but a 2xx makes the gateway retry, so only signature problems,
// malformed bodies and failed store writes are reported as errors.
func (h *Handler) PaymentCallback(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		h.Logger.Warn("API", fmt.Sprintf("PaymentCallback: failed to read body: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid request body", err.Error()))
		return
	}

	res, err := h.Reconciler.HandleCallback(r.Context(), body, r.Header.Get(reconcile.SignatureHeader))
	if err != nil {
		h.writeError(w, "PaymentCallback", err)
		return
	}
	h.Logger.Info("API", fmt.Sprintf("PaymentCallback: payId=%s outcome=%s applied=%t", res.TransactionID, res.Outcome, res.Applied))
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Callback processed", res))
}

// PaymentReturn is where the gateway sends the buyer back. Both the ok and
// the fail URL land here; the real status always comes from the gateway.
func (h *Handler) PaymentReturn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	params := reconcile.ReturnParams{
		TransactionID: q.Get("payId"),
		OrderRef:      q.Get("orderId"),
	}
	h.Logger.Info("API", fmt.Sprintf("PaymentReturn: payId=%s orderId=%s", params.TransactionID, params.OrderRef))

	target, err := h.Reconciler.HandleReturn(r.Context(), params)
	if err != nil {
		if !errors.Is(err, reconcile.ErrSubjectNotFound) {
			h.Logger.Error("API", fmt.Sprintf("PaymentReturn: %v", err))
		}
		target = h.OrderService.ResultPage(q.Get("lang"), false, params.OrderRef)
	}
	http.Redirect(w, r, target, http.StatusFound)
}
