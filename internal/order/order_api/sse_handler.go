package order_api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"festival-ticketing/internal/models"

	"github.com/go-chi/chi/v5"
)

var heartbeatInterval = 25 * time.Second

// StreamOrderStatus pushes lifecycle events for one order to the buyer's
// browser while it waits on the result page.
func (h *Handler) StreamOrderStatus(w http.ResponseWriter, r *http.Request) {
	number := chi.URLParam(r, "orderNumber")

	o, err := h.OrderService.GetOrderByNumber(r.Context(), number)
	if err != nil {
		h.writeError(w, "StreamOrderStatus", err)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
		return
	}

	// the server write timeout would cut long streams
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	ctx := r.Context()
	events := h.Hub.Subscribe(ctx, number)

	h.setupSSEHeaders(w)

	// current state first so a late subscriber never misses the outcome
	initial, _ := json.Marshal(statusView(o))
	fmt.Fprintf(w, "event: status\ndata: %s\n\n", initial)
	flusher.Flush()

	h.Logger.Info("SSE", fmt.Sprintf("Client connected to order %s", number))

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case event, ok := <-events:
			if !ok {
				return
			}
			data, err := json.Marshal(event)
			if err != nil {
				h.Logger.Error("SSE", fmt.Sprintf("Failed to serialize order event: %v", err))
				continue
			}
			fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event.Type, data)
			flusher.Flush()
			if isFinal(event.Type) {
				h.Logger.Debug("SSE", fmt.Sprintf("Order %s reached %s, closing stream", number, event.Status))
				return
			}

		case <-heartbeat.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			h.Logger.Info("SSE", fmt.Sprintf("Client disconnected from order %s", number))
			return
		}
	}
}

func (h *Handler) setupSSEHeaders(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
}

// isFinal reports events after which the buyer has nothing left to wait for.
func isFinal(t models.OrderEventType) bool {
	switch t {
	case models.EventTicketsIssued, models.EventOrderFailed, models.EventOrderCancelled,
		models.EventOrderExpired, models.EventOrderRefunded:
		return true
	}
	return false
}
