package analytics_api

import (
	"fmt"
	"net/http"
	"time"

	"festival-ticketing/internal/analytics"
	"festival-ticketing/internal/logger"
	"festival-ticketing/internal/utils"

	"github.com/go-chi/chi/v5"
)

const defaultWindow = 30 * 24 * time.Hour

// Handler handles analytics HTTP endpoints
type Handler struct {
	Service *analytics.Service
	Logger  *logger.Logger
	now     utils.Clock
}

// NewHandler creates a new analytics handler
func NewHandler(service *analytics.Service, logger *logger.Logger, clock utils.Clock) *Handler {
	if clock == nil {
		clock = utils.SystemClock
	}
	return &Handler{Service: service, Logger: logger, now: clock}
}

// RegisterRoutes registers the analytics routes on a chi router
func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Get("/analytics/sales", h.GetSalesReport)
}

// GetSalesReport serves ?from=YYYY-MM-DD&to=YYYY-MM-DD, both inclusive.
// Without from the report covers the last 30 days.
func (h *Handler) GetSalesReport(w http.ResponseWriter, r *http.Request) {
	from, to, err := h.window(r)
	if err != nil {
		h.Logger.Warn("ANALYTICS", fmt.Sprintf("GetSalesReport: %v", err))
		utils.WriteJSON(w, http.StatusBadRequest, utils.ErrorResponse("Invalid date range", err.Error()))
		return
	}
	h.Logger.Info("ANALYTICS", fmt.Sprintf("GetSalesReport: %s..%s", from.Format(time.DateOnly), to.Format(time.DateOnly)))

	report, err := h.Service.GetSalesReport(r.Context(), from, to)
	if err != nil {
		h.Logger.Error("ANALYTICS", fmt.Sprintf("GetSalesReport: %v", err))
		utils.WriteJSON(w, http.StatusInternalServerError, utils.ErrorResponse("Could not build report", ""))
		return
	}
	utils.WriteJSON(w, http.StatusOK, utils.SuccessResponse("Sales report", report))
}

func (h *Handler) window(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()

	to := h.now().UTC().Truncate(24 * time.Hour).Add(24 * time.Hour)
	if v := q.Get("to"); v != "" {
		day, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad to date %q", v)
		}
		to = day.Add(24 * time.Hour)
	}

	from := to.Add(-defaultWindow)
	if v := q.Get("from"); v != "" {
		day, err := time.Parse(time.DateOnly, v)
		if err != nil {
			return time.Time{}, time.Time{}, fmt.Errorf("bad from date %q", v)
		}
		from = day
	}

	if !to.After(from) {
		return time.Time{}, time.Time{}, fmt.Errorf("from must not be after to")
	}
	return from, to, nil
}
