package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "route"},
	)

	ordersCreatedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_orders_created_total",
			Help: "Orders created by kind (retail, invitation, b2b)",
		},
		[]string{"kind"},
	)

	transitionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_order_transitions_total",
			Help: "Applied order state transitions",
		},
		[]string{"subject", "to"},
	)

	reconciliationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_reconciliations_total",
			Help: "Gateway callbacks and returns by source and outcome",
		},
		[]string{"source", "outcome"},
	)

	gatewayRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "festival_gateway_request_duration_seconds",
			Help:    "Payment gateway call latency",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "result"},
	)

	schedulerRunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_scheduler_runs_total",
			Help: "Scheduler job executions",
		},
		[]string{"job", "result"},
	)

	remindersSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_reminders_sent_total",
			Help: "Payment reminders delivered by stage",
		},
		[]string{"stage"},
	)

	fulfillmentTasksTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "festival_fulfillment_tasks_total",
			Help: "Fulfillment task outcomes",
		},
		[]string{"result"},
	)
)

func init() {
	prometheus.MustRegister(
		httpRequestsTotal,
		httpRequestDuration,
		ordersCreatedTotal,
		transitionsTotal,
		reconciliationsTotal,
		gatewayRequestDuration,
		schedulerRunsTotal,
		remindersSentTotal,
		fulfillmentTasksTotal,
	)
}

// Middleware records request counts and latency by chi route pattern.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		httpRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		httpRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}

func RecordOrderCreated(kind string) {
	ordersCreatedTotal.WithLabelValues(kind).Inc()
}

func RecordTransition(subject, to string) {
	transitionsTotal.WithLabelValues(subject, to).Inc()
}

func RecordReconciliation(source, outcome string) {
	reconciliationsTotal.WithLabelValues(source, outcome).Inc()
}

func ObserveGateway(operation string, start time.Time, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	gatewayRequestDuration.WithLabelValues(operation, result).Observe(time.Since(start).Seconds())
}

func RecordSchedulerRun(job, result string) {
	schedulerRunsTotal.WithLabelValues(job, result).Inc()
}

func RecordReminderSent(stage int) {
	remindersSentTotal.WithLabelValues(strconv.Itoa(stage)).Inc()
}

func RecordFulfillment(result string) {
	fulfillmentTasksTotal.WithLabelValues(result).Inc()
}
