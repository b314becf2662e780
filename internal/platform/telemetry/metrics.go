// Package telemetry exposes Prometheus metrics for the sealing pipeline and
// the HTTP surface.
package telemetry

import (
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	sealAppendsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medseal_appends_total",
		Help: "Audit ledger appends by outcome (inserted, deduped).",
	}, []string{"outcome"})

	sealAnchorCallsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medseal_anchor_calls_total",
		Help: "Anchor client calls by operation and outcome.",
	}, []string{"op", "outcome"})

	sealAnchorCallDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medseal_anchor_call_duration_seconds",
		Help:    "Anchor client call duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})

	sealTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medseal_entry_transitions_total",
		Help: "Audit entry status transitions by target status.",
	}, []string{"to"})

	sealPendingEntries = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "medseal_pending_entries",
		Help: "Pending audit entries observed by the last tracker tick.",
	})

	sealTrackerTicksTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medseal_tracker_ticks_total",
		Help: "Tracker ticks by outcome (completed, skipped).",
	}, []string{"outcome"})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "medseal_http_requests_total",
		Help: "HTTP requests by method, path, and status.",
	}, []string{"method", "path", "status"})

	httpRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "medseal_http_request_duration_seconds",
		Help:    "HTTP request duration in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"method", "path"})
)

// RecordAppend counts a ledger append. outcome is "inserted" or "deduped".
func RecordAppend(outcome string) {
	sealAppendsTotal.WithLabelValues(outcome).Inc()
}

// RecordAnchorCall counts one anchor client call and its duration.
func RecordAnchorCall(op string, err error, elapsed time.Duration) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	sealAnchorCallsTotal.WithLabelValues(op, outcome).Inc()
	sealAnchorCallDuration.WithLabelValues(op).Observe(elapsed.Seconds())
}

// RecordTransition counts a status transition.
func RecordTransition(to string) {
	sealTransitionsTotal.WithLabelValues(to).Inc()
}

// SetPendingEntries publishes the pending backlog seen by the tracker.
func SetPendingEntries(n int) {
	sealPendingEntries.Set(float64(n))
}

// RecordTrackerTick counts a tick. outcome is "completed" or "skipped".
func RecordTrackerTick(outcome string) {
	sealTrackerTicksTotal.WithLabelValues(outcome).Inc()
}

// Middleware records per-request metrics keyed on the matched route.
func Middleware() echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			err := next(c)

			status := c.Response().Status
			if err != nil {
				if he, ok := err.(*echo.HTTPError); ok {
					status = he.Code
				}
			}
			path := c.Path()
			if path == "" {
				path = c.Request().URL.Path
			}
			method := c.Request().Method

			httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
			httpRequestDuration.WithLabelValues(method, path).Observe(time.Since(start).Seconds())
			return err
		}
	}
}

// Handler serves the Prometheus text exposition.
func Handler() echo.HandlerFunc {
	h := promhttp.Handler()
	return func(c echo.Context) error {
		h.ServeHTTP(c.Response(), c.Request())
		return nil
	}
}
