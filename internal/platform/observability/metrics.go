package observability

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	httpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_ms",
			Help:    "Duration of HTTP requests in ms",
			Buckets: []float64{5, 10, 25, 50, 100, 200, 400, 800, 1600},
		},
		[]string{"method", "route"},
	)

	checkoutOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "checkout_attempts_total",
			Help: "Checkout attempts by terminal outcome",
		},
		[]string{"outcome"},
	)

	checkoutStepDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "checkout_step_duration_ms",
			Help:    "Duration of checkout protocol steps in ms",
			Buckets: []float64{10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
		},
		[]string{"step"},
	)

	cartAdjustments = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cart_reconcile_adjustments_total",
			Help: "Cart lines repaired during reconciliation",
		},
		[]string{"kind"},
	)
)

func observeRequest(method, route string, status int, latency time.Duration) {
	httpRequests.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	httpDuration.WithLabelValues(method, route).Observe(float64(latency.Milliseconds()))
}

// CountCheckoutOutcome increments the terminal-outcome counter for an attempt.
func CountCheckoutOutcome(outcome string) {
	checkoutOutcomes.WithLabelValues(outcome).Inc()
}

// ObserveCheckoutStep records the duration of one checkout protocol step.
func ObserveCheckoutStep(step string, latency time.Duration) {
	checkoutStepDuration.WithLabelValues(step).Observe(float64(latency.Milliseconds()))
}

// CountCartAdjustment increments the reconciliation repair counter.
func CountCartAdjustment(kind string) {
	cartAdjustments.WithLabelValues(kind).Inc()
}

// MetricsHandler exposes the prometheus scrape endpoint.
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
