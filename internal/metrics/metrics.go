package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/vasiliy-maslov/storefront-checkout/internal/checkout"
)

const namespace = "storefront"

// CheckoutMetrics implements checkout.Recorder.
type CheckoutMetrics struct {
	Placements *prometheus.CounterVec
	StepErrors *prometheus.CounterVec
	Dispatches *prometheus.CounterVec
	Requests   *prometheus.CounterVec
	LatencyMS  *prometheus.HistogramVec
}

func NewCheckoutMetrics(reg prometheus.Registerer) *CheckoutMetrics {
	placements := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "placements_total",
		Help:      "Order placements by final outcome.",
	}, []string{"outcome"})
	stepErrors := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "placement_step_failures_total",
		Help:      "Non-fatal placement step failures by step.",
	}, []string{"step"})
	dispatches := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "checkout",
		Name:      "payment_dispatches_total",
		Help:      "Payment gateway calls by method and result.",
	}, []string{"method", "result"})
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"route", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: "http",
		Name:      "request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"route"})

	reg.MustRegister(placements, stepErrors, dispatches, requests, latency)
	return &CheckoutMetrics{
		Placements: placements,
		StepErrors: stepErrors,
		Dispatches: dispatches,
		Requests:   requests,
		LatencyMS:  latency,
	}
}

func (m *CheckoutMetrics) PlacementFinished(outcome string) {
	m.Placements.WithLabelValues(outcome).Inc()
}

func (m *CheckoutMetrics) StepFailed(step checkout.Step) {
	m.StepErrors.WithLabelValues(string(step)).Inc()
}

func (m *CheckoutMetrics) PaymentDispatched(method checkout.PaymentMethod, ok bool) {
	result := "error"
	if ok {
		result = "ok"
	}
	m.Dispatches.WithLabelValues(string(method), result).Inc()
}

// Middleware records request counts and latency labelled by the chi route
// pattern, keeping label cardinality independent of session ids.
func (m *CheckoutMetrics) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}
		m.Requests.WithLabelValues(route, strconv.Itoa(status)).Inc()
		m.LatencyMS.WithLabelValues(route).Observe(float64(time.Since(start).Milliseconds()))
	})
}

func Handler(gatherer prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})
}
