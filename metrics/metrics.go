package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"goflare.io/parfum/cart"
)

const namespace = "parfum"

type ServerMetrics struct {
	Requests  *prometheus.CounterVec
	LatencyMS *prometheus.HistogramVec
}

func NewServerMetrics(service string, reg prometheus.Registerer) *ServerMetrics {
	requests := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_requests_total",
		Help:      "Total number of HTTP requests.",
	}, []string{"handler", "status"})
	latency := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: service,
		Name:      "http_request_duration_ms",
		Help:      "HTTP request latency in milliseconds.",
		Buckets:   []float64{5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"handler"})

	reg.MustRegister(requests, latency)
	return &ServerMetrics{Requests: requests, LatencyMS: latency}
}

// CartMetrics counts cart mutations and swallowed persistence failures.
type CartMetrics struct {
	Events          *prometheus.CounterVec
	PersistFailures *prometheus.CounterVec
}

func NewCartMetrics(reg prometheus.Registerer) *CartMetrics {
	events := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "events_total",
		Help:      "Cart mutations by event type.",
	}, []string{"type"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: "cart",
		Name:      "persistence_failures_total",
		Help:      "Cart persistence failures by operation.",
	}, []string{"op"})

	reg.MustRegister(events, failures)
	return &CartMetrics{Events: events, PersistFailures: failures}
}

// Listener counts every event emitted by a cart Store.
func (m *CartMetrics) Listener() cart.Listener {
	return func(e cart.Event) {
		m.Events.WithLabelValues(string(e.Type)).Inc()
	}
}

// ErrorHook counts persistence failures reported by a cart Persister.
func (m *CartMetrics) ErrorHook() cart.ErrorHook {
	return func(op string, _ error) {
		m.PersistFailures.WithLabelValues(op).Inc()
	}
}

func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
