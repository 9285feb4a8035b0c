package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the Prometheus counters, histograms, and gauges for the node server.
type Metrics struct {
	// Upstream metrics.
	FetchTotal     *prometheus.CounterVec // labels: outcome={success,error,cached}
	FetchDuration  prometheus.Histogram
	RateLimitWaits prometheus.Counter

	// Hub metrics.
	ControllerOnline prometheus.Gauge
	HubMessages      *prometheus.CounterVec // labels: direction={in,out}, kind
	DriverUpdates    prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default Prometheus registry.
func NewMetrics() *Metrics {
	m := newMetrics()
	prometheus.MustRegister(
		m.FetchTotal,
		m.FetchDuration,
		m.RateLimitWaits,
		m.ControllerOnline,
		m.HubMessages,
		m.DriverUpdates,
	)
	return m
}

// NewMetricsForTesting creates Metrics without registering them, to avoid
// "already registered" panics when called from multiple tests.
func NewMetricsForTesting() *Metrics {
	return newMetrics()
}

func newMetrics() *Metrics {
	return &Metrics{
		FetchTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weatherapi_ns",
			Name:      "fetch_total",
			Help:      "Weather refreshes by outcome.",
		}, []string{"outcome"}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "weatherapi_ns",
			Name:      "fetch_duration_seconds",
			Help:      "weatherapi.com request duration in seconds, retries included.",
			Buckets:   []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}),
		RateLimitWaits: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherapi_ns",
			Name:      "rate_limit_waits_total",
			Help:      "Refreshes that had to wait for the upstream rate limiter.",
		}),
		ControllerOnline: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "weatherapi_ns",
			Name:      "controller_online",
			Help:      "1 when the controller node reports Online, 0 otherwise.",
		}),
		HubMessages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "weatherapi_ns",
			Name:      "hub_messages_total",
			Help:      "Polyglot messages by direction and kind.",
		}, []string{"direction", "kind"}),
		DriverUpdates: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "weatherapi_ns",
			Name:      "driver_updates_total",
			Help:      "Driver values published to the hub.",
		}),
	}
}
