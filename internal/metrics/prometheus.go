package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "endpoint", "status"},
	)
	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "Histogram of HTTP request durations.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10},
		},
		[]string{"method", "endpoint", "status"},
	)
	tyaRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tya_requests_total",
			Help: "Requests sent to the Themes & Authors service.",
		},
		[]string{"kind", "phase", "outcome"},
	)
	tyaRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tya_request_duration_seconds",
			Help:    "Latency of Themes & Authors requests.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
		},
		[]string{"kind", "phase"},
	)
	storeDegradedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "store_degraded_total",
			Help: "Storefront builds where upstream failures were replaced by empty results.",
		},
		[]string{"kind"},
	)
	storeProducts = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "store_products",
			Help: "Products returned by the last storefront build, per kind.",
		},
		[]string{"kind"},
	)
)

func init() {
	prometheus.MustRegister(httpRequestsTotal)
	prometheus.MustRegister(httpRequestDuration)
	prometheus.MustRegister(tyaRequestsTotal)
	prometheus.MustRegister(tyaRequestDuration)
	prometheus.MustRegister(storeDegradedTotal)
	prometheus.MustRegister(storeProducts)
}

// RecordRequest records metrics for an inbound HTTP request.
func RecordRequest(method, endpoint string, statusCode int, duration time.Duration) {
	status := classifyStatus(statusCode)
	httpRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	httpRequestDuration.WithLabelValues(method, endpoint, status).Observe(duration.Seconds())
}

// RecordUpstream records one request to the catalog service. A zero status
// code means the request never got a response.
func RecordUpstream(kind, phase string, statusCode int, duration time.Duration) {
	outcome := "error"
	if statusCode != 0 {
		outcome = classifyStatus(statusCode)
	}
	tyaRequestsTotal.WithLabelValues(kind, phase, outcome).Inc()
	tyaRequestDuration.WithLabelValues(kind, phase).Observe(duration.Seconds())
}

// RecordDegraded counts a kind that was emptied because of upstream failure.
func RecordDegraded(kind string) {
	storeDegradedTotal.WithLabelValues(kind).Inc()
}

// SetProductCount publishes how many products of a kind the last build returned.
func SetProductCount(kind string, n int) {
	storeProducts.WithLabelValues(kind).Set(float64(n))
}

// classifyStatus buckets an HTTP status code.
func classifyStatus(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "2xx"
	} else if statusCode >= 300 && statusCode < 400 {
		return "3xx"
	} else if statusCode >= 400 && statusCode < 500 {
		return "4xx"
	} else if statusCode >= 500 && statusCode < 600 {
		return "5xx"
	}
	return "unknown"
}

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
