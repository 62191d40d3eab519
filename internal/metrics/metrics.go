// Package metrics provides Prometheus metrics collection for the fraud
// scoring service. It defines the scoring, model and HTTP metrics exposed on
// the /metrics endpoint.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for the service.
type Metrics struct {
	// Scoring metrics
	Predictions prometheus.Counter     // Transactions scored successfully
	Failures    *prometheus.CounterVec // Failed scoring requests by error kind
	Flagged     prometheus.Counter     // Transactions classified as fraud
	Latency     prometheus.Histogram   // End-to-end scoring latency in seconds
	Scores      prometheus.Histogram   // Distribution of combined fraud probabilities

	// Model metrics
	ModelAge     prometheus.Gauge       // Seconds since the active models were loaded
	ModelReloads *prometheus.CounterVec // Reload attempts by result

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec   // Requests by method, route and status
	HTTPDuration *prometheus.HistogramVec // Request duration by method and route
	WSMessages   prometheus.Counter       // Websocket frames scored
}

// New creates and registers all metrics on the default registry.
func New() *Metrics {
	return NewWithRegistry(prometheus.DefaultRegisterer)
}

// NewWithRegistry creates metrics with a custom registry (useful for testing).
func NewWithRegistry(registerer prometheus.Registerer) *Metrics {
	factory := promauto.With(registerer)
	return &Metrics{
		Predictions: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_predictions_total",
			Help: "Total number of transactions scored",
		}),
		Failures: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_failures_total",
			Help: "Total number of failed scoring requests by error kind",
		}, []string{"kind"}),
		Flagged: factory.NewCounter(prometheus.CounterOpts{
			Name: "fraud_flagged_total",
			Help: "Total number of transactions classified as fraud",
		}),
		Latency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_latency_seconds",
			Help:    "Scoring latency in seconds (end-to-end)",
			Buckets: []float64{0.0005, 0.001, 0.0025, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
		}),
		Scores: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "fraud_scores",
			Help:    "Distribution of combined fraud probabilities",
			Buckets: prometheus.LinearBuckets(0, 0.1, 11),
		}),
		ModelAge: factory.NewGauge(prometheus.GaugeOpts{
			Name: "fraud_model_age_seconds",
			Help: "Seconds since the active models were loaded",
		}),
		ModelReloads: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "fraud_model_reloads_total",
			Help: "Model reload attempts by result",
		}, []string{"result"}),
		HTTPRequests: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		}, []string{"method", "endpoint", "status"}),
		HTTPDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "endpoint"}),
		WSMessages: factory.NewCounter(prometheus.CounterOpts{
			Name: "ws_messages_total",
			Help: "Total number of websocket frames scored",
		}),
	}
}
