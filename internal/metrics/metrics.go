// Package metrics exposes the gateway's Prometheus instrumentation:
// request counts and latency by provider/model/status, billed picoUSD,
// and in-flight stream gauges.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_requests_total",
			Help: "Total number of proxied requests",
		},
		[]string{"provider", "model", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "ai_gateway_request_duration_seconds",
			Help:    "Request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"provider", "model"},
	)

	InputTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_input_tokens_total",
			Help: "Total number of input tokens forwarded",
		},
		[]string{"provider", "model"},
	)

	OutputTokensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_output_tokens_total",
			Help: "Total number of output tokens forwarded",
		},
		[]string{"provider", "model"},
	)

	BilledPicoUSDTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_billed_picousd_total",
			Help: "Total picoUSD billed across all requests",
		},
		[]string{"provider", "model", "pricing_source"},
	)

	StreamsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ai_gateway_streams_in_flight",
		Help: "Number of streaming responses currently being relayed",
	})

	UpstreamErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "ai_gateway_upstream_errors_total",
			Help: "Total number of upstream transport/application errors",
		},
		[]string{"provider"},
	)
)

// RecordRequest records one completed request's core measurements.
func RecordRequest(provider, model, status string, inputTokens, outputTokens int, durationSeconds float64) {
	RequestsTotal.WithLabelValues(provider, model, status).Inc()
	InputTokensTotal.WithLabelValues(provider, model).Add(float64(inputTokens))
	OutputTokensTotal.WithLabelValues(provider, model).Add(float64(outputTokens))
	RequestDuration.WithLabelValues(provider, model).Observe(durationSeconds)
}

// RecordBilling adds a finalized charge to the running picoUSD total.
func RecordBilling(provider, model, pricingSource string, picoUSD int64) {
	BilledPicoUSDTotal.WithLabelValues(provider, model, pricingSource).Add(float64(picoUSD))
}

// Handler serves the standard Prometheus text exposition format.
func Handler() http.Handler {
	return promhttp.Handler()
}
