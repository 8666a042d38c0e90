// Package metrics provides Prometheus metrics for bet selection.
package metrics

import (
	"time"

	"github.com/phenomenon0/betting-analytics/pkg/betting"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
)

// SelectorMetrics collects and exposes selection-related Prometheus metrics.
// It implements betting.PerformanceMonitor and betting.EventEmitter.
type SelectorMetrics struct {
	registry *prometheus.Registry

	// Operation metrics
	OperationDuration *prometheus.HistogramVec
	Errors            *prometheus.CounterVec

	// Selection metrics
	ValidationFailures *prometheus.CounterVec
	BetsSelected       *prometheus.HistogramVec
	EventsEmitted      *prometheus.CounterVec

	// Model metrics
	ModelSettlements *prometheus.CounterVec
	ModelROI         *prometheus.GaugeVec
	ModelProfit      *prometheus.GaugeVec

	// Service metrics
	HTTPRequests    *prometheus.CounterVec
	HTTPLatency     *prometheus.HistogramVec
	RateLimited     *prometheus.CounterVec
	StreamClients   *prometheus.GaugeVec
	PublishFailures *prometheus.CounterVec
}

// NewSelectorMetrics creates a new metrics collector on a private registry.
func NewSelectorMetrics() *SelectorMetrics {
	registry := prometheus.NewRegistry()

	m := &SelectorMetrics{
		registry: registry,

		OperationDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betselect_operation_duration_seconds",
				Help:    "Duration of named selection operations",
				Buckets: prometheus.ExponentialBuckets(0.00001, 4, 10), // 10us to ~2.6s
			},
			[]string{"operation"},
		),
		Errors: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_errors_total",
				Help: "Unexpected failures routed to the error handler",
			},
			[]string{"component", "operation"},
		),

		ValidationFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_validation_failures_total",
				Help: "Opportunities rejected by the risk validator",
			},
			[]string{"reason"},
		),
		BetsSelected: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betselect_bets_selected",
				Help:    "Number of bets returned per selection",
				Buckets: []float64{0, 1, 2, 3, 5, 10, 20, 50},
			},
			[]string{"profile"},
		),
		EventsEmitted: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_events_emitted_total",
				Help: "Events emitted by the selector",
			},
			[]string{"event"},
		),

		ModelSettlements: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_model_settlements_total",
				Help: "Settled bets recorded per model",
			},
			[]string{"model", "outcome"},
		),
		ModelROI: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "betselect_model_roi",
				Help: "Running return on investment per model",
			},
			[]string{"model"},
		),
		ModelProfit: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "betselect_model_profit",
				Help: "Running profit per model",
			},
			[]string{"model"},
		),

		HTTPRequests: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_http_requests_total",
				Help: "HTTP requests served",
			},
			[]string{"route", "status"},
		),
		HTTPLatency: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "betselect_http_latency_seconds",
				Help:    "HTTP request latency",
				Buckets: prometheus.ExponentialBuckets(0.0005, 2, 12), // 0.5ms to ~1s
			},
			[]string{"route"},
		),
		RateLimited: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_rate_limited_total",
				Help: "Requests rejected by the rate limiter",
			},
			[]string{},
		),
		StreamClients: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "betselect_stream_clients",
				Help: "Connected WebSocket clients",
			},
			[]string{},
		),
		PublishFailures: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "betselect_publish_failures_total",
				Help: "Events that could not be published to a sink",
			},
			[]string{"sink"},
		),
	}

	m.registerAll()

	return m
}

func (m *SelectorMetrics) registerAll() {
	m.registry.MustRegister(
		m.OperationDuration,
		m.Errors,
		m.ValidationFailures,
		m.BetsSelected,
		m.EventsEmitted,
		m.ModelSettlements,
		m.ModelROI,
		m.ModelProfit,
		m.HTTPRequests,
		m.HTTPLatency,
		m.RateLimited,
		m.StreamClients,
		m.PublishFailures,
	)
}

// Registry returns the prometheus registry.
func (m *SelectorMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// --- Helper methods for recording metrics ---

// RecordOperation records a named operation duration in milliseconds.
func (m *SelectorMetrics) RecordOperation(name string, durationMs float64) {
	if durationMs < 0 {
		durationMs = 0
	}
	m.OperationDuration.WithLabelValues(name).Observe(durationMs / 1000)
}

// Emit counts selector events. Validation failures are also counted by reason.
func (m *SelectorMetrics) Emit(name string, payload any) {
	m.EventsEmitted.WithLabelValues(name).Inc()

	if p, ok := payload.(betting.ValidationFailedPayload); ok {
		m.ValidationFailures.WithLabelValues(p.Reason).Inc()
	}
}

// RecordError records an unexpected failure.
func (m *SelectorMetrics) RecordError(component, operation string) {
	m.Errors.WithLabelValues(component, operation).Inc()
}

// RecordSelection records how many bets a selection returned.
func (m *SelectorMetrics) RecordSelection(profile string, count int) {
	m.BetsSelected.WithLabelValues(profile).Observe(float64(count))
}

// RecordSettlement records a settled bet and the model's updated stats.
func (m *SelectorMetrics) RecordSettlement(stats betting.ModelStats, won bool) {
	outcome := "loss"
	if won {
		outcome = "win"
	}
	m.ModelSettlements.WithLabelValues(stats.Model, outcome).Inc()
	m.ModelROI.WithLabelValues(stats.Model).Set(DecimalToFloat64(stats.ROI))
	m.ModelProfit.WithLabelValues(stats.Model).Set(DecimalToFloat64(stats.Profit))
}

// RecordRequest records a served HTTP request.
func (m *SelectorMetrics) RecordRequest(route, status string, latency time.Duration) {
	m.HTTPRequests.WithLabelValues(route, status).Inc()
	m.HTTPLatency.WithLabelValues(route).Observe(latency.Seconds())
}

// RecordRateLimited records a request rejected by the rate limiter.
func (m *SelectorMetrics) RecordRateLimited() {
	m.RateLimited.WithLabelValues().Inc()
}

// UpdateStreamClients sets the connected WebSocket client count.
func (m *SelectorMetrics) UpdateStreamClients(count int) {
	m.StreamClients.WithLabelValues().Set(float64(count))
}

// RecordPublishFailure records an event dropped by a sink.
func (m *SelectorMetrics) RecordPublishFailure(sink string) {
	m.PublishFailures.WithLabelValues(sink).Inc()
}

// --- Decimal helpers ---

// DecimalToFloat64 safely converts decimal.Decimal to float64 for metrics.
func DecimalToFloat64(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
