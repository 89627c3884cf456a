package observability

import (
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// ClaimMetrics tracks the conversion pipeline: initiations, finalizations,
// recoveries, and the external dependencies (signer, nonce oracle).
type ClaimMetrics struct {
	initiated     prometheus.Counter
	finalized     prometheus.Counter
	recovered     *prometheus.CounterVec
	blocked       prometheus.Counter
	rejections    *prometheus.CounterVec
	signerCalls   *prometheus.CounterVec
	signerLatency prometheus.Histogram
	oracleCalls   *prometheus.CounterVec
	oracleLatency prometheus.Histogram
}

var (
	claimMetricsOnce sync.Once
	claimRegistry    *ClaimMetrics

	httpMetricsOnce sync.Once
	httpRegistry    *HTTPMetrics
)

// Claims returns the lazily-initialised claim pipeline metrics registry.
func Claims() *ClaimMetrics {
	claimMetricsOnce.Do(func() {
		claimRegistry = &ClaimMetrics{
			initiated: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "claims",
				Name:      "initiated_total",
				Help:      "Conversions that passed the fraud gate and debited a balance.",
			}),
			finalized: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "claims",
				Name:      "finalized_total",
				Help:      "Conversions completed with an accepted transaction hash.",
			}),
			recovered: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "claims",
				Name:      "recovered_total",
				Help:      "Pending conversions refunded, segmented by trigger.",
			}, []string{"mode"}),
			blocked: prometheus.NewCounter(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "claims",
				Name:      "blocked_total",
				Help:      "Recovery attempts denied because the nonce was consumed on-chain.",
			}),
			rejections: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "claims",
				Name:      "rejections_total",
				Help:      "Conversion attempts rejected before any mutation, by reason.",
			}, []string{"reason"}),
			signerCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "signer",
				Name:      "requests_total",
				Help:      "Signing service calls segmented by outcome.",
			}, []string{"outcome"}),
			signerLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "vbms",
				Subsystem: "signer",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for signing service calls.",
				Buckets:   prometheus.DefBuckets,
			}),
			oracleCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "oracle",
				Name:      "lookups_total",
				Help:      "Nonce oracle lookups segmented by outcome (unused, consumed, error).",
			}, []string{"outcome"}),
			oracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
				Namespace: "vbms",
				Subsystem: "oracle",
				Name:      "lookup_duration_seconds",
				Help:      "Latency distribution for nonce oracle lookups.",
				Buckets:   prometheus.DefBuckets,
			}),
		}
		prometheus.MustRegister(
			claimRegistry.initiated,
			claimRegistry.finalized,
			claimRegistry.recovered,
			claimRegistry.blocked,
			claimRegistry.rejections,
			claimRegistry.signerCalls,
			claimRegistry.signerLatency,
			claimRegistry.oracleCalls,
			claimRegistry.oracleLatency,
		)
	})
	return claimRegistry
}

// RecordInitiated increments the initiation counter.
func (m *ClaimMetrics) RecordInitiated() {
	if m == nil {
		return
	}
	m.initiated.Inc()
}

// RecordFinalized increments the finalization counter.
func (m *ClaimMetrics) RecordFinalized() {
	if m == nil {
		return
	}
	m.finalized.Inc()
}

// RecordRecovered increments the recovery counter for the supplied trigger
// ("auto" or "manual").
func (m *ClaimMetrics) RecordRecovered(mode string) {
	if m == nil {
		return
	}
	m.recovered.WithLabelValues(normalizeLabel(mode)).Inc()
}

// RecordBlocked increments the consumed-nonce counter.
func (m *ClaimMetrics) RecordBlocked() {
	if m == nil {
		return
	}
	m.blocked.Inc()
}

// RecordRejection increments the rejection counter for the supplied reason
// (denied, cooldown, minimum, insufficient, identity, pending).
func (m *ClaimMetrics) RecordRejection(reason string) {
	if m == nil {
		return
	}
	m.rejections.WithLabelValues(normalizeLabel(reason)).Inc()
}

// ObserveSigner records a signing service call.
func (m *ClaimMetrics) ObserveSigner(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.signerCalls.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.signerLatency.Observe(duration.Seconds())
}

// ObserveOracle records a nonce oracle lookup.
func (m *ClaimMetrics) ObserveOracle(outcome string, duration time.Duration) {
	if m == nil {
		return
	}
	m.oracleCalls.WithLabelValues(normalizeLabel(outcome)).Inc()
	m.oracleLatency.Observe(duration.Seconds())
}

// HTTPMetrics tracks the gateway surface.
type HTTPMetrics struct {
	requests  *prometheus.CounterVec
	latency   *prometheus.HistogramVec
	throttles *prometheus.CounterVec
}

// HTTP returns the lazily-initialised gateway metrics registry.
func HTTP() *HTTPMetrics {
	httpMetricsOnce.Do(func() {
		httpRegistry = &HTTPMetrics{
			requests: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "http",
				Name:      "requests_total",
				Help:      "Gateway requests segmented by route and status class.",
			}, []string{"route", "status"}),
			latency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
				Namespace: "vbms",
				Subsystem: "http",
				Name:      "request_duration_seconds",
				Help:      "Latency distribution for gateway handlers.",
				Buckets:   prometheus.DefBuckets,
			}, []string{"route"}),
			throttles: prometheus.NewCounterVec(prometheus.CounterOpts{
				Namespace: "vbms",
				Subsystem: "http",
				Name:      "throttled_total",
				Help:      "Requests rejected by the per-client rate limiter.",
			}, []string{"route"}),
		}
		prometheus.MustRegister(httpRegistry.requests, httpRegistry.latency, httpRegistry.throttles)
	})
	return httpRegistry
}

// Observe records a completed request.
func (m *HTTPMetrics) Observe(route, status string, duration time.Duration) {
	if m == nil {
		return
	}
	m.requests.WithLabelValues(normalizeLabel(route), normalizeLabel(status)).Inc()
	m.latency.WithLabelValues(normalizeLabel(route)).Observe(duration.Seconds())
}

// RecordThrottle records a rate-limited request.
func (m *HTTPMetrics) RecordThrottle(route string) {
	if m == nil {
		return
	}
	m.throttles.WithLabelValues(normalizeLabel(route)).Inc()
}

func normalizeLabel(value string) string {
	trimmed := strings.TrimSpace(strings.ToLower(value))
	if trimmed == "" {
		return "unknown"
	}
	return trimmed
}
