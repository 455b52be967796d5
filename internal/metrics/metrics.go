// Package metrics defines the Prometheus collectors shared by the quote
// cache, provider adapters, withdrawal planner, and position ledger.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "yieldrouter"

// Metrics holds every collector the service exports. A nil *Metrics is valid
// and records nothing, so packages can be constructed without a registry.
type Metrics struct {
	CacheLookups     *prometheus.CounterVec
	CacheStaleServes prometheus.Counter
	CacheFetchErrors prometheus.Counter
	WarmUpFailures   prometheus.Counter

	ProviderCalls *prometheus.CounterVec

	PlanDuration *prometheus.HistogramVec

	LedgerMutations *prometheus.CounterVec
	LedgerRetries   prometheus.Counter
	LedgerConflicts prometheus.Counter
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote_cache",
			Name:      "lookups_total",
			Help:      "Quote cache lookups by tier and result.",
		}, []string{"tier", "result"}),
		CacheStaleServes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote_cache",
			Name:      "stale_serves_total",
			Help:      "Expired shared entries served after an upstream failure.",
		}),
		CacheFetchErrors: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote_cache",
			Name:      "fetch_errors_total",
			Help:      "Upstream fetch failures, including timeouts.",
		}),
		WarmUpFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "quote_cache",
			Name:      "warmup_failures_total",
			Help:      "Warm-up operations that failed.",
		}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "provider",
			Name:      "calls_total",
			Help:      "Provider adapter calls by provider, operation and result.",
		}, []string{"provider", "op", "result"}),
		PlanDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "planner",
			Name:      "duration_seconds",
			Help:      "Time spent building withdraw previews.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"result"}),
		LedgerMutations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "mutations_total",
			Help:      "Ledger mutations by kind and result.",
		}, []string{"kind", "result"}),
		LedgerRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "retries_total",
			Help:      "Ledger writes retried after a version conflict.",
		}),
		LedgerConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "conflicts_total",
			Help:      "Ledger mutations abandoned after exhausting retries.",
		}),
	}

	reg.MustRegister(
		m.CacheLookups,
		m.CacheStaleServes,
		m.CacheFetchErrors,
		m.WarmUpFailures,
		m.ProviderCalls,
		m.PlanDuration,
		m.LedgerMutations,
		m.LedgerRetries,
		m.LedgerConflicts,
	)
	return m
}

// CacheLookup counts one lookup against tier ("local", "shared") with result
// ("hit", "miss").
func (m *Metrics) CacheLookup(tier, result string) {
	if m == nil {
		return
	}
	m.CacheLookups.WithLabelValues(tier, result).Inc()
}

// StaleServe counts one stale entry served.
func (m *Metrics) StaleServe() {
	if m == nil {
		return
	}
	m.CacheStaleServes.Inc()
}

// FetchError counts one failed upstream fetch.
func (m *Metrics) FetchError() {
	if m == nil {
		return
	}
	m.CacheFetchErrors.Inc()
}

// WarmUpFailure counts one failed warm-up operation.
func (m *Metrics) WarmUpFailure() {
	if m == nil {
		return
	}
	m.WarmUpFailures.Inc()
}

// ProviderCall counts a provider call. err decides the result label.
func (m *Metrics) ProviderCall(provider, op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(provider, op, result).Inc()
}

// ObservePlan records how long a preview took.
func (m *Metrics) ObservePlan(seconds float64, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.PlanDuration.WithLabelValues(result).Observe(seconds)
}

// LedgerMutation counts one ledger mutation.
func (m *Metrics) LedgerMutation(kind string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.LedgerMutations.WithLabelValues(kind, result).Inc()
}

// LedgerRetry counts one retried write.
func (m *Metrics) LedgerRetry() {
	if m == nil {
		return
	}
	m.LedgerRetries.Inc()
}

// LedgerConflict counts one abandoned mutation.
func (m *Metrics) LedgerConflict() {
	if m == nil {
		return
	}
	m.LedgerConflicts.Inc()
}
