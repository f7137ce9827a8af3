package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the relay. It satisfies
// sessioncache.Observer and ai.AttemptObserver.
type Metrics struct {
	Requests          *prometheus.CounterVec
	Truncations       *prometheus.CounterVec
	ProviderAttempts  *prometheus.CounterVec
	ProviderLatency   *prometheus.HistogramVec
	CacheLookups      *prometheus.CounterVec
	CacheEvictions    *prometheus.CounterVec
	CacheRemoteErrors *prometheus.CounterVec
	UsedTokens        prometheus.Histogram

	gatherer prometheus.Gatherer
}

// NewMetrics registers instruments on reg. A nil reg gets a fresh private
// registry, which keeps tests from colliding on the global one.
func NewMetrics(namespace string, reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	f := promauto.With(reg)
	return &Metrics{
		Requests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Chat requests by outcome.",
		}, []string{"outcome"}),
		Truncations: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "history_truncations_total",
			Help:      "Requests whose history was trimmed, by provider and whether the budget still overflowed.",
		}, []string{"provider", "exceeded"}),
		ProviderAttempts: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "provider_attempts_total",
			Help:      "Provider calls by provider and outcome.",
		}, []string{"provider", "outcome"}),
		ProviderLatency: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "provider_latency_ms",
			Help:      "Provider call latency in milliseconds.",
			Buckets:   []float64{100, 250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"provider"}),
		CacheLookups: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_lookups_total",
			Help:      "Session cache lookups by result.",
		}, []string{"result"}),
		CacheEvictions: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_evictions_total",
			Help:      "Session cache evictions by reason.",
		}, []string{"reason"}),
		CacheRemoteErrors: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_cache_remote_errors_total",
			Help:      "Remote session store failures by operation.",
		}, []string{"op"}),
		UsedTokens: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "session_used_tokens",
			Help:      "Token usage reported back to clients.",
			Buckets:   prometheus.ExponentialBuckets(256, 2, 10),
		}),
		gatherer: reg,
	}
}

func (m *Metrics) CacheLookup(hit bool) {
	result := "miss"
	if hit {
		result = "hit"
	}
	m.CacheLookups.WithLabelValues(result).Inc()
}

func (m *Metrics) CacheEviction(reason string) {
	m.CacheEvictions.WithLabelValues(reason).Inc()
}

func (m *Metrics) CacheRemoteError(op string) {
	m.CacheRemoteErrors.WithLabelValues(op).Inc()
}

func (m *Metrics) ProviderAttempt(provider, outcome string, elapsed time.Duration) {
	m.ProviderAttempts.WithLabelValues(provider, outcome).Inc()
	m.ProviderLatency.WithLabelValues(provider).Observe(float64(elapsed.Milliseconds()))
}

func (m *Metrics) ObserveRequest(outcome string) {
	m.Requests.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveTruncation(provider string, exceeded bool) {
	label := "false"
	if exceeded {
		label = "true"
	}
	m.Truncations.WithLabelValues(provider, label).Inc()
}

func (m *Metrics) ObserveUsedTokens(n int) {
	m.UsedTokens.Observe(float64(n))
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.gatherer, promhttp.HandlerOpts{})
}
