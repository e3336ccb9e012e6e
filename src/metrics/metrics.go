package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "quote_relay"

// Metrics groups the relay's Prometheus collectors. A nil *Metrics is valid and
// records nothing, so components can be built without a registry in tests.
type Metrics struct {
	Registry prometheus.Gatherer

	connections      prometheus.Gauge
	authenticated    prometheus.Gauge
	upstreamRequests *prometheus.CounterVec
	fallbacks        *prometheus.CounterVec
	cacheRequests    *prometheus.CounterVec
	pushes           *prometheus.CounterVec
	suppressed       prometheus.Counter
	slowConsumers    prometheus.Counter
	pollCycles       prometheus.Counter
	pollDuration     prometheus.Histogram
	schedulerActive  prometheus.Gauge
	tokenRefreshes   *prometheus.CounterVec
	tokenHealthy     prometheus.Gauge
}

// -----------------------------------------------------------------------------

// New registers all collectors on reg. Use prometheus.NewRegistry() for isolation.
func New(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	m := &Metrics{
		Registry: reg,
		connections: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connections",
			Help: "Open client connections.",
		}),
		authenticated: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "authenticated_connections",
			Help: "Client connections that completed authentication.",
		}),
		upstreamRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_requests_total",
			Help: "Upstream provider calls by provider, operation and result.",
		}, []string{"provider", "op", "result"}),
		fallbacks: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "upstream_fallbacks_total",
			Help: "Primary failures answered by the secondary provider attempt.",
		}, []string{"op", "result"}),
		cacheRequests: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "cache_requests_total",
			Help: "Cache lookups by result.",
		}, []string{"result"}),
		pushes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "pushes_total",
			Help: "Messages pushed to sessions by type.",
		}, []string{"type"}),
		suppressed: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "unchanged_snapshots_total",
			Help: "Fetched snapshots not pushed because price and volume were unchanged.",
		}),
		slowConsumers: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "slow_consumer_disconnects_total",
			Help: "Connections closed because their send buffer was full.",
		}),
		pollCycles: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "poll_cycles_total",
			Help: "Completed polling cycles.",
		}),
		pollDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace, Name: "poll_cycle_duration_seconds",
			Help:    "Wall time of one polling cycle.",
			Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
		schedulerActive: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "scheduler_active",
			Help: "1 while the polling scheduler is running.",
		}),
		tokenRefreshes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "token_refreshes_total",
			Help: "Upstream token exchanges by result.",
		}, []string{"result"}),
		tokenHealthy: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "upstream_token_healthy",
			Help: "0 once token exchange has failed past the alert threshold.",
		}),
	}
	m.tokenHealthy.Set(1)
	return m
}

// -----------------------------------------------------------------------------

func (m *Metrics) SetConnections(total, authenticated int) {
	if m == nil {
		return
	}
	m.connections.Set(float64(total))
	m.authenticated.Set(float64(authenticated))
}

func (m *Metrics) UpstreamRequest(provider, op string, err error) {
	if m == nil {
		return
	}
	m.upstreamRequests.WithLabelValues(provider, op, result(err)).Inc()
}

func (m *Metrics) Fallback(op string, err error) {
	if m == nil {
		return
	}
	m.fallbacks.WithLabelValues(op, result(err)).Inc()
}

func (m *Metrics) CacheLookup(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.cacheRequests.WithLabelValues("hit").Inc()
	} else {
		m.cacheRequests.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) Pushed(msgType string, n int) {
	if m == nil || n == 0 {
		return
	}
	m.pushes.WithLabelValues(msgType).Add(float64(n))
}

// PushCounter exposes the push counter of msgType for assertions.
func (m *Metrics) PushCounter(msgType string) prometheus.Counter {
	return m.pushes.WithLabelValues(msgType)
}

func (m *Metrics) Suppressed() {
	if m == nil {
		return
	}
	m.suppressed.Inc()
}

func (m *Metrics) SlowConsumer() {
	if m == nil {
		return
	}
	m.slowConsumers.Inc()
}

func (m *Metrics) PollCycle(d time.Duration) {
	if m == nil {
		return
	}
	m.pollCycles.Inc()
	m.pollDuration.Observe(d.Seconds())
}

func (m *Metrics) SchedulerActive(active bool) {
	if m == nil {
		return
	}
	if active {
		m.schedulerActive.Set(1)
	} else {
		m.schedulerActive.Set(0)
	}
}

func (m *Metrics) TokenRefresh(err error) {
	if m == nil {
		return
	}
	m.tokenRefreshes.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) TokenHealthy(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.tokenHealthy.Set(1)
	} else {
		m.tokenHealthy.Set(0)
	}
}

// -----------------------------------------------------------------------------

func result(err error) string {
	if err != nil {
		return "error"
	}
	return "ok"
}
