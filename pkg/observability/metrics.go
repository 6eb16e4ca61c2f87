package observability

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Call outcomes recorded on tendril_calls_total.
const (
	OutcomeOK    = "ok"
	OutcomeError = "error"
)

// Subscription close reasons recorded on tendril_subscriptions_closed_total.
const (
	ReasonCompleted   = "completed"
	ReasonFailed      = "failed"
	ReasonUnsubscribe = "unsubscribed"
	ReasonTransport   = "transport"
	ReasonShutdown    = "shutdown"
	ReasonRejected    = "rejected"
)

// Metrics groups the collectors registered by NewMetrics.
type Metrics struct {
	calls        *prometheus.CounterVec
	callDuration *prometheus.HistogramVec

	subscriptionsActive prometheus.Gauge
	subscriptionItems   *prometheus.CounterVec
	subscriptionsClosed *prometheus.CounterVec

	poolDepth     *prometheus.GaugeVec
	poolProcessed *prometheus.CounterVec
	poolDropped   *prometheus.CounterVec
	poolDuration  *prometheus.HistogramVec
}

// NewMetrics creates the collectors and registers them with reg.
// A nil reg registers with prometheus.DefaultRegisterer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}

	m := &Metrics{
		calls: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tendril_calls_total", Help: "Dispatched calls by method, kind and outcome"},
			[]string{"method", "kind", "outcome"},
		),
		callDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tendril_call_duration_seconds",
				Help:    "Duration of dispatched calls",
				Buckets: []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"method", "kind"},
		),
		subscriptionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "tendril_subscriptions_active",
			Help: "Subscriptions currently registered",
		}),
		subscriptionItems: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tendril_subscription_items_total", Help: "Items delivered to subscribers"},
			[]string{"method"},
		),
		subscriptionsClosed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tendril_subscriptions_closed_total", Help: "Closed subscriptions by reason"},
			[]string{"method", "reason"},
		),
		poolDepth: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{Name: "tendril_worker_queue_depth", Help: "Current worker pool queue depth"},
			[]string{"pool"},
		),
		poolProcessed: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tendril_worker_processed_total", Help: "Work items processed"},
			[]string{"pool", "status"},
		),
		poolDropped: prometheus.NewCounterVec(
			prometheus.CounterOpts{Name: "tendril_worker_dropped_total", Help: "Work items dropped due to a full queue"},
			[]string{"pool"},
		),
		poolDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "tendril_worker_processing_duration_seconds",
				Help:    "Time spent processing work items",
				Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0},
			},
			[]string{"pool"},
		),
	}

	reg.MustRegister(
		m.calls,
		m.callDuration,
		m.subscriptionsActive,
		m.subscriptionItems,
		m.subscriptionsClosed,
		m.poolDepth,
		m.poolProcessed,
		m.poolDropped,
		m.poolDuration,
	)
	return m
}

// ObserveCall records one finished request/response call.
func (m *Metrics) ObserveCall(method, kind, outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(method, kind, outcome).Inc()
	m.callDuration.WithLabelValues(method, kind).Observe(d.Seconds())
}

// SubscriptionOpened increments the active gauge.
func (m *Metrics) SubscriptionOpened() {
	if m == nil {
		return
	}
	m.subscriptionsActive.Inc()
}

// SubscriptionItem counts one delivered item.
func (m *Metrics) SubscriptionItem(method string) {
	if m == nil {
		return
	}
	m.subscriptionItems.WithLabelValues(method).Inc()
}

// SubscriptionClosed decrements the active gauge and counts the reason.
func (m *Metrics) SubscriptionClosed(method, reason string) {
	if m == nil {
		return
	}
	m.subscriptionsActive.Dec()
	m.subscriptionsClosed.WithLabelValues(method, reason).Inc()
}

// PoolDepth sets the queue depth gauge of a worker pool.
func (m *Metrics) PoolDepth(pool string, depth int) {
	if m == nil {
		return
	}
	m.poolDepth.WithLabelValues(pool).Set(float64(depth))
}

// PoolProcessed records one processed work item.
func (m *Metrics) PoolProcessed(pool string, err error, d time.Duration) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.poolProcessed.WithLabelValues(pool, status).Inc()
	m.poolDuration.WithLabelValues(pool).Observe(d.Seconds())
}

// PoolDropped counts one work item rejected by a full queue.
func (m *Metrics) PoolDropped(pool string) {
	if m == nil {
		return
	}
	m.poolDropped.WithLabelValues(pool).Inc()
}
