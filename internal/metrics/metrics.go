package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/Meirlen/Tabys-sub000/internal/domain"
	"github.com/Meirlen/Tabys-sub000/internal/worker"
)

// Metrics groups all Prometheus instruments used across the fabric.
// Registered once at startup via New(); passed by pointer wherever needed.
type Metrics struct {
	DeliveriesSent      prometheus.Counter
	DeliveriesFailed    prometheus.Counter
	DeliveryLatency     prometheus.Histogram
	BroadcastsCompleted *prometheus.CounterVec
	WatcherTicks        prometheus.Counter
	WatcherAlerts       prometheus.Counter
	AlertEmailsSent     prometheus.Counter
	AlertEmailsFailed   prometheus.Counter
	QueueDepthUrgent    prometheus.Gauge
	QueueDepthNormal    prometheus.Gauge
}

// New registers all instruments with the given Prometheus registerer and
// returns the populated Metrics struct.
// Using a custom registry (instead of prometheus.DefaultRegisterer) keeps
// tests isolated and avoids global state.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		DeliveriesSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deliveries_sent_total",
			Help: "Total number of deliveries handed to Telegram successfully.",
		}),
		DeliveriesFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "deliveries_failed_total",
			Help: "Total number of deliveries that failed terminally.",
		}),
		DeliveryLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "delivery_send_seconds",
			Help:    "Per-delivery latency from first attempt to finalization.",
			Buckets: prometheus.DefBuckets,
		}),
		BroadcastsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "broadcasts_completed_total",
			Help: "Broadcasts that reached a terminal state after a drain.",
		}, []string{"status"}),
		WatcherTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_watcher_ticks_total",
			Help: "Moderation watcher tick count.",
		}),
		WatcherAlerts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "moderation_alerts_total",
			Help: "Moderation alerts dispatched on at least one channel.",
		}),
		AlertEmailsSent: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alert_emails_sent_total",
			Help: "Moderation alert emails accepted by the provider.",
		}),
		AlertEmailsFailed: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "alert_emails_failed_total",
			Help: "Moderation alert emails rejected by the provider.",
		}),
		QueueDepthUrgent: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drain_queue_depth_urgent",
			Help: "Current number of jobs in the urgent drain tier.",
		}),
		QueueDepthNormal: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "drain_queue_depth_normal",
			Help: "Current number of jobs in the normal drain tier.",
		}),
	}

	reg.MustRegister(
		m.DeliveriesSent,
		m.DeliveriesFailed,
		m.DeliveryLatency,
		m.BroadcastsCompleted,
		m.WatcherTicks,
		m.WatcherAlerts,
		m.AlertEmailsSent,
		m.AlertEmailsFailed,
		m.QueueDepthUrgent,
		m.QueueDepthNormal,
	)

	return m
}

// PoolHooks returns the metric callbacks expected by worker.MetricHooks.
// Centralises the prometheus observation calls so the workers stay
// metrics-agnostic.
func (m *Metrics) PoolHooks() worker.MetricHooks {
	return worker.MetricHooks{
		OnDeliverySent: func(latency time.Duration) {
			m.DeliveriesSent.Inc()
			m.DeliveryLatency.Observe(latency.Seconds())
		},
		OnDeliveryFailed: func() {
			m.DeliveriesFailed.Inc()
		},
		OnBroadcastComplete: func(status domain.BroadcastStatus) {
			m.BroadcastsCompleted.WithLabelValues(string(status)).Inc()
		},
	}
}

// WatcherHooks returns the metric callbacks for the moderation watcher.
func (m *Metrics) WatcherHooks() worker.WatcherHooks {
	return worker.WatcherHooks{
		OnTick:     func() { m.WatcherTicks.Inc() },
		OnNotified: func(int) { m.WatcherAlerts.Inc() },
		OnEmails: func(sent, failed int) {
			m.AlertEmailsSent.Add(float64(sent))
			m.AlertEmailsFailed.Add(float64(failed))
		},
	}
}
