// Package metrics exposes the Prometheus collectors for sessions, uploads,
// the expiry reaper and realtime fan-out.
//
// All methods are nil-safe so components can run without metrics in tests.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "passshare"

// Metrics groups every collector the service registers.
type Metrics struct {
	sessionsCreated    prometheus.Counter
	sessionsSuperseded prometheus.Counter
	sessionJoins       *prometheus.CounterVec
	uploads            *prometheus.CounterVec
	broadcastFailures  prometheus.Counter

	reaperSweeps   prometheus.Counter
	reaperReaped   prometheus.Counter
	reaperFailures prometheus.Counter
	reaperSkipped  prometheus.Counter
	reaperDuration prometheus.Histogram

	subscribers     prometheus.Gauge
	eventsDelivered prometheus.Counter
	eventsDropped   prometheus.Counter
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		sessionsCreated: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_created_total",
			Help:      "Sessions created.",
		}),
		sessionsSuperseded: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_superseded_total",
			Help:      "Expired sessions purged because their passkey was reused.",
		}),
		sessionJoins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_joins_total",
			Help:      "Join attempts by result (joined, already_member).",
		}, []string{"result"}),
		uploads: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "uploads_total",
			Help:      "Stored files by target (session, drive, copy).",
		}, []string{"target"}),
		broadcastFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_failures_total",
			Help:      "Upload notifications that could not be published.",
		}),
		reaperSweeps: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "sweeps_total",
			Help:      "Completed reaper sweeps.",
		}),
		reaperReaped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "sessions_reaped_total",
			Help:      "Expired sessions removed together with their files.",
		}),
		reaperFailures: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "failures_total",
			Help:      "Per-session cleanup failures (retried next sweep).",
		}),
		reaperSkipped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "skipped_total",
			Help:      "Expired sessions skipped because they were busy.",
		}),
		reaperDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "reaper",
			Name:      "sweep_duration_seconds",
			Help:      "Reaper sweep latency.",
			Buckets:   prometheus.DefBuckets,
		}),
		subscribers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "subscriptions",
			Help:      "Live topic subscriptions on this instance.",
		}),
		eventsDelivered: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_delivered_total",
			Help:      "Events enqueued to subscribers.",
		}),
		eventsDropped: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "realtime",
			Name:      "events_dropped_total",
			Help:      "Events dropped because a subscriber queue was full.",
		}),
	}
}

// Handler serves the registry in the Prometheus text format.
func Handler(g prometheus.Gatherer) http.Handler {
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}

func (m *Metrics) SessionCreated() {
	if m == nil {
		return
	}
	m.sessionsCreated.Inc()
}

func (m *Metrics) SessionSuperseded() {
	if m == nil {
		return
	}
	m.sessionsSuperseded.Inc()
}

// SessionJoined records a join; alreadyMember marks the idempotent path.
func (m *Metrics) SessionJoined(alreadyMember bool) {
	if m == nil {
		return
	}
	result := "joined"
	if alreadyMember {
		result = "already_member"
	}
	m.sessionJoins.WithLabelValues(result).Inc()
}

func (m *Metrics) FileStored(target string) {
	if m == nil {
		return
	}
	m.uploads.WithLabelValues(target).Inc()
}

func (m *Metrics) BroadcastFailed() {
	if m == nil {
		return
	}
	m.broadcastFailures.Inc()
}

// SweepDone records one reaper cycle.
func (m *Metrics) SweepDone(reaped, failed, skipped int, took time.Duration) {
	if m == nil {
		return
	}
	m.reaperSweeps.Inc()
	m.reaperReaped.Add(float64(reaped))
	m.reaperFailures.Add(float64(failed))
	m.reaperSkipped.Add(float64(skipped))
	m.reaperDuration.Observe(took.Seconds())
}

func (m *Metrics) SubscriptionAdded() {
	if m == nil {
		return
	}
	m.subscribers.Inc()
}

func (m *Metrics) SubscriptionRemoved() {
	if m == nil {
		return
	}
	m.subscribers.Dec()
}

// EventsFannedOut records the outcome of delivering one event locally.
func (m *Metrics) EventsFannedOut(delivered, dropped int) {
	if m == nil {
		return
	}
	m.eventsDelivered.Add(float64(delivered))
	m.eventsDropped.Add(float64(dropped))
}
