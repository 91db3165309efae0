package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds the RelayBox collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	transitions   *prometheus.CounterVec
	payments      *prometheus.CounterVec
	notifications *prometheus.CounterVec
	outbox        *prometheus.CounterVec
	jobDuration   *prometheus.HistogramVec
}

// New registers the collectors on reg. A nil reg yields a no-op Metrics.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		return &Metrics{}
	}
	m := &Metrics{
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybox",
			Name:      "match_transitions_total",
			Help:      "Match status transitions by target status.",
		}, []string{"status"}),
		payments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybox",
			Name:      "payments_total",
			Help:      "Payment outcomes.",
		}, []string{"outcome"}),
		notifications: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybox",
			Name:      "notifications_total",
			Help:      "Notifications handed to the senders by event type and result.",
		}, []string{"event_type", "result"}),
		outbox: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "relaybox",
			Name:      "outbox_events_total",
			Help:      "Outbox publish attempts by result.",
		}, []string{"result"}),
		jobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "relaybox",
			Name:      "job_duration_seconds",
			Help:      "Duration of background job cycles.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"job"}),
	}
	reg.MustRegister(m.transitions, m.payments, m.notifications, m.outbox, m.jobDuration)
	return m
}

func (m *Metrics) IncTransition(status string) {
	if m == nil || m.transitions == nil {
		return
	}
	m.transitions.WithLabelValues(label(status)).Inc()
}

func (m *Metrics) IncPayment(outcome string) {
	if m == nil || m.payments == nil {
		return
	}
	m.payments.WithLabelValues(label(outcome)).Inc()
}

func (m *Metrics) IncNotification(eventType string, ok bool) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(label(eventType), result(ok)).Inc()
}

func (m *Metrics) IncOutbox(ok bool) {
	if m == nil || m.outbox == nil {
		return
	}
	m.outbox.WithLabelValues(result(ok)).Inc()
}

func (m *Metrics) ObserveJob(job string, d time.Duration) {
	if m == nil || m.jobDuration == nil {
		return
	}
	m.jobDuration.WithLabelValues(label(job)).Observe(d.Seconds())
}

func label(v string) string {
	if v == "" {
		return "unknown"
	}
	return v
}

func result(ok bool) string {
	if ok {
		return "ok"
	}
	return "error"
}
