// Package metrics holds the Prometheus collectors for the renewal engine.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Metrics holds all Prometheus metrics for the application. A nil *Metrics
// is valid and records nothing.
type Metrics struct {
	RemindersTotal   *prometheus.CounterVec
	ReminderRunTime  *prometheus.HistogramVec
	SendDuration     *prometheus.HistogramVec
	RenewalsTotal    *prometheus.CounterVec
	SkippedTypes     *prometheus.CounterVec
	LastRunTimestamp prometheus.Gauge
}

// New creates the collectors and registers them with reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		RemindersTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renewal_reminders_total",
			Help: "Reminder attempts by service type and outcome status",
		}, []string{"service_type", "status"}),
		ReminderRunTime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renewal_reminder_run_duration_seconds",
			Help:    "Duration of a reminder run per service type",
			Buckets: prometheus.DefBuckets,
		}, []string{"service_type"}),
		SendDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "renewal_notification_send_duration_seconds",
			Help:    "Latency of notification sender calls",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		}, []string{"template"}),
		RenewalsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renewal_transitions_total",
			Help: "Policy state transitions by type, action and outcome",
		}, []string{"policy_type", "action", "outcome"}),
		SkippedTypes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "renewal_reminder_skipped_types_total",
			Help: "Service types skipped for missing or inactive configuration",
		}, []string{"service_type"}),
		LastRunTimestamp: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "renewal_reminder_last_run_timestamp_seconds",
			Help: "Unix time of the last completed reminder run",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.RemindersTotal,
			m.ReminderRunTime,
			m.SendDuration,
			m.RenewalsTotal,
			m.SkippedTypes,
			m.LastRunTimestamp,
		)
	}
	return m
}

func (m *Metrics) ObserveReminder(serviceType, status string) {
	if m == nil {
		return
	}
	m.RemindersTotal.WithLabelValues(serviceType, status).Inc()
}

func (m *Metrics) ObserveRun(serviceType string, d time.Duration) {
	if m == nil {
		return
	}
	m.ReminderRunTime.WithLabelValues(serviceType).Observe(d.Seconds())
}

func (m *Metrics) ObserveSend(template string, d time.Duration) {
	if m == nil {
		return
	}
	m.SendDuration.WithLabelValues(template).Observe(d.Seconds())
}

func (m *Metrics) ObserveTransition(policyType, action, outcome string) {
	if m == nil {
		return
	}
	m.RenewalsTotal.WithLabelValues(policyType, action, outcome).Inc()
}

func (m *Metrics) ObserveSkip(serviceType string) {
	if m == nil {
		return
	}
	m.SkippedTypes.WithLabelValues(serviceType).Inc()
}

func (m *Metrics) MarkRunCompleted(at time.Time) {
	if m == nil {
		return
	}
	m.LastRunTimestamp.Set(float64(at.Unix()))
}
