// metrics.go

// Package metrics defines the Prometheus counters exported on /metrics.
// A nil *Metrics is valid and records nothing.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics groups the service counters.
type Metrics struct {
	mailQueued  *prometheus.CounterVec
	mailDropped *prometheus.CounterVec
	mailSent    *prometheus.CounterVec
	mailFailed  *prometheus.CounterVec
	accountOps  *prometheus.CounterVec
}

// New registers the counters on reg.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		mailQueued: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "mail_queued_total",
			Help:      "Mail jobs accepted by the outbound queue.",
		}, []string{"type"}),
		mailDropped: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "mail_dropped_total",
			Help:      "Mail jobs dropped unsent: queue full or closed, or the carried token expired.",
		}, []string{"type"}),
		mailSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "mail_sent_total",
			Help:      "Mail jobs delivered by the worker.",
		}, []string{"type"}),
		mailFailed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "mail_failed_total",
			Help:      "Mail jobs the worker failed to deliver.",
		}, []string{"type"}),
		accountOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: "linkvault",
			Name:      "account_operations_total",
			Help:      "Account operations by operation and outcome.",
		}, []string{"operation", "outcome"}),
	}
}

func (m *Metrics) MailQueued(jobType string) {
	if m != nil {
		m.mailQueued.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) MailDropped(jobType string) {
	if m != nil {
		m.mailDropped.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) MailSent(jobType string) {
	if m != nil {
		m.mailSent.WithLabelValues(jobType).Inc()
	}
}

func (m *Metrics) MailFailed(jobType string) {
	if m != nil {
		m.mailFailed.WithLabelValues(jobType).Inc()
	}
}

// AccountOp counts one operation result, e.g. ("login", "invalid_credentials").
func (m *Metrics) AccountOp(operation, outcome string) {
	if m != nil {
		m.accountOps.WithLabelValues(operation, outcome).Inc()
	}
}
