package services

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

// Metrics groups the workflow collectors on a dedicated registry so tests
// can build as many as they like.
type Metrics struct {
	Registry *prometheus.Registry

	transitions    *prometheus.CounterVec
	commitRetries  prometheus.Counter
	commitDuration prometheus.Histogram
	sweepFindings  *prometheus.CounterVec
	notifyFailures *prometheus.CounterVec
}

func NewMetrics() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donation",
			Name:      "transitions_total",
			Help:      "Decisions submitted, by subject role, decision and outcome.",
		}, []string{"role", "decision", "outcome"}),
		commitRetries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "donation",
			Name:      "commit_retries_total",
			Help:      "Transition commits retried after a storage failure.",
		}),
		commitDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "donation",
			Name:      "commit_duration_seconds",
			Help:      "Time spent committing a transition, retries included.",
			Buckets:   prometheus.DefBuckets,
		}),
		sweepFindings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donation",
			Name:      "reconciliation_findings_total",
			Help:      "Records classified by the reconciliation sweep.",
		}, []string{"classification", "repaired"}),
		notifyFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "donation",
			Name:      "notification_failures_total",
			Help:      "Status change notifications that could not be delivered.",
		}, []string{"sink"}),
	}
	m.Registry.MustRegister(
		m.transitions,
		m.commitRetries,
		m.commitDuration,
		m.sweepFindings,
		m.notifyFailures,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) observeTransition(role, decision, outcome string) {
	if m == nil {
		return
	}
	m.transitions.WithLabelValues(role, decision, outcome).Inc()
}

func (m *Metrics) observeRetry() {
	if m == nil {
		return
	}
	m.commitRetries.Inc()
}

func (m *Metrics) observeCommit(d time.Duration) {
	if m == nil {
		return
	}
	m.commitDuration.Observe(d.Seconds())
}

func (m *Metrics) observeFinding(classification string, repaired bool) {
	if m == nil {
		return
	}
	label := "false"
	if repaired {
		label = "true"
	}
	m.sweepFindings.WithLabelValues(classification, label).Inc()
}

func (m *Metrics) observeNotifyFailure(sink string) {
	if m == nil {
		return
	}
	m.notifyFailures.WithLabelValues(sink).Inc()
}
