package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "cadence"

// Metrics holds the Prometheus collectors for the scheduling core.
type Metrics struct {
	TransitionsTotal   *prometheus.CounterVec
	RejectionsTotal    *prometheus.CounterVec
	ProposalsTotal     *prometheus.CounterVec
	TriggerRunsTotal   *prometheus.CounterVec
	TriggerItemsTotal  *prometheus.CounterVec
	TriggerRunDuration prometheus.Histogram
	PendingProposals   prometheus.Gauge
}

// New creates the collectors and registers them with reg. Pass
// prometheus.DefaultRegisterer in production and a fresh registry in tests.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		TransitionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "transitions_total",
				Help:      "Committed lifecycle transitions",
			},
			[]string{"from", "to", "source"},
		),
		RejectionsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "rejections_total",
				Help:      "Rejected transition attempts by reason",
			},
			[]string{"reason", "source"},
		),
		ProposalsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "reschedule_proposals_total",
				Help:      "Reschedule proposals by outcome",
			},
			[]string{"outcome"},
		),
		TriggerRunsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_trigger_runs_total",
				Help:      "Scheduled-publish trigger runs",
			},
			[]string{"result"},
		),
		TriggerItemsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "publish_trigger_items_total",
				Help:      "Due items processed by the scheduled-publish trigger",
			},
			[]string{"result"},
		),
		TriggerRunDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "publish_trigger_run_duration_seconds",
				Help:      "Duration of scheduled-publish trigger runs",
				Buckets:   prometheus.DefBuckets,
			},
		),
		PendingProposals: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "pending_proposals",
				Help:      "Reschedule proposals awaiting confirmation",
			},
		),
	}

	if reg != nil {
		reg.MustRegister(
			m.TransitionsTotal,
			m.RejectionsTotal,
			m.ProposalsTotal,
			m.TriggerRunsTotal,
			m.TriggerItemsTotal,
			m.TriggerRunDuration,
			m.PendingProposals,
		)
	}

	return m
}

// NewNop returns unregistered collectors for callers that do not export
// metrics.
func NewNop() *Metrics {
	return New(nil)
}
