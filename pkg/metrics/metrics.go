// Package metrics registers the Prometheus counters and histograms
// this module's commit path and janitor emit (spec.md §2, §7): commit
// outcomes, swallowed index-cleanup failures, and large-document
// segment counts. No HTTP exposition is built here, matching the
// teacher's split between metric registration (pkg/metrics-shaped
// code) and the admin HTTP mux that actually serves them, which is
// external-collaborator territory this module doesn't own.
package metrics

import "github.com/prometheus/client_golang/prometheus"

// Metrics is a bundle of registered collectors. Construct one with
// New, sharing a *prometheus.Registry across a process if several
// components need to report to the same registry.
type Metrics struct {
	CommitsTotal         *prometheus.CounterVec
	IndexCleanupFailures prometheus.Counter
	JanitorSweptTotal    prometheus.Counter
	JanitorErrorsTotal   prometheus.Counter
	SegmentCount         prometheus.Histogram
	CommitDuration       *prometheus.HistogramVec
}

// New registers a fresh set of collectors on reg. Pass nil to get a
// private, unregistered prometheus.NewRegistry() (useful in tests that
// don't care about exposition).
func New(reg *prometheus.Registry) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}

	m := &Metrics{
		CommitsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "kvdex",
			Name:      "commits_total",
			Help:      "Atomic commits attempted, labeled by outcome (ok, rejected, error).",
		}, []string{"outcome"}),
		IndexCleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvdex",
			Name:      "index_cleanup_failures_total",
			Help:      "Best-effort post-commit index cleanup commits that failed and were swallowed.",
		}),
		JanitorSweptTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvdex",
			Name:      "janitor_journal_entries_swept_total",
			Help:      "Journal entries the background janitor converged (index keys + journal entry removed).",
		}),
		JanitorErrorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "kvdex",
			Name:      "janitor_errors_total",
			Help:      "Janitor sweep iterations that hit a store error.",
		}),
		SegmentCount: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "kvdex",
			Name:      "large_document_segments",
			Help:      "Segment count per large-document write.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 12),
		}),
		CommitDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "kvdex",
			Name:      "commit_duration_seconds",
			Help:      "Atomic commit latency by phase (prepare, apply, cleanup).",
			Buckets:   prometheus.DefBuckets,
		}, []string{"phase"}),
	}

	reg.MustRegister(m.CommitsTotal, m.IndexCleanupFailures, m.JanitorSweptTotal, m.JanitorErrorsTotal, m.SegmentCount, m.CommitDuration)
	return m
}

// CommitOK/CommitRejected/CommitError are the outcome labels
// CommitsTotal is incremented with.
const (
	CommitOK       = "ok"
	CommitRejected = "rejected"
	CommitError    = "error"
)
