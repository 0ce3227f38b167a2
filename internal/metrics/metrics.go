// Package metrics declares the Prometheus metrics surface named in
// spec.md §6, grounded on the promauto pattern used throughout the
// teacher repo (pkg/history/cache/manager.go, internal/database/postgres/prometheus.go).
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics bundles every counter/gauge/histogram the Update Core emits.
type Metrics struct {
	// Window/cumulative counters.
	Adds           *prometheus.CounterVec
	DeletesByID    *prometheus.CounterVec
	DeletesByQuery *prometheus.CounterVec
	Errors         *prometheus.CounterVec

	// Meters.
	Commits       prometheus.Counter
	SoftCommits   prometheus.Counter
	Optimizes     prometheus.Counter
	Rollbacks     prometheus.Counter
	Splits        prometheus.Counter
	MergeIndexes  prometheus.Counter
	ExpungeDeletes prometheus.Counter

	// Gauges.
	DocsPending       prometheus.Gauge
	AutoCommits       prometheus.Gauge
	SoftAutoCommits   prometheus.Gauge
	TxnLogsTotalSize  prometheus.Gauge
	TxnLogsTotalNumber prometheus.Gauge

	// Peer sync.
	PeerSyncTime     prometheus.Histogram
	PeerSyncErrors   prometheus.Counter
	PeerSyncSkipped  prometheus.Counter
}

// window labels the counters above by whether they are the per-interval
// (reset on commit) or cumulative (process-lifetime) view.
const (
	ScopeWindow     = "window"
	ScopeCumulative = "cumulative"
)

// New registers and returns the metrics surface against reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		Adds: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "adds_total",
			Help:      "Total number of successful add operations.",
		}, []string{"scope"}),
		DeletesByID: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "deletes_by_id_total",
			Help:      "Total number of successful delete-by-id operations.",
		}, []string{"scope"}),
		DeletesByQuery: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "deletes_by_query_total",
			Help:      "Total number of successful delete-by-query operations.",
		}, []string{"scope"}),
		Errors: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "errors_total",
			Help:      "Total number of failed operations by error kind.",
		}, []string{"scope", "kind"}),

		Commits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "commits_total",
			Help:      "Total number of hard commits.",
		}),
		SoftCommits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "soft_commits_total",
			Help:      "Total number of soft commits.",
		}),
		Optimizes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "optimizes_total",
			Help:      "Total number of optimize (force-merge) operations.",
		}),
		Rollbacks: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "rollbacks_total",
			Help:      "Total number of rollback operations.",
		}),
		Splits: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "splits_total",
			Help:      "Total number of split operations.",
		}),
		MergeIndexes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "merge_indexes_total",
			Help:      "Total number of mergeIndexes operations.",
		}),
		ExpungeDeletes: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "expunge_deletes_total",
			Help:      "Total number of expungeDeletes operations.",
		}),

		DocsPending: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "update_core",
			Name:      "docs_pending",
			Help:      "Number of documents added since the last hard commit.",
		}),
		AutoCommits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "update_core",
			Name:      "auto_commits_pending",
			Help:      "1 if a hard auto-commit is currently scheduled.",
		}),
		SoftAutoCommits: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "update_core",
			Name:      "soft_auto_commits_pending",
			Help:      "1 if a soft auto-commit is currently scheduled.",
		}),
		TxnLogsTotalSize: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "update_core",
			Name:      "txn_logs_total_size_bytes",
			Help:      "Total size of retained transaction log files.",
		}),
		TxnLogsTotalNumber: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "update_core",
			Name:      "txn_logs_total_number",
			Help:      "Total number of retained transaction log files.",
		}),

		PeerSyncTime: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "update_core",
			Name:      "peersync_time_seconds",
			Help:      "Duration of a peer-sync run.",
			Buckets:   prometheus.DefBuckets,
		}),
		PeerSyncErrors: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "peersync_errors_total",
			Help:      "Total number of failed peer-sync runs.",
		}),
		PeerSyncSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "update_core",
			Name:      "peersync_skipped_total",
			Help:      "Total number of peer-sync runs skipped (e.g. onlyIfActive).",
		}),
	}
}

// NewForTest returns a Metrics registered against a private registry,
// for use in unit tests that don't want to pollute the default registry.
func NewForTest() *Metrics {
	return New(prometheus.NewRegistry())
}
