// Package metrics provides the Prometheus-backed implementation of
// box.Stats, the statistics-plumbing contract spec §1 places out of
// the core's scope ("only their contracts appear in §6"). Nothing in
// package box imports this package; a deployment wires a *Collector
// into box.Manager.Stats at startup if it wants these observations,
// and the core runs exactly the same with Stats left nil.
//
// Grounded on the promauto.With(reg)/prometheus.CounterOpts wiring
// style used for frostdb's table-level metrics in the retrieved pack
// (garrensmith-frostdb table.go): one struct of pre-registered
// collectors built once against a caller-supplied Registerer, with
// accessor methods instead of package-level globals so two Managers in
// the same process (e.g. tests) never collide on metric names.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Collector implements box.Stats. It is deliberately untyped against
// that interface here (package box must not import package metrics,
// or every consumer of box would drag in a Prometheus dependency) but
// satisfies it structurally: ObserveCommit, ObserveRollback, and
// ObserveSubmitLatency are its only exported methods.
type Collector struct {
	commits       prometheus.Counter
	rollbacks     prometheus.Counter
	submitLatency prometheus.Histogram
}

// New registers a fresh set of collectors against reg and returns a
// Collector ready to be assigned to a box.Manager's Stats field. reg is
// typically prometheus.DefaultRegisterer, or a sub-registry from
// prometheus.WrapRegistererWith when more than one Manager shares a
// process and needs distinguishing labels.
func New(reg prometheus.Registerer) *Collector {
	return &Collector{
		commits: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "boxdb_txn_commits_total",
			Help: "Total number of transactions that reached the Committed state.",
		}),
		rollbacks: promauto.With(reg).NewCounter(prometheus.CounterOpts{
			Name: "boxdb_txn_rollbacks_total",
			Help: "Total number of transactions that reached the RolledBack state.",
		}),
		submitLatency: promauto.With(reg).NewHistogram(prometheus.HistogramOpts{
			Name:    "boxdb_submit_latency_seconds",
			Help:    "Time box_submit spent blocked waiting for WAL durability.",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

// ObserveCommit implements box.Stats.
func (c *Collector) ObserveCommit() { c.commits.Inc() }

// ObserveRollback implements box.Stats.
func (c *Collector) ObserveRollback() { c.rollbacks.Inc() }

// ObserveSubmitLatency implements box.Stats.
func (c *Collector) ObserveSubmitLatency(seconds float64) {
	c.submitLatency.Observe(seconds)
}
