package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
)

func gatherCounter(t *testing.T, reg *prometheus.Registry, name string) float64 {
	t.Helper()
	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	for _, fam := range families {
		if fam.GetName() != name {
			continue
		}
		return fam.GetMetric()[0].GetCounter().GetValue()
	}
	t.Fatalf("metric %q not found", name)
	return 0
}

func TestObserveCommitIncrementsCounter(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveCommit()
	c.ObserveCommit()
	c.ObserveRollback()

	if got := gatherCounter(t, reg, "boxdb_txn_commits_total"); got != 2 {
		t.Errorf("expected 2 commits, got %v", got)
	}
	if got := gatherCounter(t, reg, "boxdb_txn_rollbacks_total"); got != 1 {
		t.Errorf("expected 1 rollback, got %v", got)
	}
}

func TestObserveSubmitLatencyRecordsSample(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := New(reg)

	c.ObserveSubmitLatency(0.01)
	c.ObserveSubmitLatency(0.02)

	families, err := reg.Gather()
	if err != nil {
		t.Fatalf("Gather failed: %v", err)
	}
	var found bool
	for _, fam := range families {
		if fam.GetName() != "boxdb_submit_latency_seconds" {
			continue
		}
		found = true
		hist := fam.GetMetric()[0].GetHistogram()
		if hist.GetSampleCount() != 2 {
			t.Errorf("expected 2 samples, got %d", hist.GetSampleCount())
		}
	}
	if !found {
		t.Fatal("boxdb_submit_latency_seconds histogram not found")
	}
}

func TestNewCollectorsAreIndependentPerRegistry(t *testing.T) {
	regA := prometheus.NewRegistry()
	regB := prometheus.NewRegistry()
	a := New(regA)
	b := New(regB)

	a.ObserveCommit()

	if got := gatherCounter(t, regA, "boxdb_txn_commits_total"); got != 1 {
		t.Errorf("expected registry A to observe 1 commit, got %v", got)
	}
	b.ObserveCommit()
	b.ObserveCommit()
	if got := gatherCounter(t, regB, "boxdb_txn_commits_total"); got != 2 {
		t.Errorf("expected registry B to observe 2 commits, got %v", got)
	}
}
