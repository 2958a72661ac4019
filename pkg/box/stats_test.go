package box

import (
	"testing"

	"go.uber.org/zap"

	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/wire"
)

type fakeStats struct {
	commits, rollbacks int
	latencies          []float64
}

func (s *fakeStats) ObserveCommit()                 { s.commits++ }
func (s *fakeStats) ObserveRollback()               { s.rollbacks++ }
func (s *fakeStats) ObserveSubmitLatency(v float64) { s.latencies = append(s.latencies, v) }

func TestManagerWithNilStatsDoesNotPanic(t *testing.T) {
	mgr := NewManager(space.New(), nil)
	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	txn.Commit()
}

func TestStatsObservesCommitAndRollback(t *testing.T) {
	stats := &fakeStats{}
	mgr := NewManager(space.New(), nil)
	mgr.Stats = stats

	txn, _ := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	txn.Commit()
	if stats.commits != 1 {
		t.Errorf("expected 1 commit observed, got %d", stats.commits)
	}

	txn2, _ := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	txn2.Rollback()
	if stats.rollbacks != 1 {
		t.Errorf("expected 1 rollback observed, got %d", stats.rollbacks)
	}
}

func TestStatsObservesSubmitLatencyOnSuccessfulSubmit(t *testing.T) {
	stats := &fakeStats{}
	wal := &fakeWAL{failAfter: -1}
	mgr := NewManager(space.New(), wal)
	mgr.Stats = stats

	sp, _ := newTestTable(t, true, false)
	mgr.Space = sp

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin failed: %v", err)
	}
	if _, err := Prepare(txn, wireInsert(1, "a", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare failed: %v", err)
	}
	if _, err := txn.Submit(); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	if len(stats.latencies) != 1 {
		t.Errorf("expected 1 submit latency sample, got %d", len(stats.latencies))
	}
}

func TestTxnNameIsUniquePerBegin(t *testing.T) {
	mgr := NewManager(space.New(), nil)
	t1, _ := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	t1.Commit()
	t2, _ := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	t2.Commit()
	if t1.Name == "" || t2.Name == "" {
		t.Fatal("expected non-empty txn names")
	}
	if t1.Name == t2.Name {
		t.Error("expected distinct txn names across Begin calls")
	}
}

func TestManagerLogDefaultsToNoOpWhenUnset(t *testing.T) {
	mgr := &Manager{Space: space.New()}
	if got := mgr.log(); got == nil {
		t.Fatal("expected log() to never return nil")
	}
}

func TestManagerLogReturnsAssignedLogger(t *testing.T) {
	mgr := NewManager(space.New(), nil)
	custom := zap.NewNop()
	mgr.Log = custom
	if mgr.log() != custom {
		t.Error("expected log() to return the assigned logger")
	}
}
