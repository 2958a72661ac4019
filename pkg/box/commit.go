package box

import (
	"go.uber.org/zap"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// Commit resolves txn (spec §4.5 box_commit): for each op in submission
// order, for each cell that op installed, splice it out of its overlay;
// an overlay that has no cells left writes its tip into the slot it was
// impersonating. This step must never return a user-visible failure —
// by the time Commit is called the WAL has already durably recorded the
// transaction, so a mandatory commit that cannot proceed is a fatal
// invariant violation, not a recoverable error.
func (t *Txn) Commit() {
	if t.State != Undecided {
		panic(boxerrors.Newf("Commit called on a transaction in state %s", t.State))
	}
	for _, op := range t.ops {
		for _, c := range op.cells {
			c.Commit()
		}
		op.cells = nil
	}
	t.State = Committed
	t.release()
	if t.mgr.Stats != nil {
		t.mgr.Stats.ObserveCommit()
	}
	t.mgr.log().Debug("txn commit", zap.String("name", t.Name), zap.Int("ops", len(t.ops)))
}

// Rollback undoes txn (spec §4.5 box_rollback): ops are walked in
// reverse, and within each op its cells are unwound in reverse, so that
// partially-built overlay chains unwind in exactly the opposite order
// they were built.
func (t *Txn) Rollback() {
	if t.State != Undecided {
		return
	}
	for i := len(t.ops) - 1; i >= 0; i-- {
		t.ops[i].unwind()
	}
	t.State = RolledBack
	t.release()
	if t.mgr.Stats != nil {
		t.mgr.Stats.ObserveRollback()
	}
	t.mgr.log().Debug("txn rollback", zap.String("name", t.Name), zap.Int("ops", len(t.ops)))
}
