package box

import (
	"time"

	"go.uber.org/zap"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/wire"
)

// walEligible reports whether op's mutation should be durably logged.
// NOP carries no table and is always logged (spec §4.3: "accepted and
// logged"); everything else follows its table's Wal flag (this
// module's resolution of the open §9 object_space.wal question — see
// DESIGN.md).
func walEligible(op *Op) bool {
	return op.Table == nil || op.Table.Wal
}

// Submit serializes txn's WAL-eligible ops as a single BOX_OP TLV (or a
// BOX_MULTI_OP wrapping several, in submission order) and blocks until
// the WAL reports durability, per spec §4.5 box_submit. On durability,
// it commits the transaction and returns its LSN. On WAL failure, it
// rolls the transaction back in full and returns a WalFailureError. A
// transaction with nothing WAL-eligible to submit (e.g. every touched
// table declares wal=false) commits immediately without suspending.
func (t *Txn) Submit() (lsn int64, err error) {
	if t.State != Undecided {
		return 0, boxerrors.Newf("cannot submit a transaction in state %s", t.State)
	}
	if t.ReadOnly {
		t.State = Committed
		return 0, nil
	}

	var toLog []wire.Op
	for _, op := range t.ops {
		if walEligible(op) {
			toLog = append(toLog, op.wireOp)
		}
	}

	if len(toLog) == 0 || t.mgr.WAL == nil {
		t.Commit()
		return 0, nil
	}

	var payload []byte
	if len(toLog) == 1 {
		payload = wire.EncodeSingle(toLog[0])
	} else {
		payload = wire.EncodeMulti(toLog)
	}

	start := time.Now()
	lsn, err = t.mgr.WAL.Submit(payload)
	if t.mgr.Stats != nil {
		t.mgr.Stats.ObserveSubmitLatency(time.Since(start).Seconds())
	}
	if err != nil {
		t.mgr.log().Warn("wal submit failed, rolling back", zap.String("name", t.Name), zap.Error(err))
		t.Rollback()
		return 0, &boxerrors.WalFailureError{Reason: err.Error()}
	}
	t.Commit()
	return lsn, nil
}
