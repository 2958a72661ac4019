package box

import (
	"bytes"
	"fmt"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/wire"
)

// Prepare decodes one wire.Op against txn's object-space registry,
// executes the matching box-op state machine (spec §4.3), and appends
// the resulting Op to the transaction on success. On failure, any cells
// the op had already installed are unwound (spec §4.3: "the op must
// undo any cells it installed... before returning the error") and the
// transaction itself remains usable for further ops.
func Prepare(txn *Txn, wop wire.Op) (*Op, error) {
	if txn.State != Undecided {
		return nil, boxerrors.Newf("cannot prepare an op on a transaction in state %s", txn.State)
	}
	if err := wire.ValidateOpcode(wop.Opcode); err != nil {
		return nil, err
	}
	if txn.ReadOnly && wop.Opcode != wire.OpNop {
		return nil, &boxerrors.ReadOnlyError{Shard: txn.ShardID}
	}

	table, err := txn.mgr.Space.TableByID(wop.Table)
	if err != nil {
		return nil, err
	}

	var op *Op
	switch wop.Opcode {
	case wire.OpInsert:
		op, err = insertOp(txn, table, wop)
	case wire.OpUpdateFields:
		op, err = updateFieldsOp(txn, table, wop)
	case wire.OpDelete, wire.OpDelete13:
		op, err = deleteOp(txn, table, wop)
	case wire.OpNop:
		op, err = nopOp(txn, wop)
	default:
		return nil, &boxerrors.BadOpcodeError{Opcode: uint32(wop.Opcode)}
	}
	if err != nil {
		return nil, err
	}
	op.wireOp = wop
	txn.ops = append(txn.ops, op)
	return op, nil
}

func insertOp(txn *Txn, table *space.Table, wop wire.Op) (*Op, error) {
	newObj, err := tuple.DecodeWire(wop.Body)
	if err != nil {
		return nil, err
	}
	if err := tuple.CheckCardinality(newObj, table.Name, table.Cardinality); err != nil {
		return nil, err
	}

	primary := table.Primary()
	key, ok, err := primary.KeyFor(newObj)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, &boxerrors.MalformedTupleError{Reason: "insert tuple is missing its primary key field"}
	}

	op := &Op{Seq: txn.nextOpSeq(), Opcode: wop.Opcode, Flags: wop.Flags, Table: table, Key: key, NewObj: newObj}

	slot := primary.Get(key)
	var existing tuple.Object
	if slot != nil {
		slot.Lock()
		existing = phi.VisibleRight(slot.Load())
		slot.Unlock()
	}

	switch {
	case wop.Flags.Has(wire.FlagAdd):
		if existing != nil {
			return nil, &boxerrors.DuplicateKeyError{Table: table.Name, Index: primary.Name, Key: fmt.Sprint(key)}
		}
	case wop.Flags.Has(wire.FlagReplace):
		if existing == nil {
			return nil, &boxerrors.NoSuchKeyError{Table: table.Name, Key: fmt.Sprint(key)}
		}
	}

	op.OldObj = existing
	if err := bindAllIndices(txn, table, op, existing, newObj); err != nil {
		op.unwind()
		return nil, err
	}

	op.Affected = affectedForInsert(existing, newObj)
	return op, nil
}

// affectedForInsert implements the §4.3(iii) tie-break: 1 for an insert
// into an empty key, 2 for a replace that actually changed the stored
// bytes, 0 for a replace whose new value is byte-identical to the old.
func affectedForInsert(existing, newObj tuple.Object) int {
	if existing == nil {
		return 1
	}
	oldWire, errOld := tuple.EncodeWire(existing)
	newWire, errNew := tuple.EncodeWire(newObj)
	if errOld != nil || errNew != nil || !bytes.Equal(oldWire, newWire) {
		return 2
	}
	return 0
}

func deleteOp(txn *Txn, table *space.Table, wop wire.Op) (*Op, error) {
	keyTuple, err := tuple.DecodeWire(wop.Body)
	if err != nil {
		return nil, err
	}
	primary := table.Primary()
	key, err := primary.KeyFromKeyTuple(keyTuple)
	if err != nil {
		return nil, err
	}

	op := &Op{Seq: txn.nextOpSeq(), Opcode: wop.Opcode, Flags: wop.Flags, Table: table, Key: key}

	slot := primary.Get(key)
	var existing tuple.Object
	if slot != nil {
		slot.Lock()
		existing = phi.VisibleRight(slot.Load())
		slot.Unlock()
	}
	op.OldObj = existing
	if existing == nil {
		// no-op delete: still counted, no index change (spec §4.3).
		return op, nil
	}

	if err := bindAllIndices(txn, table, op, existing, nil); err != nil {
		op.unwind()
		return nil, err
	}
	op.Affected = 1
	return op, nil
}

func nopOp(txn *Txn, wop wire.Op) (*Op, error) {
	return &Op{Seq: txn.nextOpSeq(), Opcode: wop.Opcode, Flags: wop.Flags}, nil
}
