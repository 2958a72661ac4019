package box

import (
	"encoding/binary"
	"fmt"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/wire"
)

// updateFieldsOp implements spec §4.3 UPDATE_FIELDS: materialize the
// target row via visible_right of the primary slot, apply every update
// into a freshly allocated tuple, then behave exactly as a REPLACE
// (reusing bindAllIndices so any rewritten indexed field gets the
// §4.3(ii) unbind-old/bind-new treatment). Unlike a REPLACE, it counts
// as one affected row: the row it found and rewrote.
func updateFieldsOp(txn *Txn, table *space.Table, wop wire.Op) (*Op, error) {
	keyWire, updates, err := wire.DecodeUpdatePayload(wop.Body)
	if err != nil {
		return nil, err
	}
	keyTuple, err := tuple.DecodeWire(keyWire)
	if err != nil {
		return nil, err
	}
	primary := table.Primary()
	key, err := primary.KeyFromKeyTuple(keyTuple)
	if err != nil {
		return nil, err
	}

	slot := primary.Get(key)
	var existing tuple.Object
	if slot != nil {
		slot.Lock()
		existing = phi.VisibleRight(slot.Load())
		slot.Unlock()
	}
	if existing == nil {
		return nil, &boxerrors.NoSuchKeyError{Table: table.Name, Key: fmt.Sprint(key)}
	}

	fields, err := tuple.Fields(existing)
	if err != nil {
		return nil, err
	}
	fields, err = applyFieldUpdates(fields, updates)
	if err != nil {
		return nil, err
	}
	newObj, err := tuple.New(fields)
	if err != nil {
		return nil, err
	}
	if err := tuple.CheckCardinality(newObj, table.Name, table.Cardinality); err != nil {
		return nil, err
	}

	op := &Op{Seq: txn.nextOpSeq(), Opcode: wop.Opcode, Flags: wop.Flags, Table: table, Key: key, OldObj: existing, NewObj: newObj}
	if err := bindAllIndices(txn, table, op, existing, newObj); err != nil {
		op.unwind()
		return nil, err
	}
	op.Affected = 1
	return op, nil
}

// applyFieldUpdates applies each update in order against fields,
// returning a new slice (the input is never mutated in place, so a
// failure partway through leaves the caller's original tuple intact).
func applyFieldUpdates(fields [][]byte, updates []wire.FieldUpdate) ([][]byte, error) {
	out := make([][]byte, len(fields))
	copy(out, fields)

	for _, u := range updates {
		switch u.Op {
		case wire.UpdateDeleteField:
			if u.Field < 0 || u.Field >= len(out) {
				return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: u.Field, Cardinality: len(out)}
			}
			out = append(out[:u.Field], out[u.Field+1:]...)
			continue
		case wire.UpdateInsertField:
			if u.Field < 0 || u.Field > len(out) {
				return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: u.Field, Cardinality: len(out)}
			}
			out = append(out[:u.Field], append([][]byte{u.Value}, out[u.Field:]...)...)
			continue
		}

		if u.Field < 0 || u.Field >= len(out) {
			return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: u.Field, Cardinality: len(out)}
		}
		switch u.Op {
		case wire.UpdateSet:
			out[u.Field] = u.Value
		case wire.UpdateSplice:
			spliced, err := applySplice(out[u.Field], u.Value)
			if err != nil {
				return nil, err
			}
			out[u.Field] = spliced
		case wire.UpdateArithAdd, wire.UpdateArithAnd, wire.UpdateArithOr, wire.UpdateArithXor:
			result, err := applyArith(u.Op, out[u.Field], u.Value)
			if err != nil {
				return nil, err
			}
			out[u.Field] = result
		default:
			return nil, &boxerrors.MalformedTupleError{Reason: fmt.Sprintf("unknown update op %d", u.Op)}
		}
	}
	return out, nil
}

func applySplice(field []byte, argBytes []byte) ([]byte, error) {
	args, err := wire.DecodeSpliceArgs(argBytes)
	if err != nil {
		return nil, err
	}
	n := len(field)
	offset := int(args.Offset)
	if offset < 0 {
		offset += n
	}
	if offset < 0 || offset > n {
		return nil, &boxerrors.MalformedTupleError{Reason: "splice offset out of range"}
	}
	length := int(args.Length)
	if length < 0 || offset+length > n {
		length = n - offset
	}
	out := make([]byte, 0, offset+len(args.Replacement)+(n-offset-length))
	out = append(out, field[:offset]...)
	out = append(out, args.Replacement...)
	out = append(out, field[offset+length:]...)
	return out, nil
}

// applyArith treats field as a little-endian integer of its own width
// (1, 2, 4, or 8 bytes) and combines it with operand the same way.
func applyArith(op wire.UpdateOp, field, operand []byte) ([]byte, error) {
	if len(field) != len(operand) || (len(field) != 1 && len(field) != 2 && len(field) != 4 && len(field) != 8) {
		return nil, &boxerrors.MalformedTupleError{Reason: "arithmetic update requires matching 1/2/4/8-byte fields"}
	}
	a := leToUint64(field)
	b := leToUint64(operand)
	var r uint64
	switch op {
	case wire.UpdateArithAdd:
		r = a + b
	case wire.UpdateArithAnd:
		r = a & b
	case wire.UpdateArithOr:
		r = a | b
	case wire.UpdateArithXor:
		r = a ^ b
	}
	return uint64ToLE(r, len(field)), nil
}

func leToUint64(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func uint64ToLE(v uint64, width int) []byte {
	out := make([]byte, width)
	switch width {
	case 1:
		out[0] = byte(v)
	case 2:
		binary.LittleEndian.PutUint16(out, uint16(v))
	case 4:
		binary.LittleEndian.PutUint32(out, uint32(v))
	case 8:
		binary.LittleEndian.PutUint64(out, v)
	}
	return out
}
