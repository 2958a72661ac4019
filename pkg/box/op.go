package box

import (
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
	"github.com/boxtuple/boxdb/pkg/wire"
)

// Op is one mutation within a transaction: the state box-op's prepare
// step produces (spec §4.3). OldObj/NewObj are the values echoed to the
// client per the RETURN_TUPLE flag; Affected is the row-count delta
// described by the §4.3(iii) tie-break rules.
type Op struct {
	Seq      uint64
	Opcode   wire.Opcode
	Flags    wire.Flags
	Table    *space.Table
	Key      types.Comparable
	OldObj   tuple.Object
	NewObj   tuple.Object
	Affected int

	cells  []*phi.Cell
	wireOp wire.Op // the exact request this op was prepared from, replayed verbatim into the WAL
}

// addCell records a cell this op installed, in the order it was
// installed, so rollback can unthread them in reverse (spec §4.5
// box_rollback: "walk ops in reverse, cells in reverse").
func (op *Op) addCell(c *phi.Cell) {
	op.cells = append(op.cells, c)
}

// unwind splices every cell this op installed back out, in reverse
// order, without waiting for a full transaction rollback. Used when an
// op fails partway through binding its indices (spec §4.3: "the op must
// undo any cells it installed... before returning the error").
func (op *Op) unwind() {
	for i := len(op.cells) - 1; i >= 0; i-- {
		op.cells[i].Rollback()
	}
	op.cells = nil
}

// ReturnObject implements the RETURN_TUPLE x ADD/REPLACE flag-decision
// table original_source/op.h documents on box_op::ret_obj ("can point to
// either old_obj or obj"): RETURN_TUPLE gates whether anything is
// echoed at all, and the op's own nature decides which side of the
// mutation it is. A delete echoes the row it removed; every other
// mutating opcode echoes the row it left behind (the freshly inserted
// or replaced tuple), falling back to OldObj for the no-op case where
// an insert/update never produced a NewObj.
func (op *Op) ReturnObject() tuple.Object {
	if !op.Flags.Has(wire.FlagReturnTuple) {
		return nil
	}
	switch op.Opcode {
	case wire.OpDelete, wire.OpDelete13:
		return op.OldObj
	default:
		if op.NewObj != nil {
			return op.NewObj
		}
		return op.OldObj
	}
}
