package box

import (
	"fmt"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/index"
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
)

// bindKey implements spec §4.4 step 1-2 for a single index and key:
// find or allocate the overlay for (ix, key), append a cell recording
// newObj (nil for a delete/unbind), and register the cell with op so
// rollback can find it. It returns the value visible to this
// transaction before the cell was appended (via visible_right).
func bindKey(txn *Txn, ix *index.Index, key types.Comparable, newObj tuple.Object, op *Op) (tuple.Object, error) {
	slot := ix.Get(key)
	if slot == nil {
		slot = index.NewSlot(nil)
		ov := phi.NewOverlay(txn.id, nil, slot)
		cell := ov.Append(op.Seq, newObj)
		slot.Store(ov)
		ix.Put(key, slot)
		op.addCell(cell)
		return nil, nil
	}

	slot.Lock()
	defer slot.Unlock()

	cur := slot.Load()
	if ov, ok := cur.(*phi.Overlay); ok {
		if ov.OwnerTxn != txn.id {
			return nil, boxerrors.Newf("index %q key already has an in-flight overlay owned by another transaction", ix.Name)
		}
		before := phi.VisibleRight(ov)
		cell := ov.Append(op.Seq, newObj)
		op.addCell(cell)
		return before, nil
	}

	base := cur
	ov := phi.NewOverlay(txn.id, base, slot)
	cell := ov.Append(op.Seq, newObj)
	slot.Store(ov)
	op.addCell(cell)
	return base, nil
}

// checkUnique enforces spec §4.4 step 3: a unique index (primary or
// secondary) must have no concrete tuple at key before a new binding is
// installed there.
func checkUnique(ix *index.Index, table *space.Table, key types.Comparable) error {
	slot := ix.Get(key)
	if slot == nil {
		return nil
	}
	slot.Lock()
	existing := phi.VisibleRight(slot.Load())
	slot.Unlock()
	if existing != nil {
		return &boxerrors.DuplicateKeyError{Table: table.Name, Index: ix.Name, Key: fmt.Sprint(key)}
	}
	return nil
}

// bindAllIndices runs the binding protocol across every index of table
// for one op (spec §4.3/§4.4). oldObj is the row previously bound at the
// primary key (nil for an insert into a fresh key); newObj is the row
// being installed (nil for a delete). Secondary indices whose key
// changes between oldObj and newObj get both an unbind of the old key
// and a bind of the new one, per the §4.3(ii) tie-break.
func bindAllIndices(txn *Txn, table *space.Table, op *Op, oldObj, newObj tuple.Object) error {
	for _, ix := range table.AllIndices() {
		var newKey types.Comparable
		var haveNewKey bool
		if newObj != nil {
			k, ok, err := ix.KeyFor(newObj)
			if err != nil {
				return err
			}
			newKey, haveNewKey = k, ok
		}

		var oldKey types.Comparable
		var haveOldKey bool
		if oldObj != nil {
			k, ok, err := ix.KeyFor(oldObj)
			if err != nil {
				return err
			}
			oldKey, haveOldKey = k, ok
		}

		sameKey := haveNewKey && haveOldKey && newKey.Compare(oldKey) == 0

		if haveNewKey {
			if ix.Unique && !sameKey {
				if err := checkUnique(ix, table, newKey); err != nil {
					return err
				}
			}
			if _, err := bindKey(txn, ix, newKey, newObj, op); err != nil {
				return err
			}
		}
		if haveOldKey && !sameKey {
			if _, err := bindKey(txn, ix, oldKey, nil, op); err != nil {
				return err
			}
		}
	}
	return nil
}
