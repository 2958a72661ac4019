// Package phi implements the per-index version-chain overlay (spec §3
// "PhiOverlay"/"PhiCell") that lets a transaction hold several pending
// versions of one (index, key) pair without ever removing the
// committed value readers outside the transaction still see.
//
// Grounded on original_source/tuple.h's struct box_phi / box_phi_cell:
// an Overlay stands in for a tuple inside an index.Slot, remembers the
// value that was committed before the owning transaction touched the
// key (base_obj), and threads the versions each op installed as a
// chain of Cells in submission order. Overlay implements tuple.Object
// so index code that only knows about tuple.Object keeps working
// whether a slot holds a real tuple or one of these.
package phi

import (
	"github.com/boxtuple/boxdb/pkg/index"
	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/tuple"
)

// Overlay occupies an index.Slot while a transaction is mid-flight for
// one key in that index. Exactly one exists per (index, key) for the
// life of the transaction (spec §3); every op of that transaction which
// touches the same key appends another Cell instead of allocating a
// second overlay.
type Overlay struct {
	// BaseObj is the value the index slot held when the transaction's
	// first op touched this key; nil means the key did not exist yet.
	BaseObj tuple.Object

	// Slot is the index slot this overlay is impersonating a tuple in.
	// It is used only to let Commit/Rollback write the resolved value
	// back; the overlay does not otherwise dereference it.
	Slot *index.Slot

	// OwnerTxn identifies the transaction this overlay belongs to, so a
	// second op on the same key within the same transaction extends it
	// instead of allocating a second overlay (spec §4.4 step 1). It is
	// an opaque numeric id rather than a reference to a box.Txn so this
	// package never needs to import package box.
	OwnerTxn uint64

	head, tail *Cell // per-key chain, in submission order
}

// NewOverlay starts a fresh overlay for slot, owned by ownerTxn,
// remembering base as the pre-transaction value (nil if the key was
// previously unbound).
func NewOverlay(ownerTxn uint64, base tuple.Object, slot *index.Slot) *Overlay {
	return &Overlay{BaseObj: base, Slot: slot, OwnerTxn: ownerTxn}
}

// Append adds a new version to the chain, produced by the op identified
// by opSeq (kept only for debugging, per original_source's comment that
// box_phi_cell::bop "is used only for debugging"). newObj nil means this
// version is a delete. Returns the new Cell so the caller's box-op can
// track it for rollback.
func (o *Overlay) Append(opSeq uint64, newObj tuple.Object) *Cell {
	c := &Cell{NewObj: newObj, OpSeq: opSeq, overlay: o}
	if o.tail == nil {
		o.head, o.tail = c, c
	} else {
		c.prev = o.tail
		o.tail.next = c
		o.tail = c
	}
	return c
}

// Remove splices c out of the chain. Used by commit (cells are spliced
// out one by one as each op's changes are finalized) and by rollback
// (every cell of the aborting transaction is spliced out before BaseObj
// is restored).
func (o *Overlay) Remove(c *Cell) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		o.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		o.tail = c.prev
	}
	c.prev, c.next, c.overlay = nil, nil, nil
}

// Empty reports whether every cell has been spliced out.
func (o *Overlay) Empty() bool { return o.head == nil }

// Tip returns the most recently appended (rightmost) version, or
// BaseObj if no cell remains. This is the value a committed chain
// collapses to.
func (o *Overlay) Tip() tuple.Object {
	if o.tail == nil {
		return o.BaseObj
	}
	return o.tail.NewObj
}

// phiObj is the "first real tuple in the chain" per spec §4.2: BaseObj
// if the key already existed, otherwise the first cell's version (which
// must be an insert, since a delete or update on a nonexistent key is
// rejected before any cell is appended).
func (o *Overlay) phiObj() tuple.Object {
	if o.BaseObj != nil {
		return o.BaseObj
	}
	if o.head != nil {
		return o.head.NewObj
	}
	return nil
}

// Cardinality, Field, and ByteSize implement tuple.Object by delegating
// to phiObj, matching original_source's tuple_cardinality/tuple_field
// behavior on a box_phi: they answer questions about the first version
// in the chain regardless of which op is asking.
func (o *Overlay) Cardinality() int {
	obj := o.phiObj()
	if obj == nil {
		return 0
	}
	return obj.Cardinality()
}

func (o *Overlay) Field(i int) ([]byte, error) {
	obj := o.phiObj()
	if obj == nil {
		return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: i, Cardinality: 0}
	}
	return obj.Field(i)
}

// ByteSize always errors: tuple_bsize on a box_phi is documented in
// original_source as "does not work for box_phi".
func (o *Overlay) ByteSize() (int, error) {
	return 0, &boxerrors.MalformedTupleError{Reason: "ByteSize called on a phi overlay"}
}
