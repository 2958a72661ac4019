package phi

import "github.com/boxtuple/boxdb/pkg/tuple"

// VisibleLeft returns the committed, pre-transaction view of obj (spec
// §4 "visible_left"): if obj is a concrete tuple it is returned as-is;
// if it is an overlay, BaseObj is returned (possibly nil). Callers that
// must see only state other fibers have already committed to — the
// replication stream, snapshot emission, pre-commit consistency checks —
// always go through this, never through the overlay's own Cardinality
// or Field methods.
func VisibleLeft(obj tuple.Object) tuple.Object {
	if ov, ok := obj.(*Overlay); ok {
		return ov.BaseObj
	}
	return obj
}

// VisibleRight returns the read-your-writes view of obj (spec §4
// "visible_right"): the tip of the chain if obj is an overlay, else obj
// itself. This is what a subsequent op of the same transaction sees
// when it looks up a key it already touched.
func VisibleRight(obj tuple.Object) tuple.Object {
	if ov, ok := obj.(*Overlay); ok {
		return ov.Tip()
	}
	return obj
}

// PhiObj returns the first real tuple in the chain regardless of the
// caller's role (spec §4): BaseObj if the key pre-existed, otherwise the
// first cell's version. Used for cardinality-type questions that must
// answer the same way no matter which op in the transaction is asking.
func PhiObj(obj tuple.Object) tuple.Object {
	if ov, ok := obj.(*Overlay); ok {
		return ov.phiObj()
	}
	return obj
}

// IsOverlay reports whether obj is a phi overlay rather than a concrete
// tuple.
func IsOverlay(obj tuple.Object) bool {
	_, ok := obj.(*Overlay)
	return ok
}
