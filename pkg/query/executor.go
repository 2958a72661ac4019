package query

import (
	"github.com/boxtuple/boxdb/pkg/index"
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
)

// Select runs cond against ix in ascending key order and returns every
// matching tuple, resolved through phi.VisibleRight (spec §5: a reader
// "observes visible_right, which equals the concrete object for keys
// that no active RW transaction is touching" — the same accessor a
// transaction's own later ops use to see their earlier writes). A nil
// cond selects every bound key, matching SELECT with no predicate.
//
// limit caps the number of tuples returned; 0 means unlimited, mirroring
// SELECT_LIMIT's cardinality argument.
func Select(ix *index.Index, cond *ScanCondition, limit int) []tuple.Object {
	var out []tuple.Object

	visit := func(key types.Comparable, slot *index.Slot) bool {
		if cond != nil && !cond.ShouldContinue(key) {
			return false
		}
		if cond == nil || cond.Matches(key) {
			slot.Lock()
			obj := phi.VisibleRight(slot.Load())
			slot.Unlock()
			if obj != nil {
				out = append(out, obj)
				if limit > 0 && len(out) >= limit {
					return false
				}
			}
		}
		return true
	}

	if cond != nil && cond.ShouldSeek() {
		ix.AscendRange(cond.GetStartKey(), visit)
	} else {
		ix.Ascend(visit)
	}
	return out
}

// SelectOne returns the single tuple bound to key, or nil if key is
// unbound or its slot's tip has been deleted within an in-flight
// transaction. This is the equality fast path SELECT by primary key
// uses instead of a full Select scan.
func SelectOne(ix *index.Index, key types.Comparable) tuple.Object {
	slot := ix.Get(key)
	if slot == nil {
		return nil
	}
	slot.Lock()
	defer slot.Unlock()
	return phi.VisibleRight(slot.Load())
}
