package snapshot

import (
	"github.com/boxtuple/boxdb/pkg/index"
	"github.com/boxtuple/boxdb/pkg/phi"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
)

// DumpSpace writes one row per tuple of every table with Snap set, read
// through phi.VisibleLeft so a snapshot running concurrently with live
// transactions only ever observes committed state (spec §4 "reads
// performed by readers that must see the pre-image ... go through
// visible_left"). Rows are grouped by table, primary index ascending.
func DumpSpace(w *Writer, sp *space.Space) error {
	var walkErr error
	sp.Each(func(t *space.Table) {
		if walkErr != nil || !t.Snap {
			return
		}
		t.Primary().Ascend(func(_ types.Comparable, slot *index.Slot) bool {
			slot.Lock()
			obj := phi.VisibleLeft(slot.Load())
			slot.Unlock()
			if obj == nil {
				return true
			}
			data, err := tuple.EncodeWire(obj)
			if err != nil {
				walkErr = err
				return false
			}
			row := Row{TableID: t.ID, TupleSize: uint32(obj.Cardinality()), Data: data}
			if err := w.WriteRow(row); err != nil {
				walkErr = err
				return false
			}
			return true
		})
	})
	return walkErr
}
