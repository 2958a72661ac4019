package phi

import "github.com/boxtuple/boxdb/pkg/tuple"

// Cell is one version produced by one op for one (index, key) overlay
// (spec §3 "PhiCell"). Cells are owned by the op that produced them, not
// by the overlay they live in; the overlay's chain only references them.
//
// original_source's box_phi_cell is threaded into two independent
// intrusive lists at once: phi_link (submission order within the
// overlay) and bop_link (every cell one op produced, across every index
// it touched, so rollback can unthread all of them). This type carries
// the first list as prev/next; the second is a plain slice owned by
// whatever box-op type holds these cells (kept out of this package so
// phi has no dependency on box).
type Cell struct {
	// NewObj is the version this cell installed; nil means this cell
	// represents a delete.
	NewObj tuple.Object

	// OpSeq identifies the op that produced this cell, for debugging
	// only (mirrors box_phi_cell::bop's documented purpose).
	OpSeq uint64

	overlay    *Overlay
	prev, next *Cell
}

// Overlay returns the overlay this cell currently belongs to, or nil if
// it has been spliced out.
func (c *Cell) Overlay() *Overlay { return c.overlay }
