package phi

// Commit finalizes c: splices it out of its overlay, and if that leaves
// the overlay with no cells left, writes the chain's resolved value
// into the slot the overlay was impersonating (spec §4.4 box_commit:
// "when an overlay has no cells left, replace it in the index slot with
// its tip object"). Cells of one transaction must be committed in
// submission order for this to resolve correctly, since the tip is only
// known at the moment the last remaining cell is the one being spliced
// out.
func (c *Cell) Commit() {
	ov := c.overlay
	tip := c.NewObj
	ov.Remove(c)
	if ov.Empty() {
		ov.Slot.Lock()
		ov.Slot.Store(tip)
		ov.Slot.Unlock()
	}
}

// Rollback undoes c: splices it out of its overlay, and if that empties
// the overlay, restores the slot to the value it held before the
// transaction touched this key (spec §4.4 box_rollback / invariant 4).
func (c *Cell) Rollback() {
	ov := c.overlay
	ov.Remove(c)
	if ov.Empty() {
		ov.Slot.Lock()
		ov.Slot.Store(ov.BaseObj)
		ov.Slot.Unlock()
	}
}
