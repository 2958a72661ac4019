package index

import (
	"sync"

	"github.com/boxtuple/boxdb/pkg/tuple"
)

// Slot is the location an index maps a key to. At any instant it holds
// either a concrete tuple.Object or exactly one overlay standing in for
// one, never both and never neither once the key is bound (spec §3
// invariant 1). Package index only ever sees the tuple.Object interface;
// the overlay type itself lives in package phi.
type Slot struct {
	mu  sync.Mutex
	Obj tuple.Object
}

// NewSlot wraps obj (which may be a concrete tuple or an overlay) in a
// fresh Slot.
func NewSlot(obj tuple.Object) *Slot {
	return &Slot{Obj: obj}
}

// Lock and Unlock guard read-modify-write sequences against the slot's
// occupant, e.g. swapping in an overlay atomically with reading the
// value it replaces.
func (s *Slot) Lock()   { s.mu.Lock() }
func (s *Slot) Unlock() { s.mu.Unlock() }

// Load returns the current occupant without locking. Callers doing a
// read-modify-write must wrap Load/Store in Lock/Unlock themselves.
func (s *Slot) Load() tuple.Object { return s.Obj }

// Store replaces the occupant without locking.
func (s *Slot) Store(obj tuple.Object) { s.Obj = obj }
