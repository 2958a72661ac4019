package tuple

import "sync/atomic"

// BigTuple is the physical layout used when the encoded field data is
// larger than SmallMaxBodyBytes: a 4-byte byte_size and a 4-byte
// cardinality precede the packed field data (spec §3 "big" layout).
type BigTuple struct {
	bsize       uint32
	cardinality uint32
	data        []byte
	refcount    int32
}

func newBigTuple(cardinality int, data []byte) *BigTuple {
	t := &BigTuple{
		bsize:       uint32(len(data)),
		cardinality: uint32(cardinality),
		data:        data,
		refcount:    1,
	}
	return t
}

func (t *BigTuple) Cardinality() int { return int(t.cardinality) }

func (t *BigTuple) Field(i int) ([]byte, error) { return fieldAt(t.data, int(t.cardinality), i) }

func (t *BigTuple) ByteSize() (int, error) { return int(t.bsize), nil }

// Retain increments the reference count; returns the new count.
func (t *BigTuple) Retain() int32 { return atomic.AddInt32(&t.refcount, 1) }

// Release decrements the reference count; returns the new count. A tuple
// reachable from any index has refcount >= 1 (invariant 5); once it drops
// to zero here the object is eligible for Go's GC like anything else —
// Release exists so invariant 5 is independently testable, not to drive
// manual memory reclamation.
func (t *BigTuple) Release() int32 { return atomic.AddInt32(&t.refcount, -1) }

// RefCount reports the current reference count.
func (t *BigTuple) RefCount() int32 { return atomic.LoadInt32(&t.refcount) }
