package tuple

import "sync/atomic"

// SmallMaxBodyBytes is the largest encoded body a SmallTuple can hold;
// bodies above this threshold use BigTuple instead (spec §3).
const SmallMaxBodyBytes = 255

// SmallMaxCardinality bounds cardinality for the 1-byte small header.
const SmallMaxCardinality = 255

// SmallTuple is the compact physical layout: 1-byte byte_size and 1-byte
// cardinality, saving 6 bytes per record versus BigTuple.
type SmallTuple struct {
	bsize       uint8
	cardinality uint8
	data        []byte
	refcount    int32
}

func newSmallTuple(cardinality int, data []byte) *SmallTuple {
	return &SmallTuple{
		bsize:       uint8(len(data)),
		cardinality: uint8(cardinality),
		data:        data,
		refcount:    1,
	}
}

func (t *SmallTuple) Cardinality() int { return int(t.cardinality) }

func (t *SmallTuple) Field(i int) ([]byte, error) { return fieldAt(t.data, int(t.cardinality), i) }

func (t *SmallTuple) ByteSize() (int, error) { return int(t.bsize), nil }

func (t *SmallTuple) Retain() int32 { return atomic.AddInt32(&t.refcount, 1) }

func (t *SmallTuple) Release() int32 { return atomic.AddInt32(&t.refcount, -1) }

func (t *SmallTuple) RefCount() int32 { return atomic.LoadInt32(&t.refcount) }
