package tuple

import (
	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// PutVarint writes v using 7-bit little-endian continuation (MSB set means
// more bytes follow), appending to buf. Values up to 2,097,151 take the
// inline fast path and never touch the loop below.
func PutVarint(buf []byte, v uint64) []byte {
	switch {
	case v < 1<<7:
		return append(buf, byte(v))
	case v < 1<<14:
		return append(buf, byte(v)|0x80, byte(v>>7))
	case v < 1<<21:
		return append(buf, byte(v)|0x80, byte(v>>7)|0x80, byte(v>>14))
	}
	for v >= 0x80 {
		buf = append(buf, byte(v)|0x80)
		v >>= 7
	}
	return append(buf, byte(v))
}

// ReadVarint decodes a varint from the front of buf, returning the value
// and the number of bytes consumed.
func ReadVarint(buf []byte) (v uint64, n int, err error) {
	var shift uint
	for n < len(buf) {
		b := buf[n]
		v |= uint64(b&0x7f) << shift
		n++
		if b&0x80 == 0 {
			return v, n, nil
		}
		shift += 7
		if shift >= 64 {
			return 0, 0, &boxerrors.MalformedTupleError{Reason: "varint overflow"}
		}
	}
	return 0, 0, &boxerrors.TruncatedFieldError{Wanted: 1, Present: 0}
}

// VarintLen reports how many bytes PutVarint would emit for v.
func VarintLen(v uint64) int {
	n := 1
	for v >= 0x80 {
		v >>= 7
		n++
	}
	return n
}
