// Package tuple implements the three tagged object variants described in
// spec §4.1: two physical tuple layouts (BigTuple, SmallTuple) sharing one
// logical contract, plus the Object interface that lets a transient phi
// overlay (package phi) impersonate a tuple inside an index slot.
package tuple

import (
	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// Object is implemented by BigTuple, SmallTuple, and (in package phi) the
// PhiOverlay that temporarily occupies an index slot in place of either.
// Accessors dispatch on the concrete type rather than an unexported tag,
// so that an overlay defined in a different package can still stand in
// for a tuple wherever index code expects one.
type Object interface {
	// Cardinality returns the number of fields.
	Cardinality() int
	// Field returns the raw bytes of field i (0-based), or an error if
	// i is out of range.
	Field(i int) ([]byte, error)
	// ByteSize returns the encoded body size from the physical header.
	// A PhiOverlay always errors here (§4.1: "calling on an overlay is
	// an error").
	ByteSize() (int, error)
}

// fieldAt walks varint-length-prefixed fields in data, skipping i of them,
// and returns the bytes of the i-th field.
func fieldAt(data []byte, cardinality, i int) ([]byte, error) {
	if i < 0 || i >= cardinality {
		return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: i, Cardinality: cardinality}
	}
	off := 0
	for f := 0; f < cardinality; f++ {
		if off > len(data) {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		l, n, err := ReadVarint(data[off:])
		if err != nil {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		start := off + n
		end := start + int(l)
		if end > len(data) {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		if f == i {
			return data[start:end], nil
		}
		off = end
	}
	return nil, &boxerrors.UpdateOutOfRangeError{FieldIndex: i, Cardinality: cardinality}
}

// FieldsByteSize computes the encoded size of `cardinality` sequential
// fields starting at the front of buf, failing with TruncatedFieldError
// if the count cannot be satisfied within len(buf).
func FieldsByteSize(cardinality int, buf []byte) (int, error) {
	off := 0
	for f := 0; f < cardinality; f++ {
		if off > len(buf) {
			return 0, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		l, n, err := ReadVarint(buf[off:])
		if err != nil {
			return 0, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		end := off + n + int(l)
		if end > len(buf) {
			return 0, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: f}
		}
		off = end
	}
	return off, nil
}

// EncodeField appends one field (varint length + raw bytes) to buf.
func EncodeField(buf []byte, field []byte) []byte {
	buf = PutVarint(buf, uint64(len(field)))
	return append(buf, field...)
}

// Fields returns every field of obj as a slice, in order.
func Fields(obj Object) ([][]byte, error) {
	n := obj.Cardinality()
	out := make([][]byte, n)
	for i := 0; i < n; i++ {
		f, err := obj.Field(i)
		if err != nil {
			return nil, err
		}
		out[i] = f
	}
	return out, nil
}
