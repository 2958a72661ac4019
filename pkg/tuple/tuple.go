package tuple

import (
	"encoding/binary"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// New builds a tuple from its fields, packing each as a varint length
// followed by its bytes and choosing the physical layout (small vs big)
// by the resulting body length, per spec §3/§4.1. The layout choice is
// invisible to every accessor but ByteSize's header size.
func New(fields [][]byte) (Object, error) {
	if len(fields) > SmallMaxCardinality*1024 {
		return nil, &boxerrors.MalformedTupleError{Reason: "cardinality too large"}
	}
	var body []byte
	for _, f := range fields {
		body = EncodeField(body, f)
	}
	if len(body) <= SmallMaxBodyBytes && len(fields) <= SmallMaxCardinality {
		return newSmallTuple(len(fields), body), nil
	}
	return newBigTuple(len(fields), body), nil
}

// Validate recomputes the sum of varint-length-prefixed fields in obj and
// fails with MalformedTupleError if it disagrees with the header's
// byte_size (spec §4.1).
func Validate(obj Object) error {
	var cardinality int
	var data []byte
	var bsize int
	switch t := obj.(type) {
	case *BigTuple:
		cardinality, data, bsize = int(t.cardinality), t.data, int(t.bsize)
	case *SmallTuple:
		cardinality, data, bsize = int(t.cardinality), t.data, int(t.bsize)
	default:
		return &boxerrors.MalformedTupleError{Reason: "validate called on a non-physical object"}
	}
	sum, err := FieldsByteSize(cardinality, data)
	if err != nil {
		return err
	}
	if sum != bsize || sum != len(data) {
		return &boxerrors.MalformedTupleError{Reason: "encoded field sum disagrees with byte_size"}
	}
	return nil
}

// EncodeWire serializes obj using the on-the-wire/storage tuple encoding
// of spec §6: {u32 cardinality} followed by the fields (each itself a
// varint length + bytes, per field encoding).
func EncodeWire(obj Object) ([]byte, error) {
	n := obj.Cardinality()
	out := make([]byte, 4, 4+16*n)
	binary.LittleEndian.PutUint32(out, uint32(n))
	for i := 0; i < n; i++ {
		f, err := obj.Field(i)
		if err != nil {
			return nil, err
		}
		out = EncodeField(out, f)
	}
	return out, nil
}

// DecodeWire parses the §6 wire tuple encoding and constructs an Object
// via New, so the physical layout is chosen the same way a freshly
// decoded mutation payload would be.
func DecodeWire(buf []byte) (Object, error) {
	if len(buf) < 4 {
		return nil, &boxerrors.TruncatedFieldError{Wanted: 1, Present: 0}
	}
	cardinality := int(binary.LittleEndian.Uint32(buf))
	rest := buf[4:]
	fields := make([][]byte, cardinality)
	off := 0
	for i := 0; i < cardinality; i++ {
		if off > len(rest) {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: i}
		}
		l, n, err := ReadVarint(rest[off:])
		if err != nil {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: i}
		}
		start := off + n
		end := start + int(l)
		if end > len(rest) {
			return nil, &boxerrors.TruncatedFieldError{Wanted: cardinality, Present: i}
		}
		fields[i] = rest[start:end]
		off = end
	}
	return New(fields)
}

// CheckCardinality validates obj against a table's fixed cardinality
// (0 means variable, per spec §3 "Object space").
func CheckCardinality(obj Object, tableName string, fixed int) error {
	if fixed == 0 {
		return nil
	}
	if obj.Cardinality() != fixed {
		return &boxerrors.CardinalityMismatchError{Table: tableName, Expected: fixed, Actual: obj.Cardinality()}
	}
	return nil
}
