package wire

import (
	"encoding/binary"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/tuple"
)

// UpdateOp is one kind of per-field mutation an UPDATE_FIELDS op can
// carry (spec §4.3).
type UpdateOp uint8

const (
	UpdateSet UpdateOp = iota
	UpdateSplice
	UpdateArithAdd
	UpdateArithAnd
	UpdateArithOr
	UpdateArithXor
	UpdateInsertField
	UpdateDeleteField
)

// FieldUpdate is one entry of an UPDATE_FIELDS payload: which field it
// targets, which kind of update, and the operand bytes (the new value
// for Set/InsertField, the right-hand operand for the arithmetic kinds,
// offset+length+replacement packed together for Splice, unused for
// DeleteField).
type FieldUpdate struct {
	Field int
	Op    UpdateOp
	Value []byte
}

// EncodeUpdateList packs a list of field updates as {u32 count} followed
// by, per entry, {u32 field, u8 op, varint len, bytes value}.
func EncodeUpdateList(updates []FieldUpdate) []byte {
	out := make([]byte, 4)
	binary.LittleEndian.PutUint32(out, uint32(len(updates)))
	for _, u := range updates {
		head := make([]byte, 5)
		binary.LittleEndian.PutUint32(head, uint32(u.Field))
		head[4] = byte(u.Op)
		out = append(out, head...)
		out = tuple.EncodeField(out, u.Value)
	}
	return out
}

// DecodeUpdateList parses the payload EncodeUpdateList produces.
func DecodeUpdateList(buf []byte) ([]FieldUpdate, error) {
	if len(buf) < 4 {
		return nil, &boxerrors.TruncatedFieldError{Wanted: 4, Present: len(buf)}
	}
	count := int(binary.LittleEndian.Uint32(buf))
	rest := buf[4:]
	updates := make([]FieldUpdate, count)
	for i := 0; i < count; i++ {
		if len(rest) < 5 {
			return nil, &boxerrors.TruncatedFieldError{Wanted: 5, Present: len(rest)}
		}
		field := int(binary.LittleEndian.Uint32(rest))
		op := UpdateOp(rest[4])
		rest = rest[5:]
		l, n, err := tuple.ReadVarint(rest)
		if err != nil {
			return nil, err
		}
		start := n
		end := start + int(l)
		if end > len(rest) {
			return nil, &boxerrors.TruncatedFieldError{Wanted: int(l), Present: len(rest) - start}
		}
		updates[i] = FieldUpdate{Field: field, Op: op, Value: rest[start:end]}
		rest = rest[end:]
	}
	return updates, nil
}

// EncodeUpdatePayload packs an UPDATE_FIELDS op body: the wire-encoded
// tuple carrying just the target row's primary key fields, followed by
// the update list.
func EncodeUpdatePayload(keyWire []byte, updates []FieldUpdate) []byte {
	out := make([]byte, 4, 4+len(keyWire)+32)
	binary.LittleEndian.PutUint32(out, uint32(len(keyWire)))
	out = append(out, keyWire...)
	out = append(out, EncodeUpdateList(updates)...)
	return out
}

// DecodeUpdatePayload reverses EncodeUpdatePayload.
func DecodeUpdatePayload(buf []byte) (keyWire []byte, updates []FieldUpdate, err error) {
	if len(buf) < 4 {
		return nil, nil, &boxerrors.TruncatedFieldError{Wanted: 4, Present: len(buf)}
	}
	klen := int(binary.LittleEndian.Uint32(buf))
	if len(buf) < 4+klen {
		return nil, nil, &boxerrors.TruncatedFieldError{Wanted: 4 + klen, Present: len(buf)}
	}
	keyWire = buf[4 : 4+klen]
	updates, err = DecodeUpdateList(buf[4+klen:])
	return keyWire, updates, err
}

// SpliceArgs unpacks a Splice update's Value as {i32 offset, i32 length,
// bytes replacement} (negative offset counts from the end, mirroring
// the splice semantics familiar from Lua-style string.splice updates).
type SpliceArgs struct {
	Offset      int32
	Length      int32
	Replacement []byte
}

func EncodeSpliceArgs(a SpliceArgs) []byte {
	out := make([]byte, 8+len(a.Replacement))
	binary.LittleEndian.PutUint32(out, uint32(a.Offset))
	binary.LittleEndian.PutUint32(out[4:], uint32(a.Length))
	copy(out[8:], a.Replacement)
	return out
}

func DecodeSpliceArgs(buf []byte) (SpliceArgs, error) {
	if len(buf) < 8 {
		return SpliceArgs{}, &boxerrors.TruncatedFieldError{Wanted: 8, Present: len(buf)}
	}
	return SpliceArgs{
		Offset:      int32(binary.LittleEndian.Uint32(buf)),
		Length:      int32(binary.LittleEndian.Uint32(buf[4:])),
		Replacement: buf[8:],
	}, nil
}
