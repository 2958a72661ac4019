// Package wire implements the binary request framing of spec §6: the
// BOX_OP / BOX_MULTI_OP TLV envelope, the opcode and flag constants, and
// the UPDATE_FIELDS per-field update list encoding. Everything else
// about request transport — sockets, the fiber scheduler that reads off
// them — is out of scope; this package only encodes and decodes bytes
// already delivered to it.
package wire

import (
	"encoding/binary"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// Tag identifies a TLV's payload kind.
type Tag uint16

const (
	TagBoxOp      Tag = 127
	TagBoxMultiOp Tag = 128
)

// Opcode is the operation code carried by a BOX_OP payload.
type Opcode uint32

const (
	OpNop              Opcode = 1
	OpInsert           Opcode = 13
	OpSelectLimit      Opcode = 15
	OpSelect           Opcode = 17
	OpUpdateFields     Opcode = 19
	OpDelete13         Opcode = 20
	OpDelete           Opcode = 21
	OpExecLua          Opcode = 22
	OpPaxosLeader      Opcode = 90
	OpSelectKeys       Opcode = 99
	OpSelectTuples     Opcode = 100
	OpSubmitError      Opcode = 101
	OpSelectTime       Opcode = 102
	OpCreateObjSpace   Opcode = 240
	OpCreateIndex      Opcode = 241
	OpDropObjSpace     Opcode = 242
	OpDropIndex        Opcode = 243
	OpTruncate         Opcode = 244
)

// reservedOpcodes lists historical opcodes that must be rejected
// outright rather than silently ignored (spec §6).
var reservedOpcodes = map[Opcode]bool{
	1: false, // NOP is active, listed here only to document the boundary
	2: true, 3: true, 4: true, 5: true, 6: true, 7: true, 8: true,
	9: true, 10: true, 11: true, 12: true, 14: true, 16: true,
}

// ValidateOpcode rejects historical reserved opcodes and anything not in
// the active set.
func ValidateOpcode(op Opcode) error {
	switch op {
	case OpNop, OpInsert, OpSelectLimit, OpSelect, OpUpdateFields,
		OpDelete13, OpDelete, OpExecLua, OpPaxosLeader,
		OpSelectKeys, OpSelectTuples, OpSubmitError, OpSelectTime,
		OpCreateObjSpace, OpCreateIndex, OpDropObjSpace, OpDropIndex, OpTruncate:
		return nil
	default:
		return &boxerrors.BadOpcodeError{Opcode: uint32(op)}
	}
}

// Flags is the u32 op-flags bitset.
type Flags uint32

const (
	FlagReturnTuple Flags = 1
	FlagAdd         Flags = 2
	FlagReplace     Flags = 4
)

func (f Flags) Has(bit Flags) bool { return f&bit != 0 }

// Op is one decoded BOX_OP payload: an opcode, flags, the target table
// number, and the opcode-specific body (a tuple for INSERT, a key plus
// update list for UPDATE_FIELDS, a key for DELETE).
type Op struct {
	Opcode Opcode
	Flags  Flags
	Table  uint32
	Body   []byte
}

// EncodeTLV wraps payload in a {u16 tag, u32 len, bytes value} envelope.
func EncodeTLV(tag Tag, payload []byte) []byte {
	out := make([]byte, 6+len(payload))
	binary.LittleEndian.PutUint16(out, uint16(tag))
	binary.LittleEndian.PutUint32(out[2:], uint32(len(payload)))
	copy(out[6:], payload)
	return out
}

// DecodeTLV reads one TLV header off the front of buf and returns its
// tag, its value, and the number of bytes consumed.
func DecodeTLV(buf []byte) (tag Tag, value []byte, consumed int, err error) {
	if len(buf) < 6 {
		return 0, nil, 0, &boxerrors.TruncatedFieldError{Wanted: 6, Present: len(buf)}
	}
	tag = Tag(binary.LittleEndian.Uint16(buf))
	l := binary.LittleEndian.Uint32(buf[2:])
	if uint32(len(buf)-6) < l {
		return 0, nil, 0, &boxerrors.TruncatedFieldError{Wanted: int(l), Present: len(buf) - 6}
	}
	return tag, buf[6 : 6+l], 6 + int(l), nil
}

// EncodeOp packs an Op's {opcode, flags, table, body} into a BOX_OP
// payload: {u32 opcode, u32 flags, u32 table, bytes body}.
func EncodeOp(op Op) []byte {
	out := make([]byte, 12+len(op.Body))
	binary.LittleEndian.PutUint32(out, uint32(op.Opcode))
	binary.LittleEndian.PutUint32(out[4:], uint32(op.Flags))
	binary.LittleEndian.PutUint32(out[8:], op.Table)
	copy(out[12:], op.Body)
	return out
}

// DecodeOp parses a BOX_OP payload produced by EncodeOp.
func DecodeOp(payload []byte) (Op, error) {
	if len(payload) < 12 {
		return Op{}, &boxerrors.TruncatedFieldError{Wanted: 12, Present: len(payload)}
	}
	op := Op{
		Opcode: Opcode(binary.LittleEndian.Uint32(payload)),
		Flags:  Flags(binary.LittleEndian.Uint32(payload[4:])),
		Table:  binary.LittleEndian.Uint32(payload[8:]),
		Body:   payload[12:],
	}
	if err := ValidateOpcode(op.Opcode); err != nil {
		return Op{}, err
	}
	return op, nil
}

// EncodeSingle wraps one Op as a BOX_OP TLV.
func EncodeSingle(op Op) []byte {
	return EncodeTLV(TagBoxOp, EncodeOp(op))
}

// EncodeMulti wraps several ops as a BOX_MULTI_OP TLV carrying inner
// BOX_OP TLVs in submission order (spec §4.5 box_submit).
func EncodeMulti(ops []Op) []byte {
	var inner []byte
	for _, op := range ops {
		inner = append(inner, EncodeSingle(op)...)
	}
	return EncodeTLV(TagBoxMultiOp, inner)
}

// DecodeRequest parses a top-level TLV and returns the Ops it carries,
// whether it was a single BOX_OP or a BOX_MULTI_OP of several.
func DecodeRequest(buf []byte) ([]Op, error) {
	tag, value, _, err := DecodeTLV(buf)
	if err != nil {
		return nil, err
	}
	switch tag {
	case TagBoxOp:
		op, err := DecodeOp(value)
		if err != nil {
			return nil, err
		}
		return []Op{op}, nil
	case TagBoxMultiOp:
		var ops []Op
		rest := value
		for len(rest) > 0 {
			innerTag, innerValue, n, err := DecodeTLV(rest)
			if err != nil {
				return nil, err
			}
			if innerTag != TagBoxOp {
				return nil, &boxerrors.MalformedTupleError{Reason: "BOX_MULTI_OP must only contain BOX_OP entries"}
			}
			op, err := DecodeOp(innerValue)
			if err != nil {
				return nil, err
			}
			ops = append(ops, op)
			rest = rest[n:]
		}
		return ops, nil
	default:
		return nil, &boxerrors.MalformedTupleError{Reason: "unrecognized top-level TLV tag"}
	}
}
