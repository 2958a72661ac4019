package tuple_test

import (
	"bytes"
	"testing"

	"github.com/boxtuple/boxdb/pkg/tuple"
)

func TestNewChoosesLayoutByBodySize(t *testing.T) {
	// 255-byte body -> small; 256-byte body -> big (spec §8 S5).
	small, err := tuple.New([][]byte{bytes.Repeat([]byte{'a'}, 253)})
	if err != nil {
		t.Fatalf("New small: %v", err)
	}
	if _, ok := small.(*tuple.SmallTuple); !ok {
		t.Fatalf("expected *SmallTuple, got %T", small)
	}
	bs, err := small.ByteSize()
	if err != nil || bs != 255 {
		t.Fatalf("ByteSize = %d, %v; want 255, nil", bs, err)
	}

	big, err := tuple.New([][]byte{bytes.Repeat([]byte{'a'}, 254)})
	if err != nil {
		t.Fatalf("New big: %v", err)
	}
	if _, ok := big.(*tuple.BigTuple); !ok {
		t.Fatalf("expected *BigTuple, got %T", big)
	}
	bs, err = big.ByteSize()
	if err != nil || bs != 256 {
		t.Fatalf("ByteSize = %d, %v; want 256, nil", bs, err)
	}
}

func TestFieldAccessRoundTrips(t *testing.T) {
	fields := [][]byte{[]byte("id"), []byte("42"), []byte("payload-bytes")}
	obj, err := tuple.New(fields)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if obj.Cardinality() != 3 {
		t.Fatalf("Cardinality = %d, want 3", obj.Cardinality())
	}
	for i, want := range fields {
		got, err := obj.Field(i)
		if err != nil {
			t.Fatalf("Field(%d): %v", i, err)
		}
		if !bytes.Equal(got, want) {
			t.Fatalf("Field(%d) = %q, want %q", i, got, want)
		}
	}
	if _, err := obj.Field(3); err == nil {
		t.Fatal("Field(3) should be out of range")
	}
}

func TestValidate(t *testing.T) {
	obj, err := tuple.New([][]byte{[]byte("a"), []byte("b")})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := tuple.Validate(obj); err != nil {
		t.Fatalf("Validate: %v", err)
	}
}

func TestWireRoundTrip(t *testing.T) {
	// Testable property 7: encode then decode yields an identical byte blob.
	fields := [][]byte{[]byte("42"), []byte("hello world"), {}}
	obj, err := tuple.New(fields)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	wire1, err := tuple.EncodeWire(obj)
	if err != nil {
		t.Fatalf("EncodeWire: %v", err)
	}
	decoded, err := tuple.DecodeWire(wire1)
	if err != nil {
		t.Fatalf("DecodeWire: %v", err)
	}
	wire2, err := tuple.EncodeWire(decoded)
	if err != nil {
		t.Fatalf("EncodeWire(decoded): %v", err)
	}
	if !bytes.Equal(wire1, wire2) {
		t.Fatalf("round trip mismatch:\n%x\n%x", wire1, wire2)
	}
	if decoded.Cardinality() != len(fields) {
		t.Fatalf("decoded cardinality = %d, want %d", decoded.Cardinality(), len(fields))
	}
}

func TestCheckCardinality(t *testing.T) {
	obj, _ := tuple.New([][]byte{[]byte("a"), []byte("b")})
	if err := tuple.CheckCardinality(obj, "t", 0); err != nil {
		t.Fatalf("variable cardinality should pass: %v", err)
	}
	if err := tuple.CheckCardinality(obj, "t", 2); err != nil {
		t.Fatalf("matching cardinality should pass: %v", err)
	}
	if err := tuple.CheckCardinality(obj, "t", 3); err == nil {
		t.Fatal("mismatched cardinality should fail")
	}
}

func TestRefCounting(t *testing.T) {
	obj, _ := tuple.New([][]byte{[]byte("x")})
	bt := obj.(*tuple.SmallTuple)
	if bt.RefCount() != 1 {
		t.Fatalf("initial refcount = %d, want 1", bt.RefCount())
	}
	bt.Retain()
	if bt.RefCount() != 2 {
		t.Fatalf("after Retain refcount = %d, want 2", bt.RefCount())
	}
	bt.Release()
	bt.Release()
	if bt.RefCount() != 0 {
		t.Fatalf("after two Release refcount = %d, want 0", bt.RefCount())
	}
}

func TestVarintFastPath(t *testing.T) {
	cases := []uint64{0, 1, 127, 128, 16383, 16384, 2097151, 2097152, 1 << 40}
	for _, v := range cases {
		buf := tuple.PutVarint(nil, v)
		got, n, err := tuple.ReadVarint(buf)
		if err != nil {
			t.Fatalf("ReadVarint(%d): %v", v, err)
		}
		if got != v || n != len(buf) {
			t.Fatalf("round trip %d -> %v (n=%d, len=%d)", v, got, n, len(buf))
		}
		if v <= 2097151 && len(buf) > 3 {
			t.Fatalf("value %d should fit the 3-byte fast path, took %d bytes", v, len(buf))
		}
	}
}
