// Package index implements the ordered key-to-slot maps that back a
// table's primary and secondary indices. The data structure itself is
// out of scope for the tuple-store semantics this module targets; what
// matters is the Slot indirection the overlay layer (package phi) needs
// in order to stand in for a tuple while a transaction is mid-flight.
// This package never imports phi: Slot.Obj is typed as tuple.Object so
// either a concrete tuple or a phi overlay can occupy it.
package index

import (
	"math"
	"sync"
	"time"

	"github.com/google/btree"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
)

// btreeDegree controls the branching factor of the backing B-tree; 32 is
// google/btree's own benchmark sweet spot and isn't otherwise meaningful
// here since the index is rebuilt from snapshot+WAL on every restart.
const btreeDegree = 32

type entry struct {
	key  types.Comparable
	slot *Slot
}

func less(a, b entry) bool { return a.key.Compare(b.key) < 0 }

// Index is one index on a table: an ordered key -> Slot map declared by
// the table's index configuration (fields, field types, unique, partial).
// index[0] of a table is always its primary, unique index.
type Index struct {
	Name    string
	Fields  []int
	Types   []types.FieldType
	Unique  bool
	Primary bool
	Partial bool

	mu   sync.RWMutex
	tree *btree.BTreeG[entry]
}

// New builds an empty index. fields lists the 0-based tuple field
// indices this index is keyed on, in order; a single-field index keys
// directly on that field's value, a multi-field one keys on a
// types.CompositeKey.
func New(name string, fields []int, fieldTypes []types.FieldType, unique, primary, partial bool) *Index {
	return &Index{
		Name:    name,
		Fields:  fields,
		Types:   fieldTypes,
		Unique:  unique,
		Primary: primary,
		Partial: partial,
		tree:    btree.NewG(btreeDegree, less),
	}
}

// KeyFor extracts this index's key from obj's fields. ok is false when
// the index is partial and the key field is missing or zero-length
// (spec §6: "partial indices do not bind tuples whose indexed fields
// are missing or zero-length").
func (ix *Index) KeyFor(obj tuple.Object) (types.Comparable, bool, error) {
	if len(ix.Fields) == 1 {
		raw, err := obj.Field(ix.Fields[0])
		if err != nil {
			return nil, false, err
		}
		if ix.Partial && len(raw) == 0 {
			return nil, false, nil
		}
		k, err := decodeKey(ix.Name, ix.Types[0], raw)
		if err != nil {
			return nil, false, err
		}
		return k, true, nil
	}
	parts := make(types.CompositeKey, len(ix.Fields))
	for i, fi := range ix.Fields {
		raw, err := obj.Field(fi)
		if err != nil {
			return nil, false, err
		}
		if ix.Partial && len(raw) == 0 {
			return nil, false, nil
		}
		k, err := decodeKey(ix.Name, ix.Types[i], raw)
		if err != nil {
			return nil, false, err
		}
		parts[i] = k
	}
	return parts, true, nil
}

// KeyFromKeyTuple decodes a key directly from a tuple that carries only
// the key fields themselves, positionally (field 0 of keyTuple is this
// index's first key field, and so on), rather than extracting them out
// of a full table row. Used to parse client-supplied lookup/delete keys,
// which travel over the wire as a compact tuple rather than a full row.
func (ix *Index) KeyFromKeyTuple(keyTuple tuple.Object) (types.Comparable, error) {
	if len(ix.Fields) == 1 {
		raw, err := keyTuple.Field(0)
		if err != nil {
			return nil, err
		}
		return decodeKey(ix.Name, ix.Types[0], raw)
	}
	parts := make(types.CompositeKey, len(ix.Fields))
	for i := range ix.Fields {
		raw, err := keyTuple.Field(i)
		if err != nil {
			return nil, err
		}
		k, err := decodeKey(ix.Name, ix.Types[i], raw)
		if err != nil {
			return nil, err
		}
		parts[i] = k
	}
	return parts, nil
}

// Get returns the slot currently bound to key, or nil if none exists.
func (ix *Index) Get(key types.Comparable) *Slot {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	e, ok := ix.tree.Get(entry{key: key})
	if !ok {
		return nil
	}
	return e.slot
}

// Put binds key to slot, returning whatever slot was previously bound
// there (nil if the key was unoccupied).
func (ix *Index) Put(key types.Comparable, slot *Slot) *Slot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, had := ix.tree.ReplaceOrInsert(entry{key: key, slot: slot})
	if !had {
		return nil
	}
	return old.slot
}

// Remove unbinds key and returns the slot that had occupied it, or nil.
func (ix *Index) Remove(key types.Comparable) *Slot {
	ix.mu.Lock()
	defer ix.mu.Unlock()
	old, had := ix.tree.Delete(entry{key: key})
	if !had {
		return nil
	}
	return old.slot
}

// Len reports the number of bound keys.
func (ix *Index) Len() int {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	return ix.tree.Len()
}

// Ascend visits every (key, slot) pair in ascending key order, stopping
// early if fn returns false.
func (ix *Index) Ascend(fn func(key types.Comparable, slot *Slot) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.Ascend(func(e entry) bool { return fn(e.key, e.slot) })
}

// AscendRange visits (key, slot) pairs with key >= from, in ascending
// order, stopping early if fn returns false. Used for SELECT_LIMIT-style
// range scans over a single index.
func (ix *Index) AscendRange(from types.Comparable, fn func(key types.Comparable, slot *Slot) bool) {
	ix.mu.RLock()
	defer ix.mu.RUnlock()
	ix.tree.AscendGreaterOrEqual(entry{key: from}, func(e entry) bool { return fn(e.key, e.slot) })
}

func decodeKey(indexName string, ft types.FieldType, raw []byte) (types.Comparable, error) {
	switch ft {
	case types.FieldInt:
		if len(raw) != 8 {
			return nil, &boxerrors.InvalidFieldTypeError{Index: indexName, Want: ft.String()}
		}
		var v int64
		for i := 7; i >= 0; i-- {
			v = v<<8 | int64(raw[i])
		}
		return types.IntKey(v), nil
	case types.FieldVarchar:
		return types.VarcharKey(raw), nil
	case types.FieldBoolean:
		return types.BoolKey(len(raw) > 0 && raw[0] != 0), nil
	case types.FieldFloat:
		if len(raw) != 8 {
			return nil, &boxerrors.InvalidFieldTypeError{Index: indexName, Want: ft.String()}
		}
		var bits uint64
		for i := 7; i >= 0; i-- {
			bits = bits<<8 | uint64(raw[i])
		}
		return types.FloatKey(math.Float64frombits(bits)), nil
	case types.FieldDate:
		if len(raw) != 8 {
			return nil, &boxerrors.InvalidFieldTypeError{Index: indexName, Want: ft.String()}
		}
		var nanos int64
		for i := 7; i >= 0; i-- {
			nanos = nanos<<8 | int64(raw[i])
		}
		return types.DateKey(time.Unix(0, nanos).UTC()), nil
	default:
		return nil, &boxerrors.InvalidFieldTypeError{Index: indexName, Want: ft.String()}
	}
}
