// Package space implements the object-space registry (spec §3 "Object
// space"): up to 1024 named tables, each with up to 10 indices where
// index[0] is always the unique primary. Creation, drop, and truncate
// are metadata operations that reuse the same prepare/commit/rollback
// shape as data mutations (spec §4.6) but are driven by pkg/box, not by
// this package — Space itself only holds the registry and enforces the
// structural invariants (table/index limits, exactly one primary).
package space

import (
	"strconv"
	"sync"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/index"
	"github.com/boxtuple/boxdb/pkg/types"
)

// MaxTables is the largest object-space number this registry accepts
// (spec §3: "n ∈ [0, 1024)").
const MaxTables = 1024

// MaxIndices is the largest number of indices one table may declare
// (spec §3: "a fixed array of up to 10 indices").
const MaxIndices = 10

// IndexDef declares one index at table-creation time.
type IndexDef struct {
	Name    string
	Fields  []int
	Types   []types.FieldType
	Unique  bool
	Partial bool
}

// Table is one object space: a name, a fixed cardinality (0 = variable),
// persistence flags, and an ordered list of indices with Indices[0]
// always the primary.
type Table struct {
	Name        string
	ID          uint32
	Cardinality int
	Snap        bool // included in snapshot rows
	Wal         bool // mutations are written to the WAL
	Ignored     bool // stored as given; no package in this module reads it

	mu      sync.RWMutex
	Indices []*index.Index
}

// Primary returns the table's primary index, which is always present
// once a table has been created.
func (t *Table) Primary() *index.Index {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.Indices[0]
}

// Index returns the named index, or NoSuchIndexError.
func (t *Table) Index(name string) (*index.Index, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	for _, ix := range t.Indices {
		if ix.Name == name {
			return ix, nil
		}
	}
	return nil, &boxerrors.NoSuchIndexError{Name: name}
}

// AllIndices returns the table's indices, primary first, in the order
// §4.4's "standard iterate all indices traversal" expects.
func (t *Table) AllIndices() []*index.Index {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*index.Index, len(t.Indices))
	copy(out, t.Indices)
	return out
}

// Len reports the table's current row count, read off the primary
// index since every row is bound there exactly once.
func (t *Table) Len() int { return t.Primary().Len() }

// Space is the registry of all tables, keyed by name and by number.
// Table numbers (spec's small integer n) are chosen by the caller of
// CreateTable, kept in Table.ID and looked up with TableByID (pkg/box
// uses them to address tables in WAL rows).
type Space struct {
	mu     sync.RWMutex
	tables map[string]*Table
	byID   map[uint32]*Table
}

// New returns an empty registry.
func New() *Space {
	return &Space{
		tables: make(map[string]*Table),
		byID:   make(map[uint32]*Table),
	}
}

// CreateTable registers a new table. The first IndexDef with Unique set
// on field 0 is not required by convention; the caller's zeroth entry
// in defs always becomes Indices[0], the primary, and must be unique.
func (s *Space) CreateTable(id uint32, name string, cardinality int, snap, wal, ignored bool, defs []IndexDef) (*Table, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.tables[name]; exists {
		return nil, &boxerrors.TableAlreadyExistsError{Name: name}
	}
	if len(s.tables) >= MaxTables {
		return nil, &boxerrors.TooManyTablesError{Limit: MaxTables}
	}
	if len(defs) == 0 {
		return nil, &boxerrors.PrimaryKeyNotDefinedError{TableName: name}
	}
	if len(defs) > MaxIndices {
		return nil, &boxerrors.TooManyIndicesError{TableName: name, Limit: MaxIndices}
	}

	indices := make([]*index.Index, len(defs))
	for i, d := range defs {
		indices[i] = index.New(d.Name, d.Fields, d.Types, d.Unique, i == 0, d.Partial)
	}
	if !indices[0].Unique {
		return nil, &boxerrors.PrimaryKeyNotDefinedError{TableName: name}
	}

	t := &Table{
		Name:        name,
		ID:          id,
		Cardinality: cardinality,
		Snap:        snap,
		Wal:         wal,
		Ignored:     ignored,
		Indices:     indices,
	}
	s.tables[name] = t
	s.byID[id] = t
	return t, nil
}

// Each visits every table in the registry in no particular order. Used
// by the snapshot writer, which needs to walk the full object-space.
func (s *Space) Each(fn func(t *Table)) {
	s.mu.RLock()
	tables := make([]*Table, 0, len(s.tables))
	for _, t := range s.tables {
		tables = append(tables, t)
	}
	s.mu.RUnlock()
	for _, t := range tables {
		fn(t)
	}
}

// DropTable removes a table and every index it owned.
func (s *Space) DropTable(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.tables[name]
	if !ok {
		return &boxerrors.NoSuchTableError{Name: name}
	}
	delete(s.tables, name)
	for id, tt := range s.byID {
		if tt == t {
			delete(s.byID, id)
		}
	}
	return nil
}

// Table looks up a table by name.
func (s *Space) Table(name string) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.tables[name]
	if !ok {
		return nil, &boxerrors.NoSuchTableError{Name: name}
	}
	return t, nil
}

// TableByID looks up a table by its numeric object-space id.
func (s *Space) TableByID(id uint32) (*Table, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	t, ok := s.byID[id]
	if !ok {
		return nil, &boxerrors.NoSuchTableError{Name: "#" + strconv.FormatUint(uint64(id), 10)}
	}
	return t, nil
}

// AddIndex appends a secondary index to an existing table.
func (t *Table) AddIndex(def IndexDef) (*index.Index, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if len(t.Indices) >= MaxIndices {
		return nil, &boxerrors.TooManyIndicesError{TableName: t.Name, Limit: MaxIndices}
	}
	for _, ix := range t.Indices {
		if ix.Name == def.Name {
			return nil, &boxerrors.TableAlreadyExistsError{Name: def.Name}
		}
	}
	ix := index.New(def.Name, def.Fields, def.Types, def.Unique, false, def.Partial)
	t.Indices = append(t.Indices, ix)
	return ix, nil
}

// DropIndex removes a secondary index by name; dropping index[0] (the
// primary) is rejected.
func (t *Table) DropIndex(name string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, ix := range t.Indices {
		if ix.Name != name {
			continue
		}
		if i == 0 {
			return &boxerrors.PrimaryKeyNotDefinedError{TableName: t.Name}
		}
		t.Indices = append(t.Indices[:i], t.Indices[i+1:]...)
		return nil
	}
	return &boxerrors.NoSuchIndexError{Name: name}
}

// Truncate empties every index of the table atomically with respect to
// other metadata operations (spec §4.6: "Truncate is implemented as a
// metadata op that empties all indices of a table atomically").
func (t *Table) Truncate() {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, ix := range t.Indices {
		keys := make([]types.Comparable, 0, ix.Len())
		ix.Ascend(func(key types.Comparable, _ *index.Slot) bool {
			keys = append(keys, key)
			return true
		})
		for _, k := range keys {
			ix.Remove(k)
		}
	}
}
