package box

import (
	"encoding/binary"
	"testing"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
	"github.com/boxtuple/boxdb/pkg/wire"
)

// fakeWAL is a minimal box.WAL stand-in: it either accepts every
// submission (recording the payloads) or fails every one, depending on
// failAfter.
type fakeWAL struct {
	payloads  [][]byte
	failAfter int // -1 = never fail; N = fail on the (N+1)th Submit call
	calls     int
}

func (w *fakeWAL) Submit(payload []byte) (int64, error) {
	w.calls++
	if w.failAfter >= 0 && w.calls > w.failAfter {
		return 0, boxerrors.Newf("simulated WAL failure")
	}
	w.payloads = append(w.payloads, payload)
	return int64(len(w.payloads)), nil
}

func intField(v int64) []byte {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, uint64(v))
	return b
}

func newTestTable(t *testing.T, wal bool, secondaryOnField1 bool) (*space.Space, *space.Table) {
	t.Helper()
	sp := space.New()
	defs := []space.IndexDef{
		{Name: "primary", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}, Unique: true},
	}
	if secondaryOnField1 {
		defs = append(defs, space.IndexDef{Name: "by_name", Fields: []int{1}, Types: []types.FieldType{types.FieldVarchar}, Unique: false})
	}
	tbl, err := sp.CreateTable(1, "widgets", 0, true, wal, false, defs)
	if err != nil {
		t.Fatalf("CreateTable: %v", err)
	}
	return sp, tbl
}

func wireInsert(key int64, name string, flags wire.Flags) wire.Op {
	obj, _ := tuple.New([][]byte{intField(key), []byte(name)})
	body, _ := tuple.EncodeWire(obj)
	return wire.Op{Opcode: wire.OpInsert, Flags: flags, Table: 1, Body: body}
}

func wireDelete(key int64) wire.Op {
	obj, _ := tuple.New([][]byte{intField(key)})
	body, _ := tuple.EncodeWire(obj)
	return wire.Op{Opcode: wire.OpDelete, Table: 1, Body: body}
}

func wireUpdateSetField(key int64, field int, value string) wire.Op {
	keyObj, _ := tuple.New([][]byte{intField(key)})
	keyWire, _ := tuple.EncodeWire(keyObj)
	body := wire.EncodeUpdatePayload(keyWire, []wire.FieldUpdate{{Op: wire.UpdateSet, Field: field, Value: []byte(value)}})
	return wire.Op{Opcode: wire.OpUpdateFields, Table: 1, Body: body}
}

func selectByKey(t *testing.T, tbl *space.Table, key int64) tuple.Object {
	t.Helper()
	primary := tbl.Primary()
	slot := primary.Get(types.IntKey(key))
	if slot == nil {
		return nil
	}
	slot.Lock()
	defer slot.Unlock()
	return phiVisible(slot.Load())
}

// phiVisible avoids importing pkg/phi into the test just for
// VisibleRight; it is re-declared here rather than exported from
// package box, matching the teacher's own habit of tiny test-local
// helpers instead of widening a package's public surface for tests.
func phiVisible(obj tuple.Object) tuple.Object {
	type rightLooker interface{ Tip() tuple.Object }
	if rl, ok := obj.(rightLooker); ok {
		return rl.Tip()
	}
	return obj
}

func mustFieldString(t *testing.T, obj tuple.Object, i int) string {
	t.Helper()
	f, err := obj.Field(i)
	if err != nil {
		t.Fatalf("Field(%d): %v", i, err)
	}
	return string(f)
}

// S1: INSERT/ADD duplicate.
func TestInsertAddDuplicateRejected(t *testing.T) {
	sp, tbl := newTestTable(t, true, false)
	wal := &fakeWAL{failAfter: -1}
	mgr := NewManager(sp, wal)

	txn1, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Prepare(txn1, wireInsert(42, "a", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare insert 1: %v", err)
	}
	if _, err := txn1.Submit(); err != nil {
		t.Fatalf("Submit txn1: %v", err)
	}

	txn2, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	_, err = Prepare(txn2, wireInsert(42, "b", wire.FlagAdd))
	if err == nil {
		t.Fatal("expected DuplicateKeyError, got nil")
	}
	if _, ok := err.(*boxerrors.DuplicateKeyError); !ok {
		t.Fatalf("expected *DuplicateKeyError, got %T: %v", err, err)
	}
	txn2.Rollback()

	got := selectByKey(t, tbl, 42)
	if got == nil {
		t.Fatal("key 42 missing after failed duplicate insert")
	}
	if mustFieldString(t, got, 1) != "a" {
		t.Fatalf("expected original value %q, got %q", "a", mustFieldString(t, got, 1))
	}
}

// S2: multi-op transaction: insert, update, delete the same key, all in
// one Submit.
func TestMultiOpInsertUpdateDelete(t *testing.T) {
	sp, tbl := newTestTable(t, true, false)
	wal := &fakeWAL{failAfter: -1}
	mgr := NewManager(sp, wal)

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	insertOp, err := Prepare(txn, wireInsert(1, "x", wire.FlagAdd))
	if err != nil {
		t.Fatalf("Prepare insert: %v", err)
	}
	updateOp, err := Prepare(txn, wireUpdateSetField(1, 1, "y"))
	if err != nil {
		t.Fatalf("Prepare update: %v", err)
	}
	deleteOp, err := Prepare(txn, wireDelete(1))
	if err != nil {
		t.Fatalf("Prepare delete: %v", err)
	}

	if _, err := txn.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if len(wal.payloads) != 1 {
		t.Fatalf("expected exactly one WAL record for the multi-op txn, got %d", len(wal.payloads))
	}

	if got := selectByKey(t, tbl, 1); got != nil {
		t.Fatalf("expected key 1 to be gone after delete, got %v", got)
	}

	totalAffected := insertOp.Affected + updateOp.Affected + deleteOp.Affected
	if totalAffected != 3 {
		t.Fatalf("expected obj_affected total 3, got %d", totalAffected)
	}
}

// S3: rollback on WAL failure unwinds every cell installed by a
// multi-key transaction.
func TestRollbackOnWalFailureUnwindsAll(t *testing.T) {
	sp, tbl := newTestTable(t, true, false)
	wal := &fakeWAL{failAfter: 0} // every Submit call fails
	mgr := NewManager(sp, wal)

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Prepare(txn, wireInsert(7, "a", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare 7: %v", err)
	}
	if _, err := Prepare(txn, wireInsert(8, "b", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare 8: %v", err)
	}

	_, err = txn.Submit()
	if err == nil {
		t.Fatal("expected WalFailureError, got nil")
	}
	if _, ok := err.(*boxerrors.WalFailureError); !ok {
		t.Fatalf("expected *WalFailureError, got %T: %v", err, err)
	}
	if txn.State != RolledBack {
		t.Fatalf("expected txn state RolledBack, got %s", txn.State)
	}

	if got := selectByKey(t, tbl, 7); got != nil {
		t.Fatalf("expected key 7 to be gone after rollback, got %v", got)
	}
	if got := selectByKey(t, tbl, 8); got != nil {
		t.Fatalf("expected key 8 to be gone after rollback, got %v", got)
	}
	if tbl.Len() != 0 {
		t.Fatalf("expected empty table after rollback, got %d rows", tbl.Len())
	}
}

// S4: updating a secondary-indexed field rebinds the secondary index
// from the old key to the new one.
func TestSecondaryIndexRebinding(t *testing.T) {
	sp, tbl := newTestTable(t, true, true)
	wal := &fakeWAL{failAfter: -1}
	mgr := NewManager(sp, wal)

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Prepare(txn, wireInsert(1, "a", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare insert: %v", err)
	}
	if _, err := txn.Submit(); err != nil {
		t.Fatalf("Submit insert: %v", err)
	}

	txn2, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Prepare(txn2, wireUpdateSetField(1, 1, "b")); err != nil {
		t.Fatalf("Prepare update: %v", err)
	}
	if _, err := txn2.Submit(); err != nil {
		t.Fatalf("Submit update: %v", err)
	}

	secondary, err := tbl.Index("by_name")
	if err != nil {
		t.Fatalf("Index: %v", err)
	}
	if slot := secondary.Get(types.VarcharKey("a")); slot != nil {
		slot.Lock()
		v := phiVisible(slot.Load())
		slot.Unlock()
		if v != nil {
			t.Fatalf("expected no binding left at old secondary key \"a\", found %v", v)
		}
	}
	slot := secondary.Get(types.VarcharKey("b"))
	if slot == nil {
		t.Fatal("expected a binding at new secondary key \"b\"")
	}
	slot.Lock()
	got := phiVisible(slot.Load())
	slot.Unlock()
	if got == nil || mustFieldString(t, got, 1) != "b" {
		t.Fatalf("expected tuple with field 1 = \"b\" at secondary key, got %v", got)
	}
}

// A read-only Begin must never take the write lock, and a mutating op
// attempted on it must fail instead of mutating anything.
func TestReadOnlyTransactionRejectsMutation(t *testing.T) {
	sp, _ := newTestTable(t, true, false)
	mgr := NewManager(sp, &fakeWAL{failAfter: -1})

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true, ReadOnly: true})
	if err != nil {
		t.Fatalf("Begin read-only: %v", err)
	}
	_, err = Prepare(txn, wireInsert(1, "a", wire.FlagAdd))
	if err == nil {
		t.Fatal("expected ReadOnlyError on a mutating op in a read-only transaction")
	}
	if _, ok := err.(*boxerrors.ReadOnlyError); !ok {
		t.Fatalf("expected *ReadOnlyError, got %T: %v", err, err)
	}
}

// A table declared wal=false never reaches the WAL collaborator.
func TestNoWalTableSkipsSubmission(t *testing.T) {
	sp, tbl := newTestTable(t, false, false)
	wal := &fakeWAL{failAfter: -1}
	mgr := NewManager(sp, wal)

	txn, err := mgr.Begin(BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		t.Fatalf("Begin: %v", err)
	}
	if _, err := Prepare(txn, wireInsert(9, "z", wire.FlagAdd)); err != nil {
		t.Fatalf("Prepare: %v", err)
	}
	if _, err := txn.Submit(); err != nil {
		t.Fatalf("Submit: %v", err)
	}
	if wal.calls != 0 {
		t.Fatalf("expected wal=false table to never call Submit, got %d calls", wal.calls)
	}
	if got := selectByKey(t, tbl, 9); got == nil {
		t.Fatal("expected key 9 to be committed despite no WAL")
	}
}

func TestMetaCreateDropTableAndIndex(t *testing.T) {
	sp := space.New()
	mgr := NewManager(sp, &fakeWAL{failAfter: -1})

	mt, err := BeginMeta(mgr, MetaCreateTable, "gadgets", "", CreateTableArgs{
		ID: 2,
		Defs: []space.IndexDef{
			{Name: "primary", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}, Unique: true},
		},
	}, CreateIndexArgs{})
	if err != nil {
		t.Fatalf("BeginMeta create table: %v", err)
	}
	if err := mt.Commit(); err != nil {
		t.Fatalf("Commit create table: %v", err)
	}

	tbl, err := sp.Table("gadgets")
	if err != nil {
		t.Fatalf("Table: %v", err)
	}

	mi, err := BeginMeta(mgr, MetaCreateIndex, "gadgets", "", CreateTableArgs{}, CreateIndexArgs{
		Def: space.IndexDef{Name: "secondary", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}},
	})
	if err != nil {
		t.Fatalf("BeginMeta create index: %v", err)
	}
	if err := mi.Commit(); err != nil {
		t.Fatalf("Commit create index: %v", err)
	}
	if _, err := tbl.Index("secondary"); err != nil {
		t.Fatalf("expected secondary index to exist: %v", err)
	}

	// Dropping the primary is rejected even though the prepare-time
	// check passed; this is the registry's own structural guard.
	md, err := BeginMeta(mgr, MetaDropIndex, "gadgets", "primary", CreateTableArgs{}, CreateIndexArgs{})
	if err != nil {
		t.Fatalf("BeginMeta drop primary: %v", err)
	}
	if err := md.Commit(); err == nil {
		t.Fatal("expected an error dropping the primary index")
	}

	mdrop, err := BeginMeta(mgr, MetaDropTable, "gadgets", "", CreateTableArgs{}, CreateIndexArgs{})
	if err != nil {
		t.Fatalf("BeginMeta drop table: %v", err)
	}
	if err := mdrop.Commit(); err != nil {
		t.Fatalf("Commit drop table: %v", err)
	}
	if _, err := sp.Table("gadgets"); err == nil {
		t.Fatal("expected table to be gone after drop")
	}
}

func TestMetaPrepareRejectsUnknownTable(t *testing.T) {
	sp := space.New()
	mgr := NewManager(sp, &fakeWAL{failAfter: -1})
	_, err := BeginMeta(mgr, MetaDropTable, "nope", "", CreateTableArgs{}, CreateIndexArgs{})
	if err == nil {
		t.Fatal("expected NoSuchTableError")
	}
	if _, ok := err.(*boxerrors.NoSuchTableError); !ok {
		t.Fatalf("expected *NoSuchTableError, got %T: %v", err, err)
	}
}
