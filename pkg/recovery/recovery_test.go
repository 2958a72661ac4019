package recovery

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/boxtuple/boxdb/pkg/box"
	"github.com/boxtuple/boxdb/pkg/index"
	"github.com/boxtuple/boxdb/pkg/snapshot"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
	"github.com/boxtuple/boxdb/pkg/wal"
	"github.com/boxtuple/boxdb/pkg/wire"
)

func intField(v int64) []byte {
	b := make([]byte, 8)
	for i := 0; i < 8; i++ {
		b[i] = byte(v >> (8 * i))
	}
	return b
}

func newUsersTable(t *testing.T, sp *space.Space) *space.Table {
	t.Helper()
	tbl, err := sp.CreateTable(1, "users", 2, true, true, false, []space.IndexDef{
		{Name: "primary", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}, Unique: true},
	})
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	return tbl
}

func encodeTupleWire(t *testing.T, fields [][]byte) []byte {
	t.Helper()
	obj, err := tuple.New(fields)
	if err != nil {
		t.Fatalf("tuple.New failed: %v", err)
	}
	data, err := tuple.EncodeWire(obj)
	if err != nil {
		t.Fatalf("EncodeWire failed: %v", err)
	}
	return data
}

func insertWirePayload(t *testing.T, tableID uint32, id int64, value string) []byte {
	t.Helper()
	op := wire.Op{
		Opcode: wire.OpInsert,
		Flags:  wire.FlagAdd,
		Table:  tableID,
		Body:   encodeTupleWire(t, [][]byte{intField(id), []byte(value)}),
	}
	return wire.EncodeSingle(op)
}

func deleteWirePayload(t *testing.T, tableID uint32, id int64) []byte {
	t.Helper()
	op := wire.Op{
		Opcode: wire.OpDelete,
		Table:  tableID,
		Body:   encodeTupleWire(t, [][]byte{intField(id)}),
	}
	return wire.EncodeSingle(op)
}

func TestRecoverFromWALOnly(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	w, err := wal.NewWriter(wal.Options{Path: walPath, BufferSize: 1024, SyncPolicy: wal.SyncEveryWrite}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := w.Submit(insertWirePayload(t, 1, 1, "alice")); err != nil {
		t.Fatalf("Submit 1 failed: %v", err)
	}
	if _, err := w.Submit(insertWirePayload(t, 1, 2, "bob")); err != nil {
		t.Fatalf("Submit 2 failed: %v", err)
	}
	if _, err := w.Submit(deleteWirePayload(t, 1, 1)); err != nil {
		t.Fatalf("Submit 3 failed: %v", err)
	}
	w.Close()

	sp := space.New()
	tbl := newUsersTable(t, sp)
	mgr := box.NewManager(sp, nil)

	snapMgr := snapshot.NewManager(t.TempDir())
	res, err := Recover(mgr, snapMgr, walPath, zap.NewNop())
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if res.TxnsReplayed != 3 {
		t.Errorf("expected 3 replayed txns, got %d", res.TxnsReplayed)
	}
	if res.LastLSN != 3 {
		t.Errorf("expected last lsn 3, got %d", res.LastLSN)
	}

	if slot := tbl.Primary().Get(types.IntKey(1)); slot != nil {
		t.Error("expected key 1 to have been deleted during replay")
	}
	slot := tbl.Primary().Get(types.IntKey(2))
	if slot == nil {
		t.Fatal("expected key 2 to be present after replay")
	}
}

func TestRecoverFromSnapshotThenWALTail(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")
	snapDir := t.TempDir()

	sourceSp := space.New()
	sourceTbl := newUsersTable(t, sourceSp)
	obj, err := tuple.New([][]byte{intField(1), []byte("alice")})
	if err != nil {
		t.Fatalf("tuple.New failed: %v", err)
	}
	sourceTbl.Primary().Put(types.IntKey(1), index.NewSlot(obj))

	snapMgr := snapshot.NewManager(snapDir)
	sw, err := snapMgr.Begin(10)
	if err != nil {
		t.Fatalf("Begin snapshot failed: %v", err)
	}
	if err := snapshot.DumpSpace(sw, sourceSp); err != nil {
		t.Fatalf("DumpSpace failed: %v", err)
	}
	if err := sw.Finish(); err != nil {
		t.Fatalf("Finish snapshot failed: %v", err)
	}

	w, err := wal.NewWriter(wal.Options{Path: walPath, BufferSize: 1024, SyncPolicy: wal.SyncEveryWrite}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	// lsn 1..10 would already be reflected in the snapshot; only rows
	// past it should replay. Pad with no-op-equivalent inserts to reach
	// lsn 10, then one real row past it.
	for i := int64(1); i <= 10; i++ {
		if _, err := w.Submit(insertWirePayload(t, 1, 100+i, "padding")); err != nil {
			t.Fatalf("Submit padding %d failed: %v", i, err)
		}
	}
	if _, err := w.Submit(insertWirePayload(t, 1, 2, "bob")); err != nil {
		t.Fatalf("Submit tail failed: %v", err)
	}
	w.Close()

	destSp := space.New()
	destTbl := newUsersTable(t, destSp)
	mgr := box.NewManager(destSp, nil)

	res, err := Recover(mgr, snapMgr, walPath, zap.NewNop())
	if err != nil {
		t.Fatalf("Recover failed: %v", err)
	}
	if res.SnapshotLSN != 10 {
		t.Errorf("expected snapshot lsn 10, got %d", res.SnapshotLSN)
	}
	if res.RowsLoaded != 1 {
		t.Errorf("expected 1 row loaded from snapshot, got %d", res.RowsLoaded)
	}
	if res.TxnsReplayed != 1 {
		t.Errorf("expected only the post-snapshot row to replay, got %d txns", res.TxnsReplayed)
	}

	if destTbl.Primary().Get(types.IntKey(1)) == nil {
		t.Error("expected key 1 from the snapshot to be present")
	}
	if destTbl.Primary().Get(types.IntKey(2)) == nil {
		t.Error("expected key 2 replayed from the wal tail to be present")
	}
	for i := int64(1); i <= 10; i++ {
		if destTbl.Primary().Get(types.IntKey(100+i)) != nil {
			t.Errorf("expected padding key %d (lsn <= snapshot lsn) to be skipped", 100+i)
		}
	}
}

func TestRecoverWithNoWALFile(t *testing.T) {
	sp := space.New()
	newUsersTable(t, sp)
	mgr := box.NewManager(sp, nil)
	snapMgr := snapshot.NewManager(t.TempDir())

	res, err := Recover(mgr, snapMgr, filepath.Join(t.TempDir(), "missing.log"), zap.NewNop())
	if err != nil {
		t.Fatalf("Recover should tolerate a missing wal file, got: %v", err)
	}
	if res.TxnsReplayed != 0 {
		t.Errorf("expected no txns replayed, got %d", res.TxnsReplayed)
	}
}

func TestRecoverStopsOnCorruptWAL(t *testing.T) {
	dir := t.TempDir()
	walPath := filepath.Join(dir, "wal.log")

	w, err := wal.NewWriter(wal.Options{Path: walPath, BufferSize: 1024, SyncPolicy: wal.SyncEveryWrite}, 1, zap.NewNop())
	if err != nil {
		t.Fatalf("NewWriter failed: %v", err)
	}
	if _, err := w.Submit(insertWirePayload(t, 1, 1, "alice")); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}
	w.Close()

	f, err := os.OpenFile(walPath, os.O_RDWR, 0644)
	if err != nil {
		t.Fatalf("OpenFile failed: %v", err)
	}
	if _, err := f.Seek(4+wal.HeaderSize+2, 0); err != nil {
		t.Fatalf("Seek failed: %v", err)
	}
	if _, err := f.Write([]byte{0xFF}); err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	f.Close()

	sp := space.New()
	newUsersTable(t, sp)
	mgr := box.NewManager(sp, nil)
	snapMgr := snapshot.NewManager(t.TempDir())

	if _, err := Recover(mgr, snapMgr, walPath, zap.NewNop()); err == nil {
		t.Error("expected recovery to stop with an error on a corrupted wal row")
	}
}
