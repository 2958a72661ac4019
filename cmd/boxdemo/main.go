// Command boxdemo walks the full lifecycle this module implements end
// to end, against a throwaway directory under os.TempDir: create an
// object space, insert/update/delete rows through the box-op state
// machine with WAL durability, query an index, take a snapshot, then
// rebuild a second Manager from nothing but that snapshot and WAL to
// show recovery reproducing the same state.
//
// This replaces the teacher's dozen single-purpose examples/* mains
// with one demo that exercises the pieces those examples covered
// separately (CRUD, checkpoint+recovery, multi-index, transactions)
// against this module's actual API instead of the teacher's.
package main

import (
	"encoding/binary"
	"fmt"
	"os"
	"path/filepath"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/zap"

	"github.com/boxtuple/boxdb/pkg/box"
	"github.com/boxtuple/boxdb/pkg/metrics"
	"github.com/boxtuple/boxdb/pkg/query"
	"github.com/boxtuple/boxdb/pkg/recovery"
	"github.com/boxtuple/boxdb/pkg/snapshot"
	"github.com/boxtuple/boxdb/pkg/space"
	"github.com/boxtuple/boxdb/pkg/tuple"
	"github.com/boxtuple/boxdb/pkg/types"
	"github.com/boxtuple/boxdb/pkg/wal"
	"github.com/boxtuple/boxdb/pkg/wire"
)

func main() {
	dir, err := os.MkdirTemp("", "boxdemo-")
	if err != nil {
		fmt.Printf("creating demo dir: %v\n", err)
		os.Exit(1)
	}
	defer os.RemoveAll(dir)

	log, _ := zap.NewDevelopment()
	defer log.Sync()

	// ----------------------------------------------------------------
	// 1. Object space: a "products" table with id as primary key and
	//    name as a secondary index.
	// ----------------------------------------------------------------
	sp := space.New()
	table, err := sp.CreateTable(1, "products", 2, true, true, false, []space.IndexDef{
		{Name: "id", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}, Unique: true},
		{Name: "name", Fields: []int{1}, Types: []types.FieldType{types.FieldVarchar}, Unique: false},
	})
	if err != nil {
		fmt.Printf("creating table: %v\n", err)
		os.Exit(1)
	}

	walPath := filepath.Join(dir, "boxdemo.wal")
	walWriter, err := wal.NewWriter(wal.Options{
		Path:       walPath,
		BufferSize: 64 * 1024,
		SyncPolicy: wal.SyncEveryWrite,
	}, 1, log)
	if err != nil {
		fmt.Printf("opening wal: %v\n", err)
		os.Exit(1)
	}

	reg := prometheus.NewRegistry()
	collector := metrics.New(reg)

	mgr := box.NewManager(sp, walWriter)
	mgr.Log = log
	mgr.Stats = collector

	// ----------------------------------------------------------------
	// 2. Insert a few rows, one transaction each.
	// ----------------------------------------------------------------
	insert(mgr, table, 1, "desk lamp")
	insert(mgr, table, 2, "standing desk")
	insert(mgr, table, 3, "office chair")

	fmt.Println("after insert:")
	printByName(table)

	// ----------------------------------------------------------------
	// 3. Update one row, delete another, both through box-op.
	// ----------------------------------------------------------------
	update(mgr, table, 2, "standing desk (oak)")
	deleteRow(mgr, table, 3)

	fmt.Println("\nafter update + delete:")
	printByName(table)

	// ----------------------------------------------------------------
	// 4. Query the secondary index with a range condition.
	// ----------------------------------------------------------------
	ix, err := table.Index("name")
	if err != nil {
		fmt.Printf("looking up index: %v\n", err)
		os.Exit(1)
	}
	matches := query.Select(ix, query.GreaterOrEqual(types.VarcharKey("desk")), 0)
	fmt.Printf("\nnames >= %q: %d row(s)\n", "desk", len(matches))

	// ----------------------------------------------------------------
	// 5. Snapshot the space, then rebuild a second Manager from
	//    nothing but the snapshot and the WAL to show recovery.
	// ----------------------------------------------------------------
	snapMgr := snapshot.NewManager(dir)
	w, err := snapMgr.Begin(5) // lsn of the last WAL row this snapshot reflects
	if err != nil {
		fmt.Printf("beginning snapshot: %v\n", err)
		os.Exit(1)
	}
	if err := snapshot.DumpSpace(w, sp); err != nil {
		fmt.Printf("dumping snapshot: %v\n", err)
		os.Exit(1)
	}
	if err := w.Finish(); err != nil {
		fmt.Printf("finishing snapshot: %v\n", err)
		os.Exit(1)
	}

	// A third row, written after the snapshot, only survives because
	// recovery also replays the WAL forward from the snapshot's lsn.
	insert(mgr, table, 4, "filing cabinet")
	walWriter.Close()

	freshSpace := space.New()
	freshTable, err := freshSpace.CreateTable(1, "products", 2, true, true, false, []space.IndexDef{
		{Name: "id", Fields: []int{0}, Types: []types.FieldType{types.FieldInt}, Unique: true},
		{Name: "name", Fields: []int{1}, Types: []types.FieldType{types.FieldVarchar}, Unique: false},
	})
	if err != nil {
		fmt.Printf("recreating table for recovery: %v\n", err)
		os.Exit(1)
	}
	freshMgr := box.NewManager(freshSpace, nil)
	freshMgr.Log = log

	result, err := recovery.Recover(freshMgr, snapMgr, walPath, log)
	if err != nil {
		fmt.Printf("recovering: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("\nrecovered from snapshot lsn=%d, replayed %d op(s) up to lsn=%d\n",
		result.SnapshotLSN, result.OpsReplayed, result.LastLSN)

	fmt.Println("recovered rows:")
	printByName(freshTable)
}

func insert(mgr *box.Manager, table *space.Table, id int64, name string) {
	txn, err := mgr.Begin(box.BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		fmt.Printf("begin: %v\n", err)
		return
	}
	body, err := encodeRow(id, name)
	if err != nil {
		fmt.Printf("encoding row: %v\n", err)
		txn.Rollback()
		return
	}
	if _, err := box.Prepare(txn, wire.Op{Opcode: wire.OpInsert, Flags: wire.FlagAdd, Table: table.ID, Body: body}); err != nil {
		fmt.Printf("insert id=%d: %v\n", id, err)
		txn.Rollback()
		return
	}
	if _, err := txn.Submit(); err != nil {
		fmt.Printf("submit insert id=%d: %v\n", id, err)
	}
}

func update(mgr *box.Manager, table *space.Table, id int64, newName string) {
	txn, err := mgr.Begin(box.BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		fmt.Printf("begin: %v\n", err)
		return
	}
	body, err := encodeRow(id, newName)
	if err != nil {
		fmt.Printf("encoding row: %v\n", err)
		txn.Rollback()
		return
	}
	if _, err := box.Prepare(txn, wire.Op{Opcode: wire.OpInsert, Flags: wire.FlagReplace, Table: table.ID, Body: body}); err != nil {
		fmt.Printf("update id=%d: %v\n", id, err)
		txn.Rollback()
		return
	}
	if _, err := txn.Submit(); err != nil {
		fmt.Printf("submit update id=%d: %v\n", id, err)
	}
}

func deleteRow(mgr *box.Manager, table *space.Table, id int64) {
	txn, err := mgr.Begin(box.BeginOptions{ShardAvailable: true, IsLeader: true})
	if err != nil {
		fmt.Printf("begin: %v\n", err)
		return
	}
	keyBody, err := encodeKey(id)
	if err != nil {
		fmt.Printf("encoding key: %v\n", err)
		txn.Rollback()
		return
	}
	if _, err := box.Prepare(txn, wire.Op{Opcode: wire.OpDelete, Table: table.ID, Body: keyBody}); err != nil {
		fmt.Printf("delete id=%d: %v\n", id, err)
		txn.Rollback()
		return
	}
	if _, err := txn.Submit(); err != nil {
		fmt.Printf("submit delete id=%d: %v\n", id, err)
	}
}

// encodeRow builds the {id, name} wire tuple an insert/update carries.
func encodeRow(id int64, name string) ([]byte, error) {
	obj, err := tuple.New([][]byte{intField(id), []byte(name)})
	if err != nil {
		return nil, err
	}
	return tuple.EncodeWire(obj)
}

// encodeKey builds the single-field key tuple a delete carries.
func encodeKey(id int64) ([]byte, error) {
	obj, err := tuple.New([][]byte{intField(id)})
	if err != nil {
		return nil, err
	}
	return tuple.EncodeWire(obj)
}

// intField encodes an int field the same little-endian 8-byte layout
// pkg/index's decodeKey expects for types.FieldInt.
func intField(v int64) []byte {
	var buf [8]byte
	binary.LittleEndian.PutUint64(buf[:], uint64(v))
	return buf[:]
}

func printByName(table *space.Table) {
	ix, err := table.Index("name")
	if err != nil {
		fmt.Printf("  (no name index: %v)\n", err)
		return
	}
	rows := query.Select(ix, nil, 0)
	for _, obj := range rows {
		idRaw, _ := obj.Field(0)
		nameRaw, _ := obj.Field(1)
		id := int64(binary.LittleEndian.Uint64(idRaw))
		fmt.Printf("  id=%d name=%s\n", id, string(nameRaw))
	}
}
