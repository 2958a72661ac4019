package box

import (
	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/space"
)

// MetaOpcode selects the structural change a MetaTxn performs (spec
// §4.6).
type MetaOpcode int

const (
	MetaCreateTable MetaOpcode = iota
	MetaDropTable
	MetaCreateIndex
	MetaDropIndex
	MetaTruncate
)

// CreateTableArgs, CreateIndexArgs parameterize the two opcodes that
// need more than a table/index name.
type CreateTableArgs struct {
	ID          uint32
	Cardinality int
	Snap, Wal, Ignored bool
	Defs        []space.IndexDef
}

type CreateIndexArgs struct {
	Def space.IndexDef
}

// MetaTxn is spec §4.6's box_meta_txn: "runs prepare / commit /
// rollback just like a data transaction but over the table and index
// registries rather than over tuples." Because Manager.writeMu
// serializes every mutating transaction (data or metadata) for the
// span of Begin..resolve, nothing can change between Prepare and
// Commit, so Prepare only validates feasibility and Commit performs
// the one real registry mutation; Rollback is therefore always a
// no-op, matching "rollback discards prepared-but-uncommitted
// structure" when nothing was ever installed to discard.
type MetaTxn struct {
	mgr    *Manager
	locked bool

	State State
	Op    MetaOpcode
	Table string
	Index string

	createTable CreateTableArgs
	createIndex CreateIndexArgs
}

// BeginMeta validates op's feasibility against the current registry
// state without mutating it (spec §4.6: "Prepare must validate
// feasibility without mutating"), and returns a MetaTxn ready to
// Commit or Rollback.
func BeginMeta(mgr *Manager, op MetaOpcode, table, indexName string, createTable CreateTableArgs, createIndex CreateIndexArgs) (*MetaTxn, error) {
	mgr.writeMu.Lock()
	t := &MetaTxn{mgr: mgr, locked: true, State: Undecided, Op: op, Table: table, Index: indexName, createTable: createTable, createIndex: createIndex}

	var err error
	switch op {
	case MetaCreateTable:
		if _, e := mgr.Space.Table(table); e == nil {
			err = &boxerrors.TableAlreadyExistsError{Name: table}
		} else if len(createTable.Defs) == 0 {
			err = &boxerrors.PrimaryKeyNotDefinedError{TableName: table}
		} else if len(createTable.Defs) > space.MaxIndices {
			err = &boxerrors.TooManyIndicesError{TableName: table, Limit: space.MaxIndices}
		}
	case MetaDropTable:
		_, err = mgr.Space.Table(table)
	case MetaCreateIndex:
		tbl, e := mgr.Space.Table(table)
		if e != nil {
			err = e
			break
		}
		if len(tbl.AllIndices()) >= space.MaxIndices {
			err = &boxerrors.TooManyIndicesError{TableName: table, Limit: space.MaxIndices}
		} else if _, e := tbl.Index(createIndex.Def.Name); e == nil {
			err = &boxerrors.TableAlreadyExistsError{Name: createIndex.Def.Name}
		}
	case MetaDropIndex:
		tbl, e := mgr.Space.Table(table)
		if e != nil {
			err = e
			break
		}
		_, err = tbl.Index(indexName)
	case MetaTruncate:
		_, err = mgr.Space.Table(table)
	default:
		err = boxerrors.Newf("unknown meta opcode %d", op)
	}

	if err != nil {
		t.release()
		return nil, err
	}
	return t, nil
}

// Commit performs the structural change validated at BeginMeta (spec
// §4.6: "Commit makes the structural change").
func (t *MetaTxn) Commit() error {
	if t.State != Undecided {
		return boxerrors.Newf("Commit called on a meta transaction in state %s", t.State)
	}
	var err error
	switch t.Op {
	case MetaCreateTable:
		a := t.createTable
		_, err = t.mgr.Space.CreateTable(a.ID, t.Table, a.Cardinality, a.Snap, a.Wal, a.Ignored, a.Defs)
	case MetaDropTable:
		err = t.mgr.Space.DropTable(t.Table)
	case MetaCreateIndex:
		tbl, e := t.mgr.Space.Table(t.Table)
		if e != nil {
			err = e
			break
		}
		_, err = tbl.AddIndex(t.createIndex.Def)
	case MetaDropIndex:
		tbl, e := t.mgr.Space.Table(t.Table)
		if e != nil {
			err = e
			break
		}
		err = tbl.DropIndex(t.Index)
	case MetaTruncate:
		tbl, e := t.mgr.Space.Table(t.Table)
		if e != nil {
			err = e
			break
		}
		tbl.Truncate()
	}
	if err != nil {
		t.State = RolledBack
		t.release()
		return err
	}
	t.State = Committed
	t.release()
	return nil
}

// Rollback discards the prepared-but-uncommitted structural change
// (spec §4.6). Since Prepare never mutates the registry, there is
// nothing to undo; this only retires the transaction and releases the
// write lock.
func (t *MetaTxn) Rollback() {
	if t.State != Undecided {
		return
	}
	t.State = RolledBack
	t.release()
}

func (t *MetaTxn) release() {
	if t.locked {
		t.mgr.writeMu.Unlock()
		t.locked = false
	}
}
