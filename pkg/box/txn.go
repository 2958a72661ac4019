// Package box implements the box-op / box-txn state machine (spec §4.3,
// §4.4, §4.5): the durability protocol that turns a decoded mutation
// into phi-cells installed across every affected index, then commits or
// rolls them back depending on whether the WAL accepted the write.
//
// Grounded on the teacher's pkg/storage (StorageEngine/Transaction
// shape, lock discipline) and original_source/box.h, op.h for the
// prepare/submit/commit/rollback sequencing this type reproduces.
package box

import (
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"go.uber.org/zap"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"github.com/boxtuple/boxdb/pkg/space"
)

// State is a transaction's position in the box-txn state machine (spec
// §4.5): Undecided -> {Commit, Rollback}, no further transitions.
type State int

const (
	Undecided State = iota
	Committed
	RolledBack
)

func (s State) String() string {
	switch s {
	case Undecided:
		return "undecided"
	case Committed:
		return "committed"
	case RolledBack:
		return "rolled back"
	default:
		return "unknown"
	}
}

// WAL is the durability collaborator a Manager submits serialized ops
// to. Accepting this as an interface (rather than importing pkg/wal
// directly) keeps package box ignorant of on-disk formats; pkg/wal's
// writer satisfies it.
type WAL interface {
	// Submit appends payload as one WAL row and blocks until it is
	// durable, returning its LSN or an error; Txn.Submit reports that
	// error to its caller as a WalFailureError.
	Submit(payload []byte) (lsn int64, err error)
}

// Manager owns the object-space registry and the shared sequence
// counters every transaction draws from. It also serializes mutating
// transactions with a single mutex, standing in for the cooperative
// single-fiber scheduling model spec §5 assumes ("a box-op runs
// atomically with respect to every other fiber"): only one mutating
// transaction is ever between Begin and Commit/Rollback at a time,
// which is what makes the single-owner-per-overlay check in bindKey
// sound despite Go's real concurrency. Read-only transactions never
// take this lock (spec §5: "read-only transactions never install
// overlays and never suspend for durability").
type Manager struct {
	Space *space.Space
	WAL   WAL
	Stats Stats       // optional; nil drops every observation
	Log   *zap.Logger // NewManager sets a no-op logger; a nil Log logs nothing

	writeMu sync.Mutex
	nextTxn uint64
	nextSeq uint64
}

// NewManager builds a Manager over an existing object-space registry. A
// nil WAL is valid for tests and for tables with Wal=false; with a nil
// WAL, Submit commits without writing anything durable. Log
// defaults to a no-op logger; assign Manager.Log after construction to
// observe transaction lifecycle events.
func NewManager(sp *space.Space, wal WAL) *Manager {
	return &Manager{Space: sp, WAL: wal, Log: zap.NewNop()}
}

// txnName mirrors the teacher's GenerateKey: a time-ordered UUID used
// purely for diagnostics (log correlation), never for index keys or
// wire identity. The teacher panics on uuid.NewV7's error return since
// it only fails if the entropy source itself is broken; this keeps the
// same contract rather than threading an error return through Begin
// for a case that does not happen on a healthy host.
func txnName() string {
	id, err := uuid.NewV7()
	if err != nil {
		panic(err)
	}
	return id.String()
}

// BeginOptions parameterizes Begin. ShardAvailable and IsLeader model
// the replica-topology checks spec §4.5's box_txn_alloc performs;
// package box does not implement sharding or replication itself (out of
// scope), it only honors the contract those checks imply.
type BeginOptions struct {
	ShardID        string
	ReadOnly       bool
	ShardAvailable bool
	IsLeader       bool
}

// Txn is one box-txn: an ordered list of ops and the state they resolve
// to. Ops take effect on indices in submission order (spec §5
// "Ordering").
type Txn struct {
	id       uint64
	Name     string // diagnostic only; see txnName
	mgr      *Manager
	ShardID  string
	ReadOnly bool
	State    State
	ops      []*Op
	locked   bool
}

// Begin allocates a new transaction (spec §4.5 box_txn_alloc). A
// mutating transaction holds the Manager's write lock from Begin until
// Commit or Rollback releases it.
func (m *Manager) Begin(opts BeginOptions) (*Txn, error) {
	if !opts.ShardAvailable {
		return nil, &boxerrors.ShardUnavailableError{Shard: opts.ShardID}
	}
	if !opts.ReadOnly && !opts.IsLeader {
		return nil, &boxerrors.ReadOnlyError{Shard: opts.ShardID}
	}
	locked := false
	if !opts.ReadOnly {
		m.writeMu.Lock()
		locked = true
	}
	txn := &Txn{
		id:       atomic.AddUint64(&m.nextTxn, 1),
		Name:     txnName(),
		mgr:      m,
		ShardID:  opts.ShardID,
		ReadOnly: opts.ReadOnly,
		State:    Undecided,
		locked:   locked,
	}
	m.log().Debug("txn begin",
		zap.String("name", txn.Name),
		zap.Uint64("id", txn.id),
		zap.String("shard", opts.ShardID),
		zap.Bool("read_only", opts.ReadOnly),
	)
	return txn, nil
}

// log returns m.Log, or a no-op logger for a Manager built as a bare
// struct literal rather than via NewManager.
func (m *Manager) log() *zap.Logger {
	if m.Log == nil {
		return zap.NewNop()
	}
	return m.Log
}

// ID returns the transaction's opaque identity, used only to recognize
// "this overlay already belongs to me" in the binding protocol.
func (t *Txn) ID() uint64 { return t.id }

// Ops returns the ops prepared on this transaction so far, in
// submission order.
func (t *Txn) Ops() []*Op {
	out := make([]*Op, len(t.ops))
	copy(out, t.ops)
	return out
}

func (t *Txn) nextOpSeq() uint64 { return atomic.AddUint64(&t.mgr.nextSeq, 1) }

// release drops the Manager's write lock exactly once, however the
// transaction resolves.
func (t *Txn) release() {
	if t.locked {
		t.mgr.writeMu.Unlock()
		t.locked = false
	}
}
