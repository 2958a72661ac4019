// Package snapshot implements the periodic point-in-time dump of every
// persistable table (spec §6 snapshot row: "{u32 table_id, u32
// tuple_size, u32 data_size, bytes data} packed; one row per tuple,
// grouped by table id"), the other half of the durability story
// alongside pkg/wal. Snapshot rows bypass the overlay machinery
// entirely: they are read through phi.VisibleLeft (the committed,
// pre-transaction view) and, on recovery, installed straight into an
// index's Slot with no phi.Overlay involved.
//
// Grounded on the teacher's pkg/storage/checkpoint.go (atomic
// write-temp-then-rename, basePath-scoped manager, old-snapshot
// cleanup) and checkpoint_serializer.go (fixed-width header framing
// with a magic and version); the whole-object-space single file
// replaces the teacher's one-B+Tree-per-checkpoint-file layout since
// this engine's indices are rebuilt from the primary table's rows, not
// persisted index-by-index.
package snapshot

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/klauspost/compress/zstd"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// Magic and Version identify a snapshot file's framing, matching the
// teacher's CheckpointMagic/CheckpointVersion constants in spirit (a
// 4-byte tag plus a version byte, not an arbitrary 32-bit word, since
// this format doesn't need to double as a B+Tree grade/unique-key
// carrier the way the teacher's CheckpointHeader did).
const (
	Magic   uint32 = 0x424f5853 // "BOXS"
	Version uint8  = 1
)

// Row is one snapshot row: a whole tuple belonging to table TableID,
// wire-encoded via tuple.EncodeWire into Data. TupleSize mirrors the
// field count for a cheap sanity check independent of decoding Data.
type Row struct {
	TableID   uint32
	TupleSize uint32
	DataSize  uint32
	Data      []byte
}

// EncodeRow serializes r as {u32 table_id, u32 tuple_size, u32
// data_size, bytes data}, little-endian.
func EncodeRow(r Row) []byte {
	out := make([]byte, 12+len(r.Data))
	binary.LittleEndian.PutUint32(out[0:4], r.TableID)
	binary.LittleEndian.PutUint32(out[4:8], r.TupleSize)
	binary.LittleEndian.PutUint32(out[8:12], uint32(len(r.Data)))
	copy(out[12:], r.Data)
	return out
}

// decodeRow reads one row from r, returning io.EOF cleanly at a clean
// file boundary.
func decodeRow(r io.Reader) (Row, error) {
	var head [12]byte
	if _, err := io.ReadFull(r, head[:]); err != nil {
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, &boxerrors.CorruptLogError{Reason: "truncated snapshot row header: " + err.Error()}
	}
	row := Row{
		TableID:   binary.LittleEndian.Uint32(head[0:4]),
		TupleSize: binary.LittleEndian.Uint32(head[4:8]),
		DataSize:  binary.LittleEndian.Uint32(head[8:12]),
	}
	row.Data = make([]byte, row.DataSize)
	if row.DataSize > 0 {
		if _, err := io.ReadFull(r, row.Data); err != nil {
			return Row{}, &boxerrors.CorruptLogError{Reason: "truncated snapshot row data: " + err.Error()}
		}
	}
	return row, nil
}

// Manager creates and locates snapshot files under basePath, one file
// per snapshot generation named "snapshot_<lsn>.snap", keeping only the
// most recent on disk once a new one lands successfully.
type Manager struct {
	basePath string
	mu       sync.Mutex
}

// NewManager returns a Manager rooted at basePath, which must already
// exist.
func NewManager(basePath string) *Manager {
	return &Manager{basePath: basePath}
}

func (m *Manager) pathFor(lsn int64) string {
	return filepath.Join(m.basePath, fmt.Sprintf("snapshot_%d.snap", lsn))
}

// Writer streams rows into a single in-progress snapshot file, zstd
// compressed end to end, committed atomically by Manager.Finish.
type Writer struct {
	m       *Manager
	lsn     int64
	tmpPath string
	file    *os.File
	buf     *bufio.Writer
	zw      *zstd.Encoder
}

// Begin opens a fresh snapshot-in-progress for the given lsn (the scn
// of the last WAL row reflected in this snapshot; recovery replays only
// WAL rows after it).
func (m *Manager) Begin(lsn int64) (*Writer, error) {
	m.mu.Lock()
	tmpPath := m.pathFor(lsn) + ".tmp"
	f, err := os.Create(tmpPath)
	if err != nil {
		m.mu.Unlock()
		return nil, boxerrors.Wrapf(err, "creating snapshot temp file %q", tmpPath)
	}

	buf := bufio.NewWriterSize(f, 256*1024)
	zw, err := zstd.NewWriter(buf)
	if err != nil {
		f.Close()
		os.Remove(tmpPath)
		m.mu.Unlock()
		return nil, boxerrors.Wrapf(err, "creating zstd encoder for %q", tmpPath)
	}

	w := &Writer{m: m, lsn: lsn, tmpPath: tmpPath, file: f, buf: buf, zw: zw}

	var header [9]byte
	binary.LittleEndian.PutUint32(header[0:4], Magic)
	header[4] = Version
	binary.LittleEndian.PutUint32(header[5:9], 0) // reserved, kept for alignment
	if _, err := zw.Write(header[:]); err != nil {
		w.abort()
		return nil, boxerrors.Wrapf(err, "writing snapshot header to %q", tmpPath)
	}
	var lsnBuf [8]byte
	binary.LittleEndian.PutUint64(lsnBuf[:], uint64(lsn))
	if _, err := zw.Write(lsnBuf[:]); err != nil {
		w.abort()
		return nil, boxerrors.Wrapf(err, "writing snapshot lsn to %q", tmpPath)
	}
	return w, nil
}

// WriteRow appends one snapshot row to the in-progress file.
func (w *Writer) WriteRow(row Row) error {
	if _, err := w.zw.Write(EncodeRow(row)); err != nil {
		return boxerrors.Wrapf(err, "writing snapshot row for table %d", row.TableID)
	}
	return nil
}

func (w *Writer) abort() {
	w.zw.Close()
	w.file.Close()
	os.Remove(w.tmpPath)
	w.m.mu.Unlock()
}

// Finish flushes, compresses, and atomically renames the snapshot into
// place, then removes older snapshot generations.
func (w *Writer) Finish() error {
	defer w.m.mu.Unlock()
	if err := w.zw.Close(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return boxerrors.Wrapf(err, "closing zstd encoder for %q", w.tmpPath)
	}
	if err := w.buf.Flush(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return boxerrors.Wrapf(err, "flushing snapshot file %q", w.tmpPath)
	}
	if err := w.file.Sync(); err != nil {
		w.file.Close()
		os.Remove(w.tmpPath)
		return boxerrors.Wrapf(err, "syncing snapshot file %q", w.tmpPath)
	}
	if err := w.file.Close(); err != nil {
		os.Remove(w.tmpPath)
		return boxerrors.Wrapf(err, "closing snapshot file %q", w.tmpPath)
	}

	finalPath := w.m.pathFor(w.lsn)
	if err := os.Rename(w.tmpPath, finalPath); err != nil {
		return boxerrors.Wrapf(err, "renaming snapshot file into place %q", finalPath)
	}
	return w.m.cleanOlderThan(w.lsn)
}

// Abort discards the in-progress snapshot file without installing it.
func (w *Writer) Abort() {
	w.abort()
}

func (m *Manager) cleanOlderThan(keepLSN int64) error {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		return err
	}
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".snap") {
			continue
		}
		lsnStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".snap")
		lsn, err := strconv.ParseInt(lsnStr, 10, 64)
		if err == nil && lsn < keepLSN {
			os.Remove(filepath.Join(m.basePath, name))
		}
	}
	return nil
}

// Latest returns the lsn of the most recent snapshot file, or false if
// none exists.
func (m *Manager) Latest() (int64, bool, error) {
	entries, err := os.ReadDir(m.basePath)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, false, nil
		}
		return 0, false, err
	}
	var lsns []int64
	for _, e := range entries {
		name := e.Name()
		if !strings.HasPrefix(name, "snapshot_") || !strings.HasSuffix(name, ".snap") {
			continue
		}
		lsnStr := strings.TrimSuffix(strings.TrimPrefix(name, "snapshot_"), ".snap")
		lsn, err := strconv.ParseInt(lsnStr, 10, 64)
		if err == nil {
			lsns = append(lsns, lsn)
		}
	}
	if len(lsns) == 0 {
		return 0, false, nil
	}
	sort.Slice(lsns, func(i, j int) bool { return lsns[i] > lsns[j] })
	return lsns[0], true, nil
}

// Reader streams rows out of a closed snapshot file in order.
type Reader struct {
	file *os.File
	zr   *zstd.Decoder
	LSN  int64
}

// OpenLatest opens the most recent snapshot file, or returns found=false
// if the manager's directory holds none.
func (m *Manager) OpenLatest() (*Reader, bool, error) {
	lsn, found, err := m.Latest()
	if err != nil || !found {
		return nil, found, err
	}
	r, err := m.Open(lsn)
	return r, true, err
}

// Open opens the snapshot file for exactly lsn.
func (m *Manager) Open(lsn int64) (*Reader, error) {
	f, err := os.Open(m.pathFor(lsn))
	if err != nil {
		return nil, err
	}
	zr, err := zstd.NewReader(f)
	if err != nil {
		f.Close()
		return nil, boxerrors.Wrapf(err, "opening zstd decoder for snapshot lsn %d", lsn)
	}

	var header [9]byte
	if _, err := io.ReadFull(zr, header[:]); err != nil {
		zr.Close()
		f.Close()
		return nil, &boxerrors.CorruptLogError{Reason: "truncated snapshot header: " + err.Error()}
	}
	if binary.LittleEndian.Uint32(header[0:4]) != Magic {
		zr.Close()
		f.Close()
		return nil, &boxerrors.CorruptLogError{Reason: "unrecognized snapshot magic"}
	}

	var lsnBuf [8]byte
	if _, err := io.ReadFull(zr, lsnBuf[:]); err != nil {
		zr.Close()
		f.Close()
		return nil, &boxerrors.CorruptLogError{Reason: "truncated snapshot lsn: " + err.Error()}
	}

	return &Reader{file: f, zr: zr, LSN: int64(binary.LittleEndian.Uint64(lsnBuf[:]))}, nil
}

// ReadRow reads the next row, returning io.EOF when the snapshot is
// exhausted.
func (r *Reader) ReadRow() (Row, error) {
	return decodeRow(r.zr)
}

// Close releases the snapshot file and its decoder.
func (r *Reader) Close() error {
	r.zr.Close()
	return r.file.Close()
}
