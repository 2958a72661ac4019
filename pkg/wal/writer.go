package wal

import (
	"bufio"
	"os"
	"sync"
	"sync/atomic"
	"time"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
	"go.uber.org/zap"
)

// Writer is the durability collaborator package box's Manager submits
// serialized box-ops to: it assigns each submission the next lsn/scn,
// frames it as a row_v12 record, and blocks until the bytes are fsynced
// (spec §5's durability gate) before returning. It implements
// box.WAL's Submit(payload []byte) (int64, error).
type Writer struct {
	mu      sync.Mutex
	file    *os.File
	writer  *bufio.Writer
	options Options
	log     *zap.Logger

	cookie     uint64
	lsn        int64
	batchBytes int64

	done   chan struct{}
	ticker *time.Ticker
	closed bool
}

// NewWriter opens (creating if absent) the single append-only WAL file
// at opts.Path. cookie identifies this process's writes across a
// restart, mirroring original_source's per-server "default_cookie".
func NewWriter(opts Options, cookie uint64, log *zap.Logger) (*Writer, error) {
	if log == nil {
		log = zap.NewNop()
	}
	fresh := false
	if fi, statErr := os.Stat(opts.Path); statErr != nil || fi.Size() == 0 {
		fresh = true
	}

	f, err := os.OpenFile(opts.Path, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0644)
	if err != nil {
		return nil, boxerrors.Wrapf(err, "opening wal file %q", opts.Path)
	}

	if fresh {
		if err := writeFileHeader(f); err != nil {
			f.Close()
			return nil, boxerrors.Wrapf(err, "writing wal file header %q", opts.Path)
		}
		if err := f.Sync(); err != nil {
			f.Close()
			return nil, boxerrors.Wrapf(err, "syncing wal file header %q", opts.Path)
		}
	}

	w := &Writer{
		file:    f,
		writer:  bufio.NewWriterSize(f, opts.BufferSize),
		options: opts,
		log:     log,
		cookie:  cookie,
		done:    make(chan struct{}),
	}

	if opts.SyncPolicy == SyncInterval {
		w.ticker = time.NewTicker(opts.SyncIntervalDuration)
		go w.backgroundSync()
	}

	return w, nil
}

// Submit implements box.WAL: it frames payload as a row_v12 record
// tagged TagWal, writes it, and always fsyncs before returning — the
// one call box-txn's durability gate actually suspends on, so it never
// defers to SyncPolicy the way WriteRow does.
func (w *Writer) Submit(payload []byte) (int64, error) {
	row := Row{
		LSN:       atomic.AddInt64(&w.lsn, 1),
		Tag:       TagWal,
		Cookie:    w.cookie,
		Timestamp: float64(time.Now().UnixNano()) / 1e9,
		Data:      payload,
	}
	row.SCN = row.LSN

	w.mu.Lock()
	defer w.mu.Unlock()

	if _, err := w.writer.Write(row.Encode()); err != nil {
		w.log.Error("wal write failed", zap.Int64("lsn", row.LSN), zap.Error(err))
		return 0, err
	}
	if err := w.syncLocked(); err != nil {
		w.log.Error("wal sync failed", zap.Int64("lsn", row.LSN), zap.Error(err))
		return 0, err
	}
	return row.LSN, nil
}

// WriteRow appends row without forcing durability beyond Options'
// SyncPolicy; used by bulk loaders (e.g. replaying a foreign WAL during
// migration) that don't need Submit's per-call fsync.
func (w *Writer) WriteRow(row Row) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	n, err := w.writer.Write(row.Encode())
	if err != nil {
		return err
	}
	w.batchBytes += int64(n)

	switch w.options.SyncPolicy {
	case SyncEveryWrite:
		return w.syncLocked()
	case SyncBatch:
		if w.batchBytes >= w.options.SyncBatchBytes {
			return w.syncLocked()
		}
	}
	return nil
}

// Sync forces the buffered writer and the file to disk.
func (w *Writer) Sync() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.syncLocked()
}

func (w *Writer) syncLocked() error {
	if err := w.writer.Flush(); err != nil {
		return err
	}
	if err := w.file.Sync(); err != nil {
		return err
	}
	w.batchBytes = 0
	return nil
}

// Close flushes, syncs, and closes the WAL file.
func (w *Writer) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true

	if w.ticker != nil {
		w.ticker.Stop()
		close(w.done)
	}

	if err := w.syncLocked(); err != nil {
		w.file.Close()
		return err
	}
	return w.file.Close()
}

func (w *Writer) backgroundSync() {
	for {
		select {
		case <-w.ticker.C:
			if err := w.Sync(); err != nil {
				w.log.Warn("background wal sync failed", zap.Error(err))
			}
		case <-w.done:
			return
		}
	}
}
