package wal

import "sync"

// rowPool and bufferPool cut GC pressure on the write/read hot paths:
// one Row struct and one byte buffer reused per submission instead of a
// fresh allocation per row.
var (
	rowPool = sync.Pool{
		New: func() interface{} {
			return &Row{Data: make([]byte, 0, 4096)}
		},
	}

	bufferPool = sync.Pool{
		New: func() interface{} {
			buf := make([]byte, 0, 8192)
			return &buf
		},
	}
)

// AcquireRow obtains a Row from the pool.
func AcquireRow() *Row {
	return rowPool.Get().(*Row)
}

// ReleaseRow returns row to the pool after zeroing its header fields
// and truncating (not discarding) its data buffer's capacity.
func ReleaseRow(row *Row) {
	data := row.Data[:0]
	*row = Row{Data: data}
	rowPool.Put(row)
}

// AcquireBuffer obtains a scratch byte buffer from the pool.
func AcquireBuffer() *[]byte {
	return bufferPool.Get().(*[]byte)
}

// ReleaseBuffer returns buf to the pool.
func ReleaseBuffer(buf *[]byte) {
	*buf = (*buf)[:0]
	bufferPool.Put(buf)
}
