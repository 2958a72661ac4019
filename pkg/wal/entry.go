// Package wal implements the write-ahead log bridge spec §6 names
// row_v12: the format a box-txn's durability gate suspends on before
// Commit (spec §5 "no call to box_commit begins before its
// corresponding box_submit returned success").
//
// Grounded on original_source/include/log_io.h's struct row_v12 /
// struct _row_v11 for the exact wire layout and the up-conversion this
// package's reader performs transparently; the header encode/decode
// shape (fixed-width fields packed with encoding/binary) follows this
// file's own prior single-version WALHeader.
package wal

import (
	"encoding/binary"
	"math"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// HeaderSize is row_v12's fixed header length in bytes: everything
// before Data (header_crc32c, lsn, scn, tag, cookie, timestamp, len,
// data_crc32c).
const HeaderSize = 4 + 8 + 8 + 2 + 8 + 8 + 4 + 4

// headerBodySize is the span header_crc32c protects: lsn, scn, tag,
// cookie, timestamp, len — not header_crc32c itself, not data_crc32c.
const headerBodySize = 8 + 8 + 2 + 8 + 8 + 4

// legacyHeaderSize is _row_v11's fixed header length: header_crc32c,
// lsn, timestamp, len, data_crc32c — no scn/tag/cookie.
const legacyHeaderSize = 4 + 8 + 8 + 4 + 4

// legacyHeaderBodySize is the span _row_v11's header_crc32c protects:
// lsn, timestamp, len.
const legacyHeaderBodySize = 8 + 8 + 4

// Tag identifies what kind of row this is, mirroring log_io.h's
// snap_initial_tag/snap_tag/wal_tag/snap_final_tag/wal_final_tag enum
// (values 1-5; 0 is never written).
type Tag uint16

const (
	TagSnapInitial Tag = iota + 1
	TagSnap
	TagWal
	TagSnapFinal
	TagWalFinal
)

// Row is one row_v12 record: a box-txn's serialized WAL payload plus
// its durability bookkeeping (lsn, scn, tag, cookie, timestamp).
type Row struct {
	HeaderCRC32C uint32
	LSN          int64
	SCN          int64
	Tag          Tag
	Cookie       uint64
	Timestamp    float64
	Len          uint32
	DataCRC32C   uint32
	Data         []byte
}

// headerBody returns the header fields that header_crc32c protects.
func (r *Row) headerBody() []byte {
	buf := make([]byte, headerBodySize)
	binary.LittleEndian.PutUint64(buf[0:8], uint64(r.LSN))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(r.SCN))
	binary.LittleEndian.PutUint16(buf[16:18], uint16(r.Tag))
	binary.LittleEndian.PutUint64(buf[18:26], r.Cookie)
	binary.LittleEndian.PutUint64(buf[26:34], math.Float64bits(r.Timestamp))
	binary.LittleEndian.PutUint32(buf[34:38], r.Len)
	return buf
}

// Encode serializes r as a row_v12 record, computing both CRCs fresh
// from Data and the header fields (any caller-supplied CRC values are
// overwritten).
func (r *Row) Encode() []byte {
	r.Len = uint32(len(r.Data))
	r.DataCRC32C = CalculateCRC32(r.Data)
	body := r.headerBody()
	r.HeaderCRC32C = CalculateCRC32(body)

	out := make([]byte, HeaderSize+len(r.Data))
	binary.LittleEndian.PutUint32(out[0:4], r.HeaderCRC32C)
	copy(out[4:4+headerBodySize], body)
	binary.LittleEndian.PutUint32(out[4+headerBodySize:HeaderSize], r.DataCRC32C)
	copy(out[HeaderSize:], r.Data)
	return out
}

// DecodeRowV12 parses one row_v12 record off the front of buf,
// validating both CRCs, and returns the row plus the number of bytes
// consumed.
func DecodeRowV12(buf []byte) (Row, int, error) {
	if len(buf) < HeaderSize {
		return Row{}, 0, &boxerrors.TruncatedFieldError{Wanted: HeaderSize, Present: len(buf)}
	}
	var r Row
	r.HeaderCRC32C = binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4 : 4+headerBodySize]
	r.LSN = int64(binary.LittleEndian.Uint64(body[0:8]))
	r.SCN = int64(binary.LittleEndian.Uint64(body[8:16]))
	r.Tag = Tag(binary.LittleEndian.Uint16(body[16:18]))
	r.Cookie = binary.LittleEndian.Uint64(body[18:26])
	r.Timestamp = math.Float64frombits(binary.LittleEndian.Uint64(body[26:34]))
	r.Len = binary.LittleEndian.Uint32(body[34:38])
	r.DataCRC32C = binary.LittleEndian.Uint32(buf[4+headerBodySize : HeaderSize])

	if !ValidateCRC32(body, r.HeaderCRC32C) {
		return Row{}, 0, &boxerrors.CorruptLogError{Reason: "header_crc32c mismatch"}
	}
	total := HeaderSize + int(r.Len)
	if len(buf) < total {
		return Row{}, 0, &boxerrors.TruncatedFieldError{Wanted: total, Present: len(buf)}
	}
	r.Data = buf[HeaderSize:total]
	if !ValidateCRC32(r.Data, r.DataCRC32C) {
		return Row{}, 0, &boxerrors.CorruptLogError{Reason: "data_crc32c mismatch"}
	}
	return r, total, nil
}

// decodeLegacyRowV11 parses one _row_v11 record and up-converts it to a
// Row (spec §6: "Legacy _row_v11 has no scn/tag/cookie; the reader
// up-converts") so nothing downstream of this package ever has to know
// v11 existed: scn mirrors lsn absent real replication, tag defaults to
// the generic WAL tag, cookie is unknown and zeroed.
func decodeLegacyRowV11(buf []byte) (Row, int, error) {
	if len(buf) < legacyHeaderSize {
		return Row{}, 0, &boxerrors.TruncatedFieldError{Wanted: legacyHeaderSize, Present: len(buf)}
	}
	headerCRC := binary.LittleEndian.Uint32(buf[0:4])
	body := buf[4 : 4+legacyHeaderBodySize]
	lsn := int64(binary.LittleEndian.Uint64(body[0:8]))
	tm := math.Float64frombits(binary.LittleEndian.Uint64(body[8:16]))
	length := binary.LittleEndian.Uint32(body[16:20])
	dataCRC := binary.LittleEndian.Uint32(buf[4+legacyHeaderBodySize : legacyHeaderSize])

	if !ValidateCRC32(body, headerCRC) {
		return Row{}, 0, &boxerrors.CorruptLogError{Reason: "legacy header_crc32c mismatch"}
	}
	total := legacyHeaderSize + int(length)
	if len(buf) < total {
		return Row{}, 0, &boxerrors.TruncatedFieldError{Wanted: total, Present: len(buf)}
	}
	data := buf[legacyHeaderSize:total]
	if !ValidateCRC32(data, dataCRC) {
		return Row{}, 0, &boxerrors.CorruptLogError{Reason: "legacy data_crc32c mismatch"}
	}

	row := Row{
		HeaderCRC32C: headerCRC,
		LSN:          lsn,
		SCN:          lsn,
		Tag:          TagWal,
		Cookie:       0,
		Timestamp:    tm,
		Len:          length,
		DataCRC32C:   dataCRC,
		Data:         data,
	}
	return row, total, nil
}
