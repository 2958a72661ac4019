package wal

import (
	"encoding/binary"
	"io"
	"os"

	boxerrors "github.com/boxtuple/boxdb/pkg/errors"
)

// fileMagicV12 and fileMagicV11 are the 4-byte markers a WAL file opens
// with, declaring which row format every row in the file uses —
// original_source's XLog11/XLog12 split is per-file, not per-row, so
// the version is resolved once at open time rather than sniffed row by
// row.
var (
	fileMagicV12 = [4]byte{'W', 'A', 'L', '2'}
	fileMagicV11 = [4]byte{'W', 'A', 'L', '1'}
)

// Reader reads rows sequentially from a WAL file, up-converting row_v11
// records transparently so every Row it yields is row_v12 shaped.
type Reader struct {
	file   *os.File
	legacy bool
	offset int64
}

// NewReader opens path for sequential reading and resolves its file
// version from the leading magic.
func NewReader(path string) (*Reader, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	var magic [4]byte
	if _, err := io.ReadFull(f, magic[:]); err != nil {
		f.Close()
		return nil, boxerrors.Wrapf(err, "reading wal file header of %q", path)
	}

	r := &Reader{file: f, offset: 4}
	switch magic {
	case fileMagicV12:
		r.legacy = false
	case fileMagicV11:
		r.legacy = true
	default:
		f.Close()
		return nil, &boxerrors.CorruptLogError{Offset: 0, Reason: "unrecognized wal file magic"}
	}
	return r, nil
}

// ReadRow reads the next row, up-converting from row_v11 if the file is
// legacy-formatted. Returns io.EOF when the file is cleanly exhausted.
func (r *Reader) ReadRow() (Row, error) {
	if r.legacy {
		return r.readRow(legacyHeaderSize, 20, 24, decodeLegacyRowV11)
	}
	return r.readRow(HeaderSize, 38, 42, DecodeRowV12)
}

func (r *Reader) readRow(headerSize, lenStart, lenEnd int, decode func([]byte) (Row, int, error)) (Row, error) {
	head := make([]byte, headerSize)
	if _, err := io.ReadFull(r.file, head); err != nil {
		if err == io.EOF {
			return Row{}, io.EOF
		}
		return Row{}, &boxerrors.CorruptLogError{Offset: r.offset, Reason: "truncated row header: " + err.Error()}
	}

	dataLen := binary.LittleEndian.Uint32(head[lenStart:lenEnd])
	data := make([]byte, dataLen)
	if dataLen > 0 {
		if _, err := io.ReadFull(r.file, data); err != nil {
			return Row{}, &boxerrors.CorruptLogError{Offset: r.offset, Reason: "truncated row payload: " + err.Error()}
		}
	}

	full := append(head, data...)
	row, n, err := decode(full)
	if err != nil {
		return Row{}, err
	}
	r.offset += int64(n)
	return row, nil
}

// Close closes the underlying file.
func (r *Reader) Close() error {
	return r.file.Close()
}

// writeFileHeader writes the row_v12 file magic to a freshly created,
// empty WAL file. Called by NewWriter; kept here alongside the magic
// constants Reader interprets.
func writeFileHeader(f *os.File) error {
	_, err := f.Write(fileMagicV12[:])
	return err
}
