// Package copyformat implements the PostgreSQL binary-COPY wire format
// described in spec.md §4.F: a bit-exact encoding of a fixed 6-column
// schema (source_key, target_key_hex, geometry, raw_row, created_at,
// updated_at) ready for `COPY ... FROM STDIN WITH (FORMAT binary)`.
package copyformat

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"io"
	"time"

	"github.com/pkg/errors"

	"github.com/movableink/csvutils-go/internal/geo"
)

// headerMagic is PostgreSQL's 11-byte binary-COPY signature.
var headerMagic = []byte("PGCOPY\n\xff\r\n\x00")

// NumColumns is the column count of the fixed schema this package
// encodes (spec.md §4.F).
const NumColumns = 6

// Encoder writes a PostgreSQL binary-COPY stream, buffering output in a
// large userspace buffer (5 MiB, per spec.md §4.F) to minimize syscalls.
type Encoder struct {
	w      *bufio.Writer
	rowBuf bytes.Buffer
	colBuf bytes.Buffer
}

// NewEncoder wraps dst with a buffered binary-COPY encoder.
func NewEncoder(dst io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriterSize(dst, 5<<20)}
}

// WriteHeader writes the 11-byte signature plus the two zero 32-bit
// framing fields (flags, header-extension length).
func (e *Encoder) WriteHeader() error {
	if _, err := e.w.Write(headerMagic); err != nil {
		return errors.Wrap(err, "copyformat: write header signature")
	}
	var zero [8]byte // flags (4) + header extension length (4), both zero
	if _, err := e.w.Write(zero[:]); err != nil {
		return errors.Wrap(err, "copyformat: write header fields")
	}
	return nil
}

// WriteRow encodes one row atomically: every column is encoded into a
// scratch buffer first, and the row is only written to the destination
// once all columns succeed, per spec.md §4.F's "a row is emitted
// atomically" rule. len(values) must equal NumColumns; a mismatch is a
// Programmer error (spec.md §7) and is returned, not panicked.
func (e *Encoder) WriteRow(values []sqlValue) error {
	if len(values) != NumColumns {
		return errors.Errorf("copyformat: row has %d columns, want %d", len(values), NumColumns)
	}

	e.rowBuf.Reset()
	var colCount [2]byte
	binary.BigEndian.PutUint16(colCount[:], uint16(len(values)))
	e.rowBuf.Write(colCount[:])

	for i, v := range values {
		e.colBuf.Reset()
		isNull, err := v.encodeInto(&e.colBuf)
		if err != nil {
			return errors.Wrapf(err, "copyformat: encode column %d", i)
		}

		var lenBuf [4]byte
		if isNull {
			binary.BigEndian.PutUint32(lenBuf[:], uint32(0xFFFFFFFF)) // -1
			e.rowBuf.Write(lenBuf[:])
			continue
		}
		binary.BigEndian.PutUint32(lenBuf[:], uint32(e.colBuf.Len()))
		e.rowBuf.Write(lenBuf[:])
		e.rowBuf.Write(e.colBuf.Bytes())
	}

	if _, err := e.w.Write(e.rowBuf.Bytes()); err != nil {
		return errors.Wrap(err, "copyformat: write row")
	}
	return nil
}

// WriteFooter writes the end-of-data marker: a signed 16-bit -1.
func (e *Encoder) WriteFooter() error {
	var trailer [2]byte
	binary.BigEndian.PutUint16(trailer[:], 0xFFFF) // -1
	_, err := e.w.Write(trailer[:])
	return errors.Wrap(err, "copyformat: write footer")
}

// Flush flushes the userspace output buffer.
func (e *Encoder) Flush() error {
	return errors.Wrap(e.w.Flush(), "copyformat: flush")
}

// Row assembles the 6-column schema's sqlValues for one emitted record.
func Row(sourceKey, targetKeyHex string, point *geo.Point, rawRow []string, createdAt, updatedAt time.Time) []sqlValue {
	return []sqlValue{
		varcharValue(sourceKey),
		varcharValue(targetKeyHex),
		geometryValue{point: point},
		varcharArrayValue(rawRow),
		timestampValue(createdAt),
		timestampValue(updatedAt),
	}
}
