// Package runfile implements the on-disk run-file format described in
// spec.md §6: a length-prefixed sequence of (SortKey, Row) records, used
// both for individual spilled runs and for the fully merged intermediate
// sorted file.
package runfile

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"encoding/gob"
	"io"
	"sort"

	"github.com/pkg/errors"
	"github.com/movableink/csvutils-go/internal/key"
)

// Record is the in-memory unit of run storage: a SortKey paired with the
// row it was derived from.
type Record struct {
	Key key.SortKey
	Row []string
}

// SortRecords sorts records in place by SortKey using an unstable sort,
// matching spec.md §4.C: ties are broken deterministically by Position,
// which is already part of SortKey, so stability is not required.
func SortRecords(records []Record) {
	sort.Slice(records, func(i, j int) bool {
		return records[i].Key.Less(records[j].Key)
	})
}

// EstimatedSize approximates a record's contribution to the run buffer's
// byte budget: sizeof(SortKey) (20-byte digest + 8-byte position) plus
// the length of each column's UTF-8 bytes, per spec.md §4.B.
func EstimatedSize(rec Record) int {
	const sortKeySize = key.Size + 8
	n := sortKeySize
	for _, col := range rec.Row {
		n += len(col)
	}
	return n
}

// Writer streams Records to an underlying sink in the framing described
// in spec.md §6:
//
//	[20 bytes] TargetingKey
//	[ 8 bytes] Position (little-endian u64)
//	[ 4 bytes] payload length L (little-endian u32)
//	[ L bytes] gob-encoded row payload
type Writer struct {
	w   *bufio.Writer
	buf bytes.Buffer
}

// NewWriter wraps dst with a buffered run-file writer.
func NewWriter(dst io.Writer) *Writer {
	return &Writer{w: bufio.NewWriterSize(dst, 4<<20)}
}

// Write appends one record. Failures leave the sink in an undefined
// partial state; callers discard the destination on error per spec.md
// §4.C.
//
// Each payload carries its own gob type header rather than sharing one
// encoder's stream-wide type cache: run files are read back one frame at
// a time, possibly interleaved across many concurrently open readers
// during the k-way merge, so every payload must be independently
// decodable.
func (rw *Writer) Write(rec Record) error {
	rw.buf.Reset()
	if err := gob.NewEncoder(&rw.buf).Encode(rec.Row); err != nil {
		return errors.Wrap(err, "runfile: encode row")
	}

	var header [key.Size + 8 + 4]byte
	copy(header[:key.Size], rec.Key.Target[:])
	binary.LittleEndian.PutUint64(header[key.Size:key.Size+8], rec.Key.Position)
	binary.LittleEndian.PutUint32(header[key.Size+8:], uint32(rw.buf.Len()))

	if _, err := rw.w.Write(header[:]); err != nil {
		return errors.Wrap(err, "runfile: write header")
	}
	if _, err := rw.w.Write(rw.buf.Bytes()); err != nil {
		return errors.Wrap(err, "runfile: write payload")
	}
	return nil
}

// Flush flushes any buffered bytes to the underlying sink.
func (rw *Writer) Flush() error {
	return errors.Wrap(rw.w.Flush(), "runfile: flush")
}

// Reader streams Records out of a run file or the intermediate sorted
// file, one at a time, in the same framing Writer produces.
type Reader struct {
	r *bufio.Reader
}

// NewReader wraps src with a buffered run-file reader.
func NewReader(src io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(src, 4<<20)}
}

// Next returns the next Record, or io.EOF when the stream is exhausted.
func (rr *Reader) Next() (Record, error) {
	var header [key.Size + 8 + 4]byte
	if _, err := io.ReadFull(rr.r, header[:]); err != nil {
		if err == io.ErrUnexpectedEOF {
			return Record{}, errors.Wrap(io.ErrUnexpectedEOF, "runfile: truncated record header")
		}
		return Record{}, err // io.EOF propagates as-is
	}

	var rec Record
	copy(rec.Key.Target[:], header[:key.Size])
	rec.Key.Position = binary.LittleEndian.Uint64(header[key.Size : key.Size+8])
	length := binary.LittleEndian.Uint32(header[key.Size+8:])

	payload := make([]byte, length)
	if _, err := io.ReadFull(rr.r, payload); err != nil {
		return Record{}, errors.Wrap(err, "runfile: truncated record payload")
	}

	dec := gob.NewDecoder(bytes.NewReader(payload))
	if err := dec.Decode(&rec.Row); err != nil {
		return Record{}, errors.Wrap(err, "runfile: decode row")
	}
	return rec, nil
}
