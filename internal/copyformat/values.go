package copyformat

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/movableink/csvutils-go/internal/geo"
)

// pgEpoch is the reference instant PostgreSQL's binary TIMESTAMP format
// counts microseconds from.
var pgEpoch = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// varcharOID is PostgreSQL's OID for the varchar type, used as the
// element-oid field of the VARCHAR[] array header.
const varcharOID = 1043

// sqlValue is the capability every column kind implements: encode itself
// into buf, reporting whether the value is SQL NULL. This is the "tagged
// variant... keyed on the target Postgres type" option from spec.md §9's
// polymorphism design note, chosen over an interface{} + type switch
// because each kind's encode step is small enough that a method beats a
// multi-arm switch for readability.
type sqlValue interface {
	encodeInto(buf *bytes.Buffer) (isNull bool, err error)
}

// varcharValue encodes as raw UTF-8 bytes, never NULL.
type varcharValue string

func (v varcharValue) encodeInto(buf *bytes.Buffer) (bool, error) {
	buf.WriteString(string(v))
	return false, nil
}

// varcharArrayValue encodes a 1-dimensional VARCHAR[] per spec.md §4.F:
// dims=1, has-nulls=0, element-oid=VARCHAR, dim-length=N, lower-bound=1,
// then per element a 32-bit length and UTF-8 bytes.
type varcharArrayValue []string

func (v varcharArrayValue) encodeInto(buf *bytes.Buffer) (bool, error) {
	var header [20]byte
	binary.BigEndian.PutUint32(header[0:4], 1)           // ndim
	binary.BigEndian.PutUint32(header[4:8], 0)            // has-nulls
	binary.BigEndian.PutUint32(header[8:12], varcharOID)  // element oid
	binary.BigEndian.PutUint32(header[12:16], uint32(len(v))) // dim length
	binary.BigEndian.PutUint32(header[16:20], 1)          // lower bound
	buf.Write(header[:])

	for _, elem := range v {
		var lenBuf [4]byte
		binary.BigEndian.PutUint32(lenBuf[:], uint32(len(elem)))
		buf.Write(lenBuf[:])
		buf.WriteString(elem)
	}
	return false, nil
}

// timestampValue encodes as microseconds since 2000-01-01 00:00:00 UTC,
// a signed 64-bit big-endian integer.
type timestampValue time.Time

func (v timestampValue) encodeInto(buf *bytes.Buffer) (bool, error) {
	micros := time.Time(v).Sub(pgEpoch).Microseconds()
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], uint64(micros))
	buf.Write(b[:])
	return false, nil
}

// geometryValue encodes an EWKB point, or NULL when point is nil. A
// missing or unparseable coordinate pair produces a NULL geometry, not a
// zero-point, per spec.md §4.G.
type geometryValue struct {
	point *geo.Point
}

func (v geometryValue) encodeInto(buf *bytes.Buffer) (bool, error) {
	if v.point == nil {
		return true, nil
	}
	buf.Write(geo.EncodeEWKB(*v.point))
	return false, nil
}
