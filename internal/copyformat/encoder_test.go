package copyformat

import (
	"bytes"
	"encoding/binary"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmptyOutput_Is21Bytes(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.WriteHeader())
	require.NoError(t, e.WriteFooter())
	require.NoError(t, e.Flush())
	assert.Len(t, buf.Bytes(), 21)
}

func TestHeaderFraming(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.WriteHeader())
	require.NoError(t, e.Flush())

	b := buf.Bytes()
	assert.Equal(t, []byte("PGCOPY\n\xff\r\n\x00"), b[:11])
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(b[11:15]))
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(b[15:19]))
}

func TestFooterFraming(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.WriteFooter())
	require.NoError(t, e.Flush())
	assert.Equal(t, int16(-1), int16(binary.BigEndian.Uint16(buf.Bytes())))
}

func TestWriteRow_GeometryAndArray(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	require.NoError(t, e.WriteHeader())

	now := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	point := ParsePoint([]string{"40.0", "-74.0"}, 0, 1, 4326)
	require.NotNil(t, point)

	row := Row("src", "deadbeef", point, []string{"a", "b"}, now, now)
	require.NoError(t, e.WriteRow(row))
	require.NoError(t, e.WriteFooter())
	require.NoError(t, e.Flush())

	b := buf.Bytes()
	off := 19 // past header
	assert.Equal(t, uint16(6), binary.BigEndian.Uint16(b[off:off+2]))
	off += 2

	// column 0: source_key
	l := int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	assert.Equal(t, "src", string(b[off:off+int(l)]))
	off += int(l)

	// column 1: target_key_hex
	l = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	assert.Equal(t, "deadbeef", string(b[off:off+int(l)]))
	off += int(l)

	// column 2: geometry
	l = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	geomBytes := b[off : off+int(l)]
	assert.Equal(t, []byte{0x01, 0x01, 0x00, 0x00, 0x20}, geomBytes[:5])
	assert.Equal(t, uint32(4326), binary.LittleEndian.Uint32(geomBytes[5:9]))
	off += int(l)

	// column 3: raw_row array
	l = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4
	arr := b[off : off+int(l)]
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(arr[0:4]))  // ndim
	assert.Equal(t, uint32(0), binary.BigEndian.Uint32(arr[4:8]))  // has-nulls
	assert.Equal(t, uint32(varcharOID), binary.BigEndian.Uint32(arr[8:12]))
	assert.Equal(t, uint32(2), binary.BigEndian.Uint32(arr[12:16])) // dim length
	assert.Equal(t, uint32(1), binary.BigEndian.Uint32(arr[16:20])) // lower bound
}

func TestWriteRow_NullGeometryForUnparseableCoordinates(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)

	point := ParsePoint([]string{"nope", "-74.0"}, 0, 1, 4326)
	assert.Nil(t, point)

	now := time.Now()
	row := Row("src", "hex", point, []string{"x"}, now, now)
	require.NoError(t, e.WriteRow(row))
	require.NoError(t, e.Flush())

	b := buf.Bytes()
	off := 2 // past column count
	// skip source_key
	l := int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4 + int(l)
	// skip target_key_hex
	l = int32(binary.BigEndian.Uint32(b[off : off+4]))
	off += 4 + int(l)
	// geometry length must be -1
	assert.Equal(t, int32(-1), int32(binary.BigEndian.Uint32(b[off:off+4])))
}

func TestWriteRow_RejectsWrongColumnCount(t *testing.T) {
	var buf bytes.Buffer
	e := NewEncoder(&buf)
	err := e.WriteRow([]sqlValue{varcharValue("only one")})
	assert.Error(t, err)
}
