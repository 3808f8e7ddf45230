package geo

import (
	"encoding/binary"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeEWKB_PointWithSRID(t *testing.T) {
	p := NewSRIDPoint(-74.0, 40.0, 4326)
	got := EncodeEWKB(p)

	assert.Equal(t, []byte{0x01, 0x01, 0x00, 0x00, 0x20}, got[:5])
	assert.Equal(t, uint32(4326), binary.LittleEndian.Uint32(got[5:9]))

	x := math.Float64frombits(binary.LittleEndian.Uint64(got[9:17]))
	y := math.Float64frombits(binary.LittleEndian.Uint64(got[17:25]))
	assert.Equal(t, -74.0, x)
	assert.Equal(t, 40.0, y)
	assert.Len(t, got, 25)
}

func TestEncodeEWKB_NoSRID(t *testing.T) {
	p := Point{X: 1, Y: 2}
	got := EncodeEWKB(p)
	assert.Equal(t, []byte{0x01, 0x01, 0x00, 0x00, 0x00}, got[:5])
	assert.Len(t, got, 17)
}
