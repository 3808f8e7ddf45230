// Package geo encodes point geometries as EWKB (Extended Well-Known
// Binary), PostGIS's binary geometry representation, per spec.md §4.G.
package geo

import (
	"encoding/binary"
	"math"
)

const (
	wkbPoint  uint32 = 0x00000001
	sridFlag  uint32 = 0x20000000
	zFlag     uint32 = 0x80000000
	mFlag     uint32 = 0x40000000
	byteOrder byte   = 0x01 // little-endian
)

// Point is a geometry point with an optional SRID, Z, and M ordinate.
// For the binary-COPY schema in spec.md §4.F, points are always
// (longitude, latitude, SRID=4326) with no Z or M.
type Point struct {
	X, Y float64
	SRID *int32
	Z    *float64
	M    *float64
}

// NewSRIDPoint returns a Point at (x, y) tagged with srid, no Z or M —
// the shape every geometry column in this module's COPY output uses.
func NewSRIDPoint(x, y float64, srid int32) Point {
	return Point{X: x, Y: y, SRID: &srid}
}

// EncodeEWKB serializes p per spec.md §4.G:
//
//	byte-order marker (0x01, little-endian)
//	32-bit type id: POINT (0x00000001) OR'd with flag bits for SRID/Z/M
//	[SRID, 32-bit little-endian] if present
//	x, y (f64 little-endian), then z, m if present, in that order
func EncodeEWKB(p Point) []byte {
	typeID := wkbPoint
	if p.SRID != nil {
		typeID |= sridFlag
	}
	if p.Z != nil {
		typeID |= zFlag
	}
	if p.M != nil {
		typeID |= mFlag
	}

	size := 1 + 4 + 8 + 8
	if p.SRID != nil {
		size += 4
	}
	if p.Z != nil {
		size += 8
	}
	if p.M != nil {
		size += 8
	}

	buf := make([]byte, size)
	buf[0] = byteOrder
	binary.LittleEndian.PutUint32(buf[1:5], typeID)
	off := 5
	if p.SRID != nil {
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(*p.SRID))
		off += 4
	}
	binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(p.X))
	off += 8
	binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(p.Y))
	off += 8
	if p.Z != nil {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(*p.Z))
		off += 8
	}
	if p.M != nil {
		binary.LittleEndian.PutUint64(buf[off:off+8], math.Float64bits(*p.M))
	}
	return buf
}
