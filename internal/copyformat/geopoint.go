package copyformat

import (
	"strconv"

	"github.com/movableink/csvutils-go/internal/geo"
)

// ParsePoint extracts (longitude, latitude) from row at lonIdx/latIdx and
// builds an SRID-tagged geo.Point. A missing or unparseable coordinate
// pair returns nil, which WriteRow's geometryValue renders as a NULL
// geometry column rather than a zero-point, per spec.md §4.G.
func ParsePoint(row []string, latIdx, lonIdx int, srid int32) *geo.Point {
	if latIdx < 0 || lonIdx < 0 || latIdx >= len(row) || lonIdx >= len(row) {
		return nil
	}
	lat, err := strconv.ParseFloat(row[latIdx], 64)
	if err != nil {
		return nil
	}
	lon, err := strconv.ParseFloat(row[lonIdx], 64)
	if err != nil {
		return nil
	}
	p := geo.NewSRIDPoint(lon, lat, srid)
	return &p
}
