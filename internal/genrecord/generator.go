// Package genrecord generates synthetic CSV rows for exercising the sort
// engine at scale, adapted from the teacher's internal/data/generator.go
// random-record generator. Columns are reshaped for this module's
// geospatial domain: id, name, url, latitude, longitude, continent.
package genrecord

import (
	"math/rand"
	"strconv"
	"strings"
)

var (
	letters    = []rune("abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ")
	continents = []string{"North America", "Asia", "South America", "Europe", "Africa", "Australia"}
	schemes    = []string{"https://", "http://"}
)

// Columns names the fields GenerateRow produces, in order.
var Columns = []string{"id", "name", "url", "latitude", "longitude", "continent"}

// GenerateRow returns one synthetic row: id, name, url, latitude,
// longitude, continent.
func GenerateRow(rng *rand.Rand) []string {
	id := rng.Int31()

	nameLen := 6 + rng.Intn(10)
	var name strings.Builder
	name.Grow(nameLen)
	for i := 0; i < nameLen; i++ {
		name.WriteRune(letters[rng.Intn(len(letters))])
	}

	var url strings.Builder
	url.WriteString(schemes[rng.Intn(len(schemes))])
	url.WriteString(strings.ToLower(name.String()))
	url.WriteString(".example.com")

	lat := rng.Float64()*180 - 90
	lon := rng.Float64()*360 - 180
	continent := continents[rng.Intn(len(continents))]

	return []string{
		strconv.FormatInt(int64(id), 10),
		name.String(),
		url.String(),
		strconv.FormatFloat(lat, 'f', 6, 64),
		strconv.FormatFloat(lon, 'f', 6, 64),
		continent,
	}
}
