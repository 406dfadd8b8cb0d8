package grouping

import (
	"math"
	"sort"

	"github.com/cespare/xxhash/v2"
	"github.com/mmcloughlin/geohash"
)

// RegionPrecision is the geohash length of a lock cell (about 4.9km x 4.9km),
// far wider than the duplicate radius.
const RegionPrecision = 5

// geohash cells are half-open; +90 itself has no cell
const maxLatitude = 90 - 1e-9

// RegionCells returns the sorted geohash cells touched by a circle of radius
// meters around lat/lon. Any two points within radius of each other share at
// least one cell.
func RegionCells(lat, lon, radius float64) []string {
	dLat := radius / EarthRadiusMeters * 180 / math.Pi
	cosLat := math.Cos(lat * math.Pi / 180)
	if cosLat < 1e-6 {
		cosLat = 1e-6
	}
	dLon := math.Min(dLat/cosLat, 180)

	seen := make(map[string]struct{}, 9)
	for _, sy := range []float64{-1, 0, 1} {
		for _, sx := range []float64{-1, 0, 1} {
			pLat := math.Max(-90, math.Min(maxLatitude, lat+sy*dLat))
			pLon := wrapLongitude(lon + sx*dLon)
			seen[geohash.EncodeWithPrecision(pLat, pLon, RegionPrecision)] = struct{}{}
		}
	}

	cells := make([]string, 0, len(seen))
	for c := range seen {
		cells = append(cells, c)
	}
	sort.Strings(cells)
	return cells
}

// RegionLockKeys maps RegionCells to sorted 64-bit lock keys.
func RegionLockKeys(lat, lon, radius float64) []int64 {
	cells := RegionCells(lat, lon, radius)
	keys := make([]int64, 0, len(cells))
	for _, c := range cells {
		keys = append(keys, int64(xxhash.Sum64String("pothole-region:"+c)))
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func wrapLongitude(lon float64) float64 {
	for lon >= 180 {
		lon -= 360
	}
	for lon < -180 {
		lon += 360
	}
	return lon
}
