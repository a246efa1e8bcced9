package geo

import (
	"math"

	"github.com/paulmach/orb"

	"drive-ally/internal/nav"
)

// EarthRadius is the mean Earth radius used by every distance in this module.
const EarthRadius = 6371000.0

func toRad(d float64) float64 { return d * math.Pi / 180 }

// Haversine distance in meters
func Haversine(a, b nav.Coordinate) float64 {
	dLat := toRad(b.Lat - a.Lat)
	dLon := toRad(b.Lng - a.Lng)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(h), math.Sqrt(1-h))
	return EarthRadius * c
}

// Bearing returns the initial bearing from a to b in degrees [0,360).
func Bearing(a, b nav.Coordinate) float64 {
	y := math.Sin(toRad(b.Lng-a.Lng)) * math.Cos(toRad(b.Lat))
	x := math.Cos(toRad(a.Lat))*math.Sin(toRad(b.Lat)) - math.Sin(toRad(a.Lat))*math.Cos(toRad(b.Lat))*math.Cos(toRad(b.Lng-a.Lng))
	brng := math.Atan2(y, x) * 180.0 / math.Pi
	if brng < 0 {
		brng += 360
	}
	return brng
}

// CumDistances returns, for every vertex, the path length from the first
// vertex up to it. cum[0] is always 0.
func CumDistances(path []nav.Coordinate) []float64 {
	n := len(path)
	if n == 0 {
		return nil
	}
	cum := make([]float64, n)
	sum := 0.0
	for i := 1; i < n; i++ {
		sum += Haversine(path[i-1], path[i])
		cum[i] = sum
	}
	return cum
}

// NearestVertex returns the index of the path vertex closest to p and the
// distance to it. It does not project onto segments; callers rely on paths
// being densely sampled. Returns -1 for an empty path.
func NearestVertex(path []nav.Coordinate, p nav.Coordinate) (int, float64) {
	best := -1
	bestDist := math.Inf(1)
	for i, v := range path {
		if d := Haversine(p, v); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best, bestDist
}

// Interpolate walks dist meters along path and returns the position and the
// bearing of the segment it lands on.
func Interpolate(path []nav.Coordinate, cum []float64, dist float64) (nav.Coordinate, float64) {
	n := len(path)
	if n == 0 {
		return nav.Coordinate{}, 0
	}
	if n == 1 {
		return path[0], 0
	}
	total := cum[n-1]
	if dist <= 0 || total == 0 {
		return point(path[0]), Bearing(path[0], path[1])
	}
	if dist >= total {
		return point(path[n-1]), Bearing(path[n-2], path[n-1])
	}
	i := 1
	for i < n && cum[i] < dist {
		i++
	}
	if i >= n {
		i = n - 1
	}
	p0, p1 := path[i-1], path[i]
	d0, d1 := cum[i-1], cum[i]
	if d1 == d0 {
		return point(p0), Bearing(p0, p1)
	}
	frac := (dist - d0) / (d1 - d0)
	return nav.Coordinate{
		Lat: p0.Lat + (p1.Lat-p0.Lat)*frac,
		Lng: p0.Lng + (p1.Lng-p0.Lng)*frac,
	}, Bearing(p0, p1)
}

func point(c nav.Coordinate) nav.Coordinate { return nav.Coordinate{Lat: c.Lat, Lng: c.Lng} }

// LineString converts a path into an orb line (x = lng, y = lat).
func LineString(path []nav.Coordinate) orb.LineString {
	ls := make(orb.LineString, 0, len(path))
	for _, c := range path {
		ls = append(ls, orb.Point{c.Lng, c.Lat})
	}
	return ls
}

// FromLineString converts an orb line back into a path.
func FromLineString(ls orb.LineString) []nav.Coordinate {
	path := make([]nav.Coordinate, 0, len(ls))
	for _, p := range ls {
		path = append(path, nav.Coordinate{Lat: p.Lat(), Lng: p.Lon()})
	}
	return path
}

// Bounds returns the bounding box of the path.
func Bounds(path []nav.Coordinate) orb.Bound {
	return LineString(path).Bound()
}

// Finite reports whether both components of c are usable numbers.
func Finite(c nav.Coordinate) bool {
	return !math.IsNaN(c.Lat) && !math.IsNaN(c.Lng) && !math.IsInf(c.Lat, 0) && !math.IsInf(c.Lng, 0)
}
