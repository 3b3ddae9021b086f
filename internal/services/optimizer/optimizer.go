// Package optimizer orders a route's stops and computes displayed distances.
package optimizer

import (
	"math"

	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/models"
)

const earthRadiusM = 6371000.0

type Stop struct {
	AWB   string          `json:"awb"`
	Point models.GeoPoint `json:"point"`
}

// Haversine returns the great-circle distance between a and b in metres.
func Haversine(a, b models.GeoPoint) float64 {
	lat1, lon1 := a.Lat*math.Pi/180, a.Lon*math.Pi/180
	lat2, lon2 := b.Lat*math.Pi/180, b.Lon*math.Pi/180
	dLat, dLon := lat2-lat1, lon2-lon1
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLon/2)*math.Sin(dLon/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}

// OptimiseRoundTrip orders stops by nearest neighbour starting at origin.
// Ties keep input order. The return leg to origin is not part of the result.
func OptimiseRoundTrip(origin models.GeoPoint, stops []Stop) []Stop {
	pool := make([]Stop, len(stops))
	copy(pool, stops)
	out := make([]Stop, 0, len(stops))

	cur := origin
	for len(pool) > 0 {
		best, bestDist := 0, math.Inf(1)
		for i, s := range pool {
			// строгое "<": при равенстве остаётся более ранняя остановка
			if d := Haversine(cur, s.Point); d < bestDist {
				best, bestDist = i, d
			}
		}
		next := pool[best]
		out = append(out, next)
		cur = next.Point
		pool = append(pool[:best], pool[best+1:]...)
	}
	return out
}

// PathDistance sums haversine legs along points.
func PathDistance(points []models.GeoPoint) float64 {
	var total float64
	for i := 1; i < len(points); i++ {
		total += Haversine(points[i-1], points[i])
	}
	return total
}

type Source string

const (
	SourceOSRM      Source = "osrm"
	SourceHaversine Source = "haversine"
)

type RouteMetrics struct {
	DistanceM *float64 `json:"distance_m"`
	DurationS *float64 `json:"duration_s"`
	Source    Source   `json:"source"`
}

// Metrics prefers the provider's numbers; without them the distance is the
// haversine sum and the duration is unknown.
func Metrics(route *routing.RouteResult, points []models.GeoPoint) RouteMetrics {
	if route != nil {
		d, t := route.DistanceM, route.DurationS
		return RouteMetrics{DistanceM: &d, DurationS: &t, Source: SourceOSRM}
	}
	d := PathDistance(points)
	return RouteMetrics{DistanceM: &d, Source: SourceHaversine}
}

// RoundTrip is origin, the ordered stops, and origin again.
func RoundTrip(origin models.GeoPoint, ordered []Stop) []models.GeoPoint {
	pts := make([]models.GeoPoint, 0, len(ordered)+2)
	pts = append(pts, origin)
	for _, s := range ordered {
		pts = append(pts, s.Point)
	}
	return append(pts, origin)
}

// OrderAWBs orders the located AWBs as a round trip from origin. AWBs without
// a point keep their relative order and go last.
func OrderAWBs(origin models.GeoPoint, awbs []string, points map[string]models.GeoPoint) (ordered []Stop, unresolved []string) {
	stops := make([]Stop, 0, len(awbs))
	for _, a := range awbs {
		if p, ok := points[a]; ok {
			stops = append(stops, Stop{AWB: a, Point: p})
			continue
		}
		unresolved = append(unresolved, a)
	}
	return OptimiseRoundTrip(origin, stops), unresolved
}
