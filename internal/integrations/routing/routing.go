// Package routing abstracts the geocoding and routing providers used by the
// map view. Both operations are cancellable: a cancelled call returns a nil
// result and a nil error.
package routing

import (
	"context"

	"github.com/BearBump/LastMile/internal/models"
)

type RouteResult struct {
	Polyline  []models.GeoPoint `json:"polyline"`
	DistanceM float64           `json:"distance_m"`
	DurationS float64           `json:"duration_s"`
}

type Geocoder interface {
	// Geocode returns nil, nil when the address cannot be resolved.
	Geocode(ctx context.Context, query string) (*models.GeoPoint, error)
}

type Router interface {
	// Route returns nil when fewer than two points are given.
	Route(ctx context.Context, points []models.GeoPoint) (*RouteResult, error)
}
