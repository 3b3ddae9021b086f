package routing

import (
	"context"

	"github.com/BearBump/LastMile/internal/geocache"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/pkg/errors"
)

// Resolver geocodes through the cache. Transport failures are never cached;
// "not found" answers are cached as negative entries.
type Resolver struct {
	cache    *geocache.Cache
	geocoder Geocoder
}

func NewResolver(cache *geocache.Cache, geocoder Geocoder) *Resolver {
	return &Resolver{cache: cache, geocoder: geocoder}
}

func (r *Resolver) Resolve(ctx context.Context, query string) (*models.GeoPoint, models.GeocodeSource, error) {
	if geocache.Normalize(query) == "" {
		return nil, models.GeocodeSourceNegative, nil
	}
	e, out := r.cache.Lookup(query)
	switch out {
	case geocache.Hit:
		p := e.Point()
		return &p, models.GeocodeSourceCache, nil
	case geocache.NegativeHit:
		return nil, models.GeocodeSourceNegative, nil
	}

	p, err := r.geocoder.Geocode(ctx, query)
	if err != nil {
		return nil, "", errors.Wrap(err, "geocode")
	}
	if ctx.Err() != nil {
		return nil, "", nil
	}
	if p == nil {
		r.cache.PutNegative(ctx, query)
		return nil, models.GeocodeSourceNegative, nil
	}
	r.cache.Put(ctx, query, *p, models.GeocodeSourceGeocode)
	return p, models.GeocodeSourceGeocode, nil
}

// ResolveShipment prefers server coordinates and records them in the cache
// under the shipment's address.
func (r *Resolver) ResolveShipment(ctx context.Context, s models.Shipment) (*models.GeoPoint, models.GeocodeSource, error) {
	if p, ok := s.Point(); ok {
		if q := s.GeocodeQuery(); geocache.Normalize(q) != "" {
			r.cache.Put(ctx, q, p, models.GeocodeSourceShipment)
		}
		return &p, models.GeocodeSourceShipment, nil
	}
	return r.Resolve(ctx, s.GeocodeQuery())
}
