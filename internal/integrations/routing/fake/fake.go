package fake

import (
	"context"
	"hash/fnv"
	"strings"

	"github.com/BearBump/LastMile/internal/geocache"
	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/services/optimizer"
)

// Provider — детерминированный геокодер/роутер для демо-режима и тестов.
// Координаты берутся из FNV-хеша нормализованного запроса внутри рамки Румынии.
type Provider struct {
	// UnknownMarker: запросы, содержащие эту подстроку, "не находятся".
	UnknownMarker string
}

func New() *Provider { return &Provider{UnknownMarker: "??"} }

func (p *Provider) Geocode(ctx context.Context, query string) (*models.GeoPoint, error) {
	if ctx.Err() != nil {
		return nil, nil
	}
	q := geocache.Normalize(query)
	if q == "" || (p.UnknownMarker != "" && strings.Contains(q, p.UnknownMarker)) {
		return nil, nil
	}

	h := fnv.New32a()
	_, _ = h.Write([]byte(q))
	v := h.Sum32()

	lat := 43.7 + float64(v%10000)/10000*4.4
	lon := 20.3 + float64((v/10000)%10000)/10000*9.3
	return &models.GeoPoint{Lat: lat, Lon: lon}, nil
}

// Route returns the straight polyline through points; duration assumes 40 km/h.
func (p *Provider) Route(ctx context.Context, points []models.GeoPoint) (*routing.RouteResult, error) {
	if ctx.Err() != nil || len(points) < 2 {
		return nil, nil
	}
	d := optimizer.PathDistance(points)
	line := make([]models.GeoPoint, len(points))
	copy(line, points)
	return &routing.RouteResult{
		Polyline:  line,
		DistanceM: d,
		DurationS: d / (40.0 / 3.6),
	}, nil
}
