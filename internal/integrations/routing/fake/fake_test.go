package fake

import (
	"context"
	"testing"

	"github.com/BearBump/LastMile/internal/models"
	"github.com/stretchr/testify/require"
)

func TestProvider_GeocodeDeterministic(t *testing.T) {
	p := New()
	ctx := context.Background()

	a, err := p.Geocode(ctx, "Str. Lipscani 10, Bucuresti")
	require.NoError(t, err)
	require.NotNil(t, a)
	b, _ := p.Geocode(ctx, "  str. lipscani 10,   bucuresti")
	require.Equal(t, a, b)
	require.InDelta(t, 45.9, a.Lat, 2.3)

	miss, err := p.Geocode(ctx, "?? unknown")
	require.NoError(t, err)
	require.Nil(t, miss)
}

func TestProvider_Route(t *testing.T) {
	p := New()
	ctx := context.Background()

	r, err := p.Route(ctx, []models.GeoPoint{{Lat: 44.43, Lon: 26.10}})
	require.NoError(t, err)
	require.Nil(t, r)

	r, err = p.Route(ctx, []models.GeoPoint{{Lat: 44.43, Lon: 26.10}, {Lat: 44.50, Lon: 26.10}})
	require.NoError(t, err)
	require.Len(t, r.Polyline, 2)
	require.Greater(t, r.DistanceM, 7000.0)
	require.Greater(t, r.DurationS, 0.0)

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	r, err = p.Route(cctx, []models.GeoPoint{{}, {Lat: 1}})
	require.NoError(t, err)
	require.Nil(t, r)
}
