package routing_test

import (
	"context"
	"testing"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/geocache"
	"github.com/BearBump/LastMile/internal/integrations/routing"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type geocoderMock struct {
	mock.Mock
}

func (m *geocoderMock) Geocode(ctx context.Context, query string) (*models.GeoPoint, error) {
	args := m.Called(ctx, query)
	p, _ := args.Get(0).(*models.GeoPoint)
	return p, args.Error(1)
}

func TestResolver_CachesPositiveAndNegative(t *testing.T) {
	ctx := context.Background()
	g := &geocoderMock{}
	g.On("Geocode", mock.Anything, "Str. Lipscani 10").Return(&models.GeoPoint{Lat: 44.43, Lon: 26.1}, nil).Once()
	g.On("Geocode", mock.Anything, "nowhere").Return(nil, nil).Once()

	r := routing.NewResolver(geocache.New(nil, 10), g)

	p, src, err := r.Resolve(ctx, "Str. Lipscani 10")
	require.NoError(t, err)
	require.Equal(t, models.GeocodeSourceGeocode, src)
	require.Equal(t, 44.43, p.Lat)

	p, src, err = r.Resolve(ctx, "str. lipscani 10")
	require.NoError(t, err)
	require.Equal(t, models.GeocodeSourceCache, src)
	require.Equal(t, 44.43, p.Lat)

	for i := 0; i < 2; i++ {
		p, src, err = r.Resolve(ctx, "nowhere")
		require.NoError(t, err)
		require.Nil(t, p)
		require.Equal(t, models.GeocodeSourceNegative, src)
	}
	g.AssertExpectations(t)
}

func TestResolver_TransportFailureNotCached(t *testing.T) {
	ctx := context.Background()
	g := &geocoderMock{}
	g.On("Geocode", mock.Anything, "x").Return(nil, apperr.New(apperr.KindNetwork, "geocode", "down")).Once()
	g.On("Geocode", mock.Anything, "x").Return(&models.GeoPoint{Lat: 1, Lon: 2}, nil).Once()

	cache := geocache.New(nil, 10)
	r := routing.NewResolver(cache, g)

	_, _, err := r.Resolve(ctx, "x")
	require.Error(t, err)
	require.True(t, apperr.Is(err, apperr.KindNetwork))
	require.Equal(t, 0, cache.Len())

	p, _, err := r.Resolve(ctx, "x")
	require.NoError(t, err)
	require.Equal(t, 2.0, p.Lon)
}

func TestResolver_ShipmentCoordinatesWin(t *testing.T) {
	ctx := context.Background()
	g := &geocoderMock{}
	cache := geocache.New(nil, 10)
	r := routing.NewResolver(cache, g)

	lat, lon := 45.65, 25.6
	s := models.Shipment{AWB: "AWB1", DeliveryAddress: "Str. Lunga 1", Locality: "Brasov", Latitude: &lat, Longitude: &lon}
	p, src, err := r.ResolveShipment(ctx, s)
	require.NoError(t, err)
	require.Equal(t, models.GeocodeSourceShipment, src)
	require.Equal(t, lat, p.Lat)

	e, out := cache.Lookup("str. lunga 1, brasov")
	require.Equal(t, geocache.Hit, out)
	require.Equal(t, models.GeocodeSourceShipment, e.Source)
	g.AssertNotCalled(t, "Geocode", mock.Anything, mock.Anything)
}
