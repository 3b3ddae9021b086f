package osrm

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/BearBump/LastMile/internal/apperr"
	"github.com/BearBump/LastMile/internal/models"
	"github.com/BearBump/LastMile/internal/ratelimit"
	"github.com/stretchr/testify/require"
)

var twoPoints = []models.GeoPoint{{Lat: 44.43, Lon: 26.10}, {Lat: 44.50, Lon: 26.10}}

func TestClient_Route_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/route/v1/driving/26.100000,44.430000;26.100000,44.500000", r.URL.Path)
		require.Equal(t, "full", r.URL.Query().Get("overview"))
		require.Equal(t, "geojson", r.URL.Query().Get("geometries"))
		_, _ = w.Write([]byte(`{"code":"Ok","routes":[{"distance":8120.5,"duration":740.2,
"geometry":{"type":"LineString","coordinates":[[26.1,44.43],[26.101,44.47],[26.1,44.5]]}}]}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, ratelimit.None()).Route(context.Background(), twoPoints)
	require.NoError(t, err)
	require.NotNil(t, res)
	require.Equal(t, 8120.5, res.DistanceM)
	require.Equal(t, 740.2, res.DurationS)
	require.Len(t, res.Polyline, 3)
	require.Equal(t, 44.47, res.Polyline[1].Lat)
}

func TestClient_Route_TooFewPoints(t *testing.T) {
	res, err := New("http://127.0.0.1:1", ratelimit.None()).Route(context.Background(), twoPoints[:1])
	require.NoError(t, err)
	require.Nil(t, res)
}

func TestClient_Route_ServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer srv.Close()

	res, err := New(srv.URL, ratelimit.None()).Route(context.Background(), twoPoints)
	require.Error(t, err)
	require.Nil(t, res)
	require.True(t, apperr.Is(err, apperr.KindNetwork))
}

func TestClient_Route_NoRoute(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"code":"NoRoute","message":"Impossible route"}`))
	}))
	defer srv.Close()

	res, err := New(srv.URL, ratelimit.None()).Route(context.Background(), twoPoints)
	require.Error(t, err)
	require.Nil(t, res)
	require.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestClient_Route_Cancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	res, err := New("http://127.0.0.1:1", ratelimit.None()).Route(ctx, twoPoints)
	require.NoError(t, err)
	require.Nil(t, res)
}
