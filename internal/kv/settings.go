package kv

import (
	"context"
	"strings"

	"github.com/BearBump/LastMile/internal/models"
)

// Persisted keys. Each component owns its keys and never writes anyone else's.
const (
	KeyToken            = "token"
	KeyAPIBaseURL       = "api_base_url"
	KeyWarehouseOrigin  = "warehouse_origin_v1"
	KeyQueue            = "queue_v1"
	KeyRoutes           = "routes_v1"
	KeyGeocodeCache     = "geocode_cache_v1"
	KeyHelpersRoster    = "helpers_roster_v1"
	KeyLastVehiclePlate = "last_vehicle_plate_v1"
)

// Settings are the typed accessors for the ambient device state.
type Settings struct {
	s *Store
}

func NewSettings(s *Store) *Settings {
	return &Settings{s: s}
}

func (st *Settings) Token(ctx context.Context) (string, error) {
	var tok string
	if _, err := st.s.Get(ctx, KeyToken, &tok); err != nil {
		return "", err
	}
	return tok, nil
}

func (st *Settings) SetToken(ctx context.Context, token string) error {
	return st.s.Set(ctx, KeyToken, token)
}

func (st *Settings) ClearToken(ctx context.Context) error {
	return st.s.Remove(ctx, KeyToken)
}

func (st *Settings) APIBaseURL(ctx context.Context) (string, error) {
	var u string
	if _, err := st.s.Get(ctx, KeyAPIBaseURL, &u); err != nil {
		return "", err
	}
	return u, nil
}

func (st *Settings) SetAPIBaseURL(ctx context.Context, u string) error {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if u == "" {
		return st.s.Remove(ctx, KeyAPIBaseURL)
	}
	return st.s.Set(ctx, KeyAPIBaseURL, u)
}

// WarehouseOrigin returns the configured origin; ok=false when never set.
func (st *Settings) WarehouseOrigin(ctx context.Context) (models.Origin, bool, error) {
	var o models.Origin
	ok, err := st.s.Get(ctx, KeyWarehouseOrigin, &o)
	return o, ok, err
}

func (st *Settings) SetWarehouseOrigin(ctx context.Context, o models.Origin) error {
	return st.s.Set(ctx, KeyWarehouseOrigin, o)
}

func (st *Settings) HelpersRoster(ctx context.Context) ([]string, error) {
	var names []string
	if _, err := st.s.Get(ctx, KeyHelpersRoster, &names); err != nil {
		return nil, err
	}
	return names, nil
}

// AddHelper remembers a helper name (case-insensitive dedup, newest first).
func (st *Settings) AddHelper(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil
	}
	names, err := st.HelpersRoster(ctx)
	if err != nil {
		return err
	}
	out := []string{name}
	for _, n := range names {
		if !strings.EqualFold(n, name) {
			out = append(out, n)
		}
	}
	return st.s.Set(ctx, KeyHelpersRoster, out)
}

func (st *Settings) LastVehiclePlate(ctx context.Context) (string, error) {
	var p string
	if _, err := st.s.Get(ctx, KeyLastVehiclePlate, &p); err != nil {
		return "", err
	}
	return p, nil
}

func (st *Settings) SetLastVehiclePlate(ctx context.Context, plate string) error {
	plate = strings.ToUpper(strings.TrimSpace(plate))
	if plate == "" {
		return nil
	}
	return st.s.Set(ctx, KeyLastVehiclePlate, plate)
}
