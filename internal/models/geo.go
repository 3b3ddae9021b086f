package models

import "time"

type GeoPoint struct {
	Lat float64 `json:"lat"`
	Lon float64 `json:"lon"`
}

// Origin is the warehouse every route starts from and returns to.
type Origin struct {
	Label string  `json:"label"`
	Lat   float64 `json:"lat"`
	Lon   float64 `json:"lon"`
}

func (o Origin) Point() GeoPoint { return GeoPoint{Lat: o.Lat, Lon: o.Lon} }

type GeocodeSource string

const (
	GeocodeSourceShipment GeocodeSource = "shipment"
	GeocodeSourceCache    GeocodeSource = "cache"
	GeocodeSourceGeocode  GeocodeSource = "geocode"
	GeocodeSourceNegative GeocodeSource = "negative"
)

// GeocodeEntry is a cached geocoding outcome. Negative entries carry no coordinates.
type GeocodeEntry struct {
	Lat    float64       `json:"lat,omitempty"`
	Lon    float64       `json:"lon,omitempty"`
	TS     time.Time     `json:"ts"`
	Source GeocodeSource `json:"source"`
}

func (e GeocodeEntry) Negative() bool { return e.Source == GeocodeSourceNegative }

func (e GeocodeEntry) Point() GeoPoint { return GeoPoint{Lat: e.Lat, Lon: e.Lon} }
