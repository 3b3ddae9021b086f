package models

import "time"

type Shipment struct {
	AWB             string          `json:"awb"`
	Status          string          `json:"status,omitempty"`
	RecipientName   string          `json:"recipient_name,omitempty"`
	RecipientPhone  string          `json:"recipient_phone,omitempty"`
	DeliveryAddress string          `json:"delivery_address,omitempty"`
	County          string          `json:"county,omitempty"`
	Locality        string          `json:"locality,omitempty"`
	Weight          float64         `json:"weight,omitempty"`
	CashOnDelivery  float64         `json:"cash_on_delivery,omitempty"`
	DriverID        string          `json:"driver_id,omitempty"`
	Latitude        *float64        `json:"latitude,omitempty"`
	Longitude       *float64        `json:"longitude,omitempty"`
	CreatedAt       *time.Time      `json:"created_at,omitempty"`
	TrackingHistory []TrackingEvent `json:"tracking_history,omitempty"`
}

// Point returns the server-provided coordinates, if any.
func (s Shipment) Point() (GeoPoint, bool) {
	if s.Latitude == nil || s.Longitude == nil {
		return GeoPoint{}, false
	}
	return GeoPoint{Lat: *s.Latitude, Lon: *s.Longitude}, true
}

// GeocodeQuery is the free-text address used when coordinates are missing.
func (s Shipment) GeocodeQuery() string {
	q := s.DeliveryAddress
	if s.Locality != "" {
		q += ", " + s.Locality
	}
	if s.County != "" {
		q += ", " + s.County
	}
	return q
}

type TrackingEvent struct {
	EventID     string    `json:"event_id,omitempty"`
	Description string    `json:"event_description,omitempty"`
	EventTime   time.Time `json:"event_time"`
	Locality    string    `json:"locality,omitempty"`
}

type LogEntry struct {
	ID              int64     `json:"id"`
	DriverID        string    `json:"driver_id"`
	Timestamp       time.Time `json:"timestamp"`
	AWB             string    `json:"awb"`
	EventID         string    `json:"event_id"`
	Outcome         string    `json:"outcome"`
	ErrorMessage    *string   `json:"error_message,omitempty"`
	PostisReference *string   `json:"postis_reference,omitempty"`
}
