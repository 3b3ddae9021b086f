package models

type Route struct {
	ID           string   `json:"id"`
	Date         string   `json:"date"` // YYYY-MM-DD, local time
	DriverID     *string  `json:"driver_id"`
	DriverName   string   `json:"driver_name,omitempty"`
	HelperName   string   `json:"helper_name,omitempty"`
	VehiclePlate string   `json:"vehicle_plate,omitempty"`
	County       string   `json:"county,omitempty"`
	Name         string   `json:"name,omitempty"`
	AWBs         []string `json:"awbs"`
}

// Clone returns a deep copy so callers never share the store's slices.
func (r *Route) Clone() *Route {
	if r == nil {
		return nil
	}
	c := *r
	if r.DriverID != nil {
		d := *r.DriverID
		c.DriverID = &d
	}
	c.AWBs = append([]string{}, r.AWBs...)
	return &c
}

func (r *Route) HasAWB(awb string) bool {
	for _, a := range r.AWBs {
		if a == awb {
			return true
		}
	}
	return false
}

// RoutePatch is a partial update of scalar route fields. Nil means "keep".
type RoutePatch struct {
	Date         *string `json:"date,omitempty"`
	DriverID     *string `json:"driver_id,omitempty"`
	DriverName   *string `json:"driver_name,omitempty"`
	HelperName   *string `json:"helper_name,omitempty"`
	VehiclePlate *string `json:"vehicle_plate,omitempty"`
	County       *string `json:"county,omitempty"`
	Name         *string `json:"name,omitempty"`
}
