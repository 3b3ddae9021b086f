package models

import "strings"

// Status update requirements captured by the driver app.
const (
	RequirementGPS       = "gps"
	RequirementPhoto     = "photo"
	RequirementSignature = "signature"
	RequirementReason    = "reason"
	RequirementCOD       = "cod_collect"
)

type StatusOption struct {
	EventID      string   `json:"event_id"`
	Label        string   `json:"label"`
	Requirements []string `json:"requirements,omitempty"`
}

// FailureLike reports whether the event records a failed or aborted delivery
// and therefore carries a free-text reason.
func (o StatusOption) FailureLike() bool {
	for _, r := range o.Requirements {
		if r == RequirementReason {
			return true
		}
	}
	return false
}

var StatusOptions = []StatusOption{
	{EventID: "ESCH-PICKED-UP", Label: "Expediere preluata de Curier", Requirements: []string{RequirementGPS}},
	{EventID: "ESCH-DELIVERED", Label: "Expeditie Livrata", Requirements: []string{RequirementGPS, RequirementPhoto, RequirementSignature, RequirementCOD}},
	{EventID: "ESCH-REFUSED", Label: "Refuzare colet", Requirements: []string{RequirementGPS, RequirementReason, RequirementPhoto}},
	{EventID: "ESCH-RETURNED", Label: "Expeditie returnata", Requirements: []string{RequirementGPS, RequirementReason}},
	{EventID: "ESCH-CANCELLED", Label: "Expeditie anulata", Requirements: []string{RequirementReason}},
	{EventID: "ESCH-WAREHOUSE-IN", Label: "Intrare in depozit", Requirements: []string{RequirementGPS}},
	{EventID: "ESCH-RESCHEDULED", Label: "Livrare reprogramata", Requirements: []string{RequirementReason}},
	{EventID: "ESCH-NOT-HOME", Label: "Destinatar absent", Requirements: []string{RequirementGPS, RequirementReason}},
}

func FindStatusOption(eventID string) (StatusOption, bool) {
	id := strings.ToUpper(strings.TrimSpace(eventID))
	for _, o := range StatusOptions {
		if o.EventID == id {
			return o, true
		}
	}
	return StatusOption{}, false
}

// NormaliseAWB trims and upper-cases a scanned AWB.
func NormaliseAWB(awb string) string {
	return strings.ToUpper(strings.TrimSpace(awb))
}
