package carrierapi

import (
	"encoding/json"
	"time"
)

type LoginResponse struct {
	AccessToken string `json:"access_token"`
	TokenType   string `json:"token_type,omitempty"`
	Role        string `json:"role"`
}

type UpdateResponse struct {
	Status    string `json:"status"`
	Outcome   string `json:"outcome,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Duplicate reports that the server had already applied this client_id.
func (r UpdateResponse) Duplicate() bool { return r.Status == "already_processed" }

type SyncStatus struct {
	Running   bool            `json:"running"`
	Started   *time.Time      `json:"started"`
	LastStats json.RawMessage `json:"last_stats"`
	LastError *string         `json:"last_error"`
}

type Health struct {
	OK               bool   `json:"ok"`
	Time             string `json:"time"`
	PostisConfigured bool   `json:"postis_configured"`
}

type CODRow struct {
	AWB      string  `json:"awb"`
	DriverID string  `json:"driver_id"`
	Amount   float64 `json:"amount"`
	Status   string  `json:"status,omitempty"`
}

// Analytics is passed through to the UI as is.
type Analytics map[string]any
