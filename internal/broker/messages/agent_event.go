package messages

import (
	"encoding/json"
	"time"
)

// AgentEvent is a bus event forwarded off-device, keyed by DeviceID.
type AgentEvent struct {
	DeviceID string          `json:"device_id"`
	Type     string          `json:"type"`
	At       time.Time       `json:"at"`
	Payload  json.RawMessage `json:"payload,omitempty"`
}
