package models

import "time"

type QueueStatus string

const (
	QueueStatusPending QueueStatus = "pending"
	QueueStatusSyncing QueueStatus = "syncing"
	QueueStatusSynced  QueueStatus = "synced"
	QueueStatusFailed  QueueStatus = "failed"
)

// QueueEntry is one pending status update for an AWB. ID doubles as the
// client_id idempotency key sent to the server.
type QueueEntry struct {
	ID           string      `json:"id"`
	AWB          string      `json:"awb"`
	EventID      string      `json:"event_id"`
	Label        string      `json:"label"`
	Notes        string      `json:"notes,omitempty"`
	Timestamp    time.Time   `json:"timestamp"`
	Status       QueueStatus `json:"status"`
	Attempts     int         `json:"attempts"`
	ErrorMessage *string     `json:"error_message"`
}

// Deliverable reports whether a drain should try to send the entry.
func (e QueueEntry) Deliverable() bool {
	return e.Status == QueueStatusPending || e.Status == QueueStatusFailed
}

// UpdateRequest is the body of POST /updates.
type UpdateRequest struct {
	AWB      string    `json:"awb"`
	EventID  string    `json:"event_id"`
	Notes    string    `json:"notes,omitempty"`
	ClientID string    `json:"client_id"`
	ClientTS time.Time `json:"client_ts"`
}
