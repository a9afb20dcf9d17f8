package models

import "time"

// Event is one bus message. Stage updates carry stage id and status;
// run-scoped events (run_cancelled, otp_required, confirmation_required)
// carry only message and data; dropped markers carry the Dropped count.
type Event struct {
	Type      string         `json:"type"`
	SessionID string         `json:"session_id"`
	RunID     string         `json:"run_id,omitempty"`
	StageID   StageID        `json:"stage_id,omitempty"`
	Status    StageStatus    `json:"status,omitempty"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
	// Dropped is the number of events lost to this subscriber's buffer
	// overflow since its last delivered event. Only set on drop markers.
	Dropped int `json:"dropped,omitempty"`
}
