package models

import "time"

// Audit actions recorded at purchase phase boundaries and run checkpoints.
const (
	AuditValidationStart     = "validation_start"
	AuditValidationOutcome   = "validation_outcome"
	AuditRiskComputed        = "risk_computed"
	AuditRiskBlocked         = "risk_blocked"
	AuditRiskConfirmed       = "risk_confirmed"
	AuditDuplicateSuppressed = "duplicate_suppressed"
	AuditAttemptStart        = "attempt_start"
	AuditAttemptOutcome      = "attempt_outcome"
	AuditFallbackChosen      = "fallback_chosen"
	AuditOTPRequested        = "otp_requested"
	AuditTerminalResult      = "terminal_result"
	AuditRunCancelled        = "run_cancelled"
)

// AuditRecord is one append-only journal entry. IDs are monotonic per
// process: an instance marker plus a sequence number.
type AuditRecord struct {
	ID        string         `json:"id"`
	TS        time.Time      `json:"ts"`
	RunID     string         `json:"run_id"`
	SessionID string         `json:"session_id"`
	Actor     string         `json:"actor"`
	Action    string         `json:"action"`
	Detail    map[string]any `json:"detail,omitempty"`
}
