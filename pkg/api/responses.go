package api

import (
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
)

// ChatProcessResponse is returned by POST /api/chat/process once the run
// finishes or parks on a confirmation. Success is false only when the run
// ended on an internal error; a declined or blocked purchase is still a
// successful conversation turn.
type ChatProcessResponse struct {
	Success              bool                    `json:"success"`
	SessionID            string                  `json:"session_id"`
	RunID                string                  `json:"run_id"`
	Intent               *models.Intent          `json:"intent,omitempty"`
	PlanSummary          string                  `json:"plan_summary,omitempty"`
	RankedProducts       []models.RankedProduct  `json:"ranked_products,omitempty"`
	Decision             *models.Decision        `json:"decision,omitempty"`
	Purchase             *models.PurchaseResult  `json:"purchase,omitempty"`
	Info                 *models.InfoAnswer      `json:"info,omitempty"`
	AwaitingConfirmation bool                    `json:"awaiting_confirmation"`
	Outcome              string                  `json:"outcome,omitempty"`
	Message              string                  `json:"message,omitempty"`
	TerminalStageEvents  []StageEvent            `json:"terminal_stage_events"`
}

// StageEvent is one terminal stage outcome within a run, in pipeline order.
type StageEvent struct {
	Stage   models.StageID     `json:"stage"`
	Status  models.StageStatus `json:"status"`
	Message string             `json:"message,omitempty"`
}

// ConfirmOrderResponse is returned by POST /api/order/confirm. When the
// purchase raised a fresh high-risk confirmation, awaiting_confirmation is
// true and Purchase is still empty.
type ConfirmOrderResponse struct {
	SessionID            string                 `json:"session_id"`
	RunID                string                 `json:"run_id"`
	AwaitingConfirmation bool                   `json:"awaiting_confirmation"`
	Outcome              string                 `json:"outcome,omitempty"`
	Message              string                 `json:"message,omitempty"`
	Purchase             *models.PurchaseResult `json:"purchase,omitempty"`
}

// CancelResponse is returned by POST /api/cancel.
type CancelResponse struct {
	SessionID string `json:"session_id"`
	Cancelled bool   `json:"cancelled"`
}

// OTPResponse is returned by POST /api/otp.
type OTPResponse struct {
	SessionID string `json:"session_id"`
	Accepted  bool   `json:"accepted"`
}

// HistoryEntry is one terminal purchase outcome from the audit log.
type HistoryEntry struct {
	AuditID   string `json:"audit_id"`
	Timestamp string `json:"timestamp"`
	SessionID string `json:"session_id"`
	RunID     string `json:"run_id"`
	Action    string `json:"action"`
	Status    string `json:"status,omitempty"`
	Platform  string `json:"platform,omitempty"`
	OrderID   string `json:"order_id,omitempty"`
	DryRun    bool   `json:"dry_run,omitempty"`
}

// HistoryResponse is returned by GET /api/history.
type HistoryResponse struct {
	Entries []HistoryEntry `json:"entries"`
	Count   int            `json:"count"`
}

// HealthCheck is one named component check inside HealthResponse.
type HealthCheck struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// SystemWarningEntry is one active warning surfaced on /healthz.
type SystemWarningEntry struct {
	ID        string `json:"id"`
	Category  string `json:"category"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Source    string `json:"source,omitempty"`
	CreatedAt string `json:"created_at"`
}

// HealthResponse is returned by GET /healthz.
type HealthResponse struct {
	Status        string                   `json:"status"`
	Version       string                   `json:"version"`
	Checks        map[string]HealthCheck   `json:"checks"`
	Connectors    []connector.HealthStatus `json:"connectors,omitempty"`
	ActiveRuns    int                      `json:"active_runs"`
	WSConnections int                      `json:"ws_connections"`
	Warnings      []SystemWarningEntry     `json:"warnings,omitempty"`
}
