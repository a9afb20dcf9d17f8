package events

import (
	"log/slog"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// Publisher emits the typed events the pipeline and purchase executor
// produce. Every method is fire-and-forget: event delivery is best-effort by
// contract and never fails a run.
type Publisher struct {
	bus    *Bus
	logger *slog.Logger
}

// NewPublisher creates a publisher bound to the bus.
func NewPublisher(bus *Bus) *Publisher {
	return &Publisher{
		bus:    bus,
		logger: slog.Default().With("component", "events.Publisher"),
	}
}

// StageUpdate emits one stage lifecycle transition.
func (p *Publisher) StageUpdate(sessionID, runID string, stage models.StageID, status models.StageStatus, message string, data map[string]any) {
	p.bus.Publish(models.Event{
		Type:      TypeStageUpdate,
		SessionID: sessionID,
		RunID:     runID,
		StageID:   stage,
		Status:    status,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// RunStarted emits the run admission event.
func (p *Publisher) RunStarted(sessionID, runID, requestText string) {
	p.bus.Publish(models.Event{
		Type:      TypeRunStarted,
		SessionID: sessionID,
		RunID:     runID,
		Message:   requestText,
		Timestamp: time.Now().UTC(),
	})
}

// RunCompleted emits the run's terminal event. Outcome is a short token
// ("complete", "error", "no_suitable_option", ...) mirrored from the last
// terminal stage.
func (p *Publisher) RunCompleted(sessionID, runID, outcome string) {
	p.bus.Publish(models.Event{
		Type:      TypeRunCompleted,
		SessionID: sessionID,
		RunID:     runID,
		Message:   outcome,
		Timestamp: time.Now().UTC(),
	})
}

// RunCancelled emits the distinguished terminal event for a cancelled run.
func (p *Publisher) RunCancelled(sessionID, runID string) {
	p.bus.Publish(models.Event{
		Type:      TypeRunCancelled,
		SessionID: sessionID,
		RunID:     runID,
		Message:   "run cancelled",
		Timestamp: time.Now().UTC(),
	})
}

// ConfirmationRequired emits the prompt for an await_confirmation rendezvous.
// The payload carries enough of the decision for a client to render the
// choice without an extra session fetch.
func (p *Publisher) ConfirmationRequired(sessionID, runID string, decision *models.Decision, timeout time.Duration) {
	data := map[string]any{
		"timeout_sec": int(timeout.Seconds()),
	}
	if decision != nil && decision.Selected != nil {
		data["connector_id"] = decision.Selected.ConnectorID
		data["title"] = decision.Selected.Title
		data["unit_price"] = decision.Selected.UnitPrice
		data["fallbacks"] = len(decision.Fallbacks)
	}
	p.bus.Publish(models.Event{
		Type:      TypeConfirmationRequired,
		SessionID: sessionID,
		RunID:     runID,
		StageID:   models.StageAwaitConfirmation,
		Message:   "confirmation required",
		Data:      data,
		Timestamp: time.Now().UTC(),
	})
}

// OTPRequired emits the one-time-password prompt raised by a connector
// during purchase execution.
func (p *Publisher) OTPRequired(sessionID, runID, connectorID, hint string) {
	p.bus.Publish(models.Event{
		Type:      TypeOTPRequired,
		SessionID: sessionID,
		RunID:     runID,
		StageID:   models.StagePurchase,
		Message:   "one-time password required",
		Data: map[string]any{
			"connector_id": connectorID,
			"hint":         hint,
		},
		Timestamp: time.Now().UTC(),
	})
}
