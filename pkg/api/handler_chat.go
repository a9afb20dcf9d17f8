package api

import (
	"net/http"
	"strings"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/stages"
)

// maxMessageLength bounds one chat utterance.
const maxMessageLength = 10_000

// processChatHandler handles POST /api/chat/process. It submits the message
// as a pipeline run and blocks until the run finishes or parks on a
// confirmation, then answers with the session's accumulated stage outputs.
// Submitting over an active run supersedes it.
func (s *Server) processChatHandler(c *echo.Context) error {
	var req ChatProcessRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Message) == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "message is required")
	}
	if len(req.Message) > maxMessageLength {
		return echo.NewHTTPError(http.StatusRequestEntityTooLarge,
			"message exceeds maximum length of 10,000 bytes")
	}

	sess := s.store.GetOrCreate(req.SessionID)

	h, err := s.manager.Submit(sess.ID, req.Message)
	if err != nil {
		return mapServiceError(err)
	}

	awaiting := false
	select {
	case <-h.Done:
	case <-h.Parked:
		awaiting = true
	case <-c.Request().Context().Done():
		// Client gone. The run continues on the manager's context; the
		// session endpoint and the event stream still carry its outcome.
		return c.Request().Context().Err()
	}

	return c.JSON(http.StatusOK, s.chatResponse(sess.ID, h.RunID, awaiting))
}

// chatResponse assembles the turn's response from the session store.
func (s *Server) chatResponse(sessionID, runID string, awaiting bool) *ChatProcessResponse {
	resp := &ChatProcessResponse{
		Success:              true,
		SessionID:            sessionID,
		RunID:                runID,
		AwaitingConfirmation: awaiting,
	}

	sess, ok := s.store.Get(sessionID)
	if !ok {
		return resp
	}

	out := sess.Outputs
	resp.Intent = out.Intent
	if out.Plan != nil {
		resp.PlanSummary = out.Plan.Summary
	}
	if out.Ranking != nil {
		resp.RankedProducts = out.Ranking.Products
	}
	resp.Decision = out.Decision
	resp.Purchase = out.Purchase
	resp.Info = out.Info

	run := activeOrLastRun(sess)
	if !awaiting {
		resp.Outcome, resp.Message, resp.Success = runSummary(run, out)
	}
	resp.TerminalStageEvents = terminalStageEvents(run)
	return resp
}

// activeOrLastRun prefers the in-flight run; a finished run is archived.
func activeOrLastRun(sess *models.Session) *models.Run {
	if sess.ActiveRun != nil {
		return sess.ActiveRun
	}
	return sess.LastRun
}

// runSummary derives the turn's outcome from the notification output. Runs
// that never reached notification were cancelled or lost the journal.
func runSummary(run *models.Run, out models.StageOutputs) (outcome, message string, success bool) {
	if out.Notice != nil {
		return out.Notice.Outcome, out.Notice.Message, out.Notice.Outcome != stages.OutcomeError
	}
	if run != nil {
		if run.CancelRequested {
			return "cancelled", "", true
		}
		for _, st := range run.StageStates {
			if st != nil && st.Status == models.StageStatusError &&
				st.Message == string(models.ErrKindUserCancelled) {
				return "cancelled", "", true
			}
		}
	}
	return stages.OutcomeError, "", false
}

// terminalStageEvents lists the run's terminal stage outcomes in pipeline
// order. Stages still idle or processing are omitted.
func terminalStageEvents(run *models.Run) []StageEvent {
	if run == nil {
		return []StageEvent{}
	}
	out := make([]StageEvent, 0, len(run.StageStates))
	for _, id := range models.PipelineStages {
		st, ok := run.StageStates[id]
		if !ok || st == nil || !st.Status.Terminal() {
			continue
		}
		out = append(out, StageEvent{Stage: id, Status: st.Status, Message: st.Message})
	}
	return out
}
