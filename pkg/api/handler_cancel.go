package api

import (
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"
)

// cancelUnwindGrace bounds how long the cancel endpoint waits for the run to
// reach its terminal event before answering.
const cancelUnwindGrace = 2 * time.Second

// cancelHandler handles POST /api/cancel. Cancellation is cooperative: the
// run's context is cancelled and the response waits briefly for the unwind,
// so a subsequent session read observes the cancelled state.
func (s *Server) cancelHandler(c *echo.Context) error {
	var req CancelRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}

	h, _ := s.manager.Handle(req.SessionID)
	cancelled := s.manager.Cancel(req.SessionID)

	if cancelled && h != nil {
		select {
		case <-h.Done:
		case <-time.After(cancelUnwindGrace):
			s.logger.Warn("Cancelled run did not unwind before response",
				"session_id", req.SessionID, "run_id", h.RunID)
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	return c.JSON(http.StatusOK, &CancelResponse{
		SessionID: req.SessionID,
		Cancelled: cancelled,
	})
}
