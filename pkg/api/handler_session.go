package api

import (
	"encoding/json"
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// getSessionHandler handles GET /api/session/:id. The response is the
// session's snapshot form: accumulated outputs plus terminal stage states
// only, the same view the checkpoint journal persists.
func (s *Server) getSessionHandler(c *echo.Context) error {
	sessionID := c.Param("id")
	if sessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session id is required")
	}

	data, err := s.store.Snapshot(sessionID)
	if err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, json.RawMessage(data))
}
