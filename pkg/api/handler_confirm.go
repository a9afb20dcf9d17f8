package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/models"
)

// confirmOrderHandler handles POST /api/order/confirm. It resolves the
// session's pending confirmation and blocks until the run finishes or parks
// again (a purchase-phase high-risk re-confirmation).
func (s *Server) confirmOrderHandler(c *echo.Context) error {
	var req ConfirmOrderRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.SelectedProductIndex < 0 {
		return echo.NewHTTPError(http.StatusBadRequest, "selected_product_index must be positive")
	}

	runID, ok := s.manager.ActiveRunID(req.SessionID)
	if !ok {
		return echo.NewHTTPError(http.StatusConflict, "no run awaiting confirmation for this session")
	}
	h, _ := s.manager.Handle(req.SessionID)

	accepted := true
	if req.Accepted != nil {
		accepted = *req.Accepted
	}
	if err := s.hub.Resolve(runID, models.Confirmation{
		Accepted:      accepted,
		SelectedIndex: req.SelectedProductIndex,
	}); err != nil {
		return mapServiceError(err)
	}

	awaiting := false
	if h != nil {
		select {
		case <-h.Done:
		case <-h.Parked:
			awaiting = true
		case <-c.Request().Context().Done():
			return c.Request().Context().Err()
		}
	}

	resp := &ConfirmOrderResponse{
		SessionID:            req.SessionID,
		RunID:                runID,
		AwaitingConfirmation: awaiting,
	}
	sess, ok := s.store.Get(req.SessionID)
	if !ok {
		return c.JSON(http.StatusOK, resp)
	}
	resp.Purchase = sess.Outputs.Purchase
	if !awaiting {
		resp.Outcome, resp.Message, _ = runSummary(activeOrLastRun(sess), sess.Outputs)
	}
	return c.JSON(http.StatusOK, resp)
}
