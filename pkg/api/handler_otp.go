package api

import (
	"net/http"

	echo "github.com/labstack/echo/v5"
)

// otpHandler handles POST /api/otp. It relays a one-time password into the
// active run's pending OTP challenge.
func (s *Server) otpHandler(c *echo.Context) error {
	var req OTPRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	if req.SessionID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "session_id is required")
	}
	if req.Code == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "code is required")
	}
	if s.otp == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "otp relay not available")
	}

	runID, ok := s.manager.ActiveRunID(req.SessionID)
	if !ok {
		return echo.NewHTTPError(http.StatusNotFound, "no active run for this session")
	}
	if err := s.otp.Submit(runID, req.Code); err != nil {
		return mapServiceError(err)
	}

	return c.JSON(http.StatusOK, &OTPResponse{
		SessionID: req.SessionID,
		Accepted:  true,
	})
}
