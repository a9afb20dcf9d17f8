package api

import (
	"errors"
	"log/slog"
	"net/http"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/pipeline"
	"github.com/kiranamart/mandi/pkg/session"
)

// mapServiceError maps core errors to HTTP error responses. The error kind
// stays in the body so clients can branch without parsing prose.
func mapServiceError(err error) *echo.HTTPError {
	if errors.Is(err, session.ErrNotFound) {
		return echo.NewHTTPError(http.StatusNotFound, "session not found")
	}
	if errors.Is(err, pipeline.ErrNoPendingConfirmation) {
		return echo.NewHTTPError(http.StatusConflict, "no confirmation pending for this session")
	}
	if errors.Is(err, connector.ErrNoPendingOTP) {
		return echo.NewHTTPError(http.StatusNotFound, "no otp challenge pending for this session")
	}

	var ke *models.KindError
	if errors.As(err, &ke) {
		switch ke.Kind {
		case models.ErrKindBadRequest:
			return echo.NewHTTPError(http.StatusBadRequest, ke.Error())
		case models.ErrKindUnauthorized:
			return echo.NewHTTPError(http.StatusUnauthorized, ke.Error())
		case models.ErrKindOverloaded:
			return echo.NewHTTPError(http.StatusTooManyRequests, ke.Error())
		case models.ErrKindDuplicateSuppressed:
			return echo.NewHTTPError(http.StatusConflict, ke.Error())
		case models.ErrKindJournalFailure:
			return echo.NewHTTPError(http.StatusServiceUnavailable, ke.Error())
		}
	}

	// Unexpected error
	slog.Error("Unexpected service error", "error", err)
	return echo.NewHTTPError(http.StatusInternalServerError, "internal server error")
}
