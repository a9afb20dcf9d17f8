package api

import (
	"fmt"
	"net/http"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/version"
)

const (
	healthStatusHealthy   = "healthy"
	healthStatusDegraded  = "degraded"
	healthStatusUnhealthy = "unhealthy"
)

// healthHandler handles GET /healthz. A failed checkpoint journal or audit
// log makes the process unhealthy (503): no run can be made durable.
// Unhealthy connectors only degrade — the decision policy routes around
// them, so the orchestrator itself is still serviceable.
func (s *Server) healthHandler(c *echo.Context) error {
	checks := make(map[string]HealthCheck)
	status := healthStatusHealthy

	if s.jnl != nil {
		if s.jnl.Healthy() {
			checks["journal"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusUnhealthy
			checks["journal"] = HealthCheck{Status: healthStatusUnhealthy, Message: "checkpoint journal failed"}
		}
	}
	if s.audit != nil {
		if s.audit.Healthy() {
			checks["audit_log"] = HealthCheck{Status: healthStatusHealthy}
		} else {
			status = healthStatusUnhealthy
			checks["audit_log"] = HealthCheck{Status: healthStatusUnhealthy, Message: "audit log failed"}
		}
	}

	statuses := s.monitor.Statuses()
	unhealthy := 0
	for _, st := range statuses {
		if !st.Healthy {
			unhealthy++
		}
	}
	if unhealthy > 0 {
		if status == healthStatusHealthy {
			status = healthStatusDegraded
		}
		checks["connectors"] = HealthCheck{
			Status:  healthStatusDegraded,
			Message: fmt.Sprintf("%d of %d connectors unhealthy", unhealthy, len(statuses)),
		}
	} else if len(statuses) > 0 {
		checks["connectors"] = HealthCheck{Status: healthStatusHealthy}
	}

	resp := &HealthResponse{
		Status:     status,
		Version:    version.GitCommit,
		Checks:     checks,
		Connectors: statuses,
		ActiveRuns: s.manager.ActiveCount(),
	}
	if s.connManager != nil {
		resp.WSConnections = s.connManager.ActiveConnections()
	}
	if s.warnings != nil {
		for _, w := range s.warnings.Warnings() {
			resp.Warnings = append(resp.Warnings, SystemWarningEntry{
				ID:        w.ID,
				Category:  w.Category,
				Message:   w.Message,
				Details:   w.Details,
				Source:    w.Source,
				CreatedAt: w.CreatedAt.Format(time.RFC3339),
			})
		}
	}

	httpStatus := http.StatusOK
	if status == healthStatusUnhealthy {
		httpStatus = http.StatusServiceUnavailable
	}
	return c.JSON(httpStatus, resp)
}
