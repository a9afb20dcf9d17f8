package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	echo "github.com/labstack/echo/v5"

	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/models"
)

const (
	defaultHistoryLimit = 50
	maxHistoryLimit     = 500
)

// historyHandler handles GET /api/history?session_id=&limit=. It scans the
// audit log in insertion order and returns terminal purchase outcomes and
// run cancellations, most recent last.
func (s *Server) historyHandler(c *echo.Context) error {
	sessionID := c.QueryParam("session_id")

	limit := defaultHistoryLimit
	if v := c.QueryParam("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "limit must be a positive integer")
		}
		if n > maxHistoryLimit {
			n = maxHistoryLimit
		}
		limit = n
	}

	// One write barrier so the scan observes records from runs that just
	// finished. Fsync is not needed to read our own writes.
	if s.audit != nil {
		flushCtx, cancel := context.WithTimeout(c.Request().Context(), 2*time.Second)
		err := s.audit.Flush(flushCtx, false)
		cancel()
		if err != nil {
			return mapServiceError(err)
		}
	}

	entries := make([]HistoryEntry, 0, limit)
	err := journal.ScanAudit(s.cfg.AuditPath, func(rec models.AuditRecord) bool {
		if rec.Action != models.AuditTerminalResult && rec.Action != models.AuditRunCancelled {
			return true
		}
		if sessionID != "" && rec.SessionID != sessionID {
			return true
		}
		entries = append(entries, historyEntry(rec))
		return true
	})
	if err != nil {
		return mapServiceError(err)
	}

	if len(entries) > limit {
		entries = entries[len(entries)-limit:]
	}
	return c.JSON(http.StatusOK, &HistoryResponse{
		Entries: entries,
		Count:   len(entries),
	})
}

// historyEntry flattens the audit detail fields clients list orders by.
func historyEntry(rec models.AuditRecord) HistoryEntry {
	e := HistoryEntry{
		AuditID:   rec.ID,
		Timestamp: rec.TS.Format(time.RFC3339),
		SessionID: rec.SessionID,
		RunID:     rec.RunID,
		Action:    rec.Action,
	}
	e.Status, _ = rec.Detail["status"].(string)
	e.Platform, _ = rec.Detail["platform"].(string)
	e.OrderID, _ = rec.Detail["order_id"].(string)
	e.DryRun, _ = rec.Detail["dry_run"].(bool)
	return e
}
