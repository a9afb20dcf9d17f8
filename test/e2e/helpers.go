package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/connector/catalog"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/models"
)

// ────────────────────────────────────────────────────────────
// HTTP client helpers
// ────────────────────────────────────────────────────────────

// ProcessChat submits one utterance and blocks until the run finishes or
// parks on a confirmation.
func (app *TestApp) ProcessChat(t *testing.T, sessionID, message string) map[string]any {
	t.Helper()
	body := map[string]any{
		"session_id": sessionID,
		"message":    message,
	}
	return app.postJSON(t, "/api/chat/process", body, http.StatusOK)
}

// Confirm resolves the session's pending confirmation and blocks until the
// run finishes or parks again.
func (app *TestApp) Confirm(t *testing.T, sessionID string, accepted bool) map[string]any {
	t.Helper()
	body := map[string]any{
		"session_id": sessionID,
		"accepted":   accepted,
	}
	return app.postJSON(t, "/api/order/confirm", body, http.StatusOK)
}

// Cancel requests cancellation of the session's active run.
func (app *TestApp) Cancel(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	body := map[string]any{"session_id": sessionID}
	return app.postJSON(t, "/api/cancel", body, http.StatusOK)
}

// SubmitOTP relays a one-time password into the active run.
func (app *TestApp) SubmitOTP(t *testing.T, sessionID, code string) map[string]any {
	t.Helper()
	body := map[string]any{
		"session_id": sessionID,
		"code":       code,
	}
	return app.postJSON(t, "/api/otp", body, http.StatusOK)
}

// GetSession retrieves a session snapshot by id.
func (app *TestApp) GetSession(t *testing.T, sessionID string) map[string]any {
	t.Helper()
	return app.getJSON(t, fmt.Sprintf("/api/session/%s", sessionID), http.StatusOK)
}

// GetHistory calls GET /api/history with optional query params.
func (app *TestApp) GetHistory(t *testing.T, queryParams string) map[string]any {
	t.Helper()
	path := "/api/history"
	if queryParams != "" {
		path += "?" + queryParams
	}
	return app.getJSON(t, path, http.StatusOK)
}

// GetHealth calls GET /healthz.
func (app *TestApp) GetHealth(t *testing.T) map[string]any {
	t.Helper()
	return app.getJSON(t, "/healthz", http.StatusOK)
}

func (app *TestApp) postJSON(t *testing.T, path string, body any, expectedStatus int) map[string]any {
	t.Helper()
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(context.Background(), http.MethodPost, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "POST %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

func (app *TestApp) getJSON(t *testing.T, path string, expectedStatus int) map[string]any {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), http.MethodGet, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "GET %s: unexpected status", path)
	var result map[string]any
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&result))
	return result
}

// ────────────────────────────────────────────────────────────
// Async variants
// ────────────────────────────────────────────────────────────

// HTTPResult carries a response from a background request back to the test
// goroutine. No testing.T calls happen off the test goroutine.
type HTTPResult struct {
	Status int
	Body   map[string]any
	Err    error
}

// ProcessChatAsync submits the utterance from a goroutine. Cancellation tests
// use it to keep the chat call in flight while they hit /api/cancel.
func (app *TestApp) ProcessChatAsync(sessionID, message string) <-chan HTTPResult {
	body := map[string]any{
		"session_id": sessionID,
		"message":    message,
	}
	return app.postJSONAsync("/api/chat/process", body)
}

// ConfirmAsync resolves the confirmation from a goroutine. OTP tests use it
// because the confirm call blocks while the purchase waits for the code.
func (app *TestApp) ConfirmAsync(sessionID string, accepted bool) <-chan HTTPResult {
	body := map[string]any{
		"session_id": sessionID,
		"accepted":   accepted,
	}
	return app.postJSONAsync("/api/order/confirm", body)
}

func (app *TestApp) postJSONAsync(path string, body any) <-chan HTTPResult {
	ch := make(chan HTTPResult, 1)
	go func() {
		data, err := json.Marshal(body)
		if err != nil {
			ch <- HTTPResult{Err: err}
			return
		}
		resp, err := http.Post(app.BaseURL+path, "application/json", bytes.NewReader(data))
		if err != nil {
			ch <- HTTPResult{Err: err}
			return
		}
		defer func() { _ = resp.Body.Close() }()
		var parsed map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
			ch <- HTTPResult{Status: resp.StatusCode, Err: err}
			return
		}
		ch <- HTTPResult{Status: resp.StatusCode, Body: parsed}
	}()
	return ch
}

// ────────────────────────────────────────────────────────────
// Audit log helpers
// ────────────────────────────────────────────────────────────

// AuditRecords scans the audit journal for one run's records, optionally
// filtered by action. A write barrier first, so records from a run that just
// finished are visible.
func (app *TestApp) AuditRecords(t *testing.T, runID, action string) []models.AuditRecord {
	t.Helper()

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	require.NoError(t, app.Audit.Flush(flushCtx, false))
	cancel()

	var out []models.AuditRecord
	err := journal.ScanAudit(app.Config.AuditPath, func(rec models.AuditRecord) bool {
		if rec.RunID != runID {
			return true
		}
		if action != "" && rec.Action != action {
			return true
		}
		out = append(out, rec)
		return true
	})
	require.NoError(t, err)
	return out
}

// ────────────────────────────────────────────────────────────
// Event log helpers
// ────────────────────────────────────────────────────────────

// runEvents filters a WS event log down to one run.
func runEvents(events []WSEvent, runID string) []WSEvent {
	var out []WSEvent
	for _, e := range events {
		if e.RunID() == runID {
			out = append(out, e)
		}
	}
	return out
}

// stageStatuses maps stage id to the ordered statuses seen in stage_update
// events, e.g. search → [processing complete].
func stageStatuses(events []WSEvent) map[string][]string {
	out := make(map[string][]string)
	for _, e := range events {
		if e.Type != "stage_update" {
			continue
		}
		out[e.Stage()] = append(out[e.Stage()], e.Status())
	}
	return out
}

// ────────────────────────────────────────────────────────────
// Catalog fixtures
// ────────────────────────────────────────────────────────────

// milkShop builds a one-item catalog connector selling 1L milk.
func milkShop(id string, price float64, etaMinutes int) *catalog.Connector {
	return catalog.New(id, []catalog.Item{{
		ExternalID:  id + "-milk-1l",
		Title:       "Toned Milk 1L",
		Aliases:     []string{"milk", "doodh"},
		UnitPrice:   price,
		DeliveryETA: etaMinutes,
		Rating:      4.4,
		Stock:       20,
	}})
}

// riceShop builds a one-item catalog connector selling a 5kg rice pack.
func riceShop(id string, price float64, etaMinutes int) *catalog.Connector {
	return catalog.New(id, []catalog.Item{{
		ExternalID:  id + "-rice-5kg",
		Title:       "Basmati Rice 5kg",
		Aliases:     []string{"rice", "chawal"},
		UnitPrice:   price,
		DeliveryETA: etaMinutes,
		Rating:      4.2,
		Stock:       10,
	}})
}

// gheeShop builds a one-item catalog connector selling a premium ghee jar,
// priced so a moderate spike crosses the large-order threshold.
func gheeShop(id string, price float64) *catalog.Connector {
	return catalog.New(id, []catalog.Item{{
		ExternalID:  id + "-ghee-1l",
		Title:       "Pure Desi Ghee 1L",
		Aliases:     []string{"ghee"},
		UnitPrice:   price,
		DeliveryETA: 30,
		Rating:      4.6,
		Stock:       8,
	}})
}
