package e2e

import (
	"encoding/json"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Request validation on the chat endpoint
// ────────────────────────────────────────────────────────────

func TestE2E_ChatValidation(t *testing.T) {
	app := NewTestApp(t)

	body := app.postJSON(t, "/api/chat/process", map[string]any{
		"session_id": "sess-validate",
		"message":    "   ",
	}, http.StatusBadRequest)
	assert.Contains(t, body["message"], "message is required")

	app.postJSON(t, "/api/chat/process", map[string]any{
		"session_id": "sess-validate",
		"message":    strings.Repeat("x", 10001),
	}, http.StatusRequestEntityTooLarge)
}

// ────────────────────────────────────────────────────────────
// Cancel and session lookups without a run
// ────────────────────────────────────────────────────────────

func TestE2E_CancelWithoutActiveRun(t *testing.T) {
	app := NewTestApp(t)

	resp := app.Cancel(t, "sess-nothing-running")
	assert.Equal(t, false, resp["cancelled"])
}

func TestE2E_SessionNotFound(t *testing.T) {
	app := NewTestApp(t)

	body := app.getJSON(t, "/api/session/no-such-session", http.StatusNotFound)
	assert.Contains(t, body["message"], "session not found")
}

func TestE2E_OTPWithoutActiveRun(t *testing.T) {
	app := NewTestApp(t)

	body := app.postJSON(t, "/api/otp", map[string]any{
		"session_id": "sess-no-run",
		"code":       "4242",
	}, http.StatusNotFound)
	assert.Contains(t, body["message"], "no active run")
}

// ────────────────────────────────────────────────────────────
// Health endpoint
// ────────────────────────────────────────────────────────────

func TestE2E_HealthEndpoint(t *testing.T) {
	app := NewTestApp(t)

	// The first probe pass runs on the monitor goroutine; wait for all four
	// built-in platforms to report in.
	require.Eventually(t, func() bool {
		resp, err := http.Get(app.BaseURL + "/healthz")
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		var body map[string]any
		if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
			return false
		}
		conns, _ := body["connectors"].([]any)
		return len(conns) == 4
	}, 5*time.Second, 50*time.Millisecond, "connector probes did not land")

	health := app.GetHealth(t)
	assert.Equal(t, "healthy", health["status"])
	assert.NotEmpty(t, health["version"])
	assert.Equal(t, float64(0), health["active_runs"])

	checks := health["checks"].(map[string]any)
	journalCheck := checks["journal"].(map[string]any)
	assert.Equal(t, "healthy", journalCheck["status"])
	auditCheck := checks["audit_log"].(map[string]any)
	assert.Equal(t, "healthy", auditCheck["status"])

	for _, c := range health["connectors"].([]any) {
		st := c.(map[string]any)
		assert.Equal(t, true, st["healthy"], "connector %v", st["connector_id"])
	}
}

// ────────────────────────────────────────────────────────────
// Empty history
// ────────────────────────────────────────────────────────────

func TestE2E_HistoryEmpty(t *testing.T) {
	app := NewTestApp(t)

	hist := app.GetHistory(t, "")
	assert.Equal(t, float64(0), hist["count"])
}
