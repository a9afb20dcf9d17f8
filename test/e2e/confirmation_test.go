package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────
// Auto-buy: urgent, high-confidence intents skip confirmation
// ────────────────────────────────────────────────────────────

func TestE2E_AutoBuyUrgent(t *testing.T) {
	fast := milkShop("quickkart", 60, 15)
	slow := milkShop("bazaarmart", 55, 90)
	app := NewTestApp(t, WithConnectors(fast, slow))

	ctx := context.Background()
	sessionID := "sess-auto-buy"
	ws, err := WSConnect(ctx, app.WSURL, sessionID)
	require.NoError(t, err)
	defer ws.Close()

	// Urgent, unambiguous, and deliverable within the urgency window: the
	// run buys in one turn without parking.
	resp := app.ProcessChat(t, sessionID, "doodh khatam ho gaya, abhi chahiye")
	require.Equal(t, false, resp["awaiting_confirmation"])
	runID := resp["run_id"].(string)
	assert.Equal(t, "order_placed", resp["outcome"])

	intent := resp["intent"].(map[string]any)
	assert.Equal(t, "purchase", intent["kind"])
	assert.Equal(t, "milk", intent["item"])
	assert.Equal(t, "high", intent["urgency"])

	decision := resp["decision"].(map[string]any)
	assert.Equal(t, false, decision["requires_confirmation"])
	assert.Contains(t, decision["policy_flags"], "auto_buy")

	purchase := resp["purchase"].(map[string]any)
	assert.Equal(t, "success", purchase["status"])
	assert.Equal(t, "quickkart", purchase["platform_used"])
	require.Len(t, fast.Orders(), 1)
	assert.Empty(t, slow.Orders())

	// No confirmation prompt ever went out; the stage shows as skipped.
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run_completed" && e.RunID() == runID
	}, 5*time.Second)
	require.NoError(t, err)

	assert.Empty(t, ws.EventsByType("confirmation_required"))
	statuses := stageStatuses(runEvents(ws.Events(), runID))
	assert.Equal(t, []string{"skipped"}, statuses["await_confirmation"])
	assert.Equal(t, []string{"processing", "complete"}, statuses["purchase"])
}

// ────────────────────────────────────────────────────────────
// Declined confirmation ends the run without a purchase
// ────────────────────────────────────────────────────────────

func TestE2E_DeclinedConfirmation(t *testing.T) {
	fast := milkShop("quickkart", 60, 15)
	slow := milkShop("bazaarmart", 55, 90)
	app := NewTestApp(t, WithConnectors(fast, slow))

	ctx := context.Background()
	sessionID := "sess-declined"
	ws, err := WSConnect(ctx, app.WSURL, sessionID)
	require.NoError(t, err)
	defer ws.Close()

	resp := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp["awaiting_confirmation"])
	runID := resp["run_id"].(string)

	conf := app.Confirm(t, sessionID, false)
	assert.Equal(t, "declined", conf["outcome"])
	assert.Nil(t, conf["purchase"])

	assert.Empty(t, fast.Orders())
	assert.Empty(t, slow.Orders())
	assert.Equal(t, 0, fast.OrderCalls())
	assert.Equal(t, 0, slow.OrderCalls())

	// The run still finished cleanly: confirmation completed, purchase was
	// skipped, and the user got a notification.
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run_completed" && e.RunID() == runID
	}, 5*time.Second)
	require.NoError(t, err)

	statuses := stageStatuses(runEvents(ws.Events(), runID))
	assert.Equal(t, []string{"processing", "complete"}, statuses["await_confirmation"])
	assert.Equal(t, []string{"skipped"}, statuses["purchase"])
	assert.Equal(t, []string{"processing", "complete"}, statuses["notification"])

	done := ws.EventsByType("run_completed")
	require.Len(t, done, 1)
	assert.Equal(t, "declined", done[0].Parsed["message"])
}

// ────────────────────────────────────────────────────────────
// Confirmation can pick a fallback offer by index
// ────────────────────────────────────────────────────────────

func TestE2E_FallbackPickByIndex(t *testing.T) {
	fast := milkShop("quickkart", 60, 15)
	slow := milkShop("bazaarmart", 55, 90)
	app := NewTestApp(t,
		WithConfig(deliveryHeavyConfig()),
		WithConnectors(fast, slow),
	)

	sessionID := "sess-pick-fallback"
	resp := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp["awaiting_confirmation"])

	// The suggestion is the fast platform; the user picks fallback #1, the
	// cheaper slow one.
	decision := resp["decision"].(map[string]any)
	selected := decision["selected"].(map[string]any)
	require.Equal(t, "quickkart", selected["connector_id"])
	fallbacks := decision["fallbacks"].([]any)
	require.NotEmpty(t, fallbacks)
	require.Equal(t, "bazaarmart", fallbacks[0].(map[string]any)["connector_id"])

	conf := app.postJSON(t, "/api/order/confirm", map[string]any{
		"session_id":             sessionID,
		"accepted":               true,
		"selected_product_index": 1,
	}, http.StatusOK)

	assert.Equal(t, "order_placed", conf["outcome"])
	purchase := conf["purchase"].(map[string]any)
	assert.Equal(t, "success", purchase["status"])
	assert.Equal(t, "bazaarmart", purchase["platform_used"])
	assert.Equal(t, false, purchase["used_fallback"])

	require.Len(t, slow.Orders(), 1)
	assert.Empty(t, fast.Orders())
}
