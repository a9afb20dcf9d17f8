package e2e

import (
	"context"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
)

// deliveryHeavyConfig weights normal-urgency ranking toward delivery speed,
// so the quickest platform wins the comparison outright.
func deliveryHeavyConfig() *config.Config {
	cfg := defaultTestConfig()
	cfg.Ranking.Weights["normal"] = config.Weights{Delivery: 0.6, Price: 0.2, Reliability: 0.2}
	return cfg
}

// ────────────────────────────────────────────────────────────
// Scenario 1: Happy-path purchase with confirmation
// ────────────────────────────────────────────────────────────

func TestE2E_HappyPathPurchase(t *testing.T) {
	fast := milkShop("quickkart", 60, 15)
	slow := milkShop("bazaarmart", 55, 90)

	app := NewTestApp(t,
		WithConfig(deliveryHeavyConfig()),
		WithConnectors(fast, slow),
	)

	ctx := context.Background()
	sessionID := "sess-happy-path"
	ws, err := WSConnect(ctx, app.WSURL, sessionID)
	require.NoError(t, err)
	defer ws.Close()

	// Turn 1: the run walks to the decision and parks on confirmation.
	resp := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp["awaiting_confirmation"])
	runID := resp["run_id"].(string)

	intent := resp["intent"].(map[string]any)
	assert.Equal(t, "purchase", intent["kind"])
	assert.Equal(t, "milk", intent["item"])

	decision := resp["decision"].(map[string]any)
	require.NotNil(t, decision["selected"])
	selected := decision["selected"].(map[string]any)
	assert.Equal(t, "quickkart", selected["connector_id"])
	assert.Equal(t, true, decision["requires_confirmation"])

	// The confirmation prompt carries the selected offer.
	prompt, err := ws.WaitForEventType("confirmation_required", 5*time.Second)
	require.NoError(t, err)
	promptData := prompt.Parsed["data"].(map[string]any)
	assert.Equal(t, "quickkart", promptData["connector_id"])

	// Turn 2: confirm; the order lands on the fast platform.
	conf := app.Confirm(t, sessionID, true)
	assert.Equal(t, "order_placed", conf["outcome"])
	purchase := conf["purchase"].(map[string]any)
	assert.Equal(t, "success", purchase["status"])
	assert.Equal(t, "quickkart", purchase["platform_used"])
	assert.Equal(t, float64(1), purchase["attempts"])
	assert.NotEmpty(t, purchase["order_id"])
	assert.Equal(t, false, purchase["used_fallback"])

	require.Len(t, fast.Orders(), 1)
	assert.Empty(t, slow.Orders())

	// Every purchase-path stage ran exactly once; the info stage was skipped.
	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run_completed" && e.RunID() == runID
	}, 5*time.Second)
	require.NoError(t, err)

	statuses := stageStatuses(runEvents(ws.Events(), runID))
	purchasePath := []string{
		"intent_extraction", "task_planning", "search", "comparison",
		"decision", "await_confirmation", "purchase", "notification",
	}
	for _, stage := range purchasePath {
		assert.Equal(t, []string{"processing", "complete"}, statuses[stage], "stage %s", stage)
	}
	assert.Equal(t, []string{"skipped"}, statuses["query_info"])

	done := ws.EventsByType("run_completed")
	require.Len(t, done, 1)
	assert.Equal(t, "order_placed", done[0].Parsed["message"])
}

// ────────────────────────────────────────────────────────────
// Scenario 2: Retries exhausted, fallback platform succeeds
// ────────────────────────────────────────────────────────────

func TestE2E_FallbackAfterRetries(t *testing.T) {
	fast := milkShop("quickkart", 60, 15)
	slow := milkShop("bazaarmart", 55, 90)
	fast.ScriptOrderErrors(
		connector.Errorf(connector.FailureTransient, "quickkart", "payment gateway hiccup"),
		connector.Errorf(connector.FailureTransient, "quickkart", "payment gateway hiccup"),
		connector.Errorf(connector.FailureTransient, "quickkart", "payment gateway hiccup"),
	)

	app := NewTestApp(t,
		WithConfig(deliveryHeavyConfig()),
		WithConnectors(fast, slow),
	)

	sessionID := "sess-fallback"
	resp := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp["awaiting_confirmation"])
	runID := resp["run_id"].(string)

	// Confirm blocks through three failing attempts (with backoff) and the
	// fallback order on the slower platform.
	conf := app.Confirm(t, sessionID, true)
	assert.Equal(t, "order_placed", conf["outcome"])
	purchase := conf["purchase"].(map[string]any)
	assert.Equal(t, "success", purchase["status"])
	assert.Equal(t, "bazaarmart", purchase["platform_used"])
	assert.Equal(t, float64(4), purchase["attempts"])
	assert.Equal(t, true, purchase["used_fallback"])

	assert.Equal(t, 3, fast.OrderCalls())
	assert.Empty(t, fast.Orders())
	require.Len(t, slow.Orders(), 1)

	// The audit trail shows three attempts on the primary, the fallback
	// switch, and one attempt on the fallback.
	attempts := app.AuditRecords(t, runID, "attempt_start")
	require.Len(t, attempts, 4)
	for i := 0; i < 3; i++ {
		assert.Equal(t, "quickkart", attempts[i].Detail["connector"])
	}
	assert.Equal(t, "bazaarmart", attempts[3].Detail["connector"])

	fallbacks := app.AuditRecords(t, runID, "fallback_chosen")
	require.Len(t, fallbacks, 1)
	assert.Equal(t, "bazaarmart", fallbacks[0].Detail["connector"])
	assert.Equal(t, float64(1), fallbacks[0].Detail["position"])
}

// ────────────────────────────────────────────────────────────
// Scenario 3: Critical risk blocks the purchase
// ────────────────────────────────────────────────────────────

func TestE2E_RiskBlockedCritical(t *testing.T) {
	shop := gheeShop("gharbazaar", 950)
	app := NewTestApp(t, WithConnectors(shop))

	sessionID := "sess-risk-critical"

	// Run 1: a normal purchase seeds the idempotency index.
	resp1 := app.ProcessChat(t, sessionID, "ghee 1 litre")
	require.Equal(t, true, resp1["awaiting_confirmation"])
	conf1 := app.Confirm(t, sessionID, true)
	require.Equal(t, "order_placed", conf1["outcome"])

	// Run 2: the same request parks on confirmation, then the platform
	// price spikes while the user is deciding.
	resp2 := app.ProcessChat(t, sessionID, "ghee 1 litre")
	require.Equal(t, true, resp2["awaiting_confirmation"])
	runID2 := resp2["run_id"].(string)

	shop.SetPriceMultiplier("gharbazaar-ghee-1l", 2.2)

	// Price spike (+40), total over the large-order bar (+20) and a
	// duplicate inside the window (+30) push the score past critical.
	conf2 := app.Confirm(t, sessionID, true)
	assert.Equal(t, "blocked", conf2["outcome"])
	purchase := conf2["purchase"].(map[string]any)
	assert.Equal(t, "blocked", purchase["status"])
	assert.Equal(t, "critical", purchase["risk_level"])
	assert.Equal(t, float64(90), purchase["risk_score"])
	assert.Equal(t, "risk_blocked", purchase["failure_kind"])
	assert.Contains(t, purchase["message"], "risk critical")

	// No second order call ever reached the platform.
	assert.Equal(t, 1, shop.OrderCalls())
	require.Len(t, shop.Orders(), 1)

	risk := app.AuditRecords(t, runID2, "risk_computed")
	require.Len(t, risk, 1)
	assert.Equal(t, float64(90), risk[0].Detail["score"])
	assert.Equal(t, "critical", risk[0].Detail["level"])
	factors := risk[0].Detail["factors"].([]any)
	assert.Contains(t, factors, "price_spike")
	assert.Contains(t, factors, "large_total")
	assert.Contains(t, factors, "duplicate_request")

	require.Len(t, app.AuditRecords(t, runID2, "risk_blocked"), 1)

	// The block wins over duplicate replay: the gate fired before the
	// idempotency branch.
	assert.Empty(t, app.AuditRecords(t, runID2, "duplicate_suppressed"))
	assert.Empty(t, app.AuditRecords(t, runID2, "attempt_start"))
}

// ────────────────────────────────────────────────────────────
// Scenario 4: Info question takes the knowledge path
// ────────────────────────────────────────────────────────────

func TestE2E_InfoPath(t *testing.T) {
	app := NewTestApp(t)

	ctx := context.Background()
	sessionID := "sess-info"
	ws, err := WSConnect(ctx, app.WSURL, sessionID)
	require.NoError(t, err)
	defer ws.Close()

	resp := app.ProcessChat(t, sessionID, "what is haldi?")
	require.Equal(t, false, resp["awaiting_confirmation"])
	runID := resp["run_id"].(string)
	assert.Equal(t, "info", resp["outcome"])

	intent := resp["intent"].(map[string]any)
	assert.Equal(t, "info", intent["kind"])

	info := resp["info"].(map[string]any)
	assert.NotEmpty(t, info["answer"])
	assert.Equal(t, "builtin_kb", info["source"])
	assert.Nil(t, resp["purchase"])

	_, err = ws.WaitForEvent(func(e WSEvent) bool {
		return e.Type == "run_completed" && e.RunID() == runID
	}, 5*time.Second)
	require.NoError(t, err)

	// The commerce stages never ran; only the knowledge stage did work.
	statuses := stageStatuses(runEvents(ws.Events(), runID))
	for _, stage := range []string{"search", "comparison", "decision", "await_confirmation", "purchase"} {
		assert.Equal(t, []string{"skipped"}, statuses[stage], "stage %s", stage)
	}
	assert.Equal(t, []string{"processing", "complete"}, statuses["query_info"])
	assert.Empty(t, ws.EventsByType("confirmation_required"))
}

// ────────────────────────────────────────────────────────────
// Scenario 5: Cancellation mid-search
// ────────────────────────────────────────────────────────────

func TestE2E_CancellationMidSearch(t *testing.T) {
	shopA := riceShop("quickkart", 320, 25)
	shopB := riceShop("bazaarmart", 300, 120)
	shopA.SetLatency(5 * time.Second)
	shopB.SetLatency(5 * time.Second)

	app := NewTestApp(t, WithConnectors(shopA, shopB))

	ctx := context.Background()
	sessionID := "sess-cancel"
	ws, err := WSConnect(ctx, app.WSURL, sessionID)
	require.NoError(t, err)
	defer ws.Close()

	resCh := app.ProcessChatAsync(sessionID, "rice 5kg")

	// Both connectors are sleeping inside the fan-out now.
	_, err = ws.WaitForStage("search", "processing", 5*time.Second)
	require.NoError(t, err)

	cancelResp := app.Cancel(t, sessionID)
	assert.Equal(t, true, cancelResp["cancelled"])

	// The run unwinds promptly: the in-flight chat call returns well before
	// the scripted connector latency would have elapsed.
	var runID string
	select {
	case res := <-resCh:
		require.NoError(t, res.Err)
		require.Equal(t, http.StatusOK, res.Status)
		assert.Equal(t, "cancelled", res.Body["outcome"])
		assert.Equal(t, false, res.Body["awaiting_confirmation"])
		runID = res.Body["run_id"].(string)
	case <-time.After(2 * time.Second):
		t.Fatal("chat request still blocked 2s after cancellation")
	}

	_, err = ws.WaitForEventType("run_cancelled", 5*time.Second)
	require.NoError(t, err)

	// Search died cancelled; nothing downstream of it ever started.
	statuses := stageStatuses(ws.Events())
	assert.Equal(t, []string{"processing", "error"}, statuses["search"])
	assert.Empty(t, statuses["comparison"])
	assert.Empty(t, statuses["decision"])
	assert.Empty(t, statuses["purchase"])
	assert.Empty(t, ws.EventsByType("run_completed"))

	assert.Equal(t, 0, shopA.OrderCalls())
	assert.Equal(t, 0, shopB.OrderCalls())

	require.Len(t, app.AuditRecords(t, runID, "run_cancelled"), 1)
}

// ────────────────────────────────────────────────────────────
// Scenario 6: Duplicate order replays the prior result
// ────────────────────────────────────────────────────────────

func TestE2E_IdempotentReplay(t *testing.T) {
	shop := milkShop("quickkart", 60, 15)
	app := NewTestApp(t, WithConnectors(shop))

	sessionID := "sess-idem"

	// Run 1: first order goes through.
	resp1 := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp1["awaiting_confirmation"])
	conf1 := app.Confirm(t, sessionID, true)
	require.Equal(t, "order_placed", conf1["outcome"])
	p1 := conf1["purchase"].(map[string]any)
	orderID := p1["order_id"].(string)
	require.NotEmpty(t, orderID)

	// Run 2: the same request inside the suppression window replays the
	// stored result instead of ordering again.
	resp2 := app.ProcessChat(t, sessionID, "milk 1 litre")
	require.Equal(t, true, resp2["awaiting_confirmation"])
	runID2 := resp2["run_id"].(string)
	conf2 := app.Confirm(t, sessionID, true)
	assert.Equal(t, "order_placed", conf2["outcome"])

	p2 := conf2["purchase"].(map[string]any)
	assert.Equal(t, orderID, p2["order_id"])
	assert.Equal(t, p1["attempts"], p2["attempts"])
	assert.Equal(t, p1["audit_ids"], p2["audit_ids"])

	// One real order on the platform, total.
	assert.Equal(t, 1, shop.OrderCalls())
	require.Len(t, shop.Orders(), 1)

	dup := app.AuditRecords(t, runID2, "duplicate_suppressed")
	require.Len(t, dup, 1)
	assert.Equal(t, orderID, dup[0].Detail["order_id"])
	assert.Empty(t, app.AuditRecords(t, runID2, "attempt_start"))

	// The order history still shows a single terminal purchase.
	hist := app.GetHistory(t, "session_id="+sessionID)
	assert.Equal(t, float64(1), hist["count"])
	entries := hist["entries"].([]any)
	require.Len(t, entries, 1)
	entry := entries[0].(map[string]any)
	assert.Equal(t, orderID, entry["order_id"])
}
