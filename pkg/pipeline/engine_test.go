package pipeline

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/purchase"
	"github.com/kiranamart/mandi/pkg/session"
	"github.com/kiranamart/mandi/pkg/stages"
)

// scriptPurchaser stands in for the purchase executor: it records the
// request and returns a canned (or scripted) result.
type scriptPurchaser struct {
	mu   sync.Mutex
	reqs []*purchase.Request
	fn   func(ctx context.Context, req *purchase.Request) *models.PurchaseResult
}

func (p *scriptPurchaser) Execute(ctx context.Context, req *purchase.Request) *models.PurchaseResult {
	p.mu.Lock()
	p.reqs = append(p.reqs, req)
	p.mu.Unlock()

	if p.fn != nil {
		return p.fn(ctx, req)
	}
	return &models.PurchaseResult{
		Status:       models.PurchaseSuccess,
		PlatformUsed: req.Selected.ConnectorID,
		OrderID:      "ord-123",
		RiskLevel:    models.RiskLow,
		Attempts:     1,
	}
}

func (p *scriptPurchaser) requests() []*purchase.Request {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*purchase.Request(nil), p.reqs...)
}

type engineFixture struct {
	cfg         *config.Config
	store       *session.Store
	journalPath string
	auditPath   string
	jnl         *journal.Journal
	audit       *journal.AuditLog
	bus         *events.Bus
	hub         *ConfirmationHub
	registry    *connector.Registry
	purchaser   *scriptPurchaser
	engine      *Engine
}

func newEngineFixture(t *testing.T) *engineFixture {
	t.Helper()

	cfg := config.DefaultConfig()
	cfg.ConfirmationTimeoutSec = 1

	dir := t.TempDir()
	journalPath := filepath.Join(dir, "journal.ndjson")
	auditPath := filepath.Join(dir, "audit.ndjson")

	jnl, err := journal.Open(journalPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = jnl.Close() })

	audit, err := journal.OpenAudit(auditPath, "test")
	require.NoError(t, err)
	t.Cleanup(func() { _ = audit.Close() })

	bus := events.NewBus(events.DefaultBufferSize)
	t.Cleanup(bus.Close)

	registry := connector.NewRegistry()
	store := session.NewStore()
	hub := NewConfirmationHub()
	purchaser := &scriptPurchaser{}

	f := &engineFixture{
		cfg:         cfg,
		store:       store,
		journalPath: journalPath,
		auditPath:   auditPath,
		jnl:         jnl,
		audit:       audit,
		bus:         bus,
		hub:         hub,
		registry:    registry,
		purchaser:   purchaser,
	}
	f.engine = NewEngine(cfg, store, jnl, audit,
		events.NewPublisher(bus),
		NewSearcher(cfg, registry, nil, NewGate(4, 8)),
		hub, nil, purchaser)
	return f
}

func (f *engineFixture) addConnector(t *testing.T, c connector.Connector) {
	t.Helper()
	require.NoError(t, f.registry.Add(c))
}

// beginRun seeds the session the way the run manager does and returns a
// subscription opened before the run so no event is missed.
func (f *engineFixture) beginRun(t *testing.T, request string) (sessionID, runID string, sub *events.Subscription) {
	t.Helper()
	sess := f.store.GetOrCreate("")
	runID = "run-1"
	require.NoError(t, f.store.BeginRun(sess.ID, runID, request))
	sub = f.bus.Subscribe(sess.ID)
	t.Cleanup(func() { f.bus.Unsubscribe(sub) })
	return sess.ID, runID, sub
}

// drainRun collects events until the run's terminal event arrives.
func drainRun(t *testing.T, sub *events.Subscription) []models.Event {
	t.Helper()
	var out []models.Event
	deadline := time.After(5 * time.Second)
	for {
		select {
		case ev, ok := <-sub.Events():
			if !ok {
				t.Fatal("event channel closed before the terminal event")
			}
			out = append(out, ev)
			if ev.Type == events.TypeRunCompleted || ev.Type == events.TypeRunCancelled {
				return out
			}
		case <-deadline:
			t.Fatalf("no terminal event; got %d events so far", len(out))
		}
	}
}

// stageEvents filters the stage_update events for one stage.
func stageEvents(evs []models.Event, stage models.StageID) []models.Event {
	var out []models.Event
	for _, ev := range evs {
		if ev.Type == events.TypeStageUpdate && ev.StageID == stage {
			out = append(out, ev)
		}
	}
	return out
}

func terminalStatus(t *testing.T, evs []models.Event, stage models.StageID) models.StageStatus {
	t.Helper()
	ses := stageEvents(evs, stage)
	require.NotEmpty(t, ses, "no events for stage %s", stage)
	return ses[len(ses)-1].Status
}

func TestEngineRunsFullPurchaseWalk(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})
	f.addConnector(t, &fanConnector{id: "blinkit", products: []models.Product{milkOffer("blinkit", "b1", 55)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")

	parked := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.Execute(context.Background(), sessionID, runID, func() {
			select {
			case parked <- struct{}{}:
			default:
			}
		})
	}()

	select {
	case <-parked:
	case <-time.After(5 * time.Second):
		t.Fatal("run never parked for confirmation")
	}

	mid, ok := f.store.Get(sessionID)
	require.True(t, ok)
	assert.True(t, mid.ActiveRun.AwaitingConfirmation)

	require.NoError(t, f.hub.Resolve(runID, models.Confirmation{Accepted: true}))
	<-done

	evs := drainRun(t, sub)

	assert.Equal(t, events.TypeRunStarted, evs[0].Type)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCompleted, last.Type)
	assert.Equal(t, stages.OutcomeOrderPlaced, last.Message)

	for _, stage := range []models.StageID{
		models.StageIntentExtraction, models.StageTaskPlanning, models.StageSearch,
		models.StageComparison, models.StageDecision, models.StageAwaitConfirmation,
		models.StagePurchase, models.StageNotification,
	} {
		assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, stage), "stage %s", stage)
	}
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StageQueryInfo))

	// Stage events appear in canonical order; the confirmation prompt sits
	// between the await stage's processing and complete marks.
	var order []models.StageID
	sawPrompt := false
	for _, ev := range evs {
		if ev.Type == events.TypeConfirmationRequired {
			sawPrompt = true
		}
		if ev.Type == events.TypeStageUpdate && ev.Status.Terminal() {
			order = append(order, ev.StageID)
		}
	}
	assert.True(t, sawPrompt)
	assert.Equal(t, models.PipelineStages, order)

	// The purchase request carries the decided selection.
	reqs := f.purchaser.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, 1, reqs[0].Quantity)
	assert.False(t, reqs[0].AutoBuy)
	assert.NotNil(t, reqs[0].Intent)

	// Terminal session state: run archived, outputs retained.
	got, ok := f.store.Get(sessionID)
	require.True(t, ok)
	assert.Nil(t, got.ActiveRun)
	require.NotNil(t, got.LastRun)
	assert.Equal(t, models.PathPurchase, got.Path)
	require.NotNil(t, got.Outputs.Purchase)
	assert.Equal(t, models.PurchaseSuccess, got.Outputs.Purchase.Status)
	require.NotNil(t, got.Outputs.Notice)
	assert.Equal(t, stages.OutcomeOrderPlaced, got.Outputs.Notice.Outcome)

	// One checkpoint per stage, each carrying a snapshot.
	var records []*journal.CheckpointRecord
	require.NoError(t, journal.Scan(f.journalPath, func(rec *journal.CheckpointRecord) bool {
		records = append(records, rec)
		return true
	}))
	require.Len(t, records, len(models.PipelineStages))
	for i, rec := range records {
		assert.Equal(t, models.PipelineStages[i], rec.StageID)
		assert.Equal(t, runID, rec.RunID)
		assert.NotEmpty(t, rec.Snapshot)
	}
}

func TestEngineInfoWalkSkipsCommerceStages(t *testing.T) {
	f := newEngineFixture(t)

	sessionID, runID, sub := f.beginRun(t, "doodh ka price kya hai?")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCompleted, last.Type)
	assert.Equal(t, stages.OutcomeInfo, last.Message)

	for _, stage := range []models.StageID{
		models.StageSearch, models.StageComparison, models.StageDecision,
		models.StageAwaitConfirmation, models.StagePurchase,
	} {
		ses := stageEvents(evs, stage)
		require.Len(t, ses, 1, "skipped stage %s emits exactly one event", stage)
		assert.Equal(t, models.StageStatusSkipped, ses[0].Status)
	}
	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StageQueryInfo))

	got, _ := f.store.Get(sessionID)
	assert.Equal(t, models.PathInfo, got.Path)
	require.NotNil(t, got.Outputs.Info)
	assert.NotEmpty(t, got.Outputs.Info.Answer)
	assert.Nil(t, got.Outputs.Purchase)
}

func TestEngineClarifyWalk(t *testing.T) {
	f := newEngineFixture(t)

	sessionID, runID, sub := f.beginRun(t, "woh wala le ana")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	assert.Equal(t, stages.OutcomeClarify, evs[len(evs)-1].Message)

	got, _ := f.store.Get(sessionID)
	require.NotNil(t, got.Outputs.Notice)
	assert.Equal(t, stages.OutcomeClarify, got.Outputs.Notice.Outcome)
	assert.Empty(t, f.purchaser.requests())
}

func TestEngineStageErrorSkipsDownstreamExceptNotification(t *testing.T) {
	f := newEngineFixture(t)
	// No connectors registered: the search stage fails.

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCompleted, last.Type)
	assert.Equal(t, string(models.ErrKindNoConnectorsAvailable), last.Message)

	assert.Equal(t, models.StageStatusError, terminalStatus(t, evs, models.StageSearch))
	for _, stage := range []models.StageID{
		models.StageComparison, models.StageDecision,
		models.StageAwaitConfirmation, models.StagePurchase, models.StageQueryInfo,
	} {
		assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, stage), "stage %s", stage)
	}
	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StageNotification),
		"notification still runs after a stage error")

	got, _ := f.store.Get(sessionID)
	require.NotNil(t, got.Outputs.Notice)
	assert.Equal(t, stages.OutcomeError, got.Outputs.Notice.Outcome)
	assert.Empty(t, f.purchaser.requests())
}

func TestEngineNoSuitableOptionEndsCleanly(t *testing.T) {
	f := newEngineFixture(t)
	none := 0
	out := milkOffer("zepto", "z1", 60)
	out.Stock = &none
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{out}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	assert.Equal(t, stages.OutcomeNoSuitableOption, evs[len(evs)-1].Message)

	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StageDecision))
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StageAwaitConfirmation))
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StagePurchase))

	got, _ := f.store.Get(sessionID)
	require.NotNil(t, got.Outputs.Decision)
	assert.Nil(t, got.Outputs.Decision.Selected)
	assert.Empty(t, f.purchaser.requests())
}

func TestEngineDeclinedConfirmationSkipsPurchase(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")

	parked := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.Execute(context.Background(), sessionID, runID, func() {
			select {
			case parked <- struct{}{}:
			default:
			}
		})
	}()
	<-parked
	require.NoError(t, f.hub.Resolve(runID, models.Confirmation{Accepted: false}))
	<-done

	evs := drainRun(t, sub)
	assert.Equal(t, stages.OutcomeDeclined, evs[len(evs)-1].Message)
	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StageAwaitConfirmation))
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StagePurchase))
	assert.Empty(t, f.purchaser.requests())
}

func TestEngineConfirmationPicksFallback(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 58)}})
	f.addConnector(t, &fanConnector{id: "blinkit", products: []models.Product{milkOffer("blinkit", "b1", 56)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")

	parked := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.Execute(context.Background(), sessionID, runID, func() {
			select {
			case parked <- struct{}{}:
			default:
			}
		})
	}()
	<-parked

	before, _ := f.store.Get(sessionID)
	suggested := before.Outputs.Decision.Selected.ConnectorID
	fallback := before.Outputs.Decision.Fallbacks[0].ConnectorID
	require.NotEqual(t, suggested, fallback)

	require.NoError(t, f.hub.Resolve(runID, models.Confirmation{Accepted: true, SelectedIndex: 1}))
	<-done
	drainRun(t, sub)

	reqs := f.purchaser.requests()
	require.Len(t, reqs, 1)
	assert.Equal(t, fallback, reqs[0].Selected.ConnectorID, "user's pick becomes the selection")
	require.Len(t, reqs[0].Fallbacks, 1)
	assert.Equal(t, suggested, reqs[0].Fallbacks[0].ConnectorID, "former suggestion demoted to fallback")

	got, _ := f.store.Get(sessionID)
	assert.Equal(t, fallback, got.Outputs.Decision.Selected.ConnectorID)
}

func TestEngineAutoBuySkipsConfirmation(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya, abhi chahiye")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	assert.Equal(t, stages.OutcomeOrderPlaced, evs[len(evs)-1].Message)
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StageAwaitConfirmation))
	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StagePurchase))

	for _, ev := range evs {
		assert.NotEqual(t, events.TypeConfirmationRequired, ev.Type)
	}

	reqs := f.purchaser.requests()
	require.Len(t, reqs, 1)
	assert.True(t, reqs[0].AutoBuy)
}

func TestEngineConfirmationTimeoutFailsTheRun(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")
	f.engine.Execute(context.Background(), sessionID, runID, nil) // nobody answers

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCompleted, last.Type)
	assert.Equal(t, string(models.ErrKindConfirmationTimeout), last.Message)

	assert.Equal(t, models.StageStatusError, terminalStatus(t, evs, models.StageAwaitConfirmation))
	assert.Equal(t, models.StageStatusSkipped, terminalStatus(t, evs, models.StagePurchase))
	assert.Equal(t, models.StageStatusComplete, terminalStatus(t, evs, models.StageNotification))
	assert.Empty(t, f.purchaser.requests())
}

func TestEngineCancellationEndsRunWithoutFurtherStages(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")

	ctx, cancel := context.WithCancel(context.Background())
	parked := make(chan struct{}, 1)
	done := make(chan struct{})
	go func() {
		defer close(done)
		f.engine.Execute(ctx, sessionID, runID, func() {
			select {
			case parked <- struct{}{}:
			default:
			}
		})
	}()
	<-parked
	cancel()
	<-done

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCancelled, last.Type)

	// The cancelled stage may record an error; nothing completes after it.
	assert.Equal(t, models.StageStatusError, terminalStatus(t, evs, models.StageAwaitConfirmation))
	assert.Empty(t, stageEvents(evs, models.StagePurchase))
	assert.Empty(t, stageEvents(evs, models.StageNotification))

	require.NoError(t, f.audit.Flush(context.Background(), true))
	cancelled := 0
	require.NoError(t, journal.ScanAudit(f.auditPath, func(rec models.AuditRecord) bool {
		if rec.Action == models.AuditRunCancelled && rec.RunID == runID {
			cancelled++
		}
		return true
	}))
	assert.Equal(t, 1, cancelled)

	got, _ := f.store.Get(sessionID)
	assert.Nil(t, got.ActiveRun)
}

func TestEngineJournalFailureAbortsTheRun(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	// Closing the journal makes the first checkpoint append fail.
	require.NoError(t, f.jnl.Close())

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya")
	f.engine.Execute(context.Background(), sessionID, runID, nil)

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCompleted, last.Type)
	assert.Equal(t, string(models.ErrKindJournalFailure), last.Message)

	// The run stopped at the first checkpoint: no stage after intent
	// extraction ran, not even notification.
	assert.Empty(t, stageEvents(evs, models.StageTaskPlanning))
	assert.Empty(t, stageEvents(evs, models.StageNotification))
	assert.False(t, f.jnl.Healthy())

	got, _ := f.store.Get(sessionID)
	assert.Nil(t, got.ActiveRun)
}

func TestEnginePurchaseCancellationEndsRunCancelled(t *testing.T) {
	f := newEngineFixture(t)
	f.addConnector(t, &fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}})

	ctx, cancel := context.WithCancel(context.Background())
	f.purchaser.fn = func(_ context.Context, _ *purchase.Request) *models.PurchaseResult {
		// The user cancels while the executor is mid-order.
		cancel()
		return &models.PurchaseResult{
			Status:      models.PurchaseFailed,
			FailureKind: models.ErrKindUserCancelled,
			Message:     "run cancelled during purchase",
			RiskLevel:   models.RiskLow,
		}
	}

	sessionID, runID, sub := f.beginRun(t, "doodh khatam ho gaya, abhi chahiye")
	f.engine.Execute(ctx, sessionID, runID, nil)

	evs := drainRun(t, sub)
	last := evs[len(evs)-1]
	assert.Equal(t, events.TypeRunCancelled, last.Type)

	// The purchase stage records the cancellation as an error, never as a
	// completed stage.
	assert.Equal(t, models.StageStatusError, terminalStatus(t, evs, models.StagePurchase))
	assert.Empty(t, stageEvents(evs, models.StageNotification))
}
