package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/purchase"
	"github.com/kiranamart/mandi/pkg/session"
	"github.com/kiranamart/mandi/pkg/stages"
)

// autoBuyConfidence is the minimum intent confidence for skipping
// await_confirmation on a clean high-urgency decision.
const autoBuyConfidence = 0.8

// Purchaser executes the purchase stage. *purchase.Executor implements it;
// the indirection keeps engine tests free of connector wiring.
type Purchaser interface {
	Execute(ctx context.Context, req *purchase.Request) *models.PurchaseResult
}

// Engine walks the fixed stage list for one run: predicate check, processing
// event, stage invocation under a per-stage deadline, terminal event,
// checkpoint. Branching is purely predicate-driven, so the walk is linear
// and every run's event sequence is a prefix of the canonical stage order.
type Engine struct {
	cfg       *config.Config
	store     *session.Store
	journal   *journal.Journal
	audit     *journal.AuditLog
	publisher *events.Publisher
	searcher  *Searcher
	hub       *ConfirmationHub
	monitor   *connector.HealthMonitor
	purchaser Purchaser

	logger *slog.Logger
}

// NewEngine wires the engine. monitor and audit may be nil; everything else
// is required.
func NewEngine(
	cfg *config.Config,
	store *session.Store,
	jnl *journal.Journal,
	audit *journal.AuditLog,
	publisher *events.Publisher,
	searcher *Searcher,
	hub *ConfirmationHub,
	monitor *connector.HealthMonitor,
	purchaser Purchaser,
) *Engine {
	return &Engine{
		cfg:       cfg,
		store:     store,
		journal:   jnl,
		audit:     audit,
		publisher: publisher,
		searcher:  searcher,
		hub:       hub,
		monitor:   monitor,
		purchaser: purchaser,
		logger:    slog.Default().With("component", "pipeline.Engine"),
	}
}

// node is one pipeline entry: a stage id plus the predicate deciding whether
// this run executes it.
type node struct {
	id   models.StageID
	pred func(*walk) bool
	run  func(context.Context, *walk) error
}

// walk accumulates one run's state while the engine moves through the nodes.
type walk struct {
	sessionID string
	runID     string
	request   string
	parked    func()

	intent       *models.Intent
	plan         *models.Plan
	hits         *models.SearchHits
	ranking      *models.Ranking
	decision     *models.Decision
	confirmation *models.Confirmation
	declined     bool
	purchase     *models.PurchaseResult
	info         *models.InfoAnswer
	notice       *models.Notice

	stageErr error
	errStage models.StageID
}

func (w *walk) hasSelection() bool {
	return w.decision != nil && w.decision.Selected != nil
}

func (w *walk) autoBuy() bool {
	return w.decision != nil && !w.decision.RequiresConfirmation
}

func (w *walk) accepted() bool {
	return w.confirmation != nil && w.confirmation.Accepted
}

func (e *Engine) nodes() []node {
	return []node{
		{models.StageIntentExtraction, func(*walk) bool { return true }, e.runIntent},
		{models.StageTaskPlanning, func(w *walk) bool { return w.intent != nil }, e.runPlanning},
		{models.StageSearch, func(w *walk) bool { return w.plan.Includes(models.StageSearch) }, e.runSearch},
		{models.StageComparison, func(w *walk) bool {
			return w.plan.Includes(models.StageComparison) && w.hits != nil
		}, e.runComparison},
		{models.StageDecision, func(w *walk) bool {
			return w.plan.Includes(models.StageDecision) && w.ranking != nil
		}, e.runDecision},
		{models.StageAwaitConfirmation, func(w *walk) bool {
			return w.plan.Includes(models.StageAwaitConfirmation) &&
				w.hasSelection() && w.decision.RequiresConfirmation
		}, e.runAwaitConfirmation},
		{models.StagePurchase, func(w *walk) bool {
			return w.plan.Includes(models.StagePurchase) && w.hasSelection() &&
				(w.autoBuy() || w.accepted())
		}, e.runPurchase},
		{models.StageQueryInfo, func(w *walk) bool { return w.plan.Includes(models.StageQueryInfo) }, e.runQueryInfo},
		{models.StageNotification, func(*walk) bool { return true }, e.runNotification},
	}
}

// Execute runs the pipeline for one run to its terminal event. It is the
// session's single writer for the duration; the manager guarantees no second
// engine runs against the same session concurrently.
func (e *Engine) Execute(ctx context.Context, sessionID, runID string, parked func()) {
	log := e.logger.With("session_id", sessionID, "run_id", runID)

	sess, ok := e.store.Get(sessionID)
	if !ok {
		log.Error("Session vanished before run start")
		return
	}
	w := &walk{
		sessionID: sessionID,
		runID:     runID,
		request:   sess.RequestText,
		parked:    parked,
	}

	e.publisher.RunStarted(sessionID, runID, stages.MaskText(w.request))
	log.Info("Run started")

	for _, n := range e.nodes() {
		if ctx.Err() != nil {
			e.finishCancelled(w, log)
			return
		}

		// A stage error skips everything downstream except notification, which
		// still runs to put a user-readable outcome on the wire.
		runnable := (w.stageErr == nil || n.id == models.StageNotification) && n.pred(w)

		var err error
		if runnable {
			err = e.runStage(ctx, w, n)
		} else {
			err = e.skipStage(w, n.id)
		}
		if err != nil {
			if errors.Is(err, session.ErrStaleRun) {
				// Superseded by a newer run; that run owns the session now.
				log.Info("Run superseded, stopping")
				return
			}
			e.abort(w, err, log)
			return
		}
	}

	if ctx.Err() != nil {
		e.finishCancelled(w, log)
		return
	}
	e.finish(w, log)
}

// runStage executes one node: processing mark, invocation under the stage
// deadline, terminal mark, checkpoint. Stage failures are recorded on the
// walk and return nil; the returned error is reserved for walk-aborting
// conditions (stale run, journal failure).
func (e *Engine) runStage(ctx context.Context, w *walk, n node) error {
	if err := e.store.UpdateStage(w.sessionID, w.runID, n.id, models.StageStatusProcessing, ""); err != nil {
		return err
	}
	e.publisher.StageUpdate(w.sessionID, w.runID, n.id, models.StageStatusProcessing, "", nil)

	stageCtx, cancel := context.WithTimeout(ctx, e.cfg.StageTimeout(n.id))
	err := n.run(stageCtx, w)
	cancel()

	if err != nil {
		err = e.classifyStageErr(ctx, stageCtx, n.id, err)
		w.stageErr = err
		w.errStage = n.id
		kind := string(models.KindOf(err))

		e.logger.Warn("Stage failed", "session_id", w.sessionID, "run_id", w.runID,
			"stage", n.id, "kind", kind, "error", err)

		if uerr := e.store.UpdateStage(w.sessionID, w.runID, n.id, models.StageStatusError, kind); uerr != nil {
			return uerr
		}
		e.publisher.StageUpdate(w.sessionID, w.runID, n.id, models.StageStatusError, kind, nil)
		return e.checkpoint(w, n.id, models.StageStatusError, kind)
	}

	msg, data := w.stageSummary(n.id)
	if uerr := e.store.UpdateStage(w.sessionID, w.runID, n.id, models.StageStatusComplete, msg); uerr != nil {
		return uerr
	}
	e.publisher.StageUpdate(w.sessionID, w.runID, n.id, models.StageStatusComplete, msg, data)
	return e.checkpoint(w, n.id, models.StageStatusComplete, msg)
}

func (e *Engine) skipStage(w *walk, id models.StageID) error {
	if err := e.store.UpdateStage(w.sessionID, w.runID, id, models.StageStatusSkipped, ""); err != nil {
		return err
	}
	e.publisher.StageUpdate(w.sessionID, w.runID, id, models.StageStatusSkipped, "", nil)
	return e.checkpoint(w, id, models.StageStatusSkipped, "")
}

// checkpoint appends one journal record with the post-stage session snapshot.
// A journal failure is fatal to the run.
func (e *Engine) checkpoint(w *walk, stage models.StageID, status models.StageStatus, message string) error {
	snap, err := e.store.Snapshot(w.sessionID)
	if err != nil {
		return models.NewKindError(models.ErrKindJournalFailure, err)
	}
	return e.journal.Append(&journal.CheckpointRecord{
		TS:        time.Now().UTC(),
		SessionID: w.sessionID,
		RunID:     w.runID,
		StageID:   stage,
		Status:    status,
		Message:   message,
		Snapshot:  snap,
	})
}

// classifyStageErr pins an error kind onto a stage failure. Run cancellation
// wins over everything; errors already carrying a kind pass through; deadline
// overruns become stage_timeout (confirmation_timeout for the rendezvous
// stage); the rest is stage_internal.
func (e *Engine) classifyStageErr(runCtx, stageCtx context.Context, stage models.StageID, err error) error {
	if runCtx.Err() != nil {
		return models.NewKindError(models.ErrKindUserCancelled, err)
	}
	var ke *models.KindError
	if errors.As(err, &ke) {
		return err
	}
	if errors.Is(stageCtx.Err(), context.DeadlineExceeded) || errors.Is(err, context.DeadlineExceeded) {
		if stage == models.StageAwaitConfirmation {
			return models.NewKindError(models.ErrKindConfirmationTimeout, err)
		}
		return models.NewKindError(models.ErrKindStageTimeout, err)
	}
	return models.NewKindError(models.ErrKindStageInternal, err)
}

func (e *Engine) finish(w *walk, log *slog.Logger) {
	outcome := "complete"
	switch {
	case w.stageErr != nil:
		outcome = string(models.KindOf(w.stageErr))
	case w.notice != nil:
		outcome = w.notice.Outcome
	}

	e.store.FinishRun(w.sessionID, w.runID)
	e.publisher.RunCompleted(w.sessionID, w.runID, outcome)
	log.Info("Run finished", "outcome", outcome)
}

func (e *Engine) finishCancelled(w *walk, log *slog.Logger) {
	if e.audit != nil {
		e.audit.Append(models.AuditRecord{
			RunID:     w.runID,
			SessionID: w.sessionID,
			Actor:     "engine",
			Action:    models.AuditRunCancelled,
		})
	}
	e.store.FinishRun(w.sessionID, w.runID)
	e.publisher.RunCancelled(w.sessionID, w.runID)
	log.Info("Run cancelled")
}

// abort ends the run without a notification stage: the checkpoint journal is
// broken, so no further stage can be made durable.
func (e *Engine) abort(w *walk, err error, log *slog.Logger) {
	w.stageErr = err
	e.store.FinishRun(w.sessionID, w.runID)
	e.publisher.RunCompleted(w.sessionID, w.runID, string(models.ErrKindJournalFailure))
	log.Error("Run aborted: checkpoint journal failed", "error", err)
}

// ────────────────────────────────────────────────────────────
// Stage implementations
// ────────────────────────────────────────────────────────────

func (e *Engine) runIntent(_ context.Context, w *walk) error {
	intent := stages.ExtractIntent(w.request)
	w.intent = intent

	path := models.PathUnknown
	switch intent.Kind {
	case models.IntentPurchase:
		path = models.PathPurchase
	case models.IntentInfo:
		path = models.PathInfo
	}

	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Intent = intent
		s.Path = path
	})
}

func (e *Engine) runPlanning(_ context.Context, w *walk) error {
	plan := stages.BuildPlan(w.intent)
	w.plan = plan
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Plan = plan
	})
}

func (e *Engine) runSearch(ctx context.Context, w *walk) error {
	hits, err := e.searcher.Search(ctx, w.intent)
	if err != nil {
		return err
	}
	w.hits = hits
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Search = hits
	})
}

func (e *Engine) runComparison(_ context.Context, w *walk) error {
	ranking := stages.Rank(
		w.hits.Candidates(),
		e.cfg.WeightsFor(w.intent.Urgency),
		e.cfg.ConnectorRating,
	)
	w.ranking = ranking
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Ranking = ranking
	})
}

func (e *Engine) runDecision(_ context.Context, w *walk) error {
	decision := stages.Decide(stages.DecisionInput{
		Ranking:           w.ranking,
		Intent:            w.intent,
		Budget:            e.cfg.User.Budget,
		UrgentEtaMinutes:  e.cfg.Ranking.UrgentEtaMinutes,
		AutoBuyConfidence: autoBuyConfidence,
		Healthy:           e.monitor.Healthy,
	})
	w.decision = decision
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Decision = decision
	})
}

func (e *Engine) runAwaitConfirmation(ctx context.Context, w *walk) error {
	timeout := e.cfg.ConfirmationTimeout()

	conf, err := e.hub.Await(ctx, w.runID, timeout, func() {
		_ = e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
			s.ActiveRun.AwaitingConfirmation = true
		})
		e.publisher.ConfirmationRequired(w.sessionID, w.runID, w.decision, timeout)
		if w.parked != nil {
			w.parked()
		}
	})

	_ = e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.ActiveRun.AwaitingConfirmation = false
	})
	if err != nil {
		return err
	}

	if !conf.Accepted {
		w.declined = true
		return nil
	}
	w.confirmation = &conf
	e.applySelection(w, conf.SelectedIndex)
	return nil
}

// applySelection re-points the decision at the offer the user picked. Index 0
// is the selected product; 1..n address the fallbacks. Out-of-range indexes
// keep the original selection.
func (e *Engine) applySelection(w *walk, index int) {
	if index <= 0 || index > len(w.decision.Fallbacks) {
		return
	}

	updated := *w.decision
	picked := updated.Fallbacks[index-1]

	fallbacks := make([]models.Product, 0, len(updated.Fallbacks))
	fallbacks = append(fallbacks, *updated.Selected)
	for i, f := range updated.Fallbacks {
		if i != index-1 {
			fallbacks = append(fallbacks, f)
		}
	}
	updated.Selected = &picked
	updated.Fallbacks = fallbacks
	updated.Reasoning = fmt.Sprintf("user picked %s (%s) over the suggested option",
		picked.Title, picked.ConnectorID)

	w.decision = &updated
	_ = e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Decision = &updated
	})
}

func (e *Engine) runPurchase(ctx context.Context, w *walk) error {
	req := &purchase.Request{
		SessionID: w.sessionID,
		RunID:     w.runID,
		Intent:    w.intent,
		Selected:  *w.decision.Selected,
		Fallbacks: w.decision.Fallbacks,
		Quantity:  orderQuantity(w.intent),
		AutoBuy:   w.autoBuy(),
		// A high-risk re-confirmation parks the run exactly like
		// await_confirmation does.
		Parked: func() {
			_ = e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
				s.ActiveRun.AwaitingConfirmation = true
			})
			if w.parked != nil {
				w.parked()
			}
		},
	}

	result := e.purchaser.Execute(ctx, req)
	w.purchase = result

	if err := e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.ActiveRun.AwaitingConfirmation = false
		s.Outputs.Purchase = result
	}); err != nil {
		return err
	}

	// A cancellation the executor observed mid-purchase ends the run as
	// cancelled; a completed stage after the cancellation would lie.
	if result.Status == models.PurchaseFailed && result.FailureKind == models.ErrKindUserCancelled {
		return models.Kindf(models.ErrKindUserCancelled, "run cancelled during purchase")
	}
	return nil
}

func (e *Engine) runQueryInfo(_ context.Context, w *walk) error {
	answer := stages.AnswerQuery(w.request, w.intent)
	w.info = answer
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Info = answer
	})
}

func (e *Engine) runNotification(_ context.Context, w *walk) error {
	in := stages.NoticeInput{
		Intent:   w.intent,
		Decision: w.decision,
		Purchase: w.purchase,
		Info:     w.info,
	}
	if w.intent != nil {
		in.LanguageTag = w.intent.LanguageTag
	}

	switch {
	case w.stageErr != nil:
		in.Outcome = stages.OutcomeError
		in.FailureKind = models.KindOf(w.stageErr)
	case w.intent != nil && w.intent.Kind == models.IntentClarify:
		in.Outcome = stages.OutcomeClarify
	case w.info != nil:
		in.Outcome = stages.OutcomeInfo
	case w.declined:
		in.Outcome = stages.OutcomeDeclined
	case w.purchase != nil:
		switch w.purchase.Status {
		case models.PurchaseSuccess:
			in.Outcome = stages.OutcomeOrderPlaced
		case models.PurchaseBlocked:
			in.Outcome = stages.OutcomeBlocked
		default:
			in.Outcome = stages.OutcomeOrderFailed
			in.FailureKind = w.purchase.FailureKind
		}
	case w.decision != nil && w.decision.Selected == nil:
		in.Outcome = stages.OutcomeNoSuitableOption
	default:
		in.Outcome = stages.OutcomeError
	}

	notice := stages.RenderNotice(in)
	w.notice = notice
	return e.store.Mutate(w.sessionID, w.runID, func(s *models.Session) {
		s.Outputs.Notice = notice
	})
}

// stageSummary produces the terse message + data payload for a completed
// stage's event.
func (w *walk) stageSummary(id models.StageID) (string, map[string]any) {
	switch id {
	case models.StageIntentExtraction:
		if w.intent == nil {
			return "", nil
		}
		return fmt.Sprintf("%s: %s", w.intent.Kind, w.intent.Item), map[string]any{
			"kind":       string(w.intent.Kind),
			"item":       w.intent.Item,
			"urgency":    string(w.intent.Urgency),
			"confidence": w.intent.Confidence,
			"language":   w.intent.LanguageTag,
		}
	case models.StageTaskPlanning:
		if w.plan == nil {
			return "", nil
		}
		return w.plan.Summary, map[string]any{"stages": len(w.plan.Stages)}
	case models.StageSearch:
		if w.hits == nil {
			return "", nil
		}
		return fmt.Sprintf("%d products from %d connectors",
				len(w.hits.Candidates()), len(w.hits.Results)), map[string]any{
				"connectors": len(w.hits.Results),
				"failed":     len(w.hits.Failures()),
				"products":   len(w.hits.Candidates()),
			}
	case models.StageComparison:
		if w.ranking == nil {
			return "", nil
		}
		data := map[string]any{"candidates": len(w.ranking.Products)}
		if len(w.ranking.Products) > 0 {
			data["top_score"] = w.ranking.Products[0].Score
		}
		return fmt.Sprintf("ranked %d candidates", len(w.ranking.Products)), data
	case models.StageDecision:
		if w.decision == nil {
			return "", nil
		}
		data := map[string]any{
			"requires_confirmation": w.decision.RequiresConfirmation,
			"fallbacks":             len(w.decision.Fallbacks),
		}
		if w.decision.Selected != nil {
			data["connector_id"] = w.decision.Selected.ConnectorID
			return fmt.Sprintf("selected %s from %s",
				w.decision.Selected.Title, w.decision.Selected.ConnectorID), data
		}
		return "no suitable option", data
	case models.StageAwaitConfirmation:
		if w.declined {
			return "declined", map[string]any{"accepted": false}
		}
		return "accepted", map[string]any{"accepted": true}
	case models.StagePurchase:
		if w.purchase == nil {
			return "", nil
		}
		return string(w.purchase.Status), map[string]any{
			"status":        string(w.purchase.Status),
			"platform_used": w.purchase.PlatformUsed,
			"order_id":      w.purchase.OrderID,
			"attempts":      w.purchase.Attempts,
			"used_fallback": w.purchase.UsedFallback,
			"risk_level":    string(w.purchase.RiskLevel),
		}
	case models.StageQueryInfo:
		if w.info == nil {
			return "", nil
		}
		return "answered", map[string]any{"source": w.info.Source}
	case models.StageNotification:
		if w.notice == nil {
			return "", nil
		}
		return w.notice.Message, map[string]any{"outcome": w.notice.Outcome}
	}
	return "", nil
}

// orderQuantity converts the intent's quantity hint into order units,
// defaulting to one.
func orderQuantity(intent *models.Intent) int {
	if intent == nil {
		return 1
	}
	q := int(math.Round(intent.Quantity))
	if q < 1 {
		q = 1
	}
	return q
}
