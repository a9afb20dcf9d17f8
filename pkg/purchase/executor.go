package purchase

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/slack"
	"github.com/kiranamart/mandi/pkg/stages"
)

// Pre-validation gets a deliberately tight deadline: a stale price check must
// never eat the order's own budget.
const (
	prevalidationTimeout = 3 * time.Second
	prevalidationResults = 8
)

// Retry backoff between order attempts against the same connector.
const (
	backoffInitial = 2 * time.Second
	backoffCap     = 10 * time.Second
)

// defaultMaxAttempts bounds order attempts against the primary connector.
// Fallback candidates always get exactly one.
const defaultMaxAttempts = 3

// Request is one purchase stage invocation: the decided product, its
// fallbacks, and the run identity the executor audits under.
type Request struct {
	SessionID string
	RunID     string
	Intent    *models.Intent
	Selected  models.Product
	Fallbacks []models.Product
	Quantity  int
	// AutoBuy records that await_confirmation was skipped; risk re-confirmation
	// still applies.
	AutoBuy bool
	// Parked signals that the run is blocked on user input. Called when a
	// high-risk order re-enters the confirmation rendezvous.
	Parked func()
}

// Confirmer re-enters the confirmation rendezvous for high-risk orders. The
// pipeline's confirmation hub implements it.
type Confirmer interface {
	Await(ctx context.Context, runID string, timeout time.Duration, notify func()) (models.Confirmation, error)
}

// Executor effects orders against merchant connectors with pre-validation,
// risk gating, idempotent replay, bounded retry, and fallback iteration.
// Every phase transition lands in the audit log and is durable before the
// result returns.
type Executor struct {
	cfg       *config.Config
	registry  *connector.Registry
	monitor   *connector.HealthMonitor
	audit     *journal.AuditLog
	publisher *events.Publisher
	confirmer Confirmer
	otp       *connector.OTPGateway
	idem      IdempotencyStore
	notifier  *slack.Notifier

	retryBackoff    time.Duration
	retryBackoffCap time.Duration

	logger *slog.Logger
}

// NewExecutor wires the executor. monitor, audit, otp, and notifier may be
// nil; the rest is required.
func NewExecutor(
	cfg *config.Config,
	registry *connector.Registry,
	monitor *connector.HealthMonitor,
	audit *journal.AuditLog,
	publisher *events.Publisher,
	confirmer Confirmer,
	otp *connector.OTPGateway,
	idem IdempotencyStore,
	notifier *slack.Notifier,
) *Executor {
	return &Executor{
		cfg:             cfg,
		registry:        registry,
		monitor:         monitor,
		audit:           audit,
		publisher:       publisher,
		confirmer:       confirmer,
		otp:             otp,
		idem:            idem,
		notifier:        notifier,
		retryBackoff:    backoffInitial,
		retryBackoffCap: backoffCap,
		logger:          slog.Default().With("component", "purchase.Executor"),
	}
}

// execution tracks one request's progress across the candidate chain.
// Attempts accumulate across candidates so the result reports the total
// number of order calls made.
type execution struct {
	req      *Request
	trail    *auditTrail
	attempts int
	fallback bool
	replayed bool
	lastRisk RiskAssessment
	// successKey is the idempotency key of a successful order; the final
	// result (audit ids included) is recorded under it for verbatim replay.
	successKey string
}

// Execute runs the purchase phases for the selected product and its
// fallbacks. The result is always non-nil: blocked and failed purchases are
// complete stage outputs, never engine errors.
func (x *Executor) Execute(ctx context.Context, req *Request) *models.PurchaseResult {
	ex := &execution{
		req:   req,
		trail: &auditTrail{log: x.audit, sessionID: req.SessionID, runID: req.RunID},
	}

	res := x.run(ctx, ex)

	if !ex.replayed {
		ex.trail.add(models.AuditTerminalResult, map[string]any{
			"status":        string(res.Status),
			"platform":      res.PlatformUsed,
			"order_id":      res.OrderID,
			"risk_level":    string(res.RiskLevel),
			"attempts":      res.Attempts,
			"used_fallback": res.UsedFallback,
			"failure_kind":  string(res.FailureKind),
			"dry_run":       res.DryRun,
		})
		res.AuditIDs = ex.trail.ids
		if ex.successKey != "" && res.Status == models.PurchaseSuccess {
			// Recorded after the audit ids land so a replay is verbatim.
			x.idem.RecordSuccess(context.Background(), ex.successKey, res)
		}
	}

	// Durability barrier: the trail must be on disk before the result leaves
	// the executor. Background context — the stage deadline may already have
	// lapsed and the barrier must still run.
	if x.audit != nil {
		if err := x.audit.Flush(context.Background(), true); err != nil {
			x.logger.Error("Audit flush failed after purchase",
				"run_id", req.RunID, "error", err)
		}
	}

	if res.Status == models.PurchaseBlocked {
		x.notifier.NotifyPurchaseBlocked(context.Background(), slack.PurchaseBlockedInput{
			SessionID: req.SessionID,
			RunID:     req.RunID,
			Item:      requestItem(req),
			Connector: req.Selected.ConnectorID,
			RiskLevel: string(res.RiskLevel),
			RiskScore: res.RiskScore,
			Factors:   ex.lastRisk.Factors,
			Reason:    res.Message,
		})
	}

	x.logger.Info("Purchase finished",
		"session_id", req.SessionID, "run_id", req.RunID,
		"status", res.Status, "platform", res.PlatformUsed,
		"attempts", res.Attempts, "used_fallback", res.UsedFallback,
		"risk_level", res.RiskLevel, "replayed", ex.replayed)
	return res
}

// run walks the candidate chain: the selected product first, then each
// fallback in decision order. Success, blocked, and replay end the chain; a
// failed candidate advances to the next one.
func (x *Executor) run(ctx context.Context, ex *execution) *models.PurchaseResult {
	chain := append([]models.Product{ex.req.Selected}, ex.req.Fallbacks...)

	var last *models.PurchaseResult
	for pos, candidate := range chain {
		if err := ctx.Err(); err != nil {
			if errors.Is(err, context.Canceled) {
				return ex.cancelled()
			}
			break // stage deadline exhausted; report the last failure
		}

		if pos > 0 {
			ex.fallback = true
			ex.trail.add(models.AuditFallbackChosen, map[string]any{
				"connector": candidate.ConnectorID,
				"position":  pos,
			})
			x.logger.Info("Falling back to next candidate",
				"run_id", ex.req.RunID, "connector", candidate.ConnectorID, "position", pos)
		}

		res := x.attempt(ctx, ex, candidate, pos)
		if res.Status != models.PurchaseFailed || res.FailureKind == models.ErrKindUserCancelled {
			return res
		}
		last = res
	}

	if last == nil {
		return ex.failed(models.ErrKindConnectorUnavailable, "no orderable candidate")
	}
	return last
}

// attempt runs phases 1-4 for one candidate: pre-validation, risk gate,
// idempotent replay, then order execution.
func (x *Executor) attempt(ctx context.Context, ex *execution, candidate models.Product, position int) *models.PurchaseResult {
	c, ok := x.registry.Get(candidate.ConnectorID)
	if !ok || !c.Capabilities().Order {
		x.logger.Warn("Candidate connector not orderable",
			"run_id", ex.req.RunID, "connector", candidate.ConnectorID)
		return ex.failed(models.ErrKindConnectorUnavailable,
			fmt.Sprintf("connector %q is not available for ordering", candidate.ConnectorID))
	}

	val := x.prevalidate(ctx, ex, c, candidate)

	key := IdempotencyKey(candidate.ConnectorID, candidate.ExternalID, x.cfg.User.UserID, time.Now())
	prior, seen := x.idem.Check(ctx, key)

	price := candidate.UnitPrice
	if val.currentPrice > 0 {
		price = val.currentPrice
	}
	risk := AssessRisk(RiskInput{
		PriceDelta:     val.delta,
		OutOfStock:     val.outOfStock,
		PlatformHealth: x.monitor.Health(candidate.ConnectorID),
		Total:          price * float64(ex.req.Quantity),
		BudgetLarge:    x.cfg.Risk.BudgetLarge,
		Duplicate:      seen,
	}, x.cfg.Risk.CriticalThreshold)
	ex.lastRisk = risk
	ex.trail.add(models.AuditRiskComputed, map[string]any{
		"connector": candidate.ConnectorID,
		"score":     risk.Score,
		"level":     string(risk.Level),
		"factors":   risk.Factors,
	})

	switch risk.Level {
	case models.RiskCritical:
		ex.trail.add(models.AuditRiskBlocked, map[string]any{
			"connector": candidate.ConnectorID,
			"score":     risk.Score,
			"factors":   risk.Factors,
		})
		return ex.blocked(models.ErrKindRiskBlocked,
			"risk critical: "+strings.Join(risk.Factors, ", "))
	case models.RiskHigh:
		if res := x.reconfirm(ctx, ex, candidate, risk); res != nil {
			return res
		}
	}

	if seen && prior.Result != nil && prior.Result.Status == models.PurchaseSuccess {
		ex.trail.add(models.AuditDuplicateSuppressed, map[string]any{
			"key":      key,
			"order_id": prior.Result.OrderID,
		})
		x.logger.Info("Duplicate order suppressed, replaying prior result",
			"run_id", ex.req.RunID, "order_id", prior.Result.OrderID)
		ex.replayed = true
		cp := *prior.Result
		return &cp
	}
	x.idem.MarkSeen(ctx, key)

	return x.executeOrders(ctx, ex, c, candidate, position, key)
}

// prevalidation is the phase-1 outcome feeding the risk inputs.
type prevalidation struct {
	delta        float64
	currentPrice float64
	outOfStock   bool
	inconclusive bool
}

// prevalidate re-queries the connector for the candidate's current price and
// stock. Failures are inconclusive, not fatal: the order attempt itself will
// surface a genuinely dead connector.
func (x *Executor) prevalidate(ctx context.Context, ex *execution, c connector.Connector, candidate models.Product) prevalidation {
	ex.trail.add(models.AuditValidationStart, map[string]any{
		"connector":   candidate.ConnectorID,
		"external_id": candidate.ExternalID,
		"title":       candidate.Title,
	})

	vctx, cancel := context.WithTimeout(ctx, prevalidationTimeout)
	hits, err := c.Search(vctx, connector.SearchRequest{
		Query:      candidate.Title,
		Quantity:   float64(ex.req.Quantity),
		MaxResults: prevalidationResults,
	})
	cancel()

	val := prevalidation{inconclusive: true}
	if err == nil {
		for _, p := range hits {
			if p.ExternalID != candidate.ExternalID {
				continue
			}
			val.inconclusive = false
			val.currentPrice = p.UnitPrice
			if candidate.UnitPrice > 0 {
				val.delta = (p.UnitPrice - candidate.UnitPrice) / candidate.UnitPrice
			}
			if in, known := p.InStock(); known && !in {
				val.outOfStock = true
			}
			break
		}
	}

	detail := map[string]any{
		"connector":    candidate.ConnectorID,
		"inconclusive": val.inconclusive,
	}
	if err != nil {
		detail["error"] = err.Error()
	} else if !val.inconclusive {
		detail["current_price"] = val.currentPrice
		detail["price_delta"] = val.delta
		detail["out_of_stock"] = val.outOfStock
	}
	ex.trail.add(models.AuditValidationOutcome, detail)
	return val
}

// reconfirm re-enters the confirmation rendezvous for a high-risk order.
// Returns nil when the user accepted; otherwise the terminal result. The
// wait is bounded by the purchase stage deadline — risk confirmation never
// extends a run.
func (x *Executor) reconfirm(ctx context.Context, ex *execution, candidate models.Product, risk RiskAssessment) *models.PurchaseResult {
	if x.confirmer == nil {
		return ex.blocked(models.ErrKindRiskBlocked,
			"high risk and no confirmation channel available")
	}

	decision := &models.Decision{
		Selected: &candidate,
		Reasoning: fmt.Sprintf("risk %s (score %d): %s",
			risk.Level, risk.Score, strings.Join(risk.Factors, ", ")),
		RequiresConfirmation: true,
	}
	timeout := x.cfg.ConfirmationTimeout()

	conf, err := x.confirmer.Await(ctx, ex.req.RunID, timeout, func() {
		x.publisher.ConfirmationRequired(ex.req.SessionID, ex.req.RunID, decision, timeout)
		if ex.req.Parked != nil {
			ex.req.Parked()
		}
	})
	if err != nil {
		if models.KindOf(err) == models.ErrKindUserCancelled {
			return ex.cancelled()
		}
		return ex.blocked(models.ErrKindConfirmationTimeout,
			"high-risk order not re-confirmed in time")
	}
	if !conf.Accepted {
		return ex.blocked(models.ErrKindRiskBlocked,
			"user declined the high-risk order")
	}

	ex.trail.add(models.AuditRiskConfirmed, map[string]any{
		"connector": candidate.ConnectorID,
		"score":     risk.Score,
	})
	return nil
}

// executeOrders is phase 4: order calls with bounded retry. Only transient
// and unavailable failures retry; out_of_stock, price_changed, and the rest
// abort to the next candidate. Backoff doubles from 2s and honours
// cancellation; the stage deadline is never extended.
func (x *Executor) executeOrders(ctx context.Context, ex *execution, c connector.Connector, candidate models.Product, position int, key string) *models.PurchaseResult {
	maxAttempts := x.cfg.PurchaseMaxRetries
	if maxAttempts <= 0 {
		maxAttempts = defaultMaxAttempts
	}
	if position > 0 {
		maxAttempts = 1
	}

	backoff := x.retryBackoff
	var lastErr error
	for i := 1; i <= maxAttempts; i++ {
		if i > 1 {
			select {
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.Canceled) {
					return ex.cancelled()
				}
				return ex.failedFrom(lastErr)
			case <-time.After(backoff):
			}
			backoff *= 2
			if backoff > x.retryBackoffCap {
				backoff = x.retryBackoffCap
			}
		}

		ex.attempts++
		ex.trail.add(models.AuditAttemptStart, map[string]any{
			"connector": candidate.ConnectorID,
			"attempt":   ex.attempts,
			"position":  position,
		})

		receipt, err := x.placeOrder(ctx, ex, c, candidate)
		if ctx.Err() == nil {
			x.monitor.Record(candidate.ConnectorID, err == nil)
		}
		if err == nil {
			ex.trail.add(models.AuditAttemptOutcome, map[string]any{
				"connector": candidate.ConnectorID,
				"attempt":   ex.attempts,
				"ok":        true,
				"order_id":  receipt.OrderID,
				"simulated": x.cfg.DryRun,
			})
			ex.successKey = key
			return ex.success(candidate, receipt, x.cfg.DryRun)
		}

		lastErr = err
		kind := connector.KindOf(err)
		ex.trail.add(models.AuditAttemptOutcome, map[string]any{
			"connector": candidate.ConnectorID,
			"attempt":   ex.attempts,
			"ok":        false,
			"kind":      string(kind),
			"error":     err.Error(),
		})
		x.logger.Warn("Order attempt failed",
			"run_id", ex.req.RunID, "connector", candidate.ConnectorID,
			"attempt", ex.attempts, "kind", kind, "error", err)

		if !connector.Retryable(err) {
			break
		}
	}

	return ex.failedFrom(lastErr)
}

// placeOrder issues one connector order call, simulated under dry-run.
func (x *Executor) placeOrder(ctx context.Context, ex *execution, c connector.Connector, candidate models.Product) (*connector.OrderReceipt, error) {
	if x.cfg.DryRun {
		return &connector.OrderReceipt{
			OrderID:    "dry-" + uuid.NewString()[:8],
			Amount:     candidate.UnitPrice * float64(ex.req.Quantity),
			Currency:   candidate.Currency,
			ETAMinutes: candidate.DeliveryETA,
			PlacedAt:   time.Now().UTC(),
		}, nil
	}
	return c.Order(ctx, connector.OrderRequest{
		Product:  candidate,
		Quantity: ex.req.Quantity,
		UserID:   x.cfg.User.UserID,
		Phone:    x.cfg.User.Phone,
		Address:  x.cfg.User.Address,
		Prompt:   x.otpPrompter(ex),
	})
}

// otpPrompter bridges a connector's OTP challenge to the gateway: audit the
// challenge, publish otp_required after the rendezvous is registered, block
// for the code. A nil gateway leaves the connector to fail auth_required.
func (x *Executor) otpPrompter(ex *execution) connector.OTPPrompter {
	if x.otp == nil {
		return nil
	}
	return func(ctx context.Context, challenge connector.OTPChallenge) (string, error) {
		ex.trail.add(models.AuditOTPRequested, map[string]any{
			"connector": challenge.ConnectorID,
			"hint":      stages.MaskText(challenge.Hint),
		})
		return x.otp.Wait(ctx, ex.req.RunID, challenge, func(ch connector.OTPChallenge) {
			x.publisher.OTPRequired(ex.req.SessionID, ex.req.RunID,
				ch.ConnectorID, stages.MaskText(ch.Hint))
		})
	}
}

// ────────────────────────────────────────────────────────────
// Result constructors
// ────────────────────────────────────────────────────────────

func (ex *execution) success(candidate models.Product, receipt *connector.OrderReceipt, dryRun bool) *models.PurchaseResult {
	return &models.PurchaseResult{
		Status:       models.PurchaseSuccess,
		PlatformUsed: candidate.ConnectorID,
		OrderID:      receipt.OrderID,
		RiskScore:    ex.lastRisk.Score,
		RiskLevel:    ex.lastRisk.Level,
		Attempts:     ex.attempts,
		UsedFallback: ex.fallback,
		DryRun:       dryRun,
		Message:      fmt.Sprintf("order %s placed on %s", receipt.OrderID, candidate.ConnectorID),
	}
}

func (ex *execution) blocked(kind models.ErrorKind, msg string) *models.PurchaseResult {
	return &models.PurchaseResult{
		Status:       models.PurchaseBlocked,
		RiskScore:    ex.lastRisk.Score,
		RiskLevel:    ex.lastRisk.Level,
		Attempts:     ex.attempts,
		UsedFallback: ex.fallback,
		FailureKind:  kind,
		Message:      msg,
	}
}

func (ex *execution) failed(kind models.ErrorKind, msg string) *models.PurchaseResult {
	level := ex.lastRisk.Level
	if level == "" {
		level = models.RiskLow
	}
	return &models.PurchaseResult{
		Status:       models.PurchaseFailed,
		RiskScore:    ex.lastRisk.Score,
		RiskLevel:    level,
		Attempts:     ex.attempts,
		UsedFallback: ex.fallback,
		FailureKind:  kind,
		Message:      msg,
	}
}

// failedFrom maps the last connector failure into the result taxonomy:
// auth_required surfaces as unauthorized, everything else as
// connector_unavailable with the detail in the message.
func (ex *execution) failedFrom(err error) *models.PurchaseResult {
	if err == nil {
		return ex.failed(models.ErrKindConnectorUnavailable, "order not placed")
	}
	kind := models.ErrKindConnectorUnavailable
	if connector.KindOf(err) == connector.FailureAuthRequired {
		kind = models.ErrKindUnauthorized
	}
	return ex.failed(kind, err.Error())
}

func (ex *execution) cancelled() *models.PurchaseResult {
	return ex.failed(models.ErrKindUserCancelled, "run cancelled during purchase")
}

func requestItem(req *Request) string {
	if req.Intent != nil && req.Intent.Item != "" {
		return req.Intent.Item
	}
	return req.Selected.Title
}

// ────────────────────────────────────────────────────────────
// Audit trail
// ────────────────────────────────────────────────────────────

// auditTrail appends executor records and collects their ids for the
// result's audit_ids. Nil-safe when no audit log is wired.
type auditTrail struct {
	log       *journal.AuditLog
	sessionID string
	runID     string
	ids       []string
}

func (t *auditTrail) add(action string, detail map[string]any) string {
	if t.log == nil {
		return ""
	}
	id := t.log.Append(models.AuditRecord{
		RunID:     t.runID,
		SessionID: t.sessionID,
		Actor:     "executor",
		Action:    action,
		Detail:    detail,
	})
	t.ids = append(t.ids, id)
	return id
}
