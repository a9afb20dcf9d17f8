package connector

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// ErrNoPendingOTP is returned by Submit when no rendezvous is waiting for
// the run.
var ErrNoPendingOTP = errors.New("no pending otp challenge for run")

// DefaultOTPTimeout bounds how long an order blocks waiting for a code.
const DefaultOTPTimeout = 120 * time.Second

// OTPChallenge describes what the platform asked for.
type OTPChallenge struct {
	ConnectorID string `json:"connector_id"`
	// Hint is a platform-provided prompt, e.g. "code sent to ****4321".
	Hint string `json:"hint,omitempty"`
}

// OTPPrompter resolves one OTP challenge. Connectors call it mid-order; the
// implementation blocks until the user supplies a code, the context ends, or
// the gateway times out.
type OTPPrompter func(ctx context.Context, challenge OTPChallenge) (string, error)

// OTPGateway is the one-shot rendezvous between a blocked order call and the
// transport relaying the user's code. Channels are keyed by run id: one
// pending challenge per run at a time.
type OTPGateway struct {
	mu      sync.Mutex
	pending map[string]chan string

	timeout time.Duration
	logger  *slog.Logger
}

// NewOTPGateway creates a gateway with the given wait timeout.
func NewOTPGateway(timeout time.Duration) *OTPGateway {
	if timeout <= 0 {
		timeout = DefaultOTPTimeout
	}
	return &OTPGateway{
		pending: make(map[string]chan string),
		timeout: timeout,
		logger:  slog.Default().With("component", "connector.OTPGateway"),
	}
}

// Wait registers the rendezvous for the run, invokes notify (the caller
// publishes the otp_required event there — after registration, so a fast
// client cannot race the rendezvous), and blocks for the code. A timeout is
// a transient connector failure: the attempt may be retried and the platform
// will issue a fresh code.
func (g *OTPGateway) Wait(ctx context.Context, runID string, challenge OTPChallenge, notify func(OTPChallenge)) (string, error) {
	ch := make(chan string, 1)

	g.mu.Lock()
	if _, exists := g.pending[runID]; exists {
		g.mu.Unlock()
		return "", Errorf(FailurePermanent, challenge.ConnectorID,
			"otp challenge already pending for run %s", runID)
	}
	g.pending[runID] = ch
	g.mu.Unlock()

	defer func() {
		g.mu.Lock()
		delete(g.pending, runID)
		g.mu.Unlock()
	}()

	if notify != nil {
		notify(challenge)
	}

	timer := time.NewTimer(g.timeout)
	defer timer.Stop()

	select {
	case code := <-ch:
		return code, nil
	case <-ctx.Done():
		return "", NewError(FailureTransient, challenge.ConnectorID, ctx.Err())
	case <-timer.C:
		g.logger.Warn("OTP rendezvous timed out", "run_id", runID,
			"connector", challenge.ConnectorID)
		return "", Errorf(FailureTransient, challenge.ConnectorID,
			"otp not supplied within %s", g.timeout)
	}
}

// Submit delivers the user's code into the pending rendezvous for the run.
func (g *OTPGateway) Submit(runID, code string) error {
	g.mu.Lock()
	ch, ok := g.pending[runID]
	if ok {
		// One-shot: a second Submit for the same challenge finds nothing.
		delete(g.pending, runID)
	}
	g.mu.Unlock()

	if !ok {
		return ErrNoPendingOTP
	}
	ch <- code
	return nil
}

// Pending reports whether the run has a waiting OTP challenge.
func (g *OTPGateway) Pending(runID string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.pending[runID]
	return ok
}
