package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// ErrNoPendingConfirmation is returned by Resolve when the run has no
// confirmation rendezvous waiting.
var ErrNoPendingConfirmation = errors.New("no pending confirmation for run")

// ConfirmationHub is the one-shot rendezvous between a parked run and the
// transport delivering the user's go-ahead. Channels are keyed by run id:
// one pending confirmation per run at a time. Both the engine's
// await_confirmation stage and the purchase executor's high-risk
// re-confirmation block here.
type ConfirmationHub struct {
	mu      sync.Mutex
	pending map[string]chan models.Confirmation

	logger *slog.Logger
}

// NewConfirmationHub creates an empty hub.
func NewConfirmationHub() *ConfirmationHub {
	return &ConfirmationHub{
		pending: make(map[string]chan models.Confirmation),
		logger:  slog.Default().With("component", "pipeline.ConfirmationHub"),
	}
}

// Await registers the rendezvous for the run, invokes notify (the caller
// emits confirmation_required there — after registration, so a fast client
// cannot race the rendezvous), and blocks for the answer. Absence within the
// timeout is an implicit reject surfaced as confirmation_timeout.
func (h *ConfirmationHub) Await(ctx context.Context, runID string, timeout time.Duration, notify func()) (models.Confirmation, error) {
	ch := make(chan models.Confirmation, 1)

	h.mu.Lock()
	if _, exists := h.pending[runID]; exists {
		h.mu.Unlock()
		return models.Confirmation{}, models.Kindf(models.ErrKindStageInternal,
			"confirmation already pending for run %s", runID)
	}
	h.pending[runID] = ch
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.pending, runID)
		h.mu.Unlock()
	}()

	if notify != nil {
		notify()
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case c := <-ch:
		return c, nil
	case <-ctx.Done():
		// The stage deadline equals the confirmation timeout, so a deadline
		// here is the same implicit reject as the timer firing.
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return models.Confirmation{}, models.NewKindError(models.ErrKindConfirmationTimeout, ctx.Err())
		}
		return models.Confirmation{}, models.NewKindError(models.ErrKindUserCancelled, ctx.Err())
	case <-timer.C:
		h.logger.Info("Confirmation timed out", "run_id", runID, "timeout", timeout)
		return models.Confirmation{}, models.Kindf(models.ErrKindConfirmationTimeout,
			"no confirmation within %s", timeout)
	}
}

// Resolve delivers the user's answer into the pending rendezvous for the run.
func (h *ConfirmationHub) Resolve(runID string, c models.Confirmation) error {
	h.mu.Lock()
	ch, ok := h.pending[runID]
	if ok {
		// One-shot: a second Resolve for the same rendezvous finds nothing.
		delete(h.pending, runID)
	}
	h.mu.Unlock()

	if !ok {
		return ErrNoPendingConfirmation
	}
	ch <- c
	return nil
}

// Pending reports whether the run has a waiting confirmation rendezvous.
func (h *ConfirmationHub) Pending(runID string) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	_, ok := h.pending[runID]
	return ok
}
