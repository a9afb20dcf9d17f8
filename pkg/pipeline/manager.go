package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/session"
)

// supersedeGrace bounds how long Submit waits for a superseded run to unwind
// before the new run takes the session over. A straggler past the grace
// window can no longer write: its run id is stale in the store.
const supersedeGrace = 2 * time.Second

// shutdownGrace bounds Stop's wait for active runs to finish cancelling.
const shutdownGrace = 5 * time.Second

// RunHandle is the transport's wait surface for a run it submitted. Done
// closes when the run reaches its terminal event; Parked receives a signal
// each time the run blocks on user input (await_confirmation, or a purchase
// high-risk re-confirmation).
type RunHandle struct {
	SessionID string
	RunID     string
	Done      chan struct{}
	Parked    chan struct{}
}

// park signals Parked without blocking; the buffer absorbs re-parks.
func (h *RunHandle) park() {
	select {
	case h.Parked <- struct{}{}:
	default:
	}
}

type activeRun struct {
	runID  string
	cancel context.CancelFunc
	done   chan struct{}
	handle *RunHandle
}

// RunManager owns the active-run registry: at most one live run per session,
// a new submission cancels the prior one, and API cancellation resolves by
// session id. Run contexts derive from the manager's base context, not the
// submitting request, so a run outlives its HTTP caller.
type RunManager struct {
	store  *session.Store
	engine *Engine

	mu     sync.Mutex
	active map[string]*activeRun

	baseCtx  context.Context
	baseStop context.CancelFunc
	wg       sync.WaitGroup

	logger *slog.Logger
}

// NewRunManager creates the manager.
func NewRunManager(store *session.Store, engine *Engine) *RunManager {
	ctx, cancel := context.WithCancel(context.Background())
	return &RunManager{
		store:    store,
		engine:   engine,
		active:   make(map[string]*activeRun),
		baseCtx:  ctx,
		baseStop: cancel,
		logger:   slog.Default().With("component", "pipeline.RunManager"),
	}
}

// Submit starts a run for the session's new utterance, cancelling and waiting
// out any run already active there. An empty session id allocates a fresh
// session. The returned handle carries the run id the caller waits on.
func (m *RunManager) Submit(sessionID, message string) (*RunHandle, error) {
	sess := m.store.GetOrCreate(sessionID)

	m.mu.Lock()
	prior := m.active[sess.ID]
	m.mu.Unlock()

	if prior != nil {
		m.logger.Info("Cancelling superseded run",
			"session_id", sess.ID, "run_id", prior.runID)
		prior.cancel()
		select {
		case <-prior.done:
		case <-time.After(supersedeGrace):
			m.logger.Warn("Superseded run did not unwind in time",
				"session_id", sess.ID, "run_id", prior.runID)
		}
	}

	runID := uuid.New().String()
	if err := m.store.BeginRun(sess.ID, runID, message); err != nil {
		return nil, err
	}

	runCtx, cancel := context.WithCancel(m.baseCtx)
	handle := &RunHandle{
		SessionID: sess.ID,
		RunID:     runID,
		Done:      make(chan struct{}),
		Parked:    make(chan struct{}, 2),
	}
	ar := &activeRun{runID: runID, cancel: cancel, done: make(chan struct{}), handle: handle}

	m.mu.Lock()
	m.active[sess.ID] = ar
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		defer cancel()

		m.engine.Execute(runCtx, sess.ID, runID, handle.park)

		m.mu.Lock()
		if cur := m.active[sess.ID]; cur == ar {
			delete(m.active, sess.ID)
		}
		m.mu.Unlock()

		close(ar.done)
		close(handle.Done)
	}()

	return handle, nil
}

// Cancel requests cancellation of the session's active run. Returns false
// when nothing is running for the session.
func (m *RunManager) Cancel(sessionID string) bool {
	m.mu.Lock()
	ar, ok := m.active[sessionID]
	m.mu.Unlock()
	if !ok {
		return false
	}

	_ = m.store.Mutate(sessionID, ar.runID, func(s *models.Session) {
		s.ActiveRun.CancelRequested = true
	})
	ar.cancel()
	m.logger.Info("Run cancellation requested", "session_id", sessionID, "run_id", ar.runID)
	return true
}

// Handle returns the wait handle for the session's active run.
func (m *RunManager) Handle(sessionID string) (*RunHandle, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[sessionID]
	if !ok {
		return nil, false
	}
	return ar.handle, true
}

// ActiveRunID returns the run id currently executing for the session.
func (m *RunManager) ActiveRunID(sessionID string) (string, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ar, ok := m.active[sessionID]
	if !ok {
		return "", false
	}
	return ar.runID, true
}

// ActiveCount returns the number of runs currently executing.
func (m *RunManager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.active)
}

// Stop cancels every active run and waits for the engines to unwind.
func (m *RunManager) Stop() {
	m.baseStop()

	done := make(chan struct{})
	go func() {
		m.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		m.logger.Warn("Shutdown timed out waiting for active runs")
	}
}
