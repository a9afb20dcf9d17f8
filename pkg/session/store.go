// Package session holds the in-memory session store: per-session state with
// single-writer serialization, copy-on-read access, snapshot/restore for the
// checkpoint journal, and idle eviction.
package session

import (
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kiranamart/mandi/pkg/models"
)

// ErrNotFound is returned when the session id is unknown.
var ErrNotFound = errors.New("session not found")

// ErrStaleRun is returned when a mutation names a run that is no longer the
// session's active run. Late writers get a no-op, never a torn state.
var ErrStaleRun = errors.New("stale run id")

// Store owns every live session. All mutation happens under the session's
// own lock; readers always receive a copy, so a reader can never observe a
// stage output mid-write.
type Store struct {
	mu      sync.RWMutex
	entries map[string]*entry

	logger *slog.Logger
}

type entry struct {
	mu sync.Mutex
	s  *models.Session
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		entries: make(map[string]*entry),
		logger:  slog.Default().With("component", "session.Store"),
	}
}

// GetOrCreate returns a copy of the session, creating it when absent. An
// empty id allocates a fresh session id.
func (st *Store) GetOrCreate(id string) *models.Session {
	if id == "" {
		id = uuid.New().String()
	}

	st.mu.Lock()
	e, ok := st.entries[id]
	if !ok {
		now := time.Now().UTC()
		e = &entry{s: &models.Session{
			ID:          id,
			CreatedAt:   now,
			LastUpdated: now,
			Path:        models.PathUnknown,
		}}
		st.entries[id] = e
		st.logger.Info("Session created", "session_id", id)
	}
	st.mu.Unlock()

	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.s)
}

// Get returns a copy of the session, or false when absent.
func (st *Store) Get(id string) (*models.Session, bool) {
	e, ok := st.entry(id)
	if !ok {
		return nil, false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneSession(e.s), true
}

// BeginRun installs a fresh active run and resets the per-run state: request
// text, path, stage outputs. Stage states start idle for every pipeline
// stage. The caller is responsible for having cancelled any prior run first.
func (st *Store) BeginRun(sessionID, runID, requestText string) error {
	e, ok := st.entry(sessionID)
	if !ok {
		return ErrNotFound
	}

	states := make(map[models.StageID]*models.StageState, len(models.PipelineStages))
	for _, id := range models.PipelineStages {
		states[id] = &models.StageState{Status: models.StageStatusIdle}
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	now := time.Now().UTC()
	e.s.ActiveRun = &models.Run{
		ID:          runID,
		SessionID:   sessionID,
		StartedAt:   now,
		StageStates: states,
	}
	e.s.RequestText = requestText
	e.s.Path = models.PathUnknown
	e.s.CurrentStage = ""
	e.s.Outputs = models.StageOutputs{}
	e.s.LastUpdated = now
	return nil
}

// UpdateStage applies one stage transition for the given run. A stale run id
// (the session has moved on) is a silent no-op returning ErrStaleRun.
func (st *Store) UpdateStage(sessionID, runID string, stage models.StageID, status models.StageStatus, message string) error {
	return st.Mutate(sessionID, runID, func(s *models.Session) {
		state, ok := s.ActiveRun.StageStates[stage]
		if !ok {
			state = &models.StageState{}
			s.ActiveRun.StageStates[stage] = state
		}
		now := time.Now().UTC()
		state.Status = status
		state.Message = message
		switch status {
		case models.StageStatusProcessing:
			state.StartedAt = &now
			s.CurrentStage = stage
		case models.StageStatusComplete, models.StageStatusError, models.StageStatusSkipped:
			state.EndedAt = &now
		}
	})
}

// Mutate runs fn against the live session under its lock, guarded by the run
// id. fn must not retain any pointer it is given; published output structs
// are replaced wholesale, never edited in place.
func (st *Store) Mutate(sessionID, runID string, fn func(*models.Session)) error {
	e, ok := st.entry(sessionID)
	if !ok {
		return ErrNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.ActiveRun == nil || e.s.ActiveRun.ID != runID {
		return ErrStaleRun
	}
	fn(e.s)
	e.s.LastUpdated = time.Now().UTC()
	return nil
}

// FinishRun retires the active run, archiving its stage states for the
// session API and later snapshots. No-op when the run id is stale.
func (st *Store) FinishRun(sessionID, runID string) {
	e, ok := st.entry(sessionID)
	if !ok {
		return
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.s.ActiveRun == nil || e.s.ActiveRun.ID != runID {
		return
	}
	e.s.LastRun = e.s.ActiveRun
	e.s.ActiveRun = nil
	e.s.CurrentStage = ""
	e.s.LastUpdated = time.Now().UTC()
}

// Delete removes a session outright.
func (st *Store) Delete(id string) {
	st.mu.Lock()
	defer st.mu.Unlock()
	delete(st.entries, id)
}

// Len returns the number of live sessions.
func (st *Store) Len() int {
	st.mu.RLock()
	defer st.mu.RUnlock()
	return len(st.entries)
}

// EvictIdle removes sessions idle for longer than ttl. Sessions with an
// active run are never evicted regardless of age.
func (st *Store) EvictIdle(ttl time.Duration) int {
	cutoff := time.Now().UTC().Add(-ttl)

	st.mu.Lock()
	defer st.mu.Unlock()
	evicted := 0
	for id, e := range st.entries {
		e.mu.Lock()
		idle := e.s.ActiveRun == nil && e.s.LastUpdated.Before(cutoff)
		e.mu.Unlock()
		if idle {
			delete(st.entries, id)
			evicted++
		}
	}
	if evicted > 0 {
		st.logger.Info("Evicted idle sessions", "count", evicted)
	}
	return evicted
}

func (st *Store) entry(id string) (*entry, bool) {
	st.mu.RLock()
	defer st.mu.RUnlock()
	e, ok := st.entries[id]
	return e, ok
}

// cloneSession copies the session for readers. Stage states are copied by
// value; output structs are shared because writers replace them wholesale
// and never mutate a published struct.
func cloneSession(s *models.Session) *models.Session {
	out := *s
	out.ActiveRun = cloneRun(s.ActiveRun)
	out.LastRun = cloneRun(s.LastRun)
	return &out
}

func cloneRun(r *models.Run) *models.Run {
	if r == nil {
		return nil
	}
	out := *r
	out.StageStates = make(map[models.StageID]*models.StageState, len(r.StageStates))
	for id, state := range r.StageStates {
		cp := *state
		out.StageStates[id] = &cp
	}
	return &out
}
