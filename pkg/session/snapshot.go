package session

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// Snapshot is the stable wire form of a session written into checkpoint
// records. It carries completed work only: stage states with a terminal
// status and the accumulated outputs. In-flight progress is deliberately
// absent, so a restore always lands on the last stage boundary.
//
// The encoding is byte-stable: snapshot → restore → snapshot yields the
// identical blob. Field order is fixed by this struct; map keys are sorted
// by encoding/json.
type Snapshot struct {
	ID          string                                 `json:"id"`
	CreatedAt   time.Time                              `json:"created_at"`
	LastUpdated time.Time                              `json:"last_updated"`
	Path        models.SessionPath                     `json:"path"`
	RequestText string                                 `json:"request_text"`
	RunID       string                                 `json:"run_id,omitempty"`
	Stages      map[models.StageID]*models.StageState `json:"stages,omitempty"`
	Outputs     models.StageOutputs                    `json:"outputs"`
}

// Snapshot serializes the session's completed state. The active run's
// terminal stage states are included; a stage still processing is omitted
// (it restores as idle). When no run is active the archived last run is
// used instead.
func (st *Store) Snapshot(sessionID string) ([]byte, error) {
	e, ok := st.entry(sessionID)
	if !ok {
		return nil, ErrNotFound
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	run := e.s.ActiveRun
	if run == nil {
		run = e.s.LastRun
	}

	snap := Snapshot{
		ID:          e.s.ID,
		CreatedAt:   e.s.CreatedAt,
		LastUpdated: e.s.LastUpdated,
		Path:        e.s.Path,
		RequestText: e.s.RequestText,
		Outputs:     e.s.Outputs,
	}
	if run != nil {
		snap.RunID = run.ID
		snap.Stages = terminalStages(run.StageStates)
	}

	data, err := json.Marshal(snap)
	if err != nil {
		return nil, fmt.Errorf("encoding session snapshot: %w", err)
	}
	return data, nil
}

// Restore installs a session from a snapshot blob, replacing any existing
// session with the same id. The restored session has no active run; stage
// states absent from the snapshot are idle by construction.
func (st *Store) Restore(raw []byte) (*models.Session, error) {
	var snap Snapshot
	if err := json.Unmarshal(raw, &snap); err != nil {
		return nil, fmt.Errorf("decoding session snapshot: %w", err)
	}
	if snap.ID == "" {
		return nil, fmt.Errorf("decoding session snapshot: missing session id")
	}

	s := &models.Session{
		ID:          snap.ID,
		CreatedAt:   snap.CreatedAt,
		LastUpdated: snap.LastUpdated,
		Path:        snap.Path,
		RequestText: snap.RequestText,
		Outputs:     snap.Outputs,
	}
	if snap.RunID != "" {
		s.LastRun = &models.Run{
			ID:          snap.RunID,
			SessionID:   snap.ID,
			StageStates: terminalStages(snap.Stages),
		}
	}

	st.mu.Lock()
	st.entries[snap.ID] = &entry{s: s}
	st.mu.Unlock()

	st.logger.Info("Session restored from snapshot",
		"session_id", snap.ID, "run_id", snap.RunID)
	return cloneSession(s), nil
}

// terminalStages filters a stage-state map down to terminal entries.
func terminalStages(states map[models.StageID]*models.StageState) map[models.StageID]*models.StageState {
	out := make(map[models.StageID]*models.StageState, len(states))
	for id, state := range states {
		if state == nil || !state.Status.Terminal() {
			continue
		}
		cp := *state
		out[id] = &cp
	}
	if len(out) == 0 {
		return nil
	}
	return out
}
