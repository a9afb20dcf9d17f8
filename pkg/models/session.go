package models

import "time"

// SessionPath records which branch the active run took.
type SessionPath string

const (
	PathUnknown  SessionPath = "unknown"
	PathPurchase SessionPath = "purchase"
	PathInfo     SessionPath = "info"
)

// Session is the per-conversation state. Identity persists across runs;
// stage outputs are append-only within a run and replaced on the next turn.
type Session struct {
	ID           string       `json:"id"`
	CreatedAt    time.Time    `json:"created_at"`
	LastUpdated  time.Time    `json:"last_updated"`
	CurrentStage StageID      `json:"current_stage,omitempty"`
	Path         SessionPath  `json:"path"`
	RequestText  string       `json:"request_text"`
	Outputs      StageOutputs `json:"outputs"`
	ActiveRun    *Run         `json:"active_run,omitempty"`
	// LastRun keeps the most recent finished run's terminal stage states so
	// snapshots and the session API survive run completion.
	LastRun *Run `json:"last_run,omitempty"`
}

// StageOutputs is the union of typed stage outputs accumulated in one run.
// Stage boundaries reject anything else; free-form payloads stay inside
// each output's Raw fields.
type StageOutputs struct {
	Intent   *Intent         `json:"intent,omitempty"`
	Plan     *Plan           `json:"plan,omitempty"`
	Search   *SearchHits     `json:"search,omitempty"`
	Ranking  *Ranking        `json:"ranking,omitempty"`
	Decision *Decision       `json:"decision,omitempty"`
	Purchase *PurchaseResult `json:"purchase,omitempty"`
	Info     *InfoAnswer     `json:"info,omitempty"`
	Notice   *Notice         `json:"notice,omitempty"`
}

// Run is one end-to-end pipeline execution for one user utterance.
// At most one run per session is active; starting a new one cancels the prior.
type Run struct {
	ID                   string                  `json:"run_id"`
	SessionID            string                  `json:"session_id"`
	StartedAt            time.Time               `json:"started_at"`
	StageStates          map[StageID]*StageState `json:"stage_states"`
	CancelRequested      bool                    `json:"cancel_requested"`
	AwaitingConfirmation bool                    `json:"awaiting_confirmation"`
}

// StageState tracks one stage's progress within a run.
type StageState struct {
	Status    StageStatus    `json:"status"`
	Message   string         `json:"message,omitempty"`
	Data      map[string]any `json:"data,omitempty"`
	StartedAt *time.Time     `json:"started_at,omitempty"`
	EndedAt   *time.Time     `json:"ended_at,omitempty"`
}

// InfoAnswer is the query_info stage output.
type InfoAnswer struct {
	Question string `json:"question"`
	Answer   string `json:"answer"`
	Source   string `json:"source,omitempty"`
}

// Notice is the notification stage output: the user-facing message for the
// run's outcome, rendered in the detected language.
type Notice struct {
	Message     string `json:"message"`
	Outcome     string `json:"outcome"`
	LanguageTag string `json:"language_tag"`
}
