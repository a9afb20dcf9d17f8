package models

// StageID identifies a pipeline stage. The set is fixed: pipelines are
// selections over this list via predicates, never arbitrary graphs.
type StageID string

const (
	StageIntentExtraction  StageID = "intent_extraction"
	StageTaskPlanning      StageID = "task_planning"
	StageSearch            StageID = "search"
	StageComparison        StageID = "comparison"
	StageDecision          StageID = "decision"
	StageAwaitConfirmation StageID = "await_confirmation"
	StagePurchase          StageID = "purchase"
	StageQueryInfo         StageID = "query_info"
	StageNotification      StageID = "notification"
)

// PipelineStages is the canonical node order. Every run walks this list;
// nodes whose predicate is false are marked skipped.
var PipelineStages = []StageID{
	StageIntentExtraction,
	StageTaskPlanning,
	StageSearch,
	StageComparison,
	StageDecision,
	StageAwaitConfirmation,
	StagePurchase,
	StageQueryInfo,
	StageNotification,
}

// IsValid checks if the stage id is one of the canonical stages.
func (s StageID) IsValid() bool {
	switch s {
	case StageIntentExtraction, StageTaskPlanning, StageSearch,
		StageComparison, StageDecision, StageAwaitConfirmation,
		StagePurchase, StageQueryInfo, StageNotification:
		return true
	default:
		return false
	}
}

// StageStatus is the lifecycle status of one stage within one run.
type StageStatus string

const (
	StageStatusIdle       StageStatus = "idle"
	StageStatusProcessing StageStatus = "processing"
	StageStatusComplete   StageStatus = "complete"
	StageStatusError      StageStatus = "error"
	StageStatusSkipped    StageStatus = "skipped"
)

// Terminal reports whether the status is final for the stage.
func (s StageStatus) Terminal() bool {
	return s == StageStatusComplete || s == StageStatusError || s == StageStatusSkipped
}
