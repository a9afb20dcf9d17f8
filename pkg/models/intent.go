package models

// IntentKind classifies what the user asked for.
type IntentKind string

const (
	IntentPurchase IntentKind = "purchase"
	IntentInfo     IntentKind = "info"
	IntentClarify  IntentKind = "clarify"
)

// Urgency is how soon the user wants the items.
type Urgency string

const (
	UrgencyLow    Urgency = "low"
	UrgencyNormal Urgency = "normal"
	UrgencyHigh   Urgency = "high"
)

// Intent is the intent_extraction stage output.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Item       string     `json:"item,omitempty"`
	Items      []string   `json:"items,omitempty"`
	Quantity   float64    `json:"quantity,omitempty"`
	Unit       string     `json:"unit,omitempty"`
	Urgency    Urgency    `json:"urgency"`
	Confidence float64    `json:"confidence"`
	// LanguageTag is "hi-en" for Hinglish input, "en" otherwise. It selects
	// the notification template language.
	LanguageTag string `json:"language_tag"`
	// Clarification is the question to ask when Kind is clarify.
	Clarification string `json:"clarification,omitempty"`
}

// Plan is the task_planning stage output: the ordered stage ids this run
// will execute. Node predicates consult Includes.
type Plan struct {
	Stages  []StageID  `json:"stages"`
	Summary string     `json:"summary"`
	Steps   []PlanStep `json:"steps,omitempty"`
}

// PlanStep is a human-readable description of one planned stage.
type PlanStep struct {
	Stage       StageID `json:"stage"`
	Description string  `json:"description"`
}

// Includes reports whether the plan selects the given stage.
func (p *Plan) Includes(id StageID) bool {
	if p == nil {
		return false
	}
	for _, s := range p.Stages {
		if s == id {
			return true
		}
	}
	return false
}
