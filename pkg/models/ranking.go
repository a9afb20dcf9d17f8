package models

// ScoreComponents are the three normalized ranking inputs, also used as the
// weight vector combining them.
type ScoreComponents struct {
	Delivery    float64 `json:"delivery"`
	Price       float64 `json:"price"`
	Reliability float64 `json:"reliability"`
}

// RankedProduct pairs a candidate with its score breakdown.
type RankedProduct struct {
	Product    Product         `json:"product"`
	Score      float64         `json:"score"`
	Components ScoreComponents `json:"components"`
}

// Ranking is the comparison stage output, ordered by descending score with
// deterministic tie-breaks (lower eta, then lower price, then insertion).
type Ranking struct {
	Products []RankedProduct `json:"products"`
	// Weights records the weight vector the scores were computed with.
	Weights ScoreComponents `json:"weights"`
}

// Decision is the decision stage output. Selected is nil when no candidate
// passed the policy gate; the pipeline then skips confirmation and purchase.
type Decision struct {
	Selected    *Product  `json:"selected,omitempty"`
	Fallbacks   []Product `json:"fallbacks,omitempty"`
	Reasoning   string    `json:"reasoning"`
	PolicyFlags []string  `json:"policy_flags,omitempty"`
	// RequiresConfirmation is false only for auto-buy (high urgency,
	// confident intent, clean policy pass); await_confirmation is skipped.
	RequiresConfirmation bool `json:"requires_confirmation"`
}

// Confirmation is the payload delivered into an await_confirmation rendezvous.
type Confirmation struct {
	Accepted      bool `json:"accepted"`
	SelectedIndex int  `json:"selected_index"`
}
