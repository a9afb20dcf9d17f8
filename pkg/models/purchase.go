package models

// PurchaseStatus is the terminal disposition of a purchase attempt chain.
type PurchaseStatus string

const (
	PurchaseSuccess PurchaseStatus = "success"
	PurchaseBlocked PurchaseStatus = "blocked"
	PurchaseFailed  PurchaseStatus = "failed"
)

// RiskLevel buckets a risk score: low ≤30, medium ≤60, high ≤80, critical above.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// PurchaseResult is the purchase stage output. A blocked or failed purchase
// is still a complete stage, never an engine error.
type PurchaseResult struct {
	Status       PurchaseStatus `json:"status"`
	PlatformUsed string         `json:"platform_used,omitempty"`
	OrderID      string         `json:"order_id,omitempty"`
	RiskScore    int            `json:"risk_score"`
	RiskLevel    RiskLevel      `json:"risk_level"`
	Attempts     int            `json:"attempts"`
	UsedFallback bool           `json:"used_fallback"`
	AuditIDs     []string       `json:"audit_ids,omitempty"`
	// FailureKind explains blocked/failed outcomes (risk_blocked,
	// confirmation_timeout, connector_unavailable, ...).
	FailureKind ErrorKind `json:"failure_kind,omitempty"`
	Message     string    `json:"message,omitempty"`
	DryRun      bool      `json:"dry_run,omitempty"`
}
