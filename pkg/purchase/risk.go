// Package purchase implements the transactional purchase executor: staged
// pre-validation, risk assessment, idempotent replay, order execution with
// bounded retries, fallback iteration, and a durable audit trail.
package purchase

import "github.com/kiranamart/mandi/pkg/models"

// Risk factor weights. Scores are additive, clamped to 100.
const (
	factorPriceSpike   = 40
	factorOutOfStock   = 20
	factorPlatformWeak = 20
	factorLargeTotal   = 20
	factorDuplicate    = 30
)

// priceSpikeThreshold is the fractional price increase that counts as a
// spike; healthFloor is the rolling success ratio below which a platform is
// considered weak.
const (
	priceSpikeThreshold = 0.5
	healthFloor         = 0.5
)

// defaultCriticalThreshold blocks purchases scoring above it when no
// configured threshold is present.
const defaultCriticalThreshold = 80

// RiskInput gathers the assessment signals from pre-validation, the health
// monitor, and the idempotency store.
type RiskInput struct {
	// PriceDelta is the fractional change from the decided price, e.g. 1.2
	// when the price more than doubled.
	PriceDelta float64
	OutOfStock bool
	// PlatformHealth is the connector's rolling success ratio in [0,1].
	PlatformHealth float64
	// Total is the order total; BudgetLarge is the configured large-order
	// threshold (0 disables the factor).
	Total       float64
	BudgetLarge float64
	// Duplicate is true when the idempotency key was already seen within the
	// suppression window.
	Duplicate bool
}

// RiskAssessment is the scored outcome.
type RiskAssessment struct {
	Score   int              `json:"score"`
	Level   models.RiskLevel `json:"level"`
	Factors []string         `json:"factors,omitempty"`
}

// AssessRisk scores the purchase. criticalThreshold bounds the critical
// band; scores above it block the purchase outright.
func AssessRisk(in RiskInput, criticalThreshold int) RiskAssessment {
	score := 0
	var factors []string

	if in.PriceDelta >= priceSpikeThreshold {
		score += factorPriceSpike
		factors = append(factors, "price_spike")
	}
	if in.OutOfStock {
		score += factorOutOfStock
		factors = append(factors, "out_of_stock")
	}
	if in.PlatformHealth < healthFloor {
		score += factorPlatformWeak
		factors = append(factors, "platform_health")
	}
	if in.BudgetLarge > 0 && in.Total >= in.BudgetLarge {
		score += factorLargeTotal
		factors = append(factors, "large_total")
	}
	if in.Duplicate {
		score += factorDuplicate
		factors = append(factors, "duplicate_request")
	}
	if score > 100 {
		score = 100
	}

	return RiskAssessment{
		Score:   score,
		Level:   riskLevel(score, criticalThreshold),
		Factors: factors,
	}
}

// riskLevel buckets a score: low ≤30, medium ≤60, high ≤ critical threshold,
// critical above it.
func riskLevel(score, criticalThreshold int) models.RiskLevel {
	if criticalThreshold <= 0 {
		criticalThreshold = defaultCriticalThreshold
	}
	switch {
	case score > criticalThreshold:
		return models.RiskCritical
	case score > 60:
		return models.RiskHigh
	case score > 30:
		return models.RiskMedium
	default:
		return models.RiskLow
	}
}
