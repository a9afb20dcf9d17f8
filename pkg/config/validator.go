package config

import (
	"fmt"

	"github.com/kiranamart/mandi/pkg/models"
)

// ConfigValidator validates configuration comprehensively with clear error messages
type ConfigValidator struct {
	cfg *Config
}

// NewValidator creates a validator for the given configuration
func NewValidator(cfg *Config) *ConfigValidator {
	return &ConfigValidator{cfg: cfg}
}

// ValidateAll performs comprehensive validation (fail-fast - stops at first error)
func (v *ConfigValidator) ValidateAll() error {
	if err := v.validateCore(); err != nil {
		return fmt.Errorf("core validation failed: %w", err)
	}
	if err := v.validateConnectors(); err != nil {
		return fmt.Errorf("connector validation failed: %w", err)
	}
	if err := v.validateRanking(); err != nil {
		return fmt.Errorf("ranking validation failed: %w", err)
	}
	if err := v.validateRisk(); err != nil {
		return fmt.Errorf("risk validation failed: %w", err)
	}
	if err := v.validateSearch(); err != nil {
		return fmt.Errorf("search validation failed: %w", err)
	}
	return nil
}

func (v *ConfigValidator) validateCore() error {
	c := v.cfg
	if c.ListenAddr == "" {
		return NewValidationError("core", "listen_addr", "", ErrMissingRequiredField)
	}
	if c.JournalPath == "" {
		return NewValidationError("core", "journal_path", "", ErrMissingRequiredField)
	}
	if c.AuditPath == "" {
		return NewValidationError("core", "audit_path", "", ErrMissingRequiredField)
	}
	if c.PurchaseMaxRetries < 1 {
		return NewValidationError("core", "purchase_max_retries", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.ConfirmationTimeoutSec < 1 {
		return NewValidationError("core", "confirmation_timeout_sec", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if c.IdempotencyWindowSec < 0 {
		return NewValidationError("core", "idempotency_window_sec", "", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if !c.IdempotencyBackend.IsValid() {
		return NewValidationError("core", "idempotency_backend", "", fmt.Errorf("%w: %q", ErrInvalidValue, c.IdempotencyBackend))
	}
	if c.IdempotencyBackend == IdempotencyBackendRedis && c.RedisAddr == "" {
		return NewValidationError("core", "redis_addr", "", fmt.Errorf("%w: required for redis idempotency backend", ErrMissingRequiredField))
	}
	if c.Events.BufferSize < 1 {
		return NewValidationError("core", "events.buffer_size", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	for stage, sec := range c.StageTimeoutsSec {
		if !models.StageID(stage).IsValid() {
			return NewValidationError("core", "stage_timeouts_sec", stage, fmt.Errorf("%w: unknown stage", ErrInvalidValue))
		}
		if sec < 1 {
			return NewValidationError("core", "stage_timeouts_sec", stage, fmt.Errorf("%w: must be at least 1 second", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateConnectors() error {
	for _, id := range v.cfg.Enabled {
		cc := v.cfg.Connectors[id]
		if cc == nil {
			return NewValidationError("connector", id, "", ErrConnectorNotFound)
		}
		if !cc.Type.IsValid() {
			return NewValidationError("connector", id, "type", fmt.Errorf("%w: %q", ErrInvalidValue, cc.Type))
		}
		if cc.Rating < 0 || cc.Rating > 1 {
			return NewValidationError("connector", id, "rating", fmt.Errorf("%w: must be within [0,1]", ErrInvalidValue))
		}
		switch cc.Type {
		case ConnectorTypeCatalog:
			if cc.Catalog == "" {
				return NewValidationError("connector", id, "catalog", ErrMissingRequiredField)
			}
		case ConnectorTypeMCP:
			if !cc.Transport.IsValid() {
				return NewValidationError("connector", id, "transport", fmt.Errorf("%w: %q", ErrInvalidValue, cc.Transport))
			}
			if cc.Transport == TransportTypeStdio && cc.Command == "" {
				return NewValidationError("connector", id, "command", ErrMissingRequiredField)
			}
			if cc.Transport == TransportTypeHTTP && cc.URL == "" {
				return NewValidationError("connector", id, "url", ErrMissingRequiredField)
			}
		}
	}
	return nil
}

func (v *ConfigValidator) validateRanking() error {
	r := v.cfg.Ranking
	if r.UrgentEtaMinutes < 1 {
		return NewValidationError("ranking", "urgent_eta_minutes", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	for urgency, w := range r.Weights {
		switch models.Urgency(urgency) {
		case models.UrgencyLow, models.UrgencyNormal, models.UrgencyHigh:
		default:
			return NewValidationError("ranking", "weights", urgency, fmt.Errorf("%w: unknown urgency", ErrInvalidValue))
		}
		if w.Delivery < 0 || w.Price < 0 || w.Reliability < 0 {
			return NewValidationError("ranking", "weights", urgency, fmt.Errorf("%w: weights must not be negative", ErrInvalidValue))
		}
		if w.Delivery+w.Price+w.Reliability <= 0 {
			return NewValidationError("ranking", "weights", urgency, fmt.Errorf("%w: weights must sum above zero", ErrInvalidValue))
		}
	}
	return nil
}

func (v *ConfigValidator) validateRisk() error {
	r := v.cfg.Risk
	if r.CriticalThreshold < 1 || r.CriticalThreshold > 100 {
		return NewValidationError("risk", "critical_threshold", "", fmt.Errorf("%w: must be within [1,100]", ErrInvalidValue))
	}
	if r.BudgetLarge < 0 {
		return NewValidationError("risk", "budget_large", "", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if r.HealthWindowSec < 0 {
		return NewValidationError("risk", "health_window_sec", "", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	return nil
}

func (v *ConfigValidator) validateSearch() error {
	s := v.cfg.Search
	if s.MaxInflight < 1 {
		return NewValidationError("search", "max_inflight", "", fmt.Errorf("%w: must be at least 1", ErrInvalidValue))
	}
	if s.QueueLimit < 0 {
		return NewValidationError("search", "queue_limit", "", fmt.Errorf("%w: must not be negative", ErrInvalidValue))
	}
	if s.PerConnectorBudgetSec < 1 {
		return NewValidationError("search", "per_connector_budget_sec", "", fmt.Errorf("%w: must be at least 1 second", ErrInvalidValue))
	}
	return nil
}
