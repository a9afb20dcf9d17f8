package config

import (
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// Config is the resolved runtime configuration. Built from defaults, the
// optional mandi.yaml, and the enumerated environment overrides, in that
// order. Durations configured in seconds are exposed through accessors.
type Config struct {
	ListenAddr string `yaml:"listen_addr"`
	LogLevel   string `yaml:"log_level"`
	DryRun     bool   `yaml:"dry_run"`

	JournalPath string `yaml:"journal_path"`
	AuditPath   string `yaml:"audit_path"`

	// Connectors holds every configured connector keyed by id. Enabled is the
	// subset actually registered at startup (CONNECTORS env filter applied).
	Connectors map[string]*ConnectorConfig `yaml:"connectors"`
	Enabled    []string                    `yaml:"-"`

	// StageTimeoutsSec maps stage id → seconds. await_confirmation uses
	// ConfirmationTimeoutSec instead.
	StageTimeoutsSec       map[string]int `yaml:"stage_timeouts_sec"`
	PurchaseMaxRetries     int            `yaml:"purchase_max_retries"`
	ConfirmationTimeoutSec int            `yaml:"confirmation_timeout_sec"`

	IdempotencyWindowSec int                `yaml:"idempotency_window_sec"`
	IdempotencyBackend   IdempotencyBackend `yaml:"idempotency_backend"`
	RedisAddr            string             `yaml:"redis_addr"`

	Risk     RiskConfig     `yaml:"risk"`
	Ranking  RankingConfig  `yaml:"ranking"`
	Search   SearchConfig   `yaml:"search"`
	Events   EventsConfig   `yaml:"events"`
	Sessions SessionsConfig `yaml:"sessions"`
	User     UserConfig     `yaml:"user"`
	Slack    SlackConfig    `yaml:"slack"`
}

// ConnectorConfig describes one merchant connector.
type ConnectorConfig struct {
	Type ConnectorType `yaml:"type"`
	// Rating is the connector's base reliability in [0,1], used by ranking
	// and as the platform_health baseline.
	Rating float64 `yaml:"rating"`
	// SearchBudgetSec caps one search call to this connector; the fan-out
	// uses min(budget, remaining stage budget). 0 means the search default.
	SearchBudgetSec int `yaml:"search_budget_sec"`

	// Catalog connector settings.
	Catalog string `yaml:"catalog,omitempty"`

	// MCP connector settings.
	Transport   TransportType     `yaml:"transport,omitempty"`
	Command     string            `yaml:"command,omitempty"`
	Args        []string          `yaml:"args,omitempty"`
	Env         map[string]string `yaml:"env,omitempty"`
	URL         string            `yaml:"url,omitempty"`
	BearerToken string            `yaml:"bearer_token,omitempty"`
	Tools       ToolNames         `yaml:"tools,omitempty"`
}

// ToolNames overrides the MCP tool names a connector exposes.
type ToolNames struct {
	Search    string `yaml:"search,omitempty"`
	Order     string `yaml:"order,omitempty"`
	SubmitOTP string `yaml:"submit_otp,omitempty"`
}

// RiskConfig tunes the purchase risk assessment.
type RiskConfig struct {
	// CriticalThreshold: score above this is critical and blocks the purchase.
	CriticalThreshold int `yaml:"critical_threshold"`
	// BudgetLarge: order totals at or above this add the large-total factor.
	BudgetLarge float64 `yaml:"budget_large"`
	// HealthWindowSec: how long a connector stays disqualified after being
	// flagged unhealthy.
	HealthWindowSec int `yaml:"health_window_sec"`
}

// RankingConfig tunes the comparison stage.
type RankingConfig struct {
	// Weights per urgency (low, normal, high). Each weight vector is
	// normalized before use.
	Weights map[string]Weights `yaml:"weights"`
	// UrgentEtaMinutes: delivery_meets_urgency threshold for high urgency.
	UrgentEtaMinutes int `yaml:"urgent_eta_minutes"`
}

// Weights is a ranking weight vector.
type Weights struct {
	Delivery    float64 `yaml:"delivery"`
	Price       float64 `yaml:"price"`
	Reliability float64 `yaml:"reliability"`
}

// SearchConfig tunes the fan-out.
type SearchConfig struct {
	// MaxInflight is the system-wide cap on concurrent connector searches.
	MaxInflight int `yaml:"max_inflight"`
	// QueueLimit bounds how many searches may wait for an in-flight slot;
	// overflow aborts that run's search with overloaded.
	QueueLimit int `yaml:"queue_limit"`
	// PerConnectorBudgetSec is the default per-connector search timeout.
	PerConnectorBudgetSec int `yaml:"per_connector_budget_sec"`
}

// EventsConfig tunes the event bus.
type EventsConfig struct {
	// BufferSize is the per-subscriber bounded buffer; overflow drops the
	// oldest queued event and emits a dropped marker.
	BufferSize int `yaml:"buffer_size"`
}

// SessionsConfig tunes session retention.
type SessionsConfig struct {
	TTLSec           int `yaml:"ttl_sec"`
	SweepIntervalSec int `yaml:"sweep_interval_sec"`
}

// UserConfig is the static user context passed into connector orders.
type UserConfig struct {
	UserID  string  `yaml:"user_id"`
	Phone   string  `yaml:"phone"`
	Address string  `yaml:"address"`
	Budget  float64 `yaml:"budget"` // 0 = no budget policy
}

// SlackConfig enables the ops notifier when both fields are set.
type SlackConfig struct {
	Token   string `yaml:"token"`
	Channel string `yaml:"channel"`
}

// ────────────────────────────────────────────────────────────
// Duration accessors
// ────────────────────────────────────────────────────────────

// StageTimeout returns the deadline for one stage invocation.
func (c *Config) StageTimeout(stage models.StageID) time.Duration {
	if stage == models.StageAwaitConfirmation {
		return c.ConfirmationTimeout()
	}
	if sec, ok := c.StageTimeoutsSec[string(stage)]; ok && sec > 0 {
		return time.Duration(sec) * time.Second
	}
	return 5 * time.Second
}

// ConfirmationTimeout returns the await_confirmation deadline.
func (c *Config) ConfirmationTimeout() time.Duration {
	return time.Duration(c.ConfirmationTimeoutSec) * time.Second
}

// IdempotencyWindow returns the duplicate-order suppression window.
func (c *Config) IdempotencyWindow() time.Duration {
	return time.Duration(c.IdempotencyWindowSec) * time.Second
}

// HealthWindow returns the rolling window during which an unhealthy
// connector stays disqualified from decisions.
func (c *Config) HealthWindow() time.Duration {
	return time.Duration(c.Risk.HealthWindowSec) * time.Second
}

// SessionTTL returns the idle session eviction threshold.
func (c *Config) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLSec) * time.Second
}

// SweepInterval returns how often the eviction sweeper runs.
func (c *Config) SweepInterval() time.Duration {
	return time.Duration(c.Sessions.SweepIntervalSec) * time.Second
}

// PerConnectorBudget returns the search budget for one connector, honouring
// a per-connector override.
func (c *Config) PerConnectorBudget(connectorID string) time.Duration {
	if cc, ok := c.Connectors[connectorID]; ok && cc.SearchBudgetSec > 0 {
		return time.Duration(cc.SearchBudgetSec) * time.Second
	}
	return time.Duration(c.Search.PerConnectorBudgetSec) * time.Second
}

// UrgentEtaThreshold returns the delivery_meets_urgency cutoff.
func (c *Config) UrgentEtaThreshold() time.Duration {
	return time.Duration(c.Ranking.UrgentEtaMinutes) * time.Minute
}

// WeightsFor returns the normalized ranking weight vector for an urgency,
// falling back to the normal vector for unknown urgencies.
func (c *Config) WeightsFor(urgency models.Urgency) models.ScoreComponents {
	w, ok := c.Ranking.Weights[string(urgency)]
	if !ok {
		w = c.Ranking.Weights[string(models.UrgencyNormal)]
	}
	sum := w.Delivery + w.Price + w.Reliability
	if sum <= 0 {
		return models.ScoreComponents{Delivery: 1.0 / 3, Price: 1.0 / 3, Reliability: 1.0 / 3}
	}
	return models.ScoreComponents{
		Delivery:    w.Delivery / sum,
		Price:       w.Price / sum,
		Reliability: w.Reliability / sum,
	}
}

// ConnectorRating returns the configured base reliability for a connector,
// defaulting to 0.8 for unknown ids.
func (c *Config) ConnectorRating(connectorID string) float64 {
	if cc, ok := c.Connectors[connectorID]; ok && cc.Rating > 0 {
		return cc.Rating
	}
	return 0.8
}
