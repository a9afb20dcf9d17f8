package config

import "github.com/kiranamart/mandi/pkg/models"

// DefaultConfig returns the built-in defaults. The file and environment
// layers override individual fields; anything left untouched here must be a
// value the orchestrator can actually run with.
func DefaultConfig() *Config {
	return &Config{
		ListenAddr: ":8090",
		LogLevel:   "info",
		DryRun:     false,

		JournalPath: "data/journal.ndjson",
		AuditPath:   "data/audit.ndjson",

		Connectors: defaultConnectors(),

		StageTimeoutsSec: map[string]int{
			string(models.StageIntentExtraction): 5,
			string(models.StageTaskPlanning):     5,
			string(models.StageSearch):           10,
			string(models.StageComparison):       5,
			string(models.StageDecision):         5,
			string(models.StagePurchase):         60,
			string(models.StageQueryInfo):        5,
			string(models.StageNotification):     5,
		},
		PurchaseMaxRetries:     3,
		ConfirmationTimeoutSec: 300,

		IdempotencyWindowSec: 300,
		IdempotencyBackend:   IdempotencyBackendMemory,

		Risk: RiskConfig{
			CriticalThreshold: 80,
			BudgetLarge:       2000,
			HealthWindowSec:   300,
		},
		Ranking: RankingConfig{
			UrgentEtaMinutes: 60,
			Weights: map[string]Weights{
				string(models.UrgencyLow):    {Delivery: 0.10, Price: 0.45, Reliability: 0.45},
				string(models.UrgencyNormal): {Delivery: 0.25, Price: 0.40, Reliability: 0.35},
				string(models.UrgencyHigh):   {Delivery: 0.50, Price: 0.15, Reliability: 0.35},
			},
		},
		Search: SearchConfig{
			MaxInflight:           16,
			QueueLimit:            32,
			PerConnectorBudgetSec: 8,
		},
		Events: EventsConfig{
			BufferSize: 64,
		},
		Sessions: SessionsConfig{
			TTLSec:           3600,
			SweepIntervalSec: 300,
		},
		User: UserConfig{
			UserID: "default",
		},
	}
}

// defaultConnectors are the built-in catalog connectors. Ratings follow the
// platforms' observed reliability; a deployment overrides or replaces these
// with MCP-backed connectors in mandi.yaml.
func defaultConnectors() map[string]*ConnectorConfig {
	return map[string]*ConnectorConfig{
		"zepto":    {Type: ConnectorTypeCatalog, Catalog: "zepto", Rating: 0.90},
		"blinkit":  {Type: ConnectorTypeCatalog, Catalog: "blinkit", Rating: 0.85},
		"amazon":   {Type: ConnectorTypeCatalog, Catalog: "amazon", Rating: 0.80},
		"flipkart": {Type: ConnectorTypeCatalog, Catalog: "flipkart", Rating: 0.75},
	}
}
