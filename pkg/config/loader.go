// Package config loads and validates the orchestrator configuration.
//
// Resolution order (later layers win):
//  1. built-in defaults (DefaultConfig)
//  2. mandi.yaml from the config directory, env-template expanded
//  3. enumerated environment variables (CONNECTORS, DRY_RUN, ...)
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"

	"github.com/kiranamart/mandi/pkg/models"
)

// ConfigFileName is the optional YAML file looked up in the config directory.
const ConfigFileName = "mandi.yaml"

// Load builds the runtime configuration for the given config directory.
func Load(configDir string) (*Config, error) {
	cfg := DefaultConfig()

	path := filepath.Join(configDir, ConfigFileName)
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		fileCfg := &Config{}
		if err := yaml.Unmarshal(ExpandEnv(data), fileCfg); err != nil {
			return nil, NewLoadError(path, fmt.Errorf("%w: %v", ErrInvalidYAML, err))
		}
		// A file-defined connector set replaces the builtin catalog set
		// wholesale; merging the two maps would leave ghost connectors
		// no deployment asked for.
		if len(fileCfg.Connectors) > 0 {
			cfg.Connectors = fileCfg.Connectors
			fileCfg.Connectors = nil
		}
		if err := mergo.Merge(cfg, fileCfg, mergo.WithOverride); err != nil {
			return nil, NewLoadError(path, err)
		}
		slog.Info("Loaded configuration file", "path", path)
	case os.IsNotExist(err):
		slog.Info("No configuration file, using defaults", "path", path)
	default:
		return nil, NewLoadError(path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.resolveEnabled(); err != nil {
		return nil, err
	}

	if err := NewValidator(cfg).ValidateAll(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrValidationFailed, err)
	}

	return cfg, nil
}

// applyEnvOverrides applies the enumerated environment variables on top of
// the file/default layers.
func applyEnvOverrides(cfg *Config) {
	setString(&cfg.ListenAddr, "LISTEN_ADDR")
	setString(&cfg.LogLevel, "LOG_LEVEL")
	setBool(&cfg.DryRun, "DRY_RUN")
	setString(&cfg.JournalPath, "JOURNAL_PATH")
	setString(&cfg.AuditPath, "AUDIT_PATH")
	setInt(&cfg.PurchaseMaxRetries, "PURCHASE_MAX_RETRIES")
	setInt(&cfg.Risk.CriticalThreshold, "RISK_CRITICAL_THRESHOLD")
	setInt(&cfg.ConfirmationTimeoutSec, "CONFIRMATION_TIMEOUT_SEC")
	setInt(&cfg.IdempotencyWindowSec, "IDEMPOTENCY_WINDOW_SEC")
	setInt(&cfg.Sessions.TTLSec, "SESSION_TTL_SEC")
	setInt(&cfg.Search.MaxInflight, "SEARCH_MAX_INFLIGHT")
	setInt(&cfg.Search.QueueLimit, "SEARCH_QUEUE_LIMIT")
	setString(&cfg.RedisAddr, "REDIS_ADDR")
	setString(&cfg.Slack.Token, "SLACK_BOT_TOKEN")
	setString(&cfg.Slack.Channel, "SLACK_CHANNEL_ID")

	if v := os.Getenv("IDEMPOTENCY_BACKEND"); v != "" {
		cfg.IdempotencyBackend = IdempotencyBackend(v)
	}

	// PER_STAGE_TIMEOUT_SEARCH=15 overrides one stage's deadline in seconds.
	for _, stage := range models.PipelineStages {
		key := "PER_STAGE_TIMEOUT_" + strings.ToUpper(string(stage))
		v, err := strconv.Atoi(os.Getenv(key))
		if err != nil || v <= 0 {
			continue
		}
		if stage == models.StageAwaitConfirmation {
			cfg.ConfirmationTimeoutSec = v
		} else {
			cfg.StageTimeoutsSec[string(stage)] = v
		}
	}
}

// resolveEnabled computes the enabled connector set from the CONNECTORS
// filter. Unset means every configured connector.
func (c *Config) resolveEnabled() error {
	c.Enabled = c.Enabled[:0]

	if raw := os.Getenv("CONNECTORS"); raw != "" {
		for _, id := range strings.Split(raw, ",") {
			id = strings.TrimSpace(id)
			if id == "" {
				continue
			}
			if _, ok := c.Connectors[id]; !ok {
				return fmt.Errorf("%w: %q listed in CONNECTORS", ErrConnectorNotFound, id)
			}
			c.Enabled = append(c.Enabled, id)
		}
	} else {
		for id := range c.Connectors {
			c.Enabled = append(c.Enabled, id)
		}
		sort.Strings(c.Enabled)
	}

	if len(c.Enabled) == 0 {
		return ErrNoConnectorsEnabled
	}
	return nil
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}
