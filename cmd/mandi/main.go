// mandi orchestrator server — provides the HTTP and WebSocket API, runs the
// conversational purchase pipeline, and manages merchant connectors.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/joho/godotenv"

	"github.com/kiranamart/mandi/pkg/api"
	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/connector/catalog"
	"github.com/kiranamart/mandi/pkg/connector/mcpshop"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/pipeline"
	"github.com/kiranamart/mandi/pkg/purchase"
	"github.com/kiranamart/mandi/pkg/session"
	"github.com/kiranamart/mandi/pkg/slack"
	"github.com/kiranamart/mandi/pkg/version"
)

// journalWatchInterval is how often the journal health watcher polls.
const journalWatchInterval = 15 * time.Second

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// resolveInstanceID determines the instance identifier stamped on audit
// records. Priority: INSTANCE_ID env > HOSTNAME env > "local"
func resolveInstanceID() string {
	if id := os.Getenv("INSTANCE_ID"); id != "" {
		return id
	}
	if hostname := os.Getenv("HOSTNAME"); hostname != "" {
		return hostname
	}
	return "local"
}

// setupLogging replaces the default logger with a text handler at the
// configured level. Unknown levels fall back to info.
func setupLogging(level string) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		slog.Warn("Unknown log level, using info", "log_level", level)
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}

// registerConnectors builds one connector per enabled id and adds it to the
// registry. A single bad connector is fatal: a deployment that names a
// connector expects it to be reachable.
func registerConnectors(cfg *config.Config, registry *connector.Registry) error {
	for _, id := range cfg.Enabled {
		cc := cfg.Connectors[id]
		var (
			conn connector.Connector
			err  error
		)
		switch cc.Type {
		case config.ConnectorTypeCatalog:
			conn, err = catalog.Builtin(id, cc.Catalog)
		case config.ConnectorTypeMCP:
			conn, err = mcpshop.New(id, *cc)
		default:
			err = fmt.Errorf("unknown connector type %q", cc.Type)
		}
		if err != nil {
			return fmt.Errorf("connector %s: %w", id, err)
		}
		if err := registry.Add(conn); err != nil {
			return fmt.Errorf("connector %s: %w", id, err)
		}
		slog.Info("Connector registered", "connector_id", id, "type", cc.Type)
	}
	return nil
}

// watchJournalHealth pages the ops channel once when the checkpoint journal
// or the audit log degrades. Both fail sticky, so one page per file is
// enough; repeats would be noise.
func watchJournalHealth(ctx context.Context, cfg *config.Config, jnl *journal.Journal, audit *journal.AuditLog, notifier *slack.Notifier) {
	ticker := time.NewTicker(journalWatchInterval)
	defer ticker.Stop()

	var journalPaged, auditPaged bool
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if !journalPaged && !jnl.Healthy() {
				notifier.NotifyJournalDegraded(ctx, cfg.JournalPath, nil)
				journalPaged = true
			}
			if !auditPaged && !audit.Healthy() {
				notifier.NotifyJournalDegraded(ctx, cfg.AuditPath, nil)
				auditPaged = true
			}
		}
	}
}

// Startup exit codes: 2 bad configuration, 3 journal or audit log
// unwritable, 4 unusable connector set. Anything else fatal exits 1.
func main() {
	// Parse command-line flags
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// Load .env file from config directory
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("Could not load .env file, continuing with existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	instanceID := resolveInstanceID()

	slog.Info("Starting mandi",
		"version", version.Full(),
		"instance_id", instanceID,
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Load configuration
	cfg, err := config.Load(*configDir)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		if errors.Is(err, config.ErrNoConnectorsEnabled) {
			os.Exit(4)
		}
		os.Exit(2)
	}
	setupLogging(cfg.LogLevel)

	// 2. Open the checkpoint journal and the audit log
	jnl, err := journal.Open(cfg.JournalPath)
	if err != nil {
		slog.Error("Failed to open checkpoint journal", "path", cfg.JournalPath, "error", err)
		os.Exit(3)
	}
	defer func() {
		if err := jnl.Close(); err != nil {
			slog.Error("Error closing checkpoint journal", "error", err)
		}
	}()

	audit, err := journal.OpenAudit(cfg.AuditPath, instanceID)
	if err != nil {
		slog.Error("Failed to open audit log", "path", cfg.AuditPath, "error", err)
		os.Exit(3)
	}
	defer func() {
		if err := audit.Close(); err != nil {
			slog.Error("Error closing audit log", "error", err)
		}
	}()
	slog.Info("Journals open", "journal", cfg.JournalPath, "audit", cfg.AuditPath)

	// 3. Session store — replay surviving sessions from the journal
	store := session.NewStore()
	snaps, err := journal.LastSnapshots(cfg.JournalPath)
	if err != nil {
		slog.Warn("Could not replay session journal, starting empty",
			"path", cfg.JournalPath, "error", err)
	} else if len(snaps) > 0 {
		restored := 0
		for id, raw := range snaps {
			if _, err := store.Restore(raw); err != nil {
				slog.Warn("Skipping unreadable session snapshot", "session_id", id, "error", err)
				continue
			}
			restored++
		}
		slog.Info("Sessions restored from journal", "count", restored)
	}

	sweeper := session.NewSweeper(store, cfg.SessionTTL(), cfg.SweepInterval())
	sweeper.Start(ctx)
	defer sweeper.Stop()

	// 4. Event relay
	bus := events.NewBus(cfg.Events.BufferSize)
	defer bus.Close()
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus)

	// 5. Merchant connectors and health monitoring
	registry := connector.NewRegistry()
	if err := registerConnectors(cfg, registry); err != nil {
		slog.Error("Failed to register connectors", "error", err)
		os.Exit(4)
	}

	warnings := connector.NewSystemWarnings()
	monitor := connector.NewHealthMonitor(registry, warnings, cfg.HealthWindow())
	monitor.Start(ctx)
	defer monitor.Stop()

	// 6. Purchase machinery
	hub := pipeline.NewConfirmationHub()
	otp := connector.NewOTPGateway(connector.DefaultOTPTimeout)

	var idem purchase.IdempotencyStore
	if cfg.IdempotencyBackend == config.IdempotencyBackendRedis {
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := client.Ping(ctx).Err(); err != nil {
			slog.Error("Failed to connect to Redis", "addr", cfg.RedisAddr, "error", err)
			os.Exit(1)
		}
		defer func() {
			if err := client.Close(); err != nil {
				slog.Error("Error closing Redis client", "error", err)
			}
		}()
		idem = purchase.NewRedisStore(client, cfg.IdempotencyWindow())
		slog.Info("Idempotency index on Redis", "addr", cfg.RedisAddr)
	} else {
		idem = purchase.NewMemoryStore(cfg.IdempotencyWindow())
	}

	notifier := slack.NewNotifier(slack.NotifierConfig{
		Token:    cfg.Slack.Token,
		Channel:  cfg.Slack.Channel,
		Warnings: warnings,
	})
	if notifier != nil {
		slog.Info("Slack notifications enabled", "channel", cfg.Slack.Channel)
		watchCtx, watchCancel := context.WithCancel(ctx)
		defer watchCancel()
		go watchJournalHealth(watchCtx, cfg, jnl, audit, notifier)
	}

	executor := purchase.NewExecutor(cfg, registry, monitor, audit, publisher, hub, otp, idem, notifier)

	// 7. Pipeline engine and run manager
	gate := pipeline.NewGate(cfg.Search.MaxInflight, cfg.Search.QueueLimit)
	searcher := pipeline.NewSearcher(cfg, registry, monitor, gate)
	engine := pipeline.NewEngine(cfg, store, jnl, audit, publisher, searcher, hub, monitor, executor)
	manager := pipeline.NewRunManager(store, engine)

	// 8. Create HTTP server
	server := api.NewServer(cfg, store, manager, hub, connManager)
	server.SetOTPGateway(otp)
	server.SetHealthMonitor(monitor)
	server.SetSystemWarnings(warnings)
	server.SetJournal(jnl)
	server.SetAuditLog(audit)
	if err := server.ValidateWiring(); err != nil {
		slog.Error("Server wiring incomplete", "error", err)
		os.Exit(1)
	}

	// 9. Start HTTP server (non-blocking)
	errCh := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", cfg.ListenAddr)
		if err := server.Start(cfg.ListenAddr); err != nil {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("mandi started successfully",
		"instance_id", instanceID,
		"connectors", registry.Len(),
		"dry_run", cfg.DryRun)

	// 10. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server error triggered shutdown", "error", err)
	}

	// 11. Graceful shutdown: drain active runs, then stop the HTTP server.
	// The deferred closes handle the monitor, sweeper, bus and journals.
	drainCtx, drainCancel := context.WithTimeout(ctx, 10*time.Second)
	defer drainCancel()

	done := make(chan struct{})
	go func() {
		manager.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Run manager stopped gracefully")
	case <-drainCtx.Done():
		slog.Warn("Run drain timeout exceeded, unfinished runs were cancelled")
	}

	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := server.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}

	slog.Info("Shutdown complete")
}
