// Package e2e provides end-to-end test infrastructure for the mandi
// orchestrator: a full in-process instance with catalog connectors, journals
// in a temp dir, and the HTTP/WebSocket API on an ephemeral port.
package e2e

import (
	"context"
	"fmt"
	"net"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/api"
	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/connector/catalog"
	"github.com/kiranamart/mandi/pkg/events"
	"github.com/kiranamart/mandi/pkg/journal"
	"github.com/kiranamart/mandi/pkg/pipeline"
	"github.com/kiranamart/mandi/pkg/purchase"
	"github.com/kiranamart/mandi/pkg/session"
	mandislack "github.com/kiranamart/mandi/pkg/slack"
)

// TestApp boots a complete mandi instance for e2e testing.
type TestApp struct {
	// Core
	Config *config.Config
	Store  *session.Store

	// Real infrastructure
	Journal     *journal.Journal
	Audit       *journal.AuditLog
	Bus         *events.Bus
	Publisher   *events.Publisher
	ConnManager *events.ConnectionManager
	Registry    *connector.Registry
	Warnings    *connector.SystemWarnings
	Monitor     *connector.HealthMonitor
	Hub         *pipeline.ConfirmationHub
	OTP         *connector.OTPGateway
	Idem        *purchase.MemoryStore
	Executor    *purchase.Executor
	Manager     *pipeline.RunManager
	Server      *api.Server

	// Runtime
	BaseURL string // e.g. "http://127.0.0.1:54321"
	WSURL   string // e.g. "ws://127.0.0.1:54321"
	DataDir string

	t        *testing.T
	stopOnce sync.Once
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	cfg         *config.Config
	connectors  []connector.Connector
	dataDir     string
	slackClient *mandislack.Client
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithConfig sets a custom config.
func WithConfig(cfg *config.Config) TestAppOption {
	return func(c *testAppConfig) { c.cfg = cfg }
}

// WithConnectors replaces the default catalog connectors with the given set.
func WithConnectors(conns ...connector.Connector) TestAppOption {
	return func(c *testAppConfig) { c.connectors = conns }
}

// WithDataDir pins the journal directory instead of a fresh t.TempDir().
// Restart tests boot a second TestApp on the first one's data dir so the
// session journal replays.
func WithDataDir(dir string) TestAppOption {
	return func(c *testAppConfig) { c.dataDir = dir }
}

// WithSlackClient wires an ops notifier backed by the given client. Used for
// testing Slack paging against a mock API server.
func WithSlackClient(client *mandislack.Client) TestAppOption {
	return func(c *testAppConfig) { c.slackClient = client }
}

// NewTestApp creates and starts a full mandi test instance.
// Shutdown is registered via t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	// Apply options.
	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}
	if tc.cfg == nil {
		tc.cfg = defaultTestConfig()
	}
	cfg := tc.cfg

	dataDir := tc.dataDir
	if dataDir == "" {
		dataDir = t.TempDir()
	}
	cfg.JournalPath = filepath.Join(dataDir, "journal.ndjson")
	cfg.AuditPath = filepath.Join(dataDir, "audit.ndjson")

	ctx := context.Background()

	// 1. Journals.
	jnl, err := journal.Open(cfg.JournalPath)
	require.NoError(t, err)
	audit, err := journal.OpenAudit(cfg.AuditPath, fmt.Sprintf("e2e-%s", t.Name()))
	require.NoError(t, err)

	// 2. Session store. A fresh data dir replays nothing; a shared one
	// restores whatever the previous instance checkpointed.
	store := session.NewStore()
	snaps, err := journal.LastSnapshots(cfg.JournalPath)
	require.NoError(t, err)
	for _, raw := range snaps {
		_, rerr := store.Restore(raw)
		require.NoError(t, rerr)
	}

	// 3. Event bus and WebSocket plumbing.
	bus := events.NewBus(cfg.Events.BufferSize)
	publisher := events.NewPublisher(bus)
	connManager := events.NewConnectionManager(bus)

	// 4. Connectors.
	registry := connector.NewRegistry()
	conns := tc.connectors
	if len(conns) == 0 {
		conns = builtinConnectors(t, cfg)
	}
	for _, c := range conns {
		require.NoError(t, registry.Add(c))
	}

	warnings := connector.NewSystemWarnings()
	monitor := connector.NewHealthMonitor(registry, warnings, cfg.HealthWindow())
	monitor.Start(ctx)

	// 5. Purchase executor.
	hub := pipeline.NewConfirmationHub()
	otp := connector.NewOTPGateway(30 * time.Second)
	idem := purchase.NewMemoryStore(cfg.IdempotencyWindow())
	var notifier *mandislack.Notifier
	if tc.slackClient != nil {
		notifier = mandislack.NewNotifierWithClient(tc.slackClient, warnings)
	}
	executor := purchase.NewExecutor(cfg, registry, monitor, audit, publisher, hub, otp, idem, notifier)

	// 6. Pipeline.
	gate := pipeline.NewGate(cfg.Search.MaxInflight, cfg.Search.QueueLimit)
	searcher := pipeline.NewSearcher(cfg, registry, monitor, gate)
	engine := pipeline.NewEngine(cfg, store, jnl, audit, publisher, searcher, hub, monitor, executor)
	manager := pipeline.NewRunManager(store, engine)

	// 7. HTTP server on a random port.
	server := api.NewServer(cfg, store, manager, hub, connManager)
	server.SetOTPGateway(otp)
	server.SetHealthMonitor(monitor)
	server.SetSystemWarnings(warnings)
	server.SetJournal(jnl)
	server.SetAuditLog(audit)
	require.NoError(t, server.ValidateWiring(), "server wiring incomplete, missing a Set* call?")

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	go func() {
		_ = server.StartWithListener(ln)
	}()

	addr := ln.Addr().String()

	app := &TestApp{
		Config:      cfg,
		Store:       store,
		Journal:     jnl,
		Audit:       audit,
		Bus:         bus,
		Publisher:   publisher,
		ConnManager: connManager,
		Registry:    registry,
		Warnings:    warnings,
		Monitor:     monitor,
		Hub:         hub,
		OTP:         otp,
		Idem:        idem,
		Executor:    executor,
		Manager:     manager,
		Server:      server,
		BaseURL:     fmt.Sprintf("http://%s", addr),
		WSURL:       fmt.Sprintf("ws://%s", addr),
		DataDir:     dataDir,
		t:           t,
	}

	t.Cleanup(app.Stop)
	return app
}

// Stop shuts the instance down in reverse wiring order. Safe to call more
// than once: restart tests call it explicitly before booting a successor on
// the same data dir, and t.Cleanup calls it again.
func (app *TestApp) Stop() {
	app.stopOnce.Do(func() {
		app.Manager.Stop()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_ = app.Server.Shutdown(shutdownCtx)
		cancel()
		app.Monitor.Stop()
		app.Bus.Close()
		_ = app.Audit.Close()
		_ = app.Journal.Close()
	})
}

// Catalog returns the registered catalog connector with the given id so a
// test can script failures on it.
func (app *TestApp) Catalog(id string) *catalog.Connector {
	app.t.Helper()
	c, ok := app.Registry.Get(id)
	require.True(app.t, ok, "connector %q not registered", id)
	cc, ok := c.(*catalog.Connector)
	require.True(app.t, ok, "connector %q is not a catalog connector", id)
	return cc
}

// builtinConnectors instantiates the catalog connectors named in the config,
// mirroring main's registration of the default platforms.
func builtinConnectors(t *testing.T, cfg *config.Config) []connector.Connector {
	t.Helper()
	var out []connector.Connector
	for id, cc := range cfg.Connectors {
		if cc.Type != config.ConnectorTypeCatalog {
			continue
		}
		c, err := catalog.Builtin(id, cc.Catalog)
		require.NoError(t, err)
		out = append(out, c)
	}
	return out
}

// defaultTestConfig returns the built-in defaults with a confirmation window
// short enough for tests. Everything else is overridden per test through
// WithConfig.
func defaultTestConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.ConfirmationTimeoutSec = 30
	return cfg
}
