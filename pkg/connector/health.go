package connector

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"
)

// Default probe cadence and timeout. The window comes from config
// (RISK_HEALTH_WINDOW); it bounds both the rolling outcome samples and how
// long a connector stays disqualified after going dark.
const (
	DefaultCheckInterval = 30 * time.Second
	DefaultProbeTimeout  = 5 * time.Second
)

// unhealthyBelow is the rolling success ratio under which a connector is
// disqualified by the connector_health decision policy. The same cut is the
// platform_health risk factor threshold.
const unhealthyBelow = 0.5

// HealthStatus captures the probe result for a single connector.
type HealthStatus struct {
	ConnectorID string    `json:"connector_id"`
	Healthy     bool      `json:"healthy"`
	LastCheck   time.Time `json:"last_check"`
	Error       string    `json:"error,omitempty"`
	// Score is the rolling success ratio over the health window, combining
	// probe results with real search/order outcomes.
	Score float64 `json:"score"`
}

// HealthMonitor tracks per-connector health from two inputs: a periodic
// liveness probe (for connectors implementing Pinger) and the recorded
// outcome of every real search and order call. A nil monitor reports
// everything healthy, which keeps wiring optional in tests.
type HealthMonitor struct {
	registry *Registry
	warnings *SystemWarnings

	checkInterval time.Duration
	probeTimeout  time.Duration
	window        time.Duration

	mu       sync.RWMutex
	statuses map[string]*HealthStatus
	outcomes map[string][]outcome

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

type outcome struct {
	at time.Time
	ok bool
}

// NewHealthMonitor creates a monitor over the registry. warnings may be nil.
func NewHealthMonitor(registry *Registry, warnings *SystemWarnings, window time.Duration) *HealthMonitor {
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &HealthMonitor{
		registry:      registry,
		warnings:      warnings,
		checkInterval: DefaultCheckInterval,
		probeTimeout:  DefaultProbeTimeout,
		window:        window,
		statuses:      make(map[string]*HealthStatus),
		outcomes:      make(map[string][]outcome),
		logger:        slog.Default().With("component", "connector.HealthMonitor"),
	}
}

// Start launches the background probe loop. Calling Start on an already
// running monitor is a no-op.
func (m *HealthMonitor) Start(ctx context.Context) {
	if m.cancel != nil {
		return
	}
	ctx, m.cancel = context.WithCancel(ctx)
	m.done = make(chan struct{})
	go m.loop(ctx)
}

// Stop shuts the probe loop down and clears stale health data so a
// subsequent Start begins with a clean slate.
func (m *HealthMonitor) Stop() {
	if m.cancel == nil {
		return
	}
	m.cancel()
	<-m.done

	m.mu.Lock()
	m.statuses = make(map[string]*HealthStatus)
	m.outcomes = make(map[string][]outcome)
	m.mu.Unlock()

	m.cancel = nil
	m.done = nil
}

func (m *HealthMonitor) loop(ctx context.Context) {
	defer close(m.done)

	m.checkAll(ctx)

	ticker := time.NewTicker(m.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.checkAll(ctx)
		}
	}
}

func (m *HealthMonitor) checkAll(ctx context.Context) {
	for _, c := range m.registry.Snapshot() {
		m.checkConnector(ctx, c)
	}
}

func (m *HealthMonitor) checkConnector(ctx context.Context, c Connector) {
	id := c.ID()

	pinger, ok := c.(Pinger)
	if !ok {
		// No probe available: health derives from recorded call outcomes only.
		m.setStatus(id, m.Health(id) >= unhealthyBelow, "")
		return
	}

	probeCtx, cancel := context.WithTimeout(ctx, m.probeTimeout)
	err := pinger.Ping(probeCtx)
	cancel()

	if err != nil {
		m.Record(id, false)
		m.setStatus(id, false, err.Error())
		m.warnings.AddWarning(WarningConnectorHealth,
			fmt.Sprintf("connector %q is unhealthy", id), err.Error(), id)
		m.logger.Warn("Connector probe failed", "connector", id, "error", err)
		return
	}

	m.Record(id, true)
	m.setStatus(id, true, "")
	m.warnings.ClearBySource(WarningConnectorHealth, id)
}

// Record feeds one real call outcome (search or order) into the rolling
// window. Nil-safe.
func (m *HealthMonitor) Record(connectorID string, ok bool) {
	if m == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().Add(-m.window)
	kept := prune(m.outcomes[connectorID], cutoff)
	m.outcomes[connectorID] = append(kept, outcome{at: time.Now(), ok: ok})
}

// Health returns the rolling success ratio in [0,1] for a connector. With no
// samples in the window the connector is presumed healthy (1.0). Nil-safe.
func (m *HealthMonitor) Health(connectorID string) float64 {
	if m == nil {
		return 1.0
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	samples := prune(m.outcomes[connectorID], time.Now().Add(-m.window))
	if len(samples) == 0 {
		return 1.0
	}
	good := 0
	for _, o := range samples {
		if o.ok {
			good++
		}
	}
	return float64(good) / float64(len(samples))
}

// Healthy reports whether the connector passes the connector_health policy.
// Nil-safe.
func (m *HealthMonitor) Healthy(connectorID string) bool {
	return m.Health(connectorID) >= unhealthyBelow
}

// Statuses returns a copy of the latest probe statuses, sorted by connector
// id, with current rolling scores filled in. Nil-safe.
func (m *HealthMonitor) Statuses() []HealthStatus {
	if m == nil {
		return nil
	}
	m.mu.RLock()
	out := make([]HealthStatus, 0, len(m.statuses))
	for _, st := range m.statuses {
		out = append(out, *st)
	}
	m.mu.RUnlock()

	for i := range out {
		out[i].Score = m.Health(out[i].ConnectorID)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConnectorID < out[j].ConnectorID })
	return out
}

func (m *HealthMonitor) setStatus(id string, healthy bool, errMsg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.statuses[id] = &HealthStatus{
		ConnectorID: id,
		Healthy:     healthy,
		LastCheck:   time.Now().UTC(),
		Error:       errMsg,
	}
}

// prune drops samples older than the cutoff, preserving order.
func prune(samples []outcome, cutoff time.Time) []outcome {
	i := 0
	for i < len(samples) && samples[i].at.Before(cutoff) {
		i++
	}
	if i == 0 {
		return samples
	}
	return append([]outcome(nil), samples[i:]...)
}
