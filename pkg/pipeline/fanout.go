package pipeline

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
)

// maxResultsPerConnector caps what one connector may contribute to a fan-out.
const maxResultsPerConnector = 8

// Gate is the system-wide back-pressure valve for connector searches: at most
// maxInflight calls run at once across all runs, excess callers wait in a
// bounded queue, and queue overflow is rejected immediately as overloaded.
type Gate struct {
	tokens     chan struct{}
	waiting    atomic.Int32
	queueLimit int32
}

// NewGate creates a gate with the given in-flight cap and wait-queue bound.
func NewGate(maxInflight, queueLimit int) *Gate {
	if maxInflight <= 0 {
		maxInflight = 16
	}
	if queueLimit <= 0 {
		queueLimit = 32
	}
	return &Gate{
		tokens:     make(chan struct{}, maxInflight),
		queueLimit: int32(queueLimit),
	}
}

// Acquire takes an in-flight slot, queueing when the system is saturated.
// Queue overflow fails fast with overloaded rather than waiting.
func (g *Gate) Acquire(ctx context.Context) error {
	select {
	case g.tokens <- struct{}{}:
		return nil
	default:
	}

	if g.waiting.Add(1) > g.queueLimit {
		g.waiting.Add(-1)
		return models.Kindf(models.ErrKindOverloaded, "search queue full")
	}
	defer g.waiting.Add(-1)

	select {
	case g.tokens <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns an in-flight slot.
func (g *Gate) Release() { <-g.tokens }

// InFlight returns the number of held slots.
func (g *Gate) InFlight() int { return len(g.tokens) }

// Waiting returns the number of callers queued for a slot.
func (g *Gate) Waiting() int { return int(g.waiting.Load()) }

// Searcher fans one intent out to every search-capable connector and merges
// the results. Partial failures are absorbed into the hits map; the fan-out
// itself fails only when nothing is registered, everything failed, or this
// run overflowed the back-pressure queue.
type Searcher struct {
	cfg      *config.Config
	registry *connector.Registry
	monitor  *connector.HealthMonitor
	gate     *Gate

	logger *slog.Logger
}

// NewSearcher creates a searcher over the registry. monitor may be nil.
func NewSearcher(cfg *config.Config, registry *connector.Registry, monitor *connector.HealthMonitor, gate *Gate) *Searcher {
	return &Searcher{
		cfg:      cfg,
		registry: registry,
		monitor:  monitor,
		gate:     gate,
		logger:   slog.Default().With("component", "pipeline.Searcher"),
	}
}

// Search runs the fan-out. Every connector call starts concurrently with its
// own deadline of min(per-connector budget, remaining stage budget); the
// merge happens only after every call returned, so downstream stages never
// see a partial fan-out.
func (s *Searcher) Search(ctx context.Context, intent *models.Intent) (*models.SearchHits, error) {
	targets := s.registry.SearchTargets()
	if len(targets) == 0 {
		return nil, models.Kindf(models.ErrKindNoConnectorsAvailable,
			"no search-capable connectors registered")
	}

	req := connector.SearchRequest{
		Query:      intent.Item,
		Quantity:   intent.Quantity,
		Unit:       intent.Unit,
		MaxResults: maxResultsPerConnector,
	}
	deadline, hasDeadline := ctx.Deadline()

	type fanResult struct {
		id     string
		result models.ConnectorResult
	}
	results := make(chan fanResult, len(targets))
	var overloaded atomic.Bool

	var wg sync.WaitGroup
	for _, c := range targets {
		wg.Add(1)
		go func(c connector.Connector) {
			defer wg.Done()
			id := c.ID()

			if err := s.gate.Acquire(ctx); err != nil {
				if models.KindOf(err) == models.ErrKindOverloaded {
					overloaded.Store(true)
				}
				results <- fanResult{id, models.ConnectorResult{Error: searchErrorToken(err)}}
				return
			}
			defer s.gate.Release()

			budget := s.cfg.PerConnectorBudget(id)
			if hasDeadline {
				if remaining := time.Until(deadline); remaining < budget {
					budget = remaining
				}
			}
			connCtx, cancel := context.WithTimeout(ctx, budget)
			products, err := c.Search(connCtx, req)
			cancel()

			// Outcomes recorded during a run cancellation would penalize the
			// connector for our abort, not its own behaviour.
			if ctx.Err() == nil {
				s.monitor.Record(id, err == nil)
			}
			if err != nil {
				s.logger.Warn("Connector search failed", "connector", id, "error", err)
				results <- fanResult{id, models.ConnectorResult{Error: string(connector.KindOf(err))}}
				return
			}
			results <- fanResult{id, models.ConnectorResult{Products: products}}
		}(c)
	}
	wg.Wait()
	close(results)

	hits := &models.SearchHits{Results: make(map[string]models.ConnectorResult, len(targets))}
	for r := range results {
		hits.Results[r.id] = r.result
	}

	if overloaded.Load() {
		return nil, models.Kindf(models.ErrKindOverloaded, "search back-pressure queue full")
	}
	if hits.AllFailed() {
		return nil, models.Kindf(models.ErrKindNoConnectorsAvailable,
			"all %d connectors failed", len(targets))
	}
	return hits, nil
}

// searchErrorToken renders a fan-out error into the hits map's error string.
func searchErrorToken(err error) string {
	if models.KindOf(err) == models.ErrKindOverloaded {
		return string(models.ErrKindOverloaded)
	}
	return string(connector.KindOf(err))
}
