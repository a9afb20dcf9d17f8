package pipeline

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
)

// fanConnector is a scriptable search-only connector for fan-out tests.
type fanConnector struct {
	id       string
	products []models.Product
	err      error
	delay    time.Duration

	mu    sync.Mutex
	calls int
}

func (f *fanConnector) ID() string { return f.id }

func (f *fanConnector) Capabilities() connector.Capabilities {
	return connector.Capabilities{Search: true, Order: true}
}

func (f *fanConnector) Search(ctx context.Context, _ connector.SearchRequest) ([]models.Product, error) {
	f.mu.Lock()
	f.calls++
	f.mu.Unlock()

	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, connector.NewError(connector.FailureUnavailable, f.id, ctx.Err())
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return f.products, nil
}

func (f *fanConnector) Order(context.Context, connector.OrderRequest) (*connector.OrderReceipt, error) {
	return nil, connector.Errorf(connector.FailurePermanent, f.id, "not orderable in this test")
}

func (f *fanConnector) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

func fanConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.Search.PerConnectorBudgetSec = 1
	return cfg
}

func milkOffer(conn, ext string, price float64) models.Product {
	return models.Product{
		ConnectorID: conn,
		ExternalID:  ext,
		Title:       "amul taza 1l",
		UnitPrice:   price,
		Currency:    "INR",
		DeliveryETA: 15,
	}
}

func milkIntent() *models.Intent {
	return &models.Intent{Kind: models.IntentPurchase, Item: "milk", Quantity: 1, Unit: "litre"}
}

func TestSearchMergesAllConnectors(t *testing.T) {
	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}}))
	require.NoError(t, reg.Add(&fanConnector{id: "blinkit", products: []models.Product{milkOffer("blinkit", "b1", 55)}}))

	s := NewSearcher(fanConfig(), reg, nil, NewGate(4, 8))
	hits, err := s.Search(context.Background(), milkIntent())
	require.NoError(t, err)

	assert.Len(t, hits.Results, 2)
	assert.Len(t, hits.Candidates(), 2)
	assert.Empty(t, hits.Failures())
}

func TestSearchAbsorbsPartialFailures(t *testing.T) {
	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}}))
	require.NoError(t, reg.Add(&fanConnector{
		id:  "blinkit",
		err: connector.Errorf(connector.FailureUnavailable, "blinkit", "gateway down"),
	}))

	s := NewSearcher(fanConfig(), reg, nil, NewGate(4, 8))
	hits, err := s.Search(context.Background(), milkIntent())
	require.NoError(t, err, "one live connector is enough")

	require.Len(t, hits.Results, 2)
	assert.Equal(t, string(connector.FailureUnavailable), hits.Results["blinkit"].Error)
	assert.Len(t, hits.Candidates(), 1)
	assert.Equal(t, []string{"blinkit"}, hits.Failures())
}

func TestSearchFailsWhenNothingRegistered(t *testing.T) {
	s := NewSearcher(fanConfig(), connector.NewRegistry(), nil, NewGate(4, 8))

	_, err := s.Search(context.Background(), milkIntent())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindNoConnectorsAvailable, models.KindOf(err))
}

func TestSearchFailsWhenAllConnectorsFail(t *testing.T) {
	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{
		id:  "zepto",
		err: connector.Errorf(connector.FailureUnavailable, "zepto", "down"),
	}))
	require.NoError(t, reg.Add(&fanConnector{
		id:  "blinkit",
		err: connector.Errorf(connector.FailureRateLimited, "blinkit", "429"),
	}))

	s := NewSearcher(fanConfig(), reg, nil, NewGate(4, 8))
	_, err := s.Search(context.Background(), milkIntent())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindNoConnectorsAvailable, models.KindOf(err))
}

func TestSearchHonoursPerConnectorBudget(t *testing.T) {
	cfg := fanConfig()
	cfg.Connectors["zepto"] = &config.ConnectorConfig{SearchBudgetSec: 1}

	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{id: "zepto", delay: 5 * time.Second}))
	require.NoError(t, reg.Add(&fanConnector{id: "blinkit", products: []models.Product{milkOffer("blinkit", "b1", 55)}}))

	s := NewSearcher(cfg, reg, nil, NewGate(4, 8))

	start := time.Now()
	hits, err := s.Search(context.Background(), milkIntent())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 3*time.Second, "slow connector cut off at its budget")

	assert.Equal(t, string(connector.FailureUnavailable), hits.Results["zepto"].Error)
	assert.Len(t, hits.Candidates(), 1)
}

func TestSearchBudgetClampedToStageDeadline(t *testing.T) {
	cfg := fanConfig()
	cfg.Search.PerConnectorBudgetSec = 30

	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{id: "zepto", delay: 5 * time.Second}))
	require.NoError(t, reg.Add(&fanConnector{id: "blinkit", products: []models.Product{milkOffer("blinkit", "b1", 55)}}))

	s := NewSearcher(cfg, reg, nil, NewGate(4, 8))

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	start := time.Now()
	hits, err := s.Search(ctx, milkIntent())
	require.NoError(t, err)
	assert.Less(t, time.Since(start), 2*time.Second,
		"per-connector deadline shrinks to the remaining stage budget")
	assert.Len(t, hits.Candidates(), 1)
}

func TestGateQueueOverflowFailsFast(t *testing.T) {
	g := NewGate(1, 1)

	require.NoError(t, g.Acquire(context.Background()))

	// One caller may wait; it holds the single queue slot.
	waiting := make(chan error, 1)
	go func() {
		waiting <- g.Acquire(context.Background())
	}()
	require.Eventually(t, func() bool { return g.Waiting() == 1 }, time.Second, time.Millisecond)

	// The next caller overflows the queue and is rejected immediately.
	err := g.Acquire(context.Background())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindOverloaded, models.KindOf(err))

	g.Release()
	require.NoError(t, <-waiting)
	g.Release()
	assert.Equal(t, 0, g.InFlight())
}

func TestGateAcquireRespectsContext(t *testing.T) {
	g := NewGate(1, 4)
	require.NoError(t, g.Acquire(context.Background()))

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	err := g.Acquire(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	g.Release()
}

func TestSearchOverloadedWhenQueueFull(t *testing.T) {
	cfg := fanConfig()

	// Saturate a 1-slot gate with a held token and a queued waiter so the
	// fan-out's own acquire overflows.
	g := NewGate(1, 1)
	require.NoError(t, g.Acquire(context.Background()))
	release := make(chan struct{})
	go func() {
		_ = g.Acquire(context.Background())
		<-release
		g.Release()
	}()
	require.Eventually(t, func() bool { return g.Waiting() == 1 }, time.Second, time.Millisecond)

	reg := connector.NewRegistry()
	require.NoError(t, reg.Add(&fanConnector{id: "zepto", products: []models.Product{milkOffer("zepto", "z1", 60)}}))

	s := NewSearcher(cfg, reg, nil, g)
	_, err := s.Search(context.Background(), milkIntent())
	require.Error(t, err)
	assert.Equal(t, models.ErrKindOverloaded, models.KindOf(err))

	g.Release()
	close(release)
}

func TestSearchSkipsHealthRecordingWhenRunCancelled(t *testing.T) {
	reg := connector.NewRegistry()
	slow := &fanConnector{id: "zepto", delay: 200 * time.Millisecond}
	require.NoError(t, reg.Add(slow))

	warnings := connector.NewSystemWarnings()
	monitor := connector.NewHealthMonitor(reg, warnings, time.Minute)

	s := NewSearcher(fanConfig(), reg, monitor, NewGate(4, 8))

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(20 * time.Millisecond)
		cancel()
	}()

	_, err := s.Search(ctx, milkIntent())
	require.Error(t, err)

	// The aborted call must not count against the connector.
	assert.Equal(t, 1.0, monitor.Health("zepto"))
	assert.Equal(t, 1, slow.callCount())
}
