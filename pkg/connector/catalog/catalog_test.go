package catalog

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kiranamart/mandi/pkg/connector"
)

func testItems() []Item {
	return []Item{
		{ExternalID: "t-milk", Title: "Toned Milk 500ml", Aliases: []string{"milk", "doodh"}, UnitPrice: 28, DeliveryETA: 12, Rating: 4.5, Stock: 3},
		{ExternalID: "t-rice", Title: "Basmati Rice 1kg", Aliases: []string{"rice", "chawal"}, UnitPrice: 145, DeliveryETA: 15, Rating: 4.6, Stock: 5},
	}
}

func TestBuiltinCatalogs(t *testing.T) {
	for _, name := range BuiltinCatalogNames() {
		c, err := Builtin("conn-"+name, name)
		require.NoError(t, err)
		assert.Equal(t, "conn-"+name, c.ID())
		assert.True(t, c.Capabilities().Search)
		assert.True(t, c.Capabilities().Order)
	}

	_, err := Builtin("x", "no-such-catalog")
	assert.Error(t, err)
}

func TestSearchMatchesAliases(t *testing.T) {
	c := New("zepto", testItems())

	for _, query := range []string{"milk", "doodh", "DOODH", "toned milk"} {
		hits, err := c.Search(context.Background(), connector.SearchRequest{Query: query})
		require.NoError(t, err, "query %q", query)
		require.Len(t, hits, 1, "query %q", query)
		assert.Equal(t, "t-milk", hits[0].ExternalID)
		assert.Equal(t, "zepto", hits[0].ConnectorID)
		require.NotNil(t, hits[0].Stock)
		assert.Equal(t, 3, *hits[0].Stock)
	}

	hits, err := c.Search(context.Background(), connector.SearchRequest{Query: "turmeric"})
	require.NoError(t, err)
	assert.Empty(t, hits)

	_, err = c.Search(context.Background(), connector.SearchRequest{Query: "  "})
	assert.Equal(t, connector.FailurePermanent, connector.KindOf(err))
}

func TestSearchMaxResults(t *testing.T) {
	c, err := Builtin("zepto", "zepto")
	require.NoError(t, err)

	all, err := c.Search(context.Background(), connector.SearchRequest{Query: "a"})
	require.NoError(t, err)
	require.Greater(t, len(all), 2)

	capped, err := c.Search(context.Background(), connector.SearchRequest{Query: "a", MaxResults: 2})
	require.NoError(t, err)
	assert.Len(t, capped, 2)
}

func TestOrderDecrementsStock(t *testing.T) {
	c := New("zepto", testItems())
	hits, err := c.Search(context.Background(), connector.SearchRequest{Query: "milk"})
	require.NoError(t, err)

	receipt, err := c.Order(context.Background(), connector.OrderRequest{
		Product: hits[0], Quantity: 2, UserID: "u1",
	})
	require.NoError(t, err)
	assert.Equal(t, "zepto-000001", receipt.OrderID)
	assert.InDelta(t, 56.0, receipt.Amount, 0.001)
	assert.Equal(t, "INR", receipt.Currency)

	orders := c.Orders()
	require.Len(t, orders, 1)
	assert.Equal(t, "t-milk", orders[0].ExternalID)
	assert.Equal(t, 2, orders[0].Quantity)

	hits, err = c.Search(context.Background(), connector.SearchRequest{Query: "milk"})
	require.NoError(t, err)
	assert.Equal(t, 1, *hits[0].Stock)

	// Only one unit left now.
	_, err = c.Order(context.Background(), connector.OrderRequest{Product: hits[0], Quantity: 2})
	assert.Equal(t, connector.FailureOutOfStock, connector.KindOf(err))
	assert.Equal(t, 2, c.OrderCalls())
}

func TestOrderReportsPriceDrift(t *testing.T) {
	c := New("zepto", testItems())
	hits, err := c.Search(context.Background(), connector.SearchRequest{Query: "rice"})
	require.NoError(t, err)
	seen := hits[0]

	c.SetPriceMultiplier("t-rice", 2.2)

	_, err = c.Order(context.Background(), connector.OrderRequest{Product: seen, Quantity: 1})
	require.Equal(t, connector.FailurePriceChanged, connector.KindOf(err))

	var cerr *connector.Error
	require.ErrorAs(t, err, &cerr)
	assert.InDelta(t, 319.0, cerr.NewPrice, 0.001)

	// A fresh search sees the drifted price, so ordering at it succeeds.
	hits, err = c.Search(context.Background(), connector.SearchRequest{Query: "rice"})
	require.NoError(t, err)
	assert.InDelta(t, 319.0, hits[0].UnitPrice, 0.001)
	_, err = c.Order(context.Background(), connector.OrderRequest{Product: hits[0], Quantity: 1})
	assert.NoError(t, err)
}

func TestScriptedOrderErrors(t *testing.T) {
	c := New("fast", testItems())
	hits, err := c.Search(context.Background(), connector.SearchRequest{Query: "milk"})
	require.NoError(t, err)

	c.ScriptOrderErrors(
		connector.Errorf(connector.FailureTransient, "fast", "blip 1"),
		connector.Errorf(connector.FailureTransient, "fast", "blip 2"),
	)
	c.SetOrderError(connector.Errorf(connector.FailureUnavailable, "fast", "down"))

	req := connector.OrderRequest{Product: hits[0], Quantity: 1}
	_, err = c.Order(context.Background(), req)
	assert.Equal(t, connector.FailureTransient, connector.KindOf(err))
	_, err = c.Order(context.Background(), req)
	assert.Equal(t, connector.FailureTransient, connector.KindOf(err))
	_, err = c.Order(context.Background(), req)
	assert.Equal(t, connector.FailureUnavailable, connector.KindOf(err))
	_, err = c.Order(context.Background(), req)
	assert.Equal(t, connector.FailureUnavailable, connector.KindOf(err))

	c.SetOrderError(nil)
	_, err = c.Order(context.Background(), req)
	assert.NoError(t, err)
	assert.Equal(t, 5, c.OrderCalls())
}

func TestOrderWithOTP(t *testing.T) {
	c := New("zepto", testItems())
	c.RequireOTP("4321")
	hits, err := c.Search(context.Background(), connector.SearchRequest{Query: "milk"})
	require.NoError(t, err)

	// No relay wired at all.
	_, err = c.Order(context.Background(), connector.OrderRequest{Product: hits[0], Quantity: 1})
	assert.Equal(t, connector.FailureAuthRequired, connector.KindOf(err))

	wrong := func(ctx context.Context, ch connector.OTPChallenge) (string, error) {
		return "0000", nil
	}
	_, err = c.Order(context.Background(), connector.OrderRequest{Product: hits[0], Quantity: 1, Prompt: wrong})
	assert.Equal(t, connector.FailureAuthRequired, connector.KindOf(err))

	var challenge connector.OTPChallenge
	right := func(ctx context.Context, ch connector.OTPChallenge) (string, error) {
		challenge = ch
		return "4321", nil
	}
	receipt, err := c.Order(context.Background(), connector.OrderRequest{Product: hits[0], Quantity: 1, Prompt: right})
	require.NoError(t, err)
	assert.NotEmpty(t, receipt.OrderID)
	assert.Equal(t, "zepto", challenge.ConnectorID)
}

func TestLatencyRespectsContext(t *testing.T) {
	c := New("slow", testItems())
	c.SetLatency(5 * time.Second)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	_, err := c.Search(ctx, connector.SearchRequest{Query: "milk"})
	assert.Equal(t, connector.FailureUnavailable, connector.KindOf(err))
	assert.Less(t, time.Since(start), time.Second)
}

func TestPingScripted(t *testing.T) {
	c := New("zepto", testItems())
	require.NoError(t, c.Ping(context.Background()))

	c.SetPingError(connector.Errorf(connector.FailureUnavailable, "zepto", "probe refused"))
	assert.Error(t, c.Ping(context.Background()))

	c.SetPingError(nil)
	assert.NoError(t, c.Ping(context.Background()))
}
