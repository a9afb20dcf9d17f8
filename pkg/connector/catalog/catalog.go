// Package catalog provides deterministic in-process connectors backed by
// fixed per-platform product catalogs. They serve three jobs: local
// development without real merchant integrations, dry-run deployments, and
// tests — every failure mode of the connector taxonomy is scriptable.
package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
)

// Item is one catalog entry.
type Item struct {
	ExternalID  string
	Title       string
	Aliases     []string
	UnitPrice   float64
	DeliveryETA int // minutes
	Rating      float64
	Stock       int
}

// PlacedOrder records one successful (or simulated) order for assertions.
type PlacedOrder struct {
	OrderID    string
	ExternalID string
	Quantity   int
	Amount     float64
}

// Connector is an in-process merchant backed by a static catalog. All
// mutation happens under one mutex; behavior is fully deterministic.
type Connector struct {
	id string

	mu    sync.Mutex
	items []Item

	latency    time.Duration
	searchErr  error
	pingErr    error
	orderQueue []error // consumed one per Order call
	orderErr   error   // persistent once the queue is drained

	priceMult map[string]float64 // external id → multiplier

	otpCode string // non-empty: orders demand this code

	orders     []PlacedOrder
	orderCalls int
	seq        int
}

// New creates a catalog connector with the given items.
func New(id string, items []Item) *Connector {
	own := make([]Item, len(items))
	copy(own, items)
	return &Connector{
		id:        id,
		items:     own,
		priceMult: make(map[string]float64),
	}
}

// Builtin creates a connector over one of the built-in platform catalogs.
func Builtin(id, catalogName string) (*Connector, error) {
	items, ok := builtinCatalogs[catalogName]
	if !ok {
		return nil, fmt.Errorf("unknown builtin catalog %q", catalogName)
	}
	return New(id, items), nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{Search: true, Order: true}
}

// Ping reports scripted liveness.
func (c *Connector) Ping(ctx context.Context) error {
	c.mu.Lock()
	err := c.pingErr
	c.mu.Unlock()
	return err
}

// Search matches the query against titles and aliases, case-insensitive.
func (c *Connector) Search(ctx context.Context, req connector.SearchRequest) ([]models.Product, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.searchErr != nil {
		return nil, c.searchErr
	}

	query := strings.ToLower(strings.TrimSpace(req.Query))
	if query == "" {
		return nil, connector.Errorf(connector.FailurePermanent, c.id, "empty query")
	}

	var out []models.Product
	for i := range c.items {
		if !c.items[i].matches(query) {
			continue
		}
		out = append(out, c.product(&c.items[i]))
		if req.MaxResults > 0 && len(out) >= req.MaxResults {
			break
		}
	}
	return out, nil
}

// Order places an order for the product, enforcing stock, price agreement
// and any scripted failures. The expected price is the one the caller saw at
// search time; a drifted catalog price is reported as price_changed.
func (c *Connector) Order(ctx context.Context, req connector.OrderRequest) (*connector.OrderReceipt, error) {
	if err := c.sleep(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	c.orderCalls++
	var scripted error
	if len(c.orderQueue) > 0 {
		scripted = c.orderQueue[0]
		c.orderQueue = c.orderQueue[1:]
	} else {
		scripted = c.orderErr
	}
	c.mu.Unlock()

	if scripted != nil {
		return nil, scripted
	}

	c.mu.Lock()
	item := c.find(req.Product.ExternalID)
	if item == nil {
		c.mu.Unlock()
		return nil, connector.Errorf(connector.FailurePermanent, c.id,
			"unknown product %q", req.Product.ExternalID)
	}
	current := c.currentPrice(item)
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	if item.Stock < qty {
		c.mu.Unlock()
		return nil, connector.Errorf(connector.FailureOutOfStock, c.id,
			"%d in stock, %d requested", item.Stock, qty)
	}
	if !priceAgrees(req.Product.UnitPrice, current) {
		c.mu.Unlock()
		return nil, connector.PriceChanged(c.id, current)
	}
	otpCode := c.otpCode
	c.mu.Unlock()

	if otpCode != "" {
		if req.Prompt == nil {
			return nil, connector.Errorf(connector.FailureAuthRequired, c.id,
				"platform demands otp but no relay is available")
		}
		code, err := req.Prompt(ctx, connector.OTPChallenge{
			ConnectorID: c.id,
			Hint:        "code sent to registered number",
		})
		if err != nil {
			return nil, err
		}
		if code != otpCode {
			return nil, connector.Errorf(connector.FailureAuthRequired, c.id, "otp rejected")
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	// Re-find: the catalog may have been rescripted while the OTP was pending.
	item = c.find(req.Product.ExternalID)
	if item == nil || item.Stock < qty {
		return nil, connector.Errorf(connector.FailureOutOfStock, c.id, "stock gone")
	}
	item.Stock -= qty
	c.seq++
	receipt := &connector.OrderReceipt{
		OrderID:    fmt.Sprintf("%s-%06d", c.id, c.seq),
		Amount:     c.currentPrice(item) * float64(qty),
		Currency:   "INR",
		ETAMinutes: item.DeliveryETA,
		PlacedAt:   time.Now().UTC(),
	}
	c.orders = append(c.orders, PlacedOrder{
		OrderID:    receipt.OrderID,
		ExternalID: item.ExternalID,
		Quantity:   qty,
		Amount:     receipt.Amount,
	})
	return receipt, nil
}

// ────────────────────────────────────────────────────────────
// Scripting knobs (tests, dev, dry-run wiring)
// ────────────────────────────────────────────────────────────

// SetLatency makes every Search/Order call take at least d.
func (c *Connector) SetLatency(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.latency = d
}

// SetSearchError makes Search fail persistently with err (nil clears).
func (c *Connector) SetSearchError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.searchErr = err
}

// SetPingError scripts the liveness probe (nil clears).
func (c *Connector) SetPingError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingErr = err
}

// ScriptOrderErrors queues errors consumed one per Order call, ahead of any
// persistent order error.
func (c *Connector) ScriptOrderErrors(errs ...error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderQueue = append(c.orderQueue, errs...)
}

// SetOrderError makes Order fail persistently once the scripted queue is
// drained (nil clears).
func (c *Connector) SetOrderError(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.orderErr = err
}

// SetPriceMultiplier drifts one product's price. Subsequent Search results
// and order-time price checks use the drifted price.
func (c *Connector) SetPriceMultiplier(externalID string, mult float64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.priceMult[externalID] = mult
}

// SetStock overrides one product's stock level.
func (c *Connector) SetStock(externalID string, n int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if item := c.find(externalID); item != nil {
		item.Stock = n
	}
}

// RequireOTP makes every order demand the given code (empty disables).
func (c *Connector) RequireOTP(code string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.otpCode = code
}

// Orders returns the successful orders placed so far.
func (c *Connector) Orders() []PlacedOrder {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]PlacedOrder, len(c.orders))
	copy(out, c.orders)
	return out
}

// OrderCalls returns how many times Order was invoked, failures included.
func (c *Connector) OrderCalls() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.orderCalls
}

// ────────────────────────────────────────────────────────────

func (c *Connector) sleep(ctx context.Context) error {
	c.mu.Lock()
	d := c.latency
	c.mu.Unlock()
	if d <= 0 {
		return nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return connector.NewError(connector.FailureUnavailable, c.id, ctx.Err())
	}
}

func (c *Connector) find(externalID string) *Item {
	for i := range c.items {
		if c.items[i].ExternalID == externalID {
			return &c.items[i]
		}
	}
	return nil
}

func (c *Connector) currentPrice(item *Item) float64 {
	price := item.UnitPrice
	if mult, ok := c.priceMult[item.ExternalID]; ok && mult > 0 {
		price = math.Round(price*mult*100) / 100
	}
	return price
}

func (c *Connector) product(item *Item) models.Product {
	stock := item.Stock
	return models.Product{
		ConnectorID: c.id,
		ExternalID:  item.ExternalID,
		Title:       item.Title,
		UnitPrice:   c.currentPrice(item),
		Currency:    "INR",
		DeliveryETA: item.DeliveryETA,
		Rating:      item.Rating,
		Stock:       &stock,
		URL:         fmt.Sprintf("https://%s.example/p/%s", c.id, item.ExternalID),
	}
}

func (i *Item) matches(query string) bool {
	title := strings.ToLower(i.Title)
	if strings.Contains(title, query) || strings.Contains(query, title) {
		return true
	}
	for _, alias := range i.Aliases {
		a := strings.ToLower(alias)
		if strings.Contains(a, query) || strings.Contains(query, a) {
			return true
		}
	}
	return false
}

// priceAgrees tolerates sub-1% float noise between the price the caller saw
// and the catalog's current price.
func priceAgrees(expected, current float64) bool {
	if expected <= 0 {
		return true
	}
	return math.Abs(current-expected)/expected < 0.01
}
