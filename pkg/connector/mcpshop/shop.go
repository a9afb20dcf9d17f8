// Package mcpshop adapts MCP (Model Context Protocol) shopping servers to
// the connector interface. Each Connector wraps one MCP server exposing
// search/order tools; transport, session recovery and failure taxonomy
// mapping all live here so the rest of the system never sees MCP.
package mcpshop

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kiranamart/mandi/pkg/config"
	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
	"github.com/kiranamart/mandi/pkg/version"
)

const (
	// initTimeout is the per-server connect deadline (transport + handshake).
	initTimeout = 15 * time.Second

	// opTimeout is the per-call deadline for tool calls. Callers usually pass
	// a tighter stage-budget context; this is the hard ceiling.
	opTimeout = 30 * time.Second

	// retryBackoffMin/Max bound the jittered backoff before the single retry
	// that follows a session rebuild.
	retryBackoffMin = 250 * time.Millisecond
	retryBackoffMax = 750 * time.Millisecond
)

// Default tool names; config can override per server.
const (
	defaultSearchTool    = "search_products"
	defaultOrderTool     = "place_order"
	defaultSubmitOTPTool = "submit_otp"
)

// Connector is a shopping platform reached over MCP.
// Thread-safe: search fan-out and purchase may call concurrently.
type Connector struct {
	id  string
	cfg config.ConnectorConfig

	tools config.ToolNames

	mu      sync.RWMutex
	client  *mcpsdk.Client
	session *mcpsdk.ClientSession

	// reinitMu serializes session (re)creation so concurrent failures don't
	// stampede the server with connects.
	reinitMu sync.Mutex

	logger *slog.Logger
}

// New creates an MCP-backed connector. The server is dialed lazily on first
// use so a down platform does not block startup.
func New(id string, cfg config.ConnectorConfig) (*Connector, error) {
	if !cfg.Transport.IsValid() {
		return nil, fmt.Errorf("connector %q: unsupported transport %q", id, cfg.Transport)
	}
	if _, err := createTransport(cfg); err != nil {
		return nil, fmt.Errorf("connector %q: %w", id, err)
	}

	tools := cfg.Tools
	if tools.Search == "" {
		tools.Search = defaultSearchTool
	}
	if tools.Order == "" {
		tools.Order = defaultOrderTool
	}
	if tools.SubmitOTP == "" {
		tools.SubmitOTP = defaultSubmitOTPTool
	}

	return &Connector{
		id:     id,
		cfg:    cfg,
		tools:  tools,
		logger: slog.Default().With("component", "mcpshop.Connector", "connector", id),
	}, nil
}

func (c *Connector) ID() string { return c.id }

func (c *Connector) Capabilities() connector.Capabilities {
	return connector.Capabilities{Search: true, Order: true}
}

// Search queries the platform's search tool.
func (c *Connector) Search(ctx context.Context, req connector.SearchRequest) ([]models.Product, error) {
	args := map[string]any{
		"query": req.Query,
	}
	if req.Quantity > 0 {
		args["quantity"] = req.Quantity
	}
	if req.Unit != "" {
		args["unit"] = req.Unit
	}
	if req.MaxResults > 0 {
		args["max_results"] = req.MaxResults
	}

	text, err := c.callTool(ctx, c.tools.Search, args)
	if err != nil {
		return nil, err
	}
	return parseSearchResponse(c.id, text)
}

// Order places an order via the platform's order tool. When the platform
// demands an OTP the challenge is relayed through req.Prompt and resolved
// with the submit tool; at most one challenge round is expected.
func (c *Connector) Order(ctx context.Context, req connector.OrderRequest) (*connector.OrderReceipt, error) {
	qty := req.Quantity
	if qty <= 0 {
		qty = 1
	}
	args := map[string]any{
		"product_id":     req.Product.ExternalID,
		"quantity":       qty,
		"expected_price": req.Product.UnitPrice,
		"user_id":        req.UserID,
	}
	if req.Phone != "" {
		args["phone"] = req.Phone
	}
	if req.Address != "" {
		args["address"] = req.Address
	}

	text, err := c.callTool(ctx, c.tools.Order, args)
	if err != nil {
		return nil, err
	}
	resp, err := parseOrderResponse(c.id, text)
	if err != nil {
		return nil, err
	}

	if resp.Status == "otp_required" {
		resp, err = c.resolveOTP(ctx, req, resp)
		if err != nil {
			return nil, err
		}
	}

	switch resp.Status {
	case "placed":
		return &connector.OrderReceipt{
			OrderID:    resp.OrderID,
			Amount:     resp.Amount,
			Currency:   orDefault(resp.Currency, "INR"),
			ETAMinutes: resp.ETAMinutes,
			PlacedAt:   time.Now().UTC(),
		}, nil
	case "failed":
		return nil, wireFailure(c.id, resp)
	default:
		return nil, connector.Errorf(connector.FailurePermanent, c.id,
			"unexpected order status %q", resp.Status)
	}
}

func (c *Connector) resolveOTP(ctx context.Context, req connector.OrderRequest, challenge *orderResponse) (*orderResponse, error) {
	if req.Prompt == nil {
		return nil, connector.Errorf(connector.FailureAuthRequired, c.id,
			"platform demands otp but no relay is available")
	}
	code, err := req.Prompt(ctx, connector.OTPChallenge{
		ConnectorID: c.id,
		Hint:        challenge.Hint,
	})
	if err != nil {
		return nil, err
	}

	text, err := c.callTool(ctx, c.tools.SubmitOTP, map[string]any{
		"challenge_id": challenge.ChallengeID,
		"code":         code,
	})
	if err != nil {
		return nil, err
	}
	return parseOrderResponse(c.id, text)
}

// Ping verifies the server answers a tool listing. Used by the health
// monitor as the liveness probe.
func (c *Connector) Ping(ctx context.Context) error {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return classifyTransportError(c.id, err)
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	if _, err := session.ListTools(opCtx, nil); err != nil {
		return classifyTransportError(c.id, err)
	}
	return nil
}

// Close shuts down the MCP session and transport.
func (c *Connector) Close() error {
	c.mu.Lock()
	session := c.session
	c.session = nil
	c.client = nil
	c.mu.Unlock()

	if session != nil {
		return session.Close()
	}
	return nil
}

// callTool runs one tool call with the teacher-grade recovery dance: on a
// connection-level failure the session is rebuilt after a jittered backoff
// and the call retried once.
func (c *Connector) callTool(ctx context.Context, tool string, args map[string]any) (string, error) {
	text, err := c.callToolOnce(ctx, tool, args)
	if err == nil {
		return text, nil
	}

	if ctx.Err() != nil || !isConnectionError(err) {
		return "", classifyTransportError(c.id, err)
	}

	c.logger.Info("tool call failed on broken session, rebuilding",
		"tool", tool, "error", err)

	backoff := retryBackoffMin + time.Duration(rand.Int64N(int64(retryBackoffMax-retryBackoffMin)))
	select {
	case <-time.After(backoff):
	case <-ctx.Done():
		return "", classifyTransportError(c.id, ctx.Err())
	}

	if rerr := c.recreateSession(ctx); rerr != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("session rebuild: %w", rerr))
	}

	text, err = c.callToolOnce(ctx, tool, args)
	if err != nil {
		return "", classifyTransportError(c.id, fmt.Errorf("retry of %s: %w", tool, err))
	}
	return text, nil
}

func (c *Connector) callToolOnce(ctx context.Context, tool string, args map[string]any) (string, error) {
	session, err := c.ensureSession(ctx)
	if err != nil {
		return "", err
	}

	opCtx, cancel := context.WithTimeout(ctx, opTimeout)
	defer cancel()

	result, err := session.CallTool(opCtx, &mcpsdk.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	if err != nil {
		return "", err
	}

	text := extractTextContent(result)
	if result.IsError {
		// Tool-level errors still carry a structured payload when the server
		// is well-behaved; fall back to the raw text otherwise.
		if resp, perr := parseOrderResponse(c.id, text); perr == nil && resp.Code != "" {
			return "", wireFailure(c.id, resp)
		}
		return "", connector.Errorf(connector.FailurePermanent, c.id, "%s", text)
	}
	return text, nil
}

// ensureSession returns the live session, dialing the server if needed.
func (c *Connector) ensureSession(ctx context.Context) (*mcpsdk.ClientSession, error) {
	c.mu.RLock()
	session := c.session
	c.mu.RUnlock()
	if session != nil {
		return session, nil
	}

	c.reinitMu.Lock()
	defer c.reinitMu.Unlock()
	return c.connectLocked(ctx)
}

// connectLocked dials the server. Caller must hold reinitMu.
func (c *Connector) connectLocked(ctx context.Context) (*mcpsdk.ClientSession, error) {
	// Re-check under the init lock: a racing caller may have connected.
	c.mu.RLock()
	if c.session != nil {
		session := c.session
		c.mu.RUnlock()
		return session, nil
	}
	c.mu.RUnlock()

	transport, err := createTransport(c.cfg)
	if err != nil {
		return nil, err
	}

	initCtx, cancel := context.WithTimeout(ctx, initTimeout)
	defer cancel()

	client := mcpsdk.NewClient(&mcpsdk.Implementation{
		Name:    version.AppName,
		Version: version.GitCommit,
	}, nil)

	session, err := client.Connect(initCtx, transport, nil)
	if err != nil {
		// Close the transport if it holds resources (stdio child processes).
		if closer, ok := transport.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("connect to %q: %w", c.id, err)
	}

	c.mu.Lock()
	c.client = client
	c.session = session
	c.mu.Unlock()

	c.logger.Info("mcp shop connected")
	return session, nil
}

// recreateSession tears down and redials. Serialized by reinitMu so
// concurrent failures cost at most one extra connect.
func (c *Connector) recreateSession(ctx context.Context) error {
	c.reinitMu.Lock()
	defer c.reinitMu.Unlock()

	c.mu.Lock()
	if c.session != nil {
		_ = c.session.Close()
		c.session = nil
		c.client = nil
	}
	c.mu.Unlock()

	_, err := c.connectLocked(ctx)
	return err
}

func orDefault(s, def string) string {
	if s == "" {
		return def
	}
	return s
}
