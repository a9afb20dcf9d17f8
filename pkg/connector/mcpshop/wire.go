package mcpshop

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"strings"

	mcpsdk "github.com/modelcontextprotocol/go-sdk/mcp"

	"github.com/kiranamart/mandi/pkg/connector"
	"github.com/kiranamart/mandi/pkg/models"
)

// Tool payloads are JSON carried in MCP text content. The shapes below are
// the contract mandi expects shop servers to speak.

type wireProduct struct {
	ID         string  `json:"id"`
	Title      string  `json:"title"`
	Price      float64 `json:"price"`
	Currency   string  `json:"currency"`
	ETAMinutes int     `json:"eta_minutes"`
	Rating     float64 `json:"rating"`
	Stock      *int    `json:"stock"`
	URL        string  `json:"url"`
}

type searchResponse struct {
	Products []wireProduct `json:"products"`
}

// orderResponse covers all three outcomes of place_order / submit_otp:
// status "placed" (terminal success), "otp_required" (call submit_otp with
// the challenge id), "failed" (code maps onto the failure taxonomy).
type orderResponse struct {
	Status      string  `json:"status"`
	OrderID     string  `json:"order_id"`
	Amount      float64 `json:"amount"`
	Currency    string  `json:"currency"`
	ETAMinutes  int     `json:"eta_minutes"`
	ChallengeID string  `json:"challenge_id"`
	Hint        string  `json:"hint"`
	Code        string  `json:"code"`
	Message     string  `json:"message"`
	NewPrice    float64 `json:"new_price"`
}

// extractTextContent extracts text from an MCP CallToolResult, concatenating
// all text items. Non-text content is skipped.
func extractTextContent(result *mcpsdk.CallToolResult) string {
	var parts []string
	for _, c := range result.Content {
		if tc, ok := c.(*mcpsdk.TextContent); ok {
			parts = append(parts, tc.Text)
		}
	}
	return strings.Join(parts, "\n")
}

func parseSearchResponse(connectorID, text string) ([]models.Product, error) {
	var resp searchResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, connector.NewError(connector.FailurePermanent, connectorID,
			fmt.Errorf("malformed search response: %w", err))
	}
	out := make([]models.Product, 0, len(resp.Products))
	for _, p := range resp.Products {
		currency := p.Currency
		if currency == "" {
			currency = "INR"
		}
		out = append(out, models.Product{
			ConnectorID: connectorID,
			ExternalID:  p.ID,
			Title:       p.Title,
			UnitPrice:   p.Price,
			Currency:    currency,
			DeliveryETA: p.ETAMinutes,
			Rating:      p.Rating,
			Stock:       p.Stock,
			URL:         p.URL,
		})
	}
	return out, nil
}

func parseOrderResponse(connectorID, text string) (*orderResponse, error) {
	var resp orderResponse
	if err := json.Unmarshal([]byte(text), &resp); err != nil {
		return nil, connector.NewError(connector.FailurePermanent, connectorID,
			fmt.Errorf("malformed order response: %w", err))
	}
	return &resp, nil
}

// wireFailure maps a "failed" order response onto the failure taxonomy.
func wireFailure(connectorID string, resp *orderResponse) error {
	kind := kindFromCode(resp.Code)
	err := connector.Errorf(kind, connectorID, "%s", failureMessage(resp))
	if kind == connector.FailurePriceChanged {
		var cerr *connector.Error
		_ = errors.As(err, &cerr)
		cerr.NewPrice = resp.NewPrice
	}
	return err
}

func failureMessage(resp *orderResponse) string {
	if resp.Message != "" {
		return resp.Message
	}
	if resp.Code != "" {
		return resp.Code
	}
	return "order rejected"
}

func kindFromCode(code string) connector.FailureKind {
	switch strings.ToLower(strings.TrimSpace(code)) {
	case "out_of_stock", "stock_exhausted":
		return connector.FailureOutOfStock
	case "price_changed", "price_mismatch":
		return connector.FailurePriceChanged
	case "rate_limited", "too_many_requests":
		return connector.FailureRateLimited
	case "auth_required", "otp_rejected", "unauthorized":
		return connector.FailureAuthRequired
	case "unavailable", "maintenance":
		return connector.FailureUnavailable
	case "transient", "try_again":
		return connector.FailureTransient
	default:
		return connector.FailurePermanent
	}
}

// classifyTransportError maps MCP SDK/transport failures onto the taxonomy.
// Deadline and connection-level failures read as the platform being
// unreachable; protocol-level rejections are permanent.
func classifyTransportError(connectorID string, err error) error {
	var cerr *connector.Error
	if errors.As(err, &cerr) {
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return connector.NewError(connector.FailureUnavailable, connectorID, err)
	}
	if errors.Is(err, context.Canceled) {
		return connector.NewError(connector.FailureUnavailable, connectorID, err)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return connector.NewError(connector.FailureUnavailable, connectorID, err)
	}
	if isConnectionError(err) {
		return connector.NewError(connector.FailureUnavailable, connectorID, err)
	}

	msg := strings.ToLower(err.Error())
	if strings.Contains(msg, "rate limit") || strings.Contains(msg, "429") {
		return connector.NewError(connector.FailureRateLimited, connectorID, err)
	}

	return connector.NewError(connector.FailurePermanent, connectorID, err)
}

// isConnectionError detects connection-level transport failures worth a
// session rebuild.
func isConnectionError(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}

	msg := strings.ToLower(err.Error())
	connectionErrors := []string{
		"connection refused",
		"connection reset",
		"broken pipe",
		"connection closed",
		"no such host",
		"session closed",
	}
	for _, e := range connectionErrors {
		if strings.Contains(msg, e) {
			return true
		}
	}
	return false
}
