// Package connector defines the merchant connector contract: the capability
// interface every platform adapter implements, the closed error taxonomy,
// the runtime registry, the health monitor, and the OTP rendezvous used when
// a platform demands a one-time password mid-order.
package connector

import (
	"context"
	"time"

	"github.com/kiranamart/mandi/pkg/models"
)

// Capabilities declares what a connector can do. Search-only connectors are
// valid; the decision stage never selects a product from a connector that
// cannot order it.
type Capabilities struct {
	Search bool `json:"search"`
	Order  bool `json:"order"`
}

// SearchRequest is one fan-out query against a single connector.
type SearchRequest struct {
	// Query is the normalized item name ("milk", not "doodh").
	Query string
	// Quantity and Unit are hints some platforms use for pack-size matching.
	Quantity float64
	Unit     string
	// MaxResults caps the connector's reply; 0 means connector default.
	MaxResults int
}

// OrderRequest is one order placement against a single connector.
type OrderRequest struct {
	Product  models.Product
	Quantity int

	// Static user context. Passed through to the platform untouched —
	// masking applies to events and audit detail, never to connector calls.
	UserID  string
	Phone   string
	Address string

	// Prompt resolves an OTP challenge raised by the platform. Nil when the
	// caller cannot relay OTPs; the connector then fails auth_required.
	Prompt OTPPrompter
}

// OrderReceipt is the platform's acknowledgement of a placed order.
type OrderReceipt struct {
	OrderID    string    `json:"order_id"`
	Amount     float64   `json:"amount"`
	Currency   string    `json:"currency"`
	ETAMinutes int       `json:"eta_minutes"`
	PlacedAt   time.Time `json:"placed_at"`
}

// Connector adapts one merchant platform. Implementations must respect ctx
// deadlines on every call and return only taxonomy errors (*Error); anything
// else is treated as permanent by callers.
type Connector interface {
	ID() string
	Capabilities() Capabilities
	Search(ctx context.Context, req SearchRequest) ([]models.Product, error)
	Order(ctx context.Context, req OrderRequest) (*OrderReceipt, error)
}

// Pinger is implemented by connectors that support a cheap liveness probe.
// The health monitor probes connectors that implement it; others are assumed
// healthy between recorded call outcomes.
type Pinger interface {
	Ping(ctx context.Context) error
}
