package connector

import (
	"context"
	"errors"
	"fmt"
)

// FailureKind is the closed taxonomy of connector failures. Callers branch
// on kinds, never on error strings.
type FailureKind string

const (
	// FailureUnavailable: the platform did not answer in time or refused the
	// connection. Retryable.
	FailureUnavailable FailureKind = "unavailable"
	// FailureAuthRequired: the platform wants authentication the connector
	// could not complete (e.g. OTP relay unavailable). Not retryable.
	FailureAuthRequired FailureKind = "auth_required"
	// FailureOutOfStock: the product cannot be ordered. Aborts to fallback.
	FailureOutOfStock FailureKind = "out_of_stock"
	// FailurePriceChanged: the platform rejected the expected price; NewPrice
	// carries the current one. Aborts to fallback.
	FailurePriceChanged FailureKind = "price_changed"
	// FailureRateLimited: the platform throttled us. Not retried against the
	// same connector; fallback instead of hammering.
	FailureRateLimited FailureKind = "rate_limited"
	// FailureTransient: a failure the connector believes is momentary.
	// Retryable.
	FailureTransient FailureKind = "transient"
	// FailurePermanent: everything else. Not retryable.
	FailurePermanent FailureKind = "permanent"
)

// Error is the only error type connectors return. It pins the failure to a
// taxonomy kind and the owning connector.
type Error struct {
	Kind        FailureKind
	ConnectorID string
	// NewPrice carries the current unit price for price_changed failures.
	NewPrice float64
	Err      error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.ConnectorID, e.Kind)
	}
	return fmt.Sprintf("%s: %s: %s", e.ConnectorID, e.Kind, e.Err.Error())
}

func (e *Error) Unwrap() error { return e.Err }

// NewError wraps err with a kind and connector id.
func NewError(kind FailureKind, connectorID string, err error) *Error {
	return &Error{Kind: kind, ConnectorID: connectorID, Err: err}
}

// Errorf builds a taxonomy error from a format string.
func Errorf(kind FailureKind, connectorID, format string, args ...any) *Error {
	return &Error{Kind: kind, ConnectorID: connectorID, Err: fmt.Errorf(format, args...)}
}

// PriceChanged builds the price_changed error carrying the current price.
func PriceChanged(connectorID string, newPrice float64) *Error {
	return &Error{
		Kind:        FailurePriceChanged,
		ConnectorID: connectorID,
		NewPrice:    newPrice,
		Err:         fmt.Errorf("price is now %.2f", newPrice),
	}
}

// KindOf classifies any error into the taxonomy. Deadline overruns count as
// unavailable (the connector contract: respect the deadline or be treated as
// down); unclassified errors are permanent so they are never retried.
func KindOf(err error) FailureKind {
	if err == nil {
		return ""
	}
	var ce *Error
	if errors.As(err, &ce) {
		return ce.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return FailureUnavailable
	}
	return FailurePermanent
}

// Retryable reports whether the purchase executor may retry the same
// connector after this failure.
func Retryable(err error) bool {
	switch KindOf(err) {
	case FailureTransient, FailureUnavailable:
		return true
	default:
		return false
	}
}
