package models

import (
	"errors"
	"fmt"
)

// ErrorKind is the closed set of error categories the core recognises.
type ErrorKind string

const (
	ErrKindBadRequest            ErrorKind = "bad_request"
	ErrKindUnauthorized          ErrorKind = "unauthorized"
	ErrKindOverloaded            ErrorKind = "overloaded"
	ErrKindStageTimeout          ErrorKind = "stage_timeout"
	ErrKindStageInternal         ErrorKind = "stage_internal"
	ErrKindConnectorUnavailable  ErrorKind = "connector_unavailable"
	ErrKindNoConnectorsAvailable ErrorKind = "no_connectors_available"
	ErrKindNoSuitableOption      ErrorKind = "no_suitable_option"
	ErrKindUserCancelled         ErrorKind = "user_cancelled"
	ErrKindConfirmationTimeout   ErrorKind = "confirmation_timeout"
	ErrKindRiskBlocked           ErrorKind = "risk_blocked"
	ErrKindDuplicateSuppressed   ErrorKind = "duplicate_suppressed"
	ErrKindJournalFailure        ErrorKind = "journal_failure"
)

// KindError attaches an ErrorKind to an underlying error so boundaries can
// classify without string matching.
type KindError struct {
	Kind ErrorKind
	Err  error
}

func (e *KindError) Error() string {
	if e.Err == nil {
		return string(e.Kind)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Err.Error())
}

func (e *KindError) Unwrap() error { return e.Err }

// NewKindError wraps err with the given kind.
func NewKindError(kind ErrorKind, err error) *KindError {
	return &KindError{Kind: kind, Err: err}
}

// Kindf creates a KindError from a format string.
func Kindf(kind ErrorKind, format string, args ...any) *KindError {
	return &KindError{Kind: kind, Err: fmt.Errorf(format, args...)}
}

// KindOf extracts the ErrorKind from err, defaulting to stage_internal for
// unclassified errors and empty for nil.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var ke *KindError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return ErrKindStageInternal
}
