package slack

import (
	"context"
	"log/slog"
	"time"

	"github.com/kiranamart/mandi/pkg/connector"
)

// warningSource tags slack-delivery warnings so a later success clears them.
const warningSource = "slack"

// NotifierConfig holds the parameters needed to construct a Notifier.
type NotifierConfig struct {
	Token   string
	Channel string
	// Warnings receives a slack_delivery warning on post failure. May be nil.
	Warnings *connector.SystemWarnings
}

// Notifier delivers ops notifications to Slack.
// Nil-safe: all methods are no-ops when the notifier is nil.
type Notifier struct {
	client   *Client
	warnings *connector.SystemWarnings
	logger   *slog.Logger
}

// NewNotifier creates a Slack ops notifier.
// Returns nil if Token or Channel is empty.
func NewNotifier(cfg NotifierConfig) *Notifier {
	if cfg.Token == "" || cfg.Channel == "" {
		return nil
	}
	return &Notifier{
		client:   NewClient(cfg.Token, cfg.Channel),
		warnings: cfg.Warnings,
		logger:   slog.Default().With("component", "slack-notifier"),
	}
}

// NewNotifierWithClient creates a Notifier backed by a pre-built Client.
// Useful for testing with a mock API server.
func NewNotifierWithClient(client *Client, warnings *connector.SystemWarnings) *Notifier {
	return &Notifier{
		client:   client,
		warnings: warnings,
		logger:   slog.Default().With("component", "slack-notifier"),
	}
}

// NotifyPurchaseBlocked alerts the ops channel that the risk gate refused a
// purchase. Fail-open: errors are logged and recorded as warnings, never
// returned.
func (n *Notifier) NotifyPurchaseBlocked(ctx context.Context, in PurchaseBlockedInput) {
	if n == nil {
		return
	}
	blocks := BuildPurchaseBlockedMessage(in)
	if err := n.client.PostMessage(ctx, blocks, 5*time.Second); err != nil {
		n.logger.Error("Failed to send blocked-purchase notification",
			"run_id", in.RunID, "error", err)
		n.addWarning("blocked-purchase notification not delivered", err)
		return
	}
	n.clearWarning()
}

// NotifyJournalDegraded alerts the ops channel that journal or audit writes
// are failing. Fail-open.
func (n *Notifier) NotifyJournalDegraded(ctx context.Context, path string, cause error) {
	if n == nil {
		return
	}
	errMsg := ""
	if cause != nil {
		errMsg = cause.Error()
	}
	blocks := BuildJournalDegradedMessage(path, errMsg)
	if err := n.client.PostMessage(ctx, blocks, 10*time.Second); err != nil {
		n.logger.Error("Failed to send journal-degraded notification",
			"path", path, "error", err)
		n.addWarning("journal-degraded notification not delivered", err)
		return
	}
	n.clearWarning()
}

func (n *Notifier) addWarning(message string, err error) {
	if n.warnings == nil {
		return
	}
	n.warnings.AddWarning(connector.WarningSlackDelivery, message, err.Error(), warningSource)
}

func (n *Notifier) clearWarning() {
	if n.warnings == nil {
		return
	}
	n.warnings.ClearBySource(connector.WarningSlackDelivery, warningSource)
}
