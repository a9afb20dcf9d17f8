package slack

import (
	"fmt"
	"strings"

	goslack "github.com/slack-go/slack"
)

const maxBlockTextLength = 2900

var riskEmoji = map[string]string{
	"critical": ":no_entry:",
	"high":     ":warning:",
	"medium":   ":large_orange_diamond:",
	"low":      ":large_green_circle:",
}

// PurchaseBlockedInput carries the context for a blocked-purchase alert.
type PurchaseBlockedInput struct {
	SessionID string
	RunID     string
	Item      string
	Connector string
	RiskLevel string
	RiskScore int
	Factors   []string
	Reason    string
}

// BuildPurchaseBlockedMessage creates Block Kit blocks for a purchase the
// risk gate refused to execute.
func BuildPurchaseBlockedMessage(in PurchaseBlockedInput) []goslack.Block {
	emoji := riskEmoji[in.RiskLevel]
	if emoji == "" {
		emoji = ":question:"
	}

	header := fmt.Sprintf("%s *Purchase blocked* — %s risk (score %d)",
		emoji, in.RiskLevel, in.RiskScore)

	var lines []string
	if in.Item != "" {
		lines = append(lines, fmt.Sprintf("*Item:* %s", in.Item))
	}
	if in.Connector != "" {
		lines = append(lines, fmt.Sprintf("*Platform:* %s", in.Connector))
	}
	if len(in.Factors) > 0 {
		lines = append(lines, fmt.Sprintf("*Factors:* %s", strings.Join(in.Factors, ", ")))
	}
	if in.Reason != "" {
		lines = append(lines, fmt.Sprintf("*Reason:* %s", in.Reason))
	}
	lines = append(lines, fmt.Sprintf("*Run:* %s (session %s)", in.RunID, in.SessionID))

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, header, false, false),
			nil, nil,
		),
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType,
				truncateForSlack(strings.Join(lines, "\n")), false, false),
			nil, nil,
		),
	}
}

// BuildJournalDegradedMessage creates Block Kit blocks for a journal or audit
// write failure. Once this fires the process is refusing new runs.
func BuildJournalDegradedMessage(path, errMsg string) []goslack.Block {
	text := fmt.Sprintf(":rotating_light: *Journal degraded* — runs are being refused.\n*Path:* %s", path)
	if errMsg != "" {
		text += fmt.Sprintf("\n*Error:* %s", truncateForSlack(errMsg))
	}

	return []goslack.Block{
		goslack.NewSectionBlock(
			goslack.NewTextBlockObject(goslack.MarkdownType, text, false, false),
			nil, nil,
		),
	}
}

func truncateForSlack(text string) string {
	if len(text) <= maxBlockTextLength {
		return text
	}
	return text[:maxBlockTextLength] + "\n\n_... (truncated)_"
}
