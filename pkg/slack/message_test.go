package slack

import (
	"strings"
	"testing"

	goslack "github.com/slack-go/slack"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPurchaseBlockedMessage(t *testing.T) {
	blocks := BuildPurchaseBlockedMessage(PurchaseBlockedInput{
		SessionID: "sess-1",
		RunID:     "run-1",
		Item:      "milk",
		Connector: "zepto",
		RiskLevel: "critical",
		RiskScore: 90,
		Factors:   []string{"price_spike", "large_total", "duplicate_request"},
		Reason:    "risk critical: price_spike, large_total, duplicate_request",
	})

	require.Len(t, blocks, 2)

	header, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, header.Text.Text, ":no_entry:")
	assert.Contains(t, header.Text.Text, "Purchase blocked")
	assert.Contains(t, header.Text.Text, "critical risk (score 90)")

	body, ok := blocks[1].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, body.Text.Text, "*Item:* milk")
	assert.Contains(t, body.Text.Text, "*Platform:* zepto")
	assert.Contains(t, body.Text.Text, "price_spike, large_total, duplicate_request")
	assert.Contains(t, body.Text.Text, "run-1")
	assert.Contains(t, body.Text.Text, "sess-1")
}

func TestBuildPurchaseBlockedMessage_EmojiPerLevel(t *testing.T) {
	tests := []struct {
		level string
		emoji string
	}{
		{"critical", ":no_entry:"},
		{"high", ":warning:"},
		{"medium", ":large_orange_diamond:"},
		{"low", ":large_green_circle:"},
		{"bogus", ":question:"},
	}
	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			blocks := BuildPurchaseBlockedMessage(PurchaseBlockedInput{
				RunID: "run-1", RiskLevel: tt.level, RiskScore: 50,
			})
			header := blocks[0].(*goslack.SectionBlock)
			assert.Contains(t, header.Text.Text, tt.emoji)
		})
	}
}

func TestBuildPurchaseBlockedMessage_OmitsEmptyFields(t *testing.T) {
	blocks := BuildPurchaseBlockedMessage(PurchaseBlockedInput{
		SessionID: "sess-1",
		RunID:     "run-1",
		RiskLevel: "high",
		RiskScore: 70,
	})

	body := blocks[1].(*goslack.SectionBlock)
	assert.NotContains(t, body.Text.Text, "*Item:*")
	assert.NotContains(t, body.Text.Text, "*Platform:*")
	assert.NotContains(t, body.Text.Text, "*Factors:*")
	assert.Contains(t, body.Text.Text, "*Run:* run-1")
}

func TestBuildJournalDegradedMessage(t *testing.T) {
	blocks := BuildJournalDegradedMessage("data/journal.ndjson", "disk full")

	require.Len(t, blocks, 1)
	section, ok := blocks[0].(*goslack.SectionBlock)
	require.True(t, ok)
	assert.Contains(t, section.Text.Text, ":rotating_light:")
	assert.Contains(t, section.Text.Text, "Journal degraded")
	assert.Contains(t, section.Text.Text, "data/journal.ndjson")
	assert.Contains(t, section.Text.Text, "disk full")
}

func TestTruncateForSlack(t *testing.T) {
	t.Run("short text unchanged", func(t *testing.T) {
		assert.Equal(t, "hello", truncateForSlack("hello"))
	})

	t.Run("long text truncated with marker", func(t *testing.T) {
		long := strings.Repeat("x", maxBlockTextLength+500)
		got := truncateForSlack(long)
		assert.Less(t, len(got), len(long))
		assert.Contains(t, got, "(truncated)")
	})
}
