package models

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPlanIncludes(t *testing.T) {
	plan := &Plan{Stages: []StageID{StageIntentExtraction, StageTaskPlanning, StageQueryInfo, StageNotification}}

	assert.True(t, plan.Includes(StageQueryInfo))
	assert.False(t, plan.Includes(StageSearch))
	assert.False(t, plan.Includes(StagePurchase))

	var nilPlan *Plan
	assert.False(t, nilPlan.Includes(StageSearch))
}

func TestSearchHitsCandidates_DeterministicOrder(t *testing.T) {
	hits := &SearchHits{Results: map[string]ConnectorResult{
		"zepto": {Products: []Product{
			{ConnectorID: "zepto", ExternalID: "z2", Title: "Milk 1L"},
			{ConnectorID: "zepto", ExternalID: "z1", Title: "Milk 500ml"},
		}},
		"amazon": {Products: []Product{
			{ConnectorID: "amazon", ExternalID: "a1", Title: "Milk 1L"},
		}},
		"blinkit": {Error: "unavailable"},
	}}

	got := hits.Candidates()
	require.Len(t, got, 3)
	// Connector ids visited in sorted order; per-connector order preserved.
	assert.Equal(t, "a1", got[0].ExternalID)
	assert.Equal(t, "z2", got[1].ExternalID)
	assert.Equal(t, "z1", got[2].ExternalID)
}

func TestSearchHitsFailures(t *testing.T) {
	hits := &SearchHits{Results: map[string]ConnectorResult{
		"zepto":   {Error: "timeout"},
		"amazon":  {Products: []Product{{ExternalID: "a1"}}},
		"blinkit": {Error: "unavailable"},
	}}

	assert.Equal(t, []string{"blinkit", "zepto"}, hits.Failures())
	assert.False(t, hits.AllFailed())
}

func TestSearchHitsAllFailed(t *testing.T) {
	assert.True(t, (&SearchHits{Results: map[string]ConnectorResult{}}).AllFailed())
	assert.True(t, (&SearchHits{Results: map[string]ConnectorResult{
		"zepto": {Error: "unavailable"},
	}}).AllFailed())
	assert.False(t, (&SearchHits{Results: map[string]ConnectorResult{
		"zepto": {Products: []Product{{ExternalID: "p"}}},
	}}).AllFailed())
}

func TestProductInStock(t *testing.T) {
	var p Product
	_, ok := p.InStock()
	assert.False(t, ok, "no stock signal")

	zero := 0
	p.Stock = &zero
	in, ok := p.InStock()
	assert.True(t, ok)
	assert.False(t, in)

	five := 5
	p.Stock = &five
	in, ok = p.InStock()
	assert.True(t, ok)
	assert.True(t, in)
}

func TestKindError(t *testing.T) {
	base := errors.New("socket closed")
	ke := NewKindError(ErrKindConnectorUnavailable, base)

	assert.Equal(t, "connector_unavailable: socket closed", ke.Error())
	assert.ErrorIs(t, ke, base)
	assert.Equal(t, ErrKindConnectorUnavailable, KindOf(ke))

	// Wrapped KindErrors are still classified.
	wrapped := fmt.Errorf("search stage: %w", ke)
	assert.Equal(t, ErrKindConnectorUnavailable, KindOf(wrapped))

	// Unclassified errors default to stage_internal.
	assert.Equal(t, ErrKindStageInternal, KindOf(errors.New("boom")))
	assert.Equal(t, ErrorKind(""), KindOf(nil))
}

func TestStageStatusTerminal(t *testing.T) {
	assert.True(t, StageStatusComplete.Terminal())
	assert.True(t, StageStatusError.Terminal())
	assert.True(t, StageStatusSkipped.Terminal())
	assert.False(t, StageStatusIdle.Terminal())
	assert.False(t, StageStatusProcessing.Terminal())
}
