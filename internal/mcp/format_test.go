package mcp

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	search "github.com/cogmemd/cogmemd/internal/retrieval"
	"github.com/cogmemd/cogmemd/internal/store"
)

func TestFormatMemoryResults_Basic(t *testing.T) {
	results := []search.Result{
		{
			Memory: &store.Memory{
				Title:         "OAuth refresh tokens",
				ImportanceTier: store.TierCritical,
				Content:       "Refresh tokens rotate on every use.",
			},
			Score:     0.95,
			VecScore:  0.9,
			BM25Score: 0.4,
			MatchedOn: "vector+lexical",
		},
	}

	markdown := FormatMemoryResults("oauth", results)

	assert.Contains(t, markdown, "## Memory Search Results")
	assert.Contains(t, markdown, `"oauth"`)
	assert.Contains(t, markdown, "Found 1 result")
	assert.Contains(t, markdown, "OAuth refresh tokens")
	assert.Contains(t, markdown, "score: 0.950")
	assert.Contains(t, markdown, "critical")
	assert.Contains(t, markdown, "Refresh tokens rotate on every use.")
}

func TestFormatMemoryResults_MultipleResults(t *testing.T) {
	results := []search.Result{
		{Memory: &store.Memory{Title: "First", ImportanceTier: store.TierNormal, Content: "one"}, Score: 0.9},
		{Memory: &store.Memory{Title: "Second", ImportanceTier: store.TierNormal, Content: "two"}, Score: 0.8},
	}

	markdown := FormatMemoryResults("test", results)

	assert.Contains(t, markdown, "Found 2 results")
	assert.Contains(t, markdown, "### 1.")
	assert.Contains(t, markdown, "### 2.")
}

func TestFormatMemoryResults_EmptyResults(t *testing.T) {
	markdown := FormatMemoryResults("xyznonexistent", nil)

	assert.Contains(t, markdown, "No memories found")
	assert.Contains(t, markdown, "xyznonexistent")
	assert.NotContains(t, markdown, "###")
}

func TestFormatMemoryResults_NilMemorySkippedGracefully(t *testing.T) {
	results := []search.Result{{Memory: nil, Score: 0.5}}

	markdown := FormatMemoryResults("test", results)

	// the result slice wasn't empty, so the header still reports one
	// found, even though the nil entry renders nothing below it.
	assert.Contains(t, markdown, "Found 1 result")
}

func TestFormatMemoryResults_UsesProjectionWhenPresent(t *testing.T) {
	results := []search.Result{
		{
			Memory:     &store.Memory{Title: "A", ImportanceTier: store.TierNormal, Content: "full content"},
			Projection: "working-memory projection text",
			Score:      0.7,
		},
	}

	markdown := FormatMemoryResults("test", results)

	assert.Contains(t, markdown, "working-memory projection text")
	assert.NotContains(t, markdown, "full content")
}

func TestGenerateMatchReason_AllSignals(t *testing.T) {
	r := search.Result{MatchedOn: "trigger_phrase", VecScore: 0.81, BM25Score: 0.42}
	reason := generateMatchReason(r)
	assert.Contains(t, reason, "matched on: trigger_phrase")
	assert.Contains(t, reason, "vector similarity 0.810")
	assert.Contains(t, reason, "lexical score 0.420")
}

func TestGenerateMatchReason_NoSignals_ReturnsDefault(t *testing.T) {
	reason := generateMatchReason(search.Result{})
	assert.Equal(t, "matched memory content", reason)
}

func TestClampLimit(t *testing.T) {
	tests := []struct {
		name       string
		limit      int
		defaultVal int
		min        int
		max        int
		want       int
	}{
		{"zero uses default", 0, 10, 1, 50, 10},
		{"negative uses default", -5, 10, 1, 50, 10},
		{"above max clamps to max", 100, 10, 1, 50, 50},
		{"valid value unchanged", 25, 10, 1, 50, 25},
		{"at min boundary", 1, 10, 1, 50, 1},
		{"at max boundary", 50, 10, 1, 50, 50},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := clampLimit(tt.limit, tt.defaultVal, tt.min, tt.max)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatMemoryResults_LargeResultSet(t *testing.T) {
	results := make([]search.Result, 50)
	for i := range results {
		results[i] = search.Result{
			Memory: &store.Memory{Title: "memory", ImportanceTier: store.TierNormal, Content: "body"},
			Score:  float64(50-i) / 50.0,
		}
	}

	markdown := FormatMemoryResults("test", results)

	assert.Contains(t, markdown, "Found 50 results")
	assert.Equal(t, 50, strings.Count(markdown, "### "))
}
