package mcp

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemorySearchInput_JSONRoundTrip(t *testing.T) {
	in := MemorySearchInput{
		Query: "oauth refresh token rotation", Limit: 10, SpecFolder: "auth",
		Tier: "critical", ContextType: "decision", UseDecay: true, Anchors: []string{"state"},
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var out MemorySearchInput
	require.NoError(t, json.Unmarshal(raw, &out))
	assert.Equal(t, in, out)
}

func TestMemorySearchInput_OmitsEmptyOptionalFields(t *testing.T) {
	in := MemorySearchInput{Query: "test"}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.Contains(t, asMap, "query")
	assert.NotContains(t, asMap, "spec_folder")
	assert.NotContains(t, asMap, "tier")
	assert.NotContains(t, asMap, "anchors")
}

func TestMemorySaveInput_JSONTags(t *testing.T) {
	in := MemorySaveInput{
		SpecFolder: "auth", FileName: "oauth.md", Title: "OAuth notes", Content: "body",
		TriggerPhrases: []string{"oauth", "refresh token"}, Constitutional: true,
	}
	raw, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Contains(t, string(raw), `"spec_folder":"auth"`)
	assert.Contains(t, string(raw), `"file_name":"oauth.md"`)
	assert.Contains(t, string(raw), `"trigger_phrases":["oauth","refresh token"]`)
}

func TestMemoryContextInput_DefaultsAreCallerVisible(t *testing.T) {
	// mode/intent are optional - the server fills them in when absent.
	in := MemoryContextInput{Prompt: "fix the flaky login test"}
	raw, err := json.Marshal(in)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.NotContains(t, asMap, "mode")
	assert.NotContains(t, asMap, "intent")
}

func TestMemoryDriftWhyOutput_BucketsAreOmittableWhenEmpty(t *testing.T) {
	out := MemoryDriftWhyOutput{RootID: 1, All: []CausalEdgeOut{{ID: 1, SourceID: 1, TargetID: 2, Relation: "supports"}}}
	raw, err := json.Marshal(out)
	require.NoError(t, err)

	var asMap map[string]any
	require.NoError(t, json.Unmarshal(raw, &asMap))
	assert.Contains(t, asMap, "all")
	assert.NotContains(t, asMap, "by_cause")
	assert.NotContains(t, asMap, "by_supports")
}

func TestCausalEdgeOut_OmitsEmptyEvidence(t *testing.T) {
	e := CausalEdgeOut{ID: 1, SourceID: 1, TargetID: 2, Relation: "caused_by", Strength: 1.0}
	raw, err := json.Marshal(e)
	require.NoError(t, err)
	assert.NotContains(t, string(raw), "evidence")
}
