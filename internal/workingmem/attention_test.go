package workingmem

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/store"
)

type stubMatcher struct {
	ids []int64
}

func (s stubMatcher) MatchTriggerPhrases(ctx context.Context, prompt string, limit int) ([]MatchedMemory, error) {
	out := make([]MatchedMemory, len(s.ids))
	for i, id := range s.ids {
		out[i] = MatchedMemory{MemoryID: id}
	}
	return out, nil
}

var noMatches = stubMatcher{}

func newTestMetadata(t *testing.T) *store.SQLiteMetadataStore {
	t.Helper()
	m, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = m.Close() })
	return m
}

func insertTestMemory(t *testing.T, ctx context.Context, metadata *store.SQLiteMetadataStore, title string, related []int64) int64 {
	t.Helper()
	id, err := metadata.IndexMemory(ctx, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/" + title + ".md", Title: title, ContentHash: title,
		Content: title, ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		RelatedMemories: related,
	})
	require.NoError(t, err)
	return id
}

func testConfig() config.WorkingMemoryConfig {
	return config.WorkingMemoryConfig{
		DecayRate:          0.5,
		SpreadFactor:       0.8,
		InhibitionStrength: 0.15,
		AttentionFloor:     0.05,
		MaxActiveMemories:  40,
		SeedBoost:          0.5,
	}
}

func TestTurn_ActivatesMatchedMemoryToFullScore(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	id := insertTestMemory(t, ctx, metadata, "alpha", nil)

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{id}}, Config: testConfig()}
	projections, err := tracker.Turn(ctx, "session-1", 1, "alpha trigger")
	require.NoError(t, err)
	require.Len(t, projections, 1)
	assert.Equal(t, TierHot, projections[0].Tier)
	assert.Equal(t, 1.0, projections[0].Score)
	assert.NotEmpty(t, projections[0].Content)
}

func TestTurn_CoActivatesRelatedMemory(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	related := insertTestMemory(t, ctx, metadata, "related", nil)
	seed := insertTestMemory(t, ctx, metadata, "seed", []int64{related})

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{seed}}, Config: testConfig()}
	projections, err := tracker.Turn(ctx, "session-1", 1, "seed trigger")
	require.NoError(t, err)

	var relatedScore float64
	var found bool
	for _, p := range projections {
		if p.MemoryID == related {
			relatedScore = p.Score
			found = true
		}
	}
	require.True(t, found)
	assert.InDelta(t, coActivationBonus, relatedScore, 1e-9)
}

func TestTurn_CoActivatesCausalNeighborViaEnabledBy(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	neighbor := insertTestMemory(t, ctx, metadata, "enabler", nil)
	seed := insertTestMemory(t, ctx, metadata, "seed", nil)
	_, err := metadata.InsertEdge(ctx, &store.CausalEdge{SourceID: seed, TargetID: neighbor, Relation: store.RelationEnabledBy, Strength: 1.0})
	require.NoError(t, err)

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{seed}}, Config: testConfig()}
	projections, err := tracker.Turn(ctx, "session-1", 1, "seed trigger")
	require.NoError(t, err)

	var found bool
	for _, p := range projections {
		if p.MemoryID == neighbor {
			found = true
		}
	}
	assert.True(t, found)
}

func TestTurn_DecaysScoreAcrossTurns(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	id := insertTestMemory(t, ctx, metadata, "alpha", nil)

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{id}}, Config: testConfig()}
	_, err := tracker.Turn(ctx, "session-1", 1, "alpha trigger")
	require.NoError(t, err)

	decayOnly := &Tracker{Metadata: metadata, Trigger: noMatches, Config: testConfig()}
	projections, err := decayOnly.Turn(ctx, "session-1", 5, "unrelated prompt")
	require.NoError(t, err)

	var score float64
	var found bool
	for _, p := range projections {
		if p.MemoryID == id {
			score = p.Score
			found = true
		}
	}
	require.True(t, found)
	assert.Less(t, score, 1.0)
}

func TestTurn_DecaysBelowFloorDrops(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	id := insertTestMemory(t, ctx, metadata, "alpha", nil)

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{id}}, Config: testConfig()}
	_, err := tracker.Turn(ctx, "session-1", 1, "alpha trigger")
	require.NoError(t, err)

	decayOnly := &Tracker{Metadata: metadata, Trigger: noMatches, Config: testConfig()}
	projections, err := decayOnly.Turn(ctx, "session-1", 10000, "unrelated prompt")
	require.NoError(t, err)
	for _, p := range projections {
		assert.NotEqual(t, id, p.MemoryID)
	}
}

func TestTurn_ColdEntriesAreTrackedButNotReturned(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	id := insertTestMemory(t, ctx, metadata, "alpha", nil)

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: []int64{id}}, Config: testConfig()}
	_, err := tracker.Turn(ctx, "session-1", 1, "alpha trigger")
	require.NoError(t, err)

	decayOnly := &Tracker{Metadata: metadata, Trigger: noMatches, Config: testConfig()}
	projections, err := decayOnly.Turn(ctx, "session-1", 20, "unrelated prompt")
	require.NoError(t, err)
	for _, p := range projections {
		assert.NotEqual(t, id, p.MemoryID)
	}

	entries, err := metadata.GetWorkingMemory(ctx, "session-1")
	require.NoError(t, err)
	var tracked bool
	for _, e := range entries {
		if e.MemoryID == id {
			tracked = true
		}
	}
	assert.True(t, tracked)
}

func TestTurn_EnforcesSoftCap(t *testing.T) {
	ctx := context.Background()
	metadata := newTestMetadata(t)
	cfg := testConfig()
	cfg.MaxActiveMemories = 2

	var ids []int64
	for i := 0; i < 3; i++ {
		ids = append(ids, insertTestMemory(t, ctx, metadata, string(rune('a'+i)), nil))
	}

	tracker := &Tracker{Metadata: metadata, Trigger: stubMatcher{ids: ids}, Config: cfg}
	_, err := tracker.Turn(ctx, "session-1", 1, "all three")
	require.NoError(t, err)

	entries, err := metadata.GetWorkingMemory(ctx, "session-1")
	require.NoError(t, err)
	assert.LessOrEqual(t, len(entries), 2)
}

func TestClassify_Thresholds(t *testing.T) {
	assert.Equal(t, TierHot, Classify(0.75))
	assert.Equal(t, TierWarm, Classify(0.35))
	assert.Equal(t, TierWarm, Classify(0.74))
	assert.Equal(t, TierCold, Classify(0.34))
	assert.Equal(t, TierCold, Classify(0))
}
