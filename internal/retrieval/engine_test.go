package search

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmemd/cogmemd/internal/store"
)

func TestVectorSearch_RanksByCompositeScore(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	critical := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/critical.md", Title: "critical", ContentHash: "h1",
		Content: "critical note", ImportanceTier: store.TierCritical, ImportanceWeight: store.TierCritical.Weight(),
		Stability: 1, Difficulty: 5, UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	normal := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/normal.md", Title: "normal", ContentHash: "h2",
		Content: "normal note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		Stability: 1, Difficulty: 5, UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	results, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth"})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, critical, results[0].Memory.ID)
	assert.Equal(t, normal, results[1].Memory.ID)
	assert.Greater(t, results[0].Score, results[1].Score)
}

func TestVectorSearch_ExcludesDeprecatedByDefault(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/old.md", Title: "old", ContentHash: "h1",
		Content: "deprecated note", ImportanceTier: store.TierDeprecated, ImportanceWeight: store.TierDeprecated.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	results, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth"})
	require.NoError(t, err)
	assert.Empty(t, results)

	withDeprecated, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth", IncludeDeprecated: true})
	require.NoError(t, err)
	assert.Len(t, withDeprecated, 1)
}

func TestVectorSearch_DecayReducesOlderMemoryScore(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)
	engine.Now = func() time.Time { return time.Date(2026, 7, 30, 0, 0, 0, 0, time.UTC) }

	fresh := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/fresh.md", Title: "fresh", ContentHash: "h1",
		Content: "fresh note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: engine.Now(),
	}, []float32{1, 1, 1, 1})

	stale := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/stale.md", Title: "stale", ContentHash: "h2",
		Content: "stale note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: engine.Now().Add(-90 * 24 * time.Hour),
	}, []float32{1, 1, 1, 1})

	results, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth", UseDecay: true})
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, fresh, results[0].Memory.ID)
	assert.Equal(t, stale, results[1].Memory.ID)
}

func TestHybridSearch_FallsBackToVectorWhenFusionEmpty(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil) // no BM25 configured

	id := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/a.md", Title: "a", ContentHash: "h1",
		Content: "a note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	results, err := engine.HybridSearch(ctx, []float32{1, 1, 1, 1}, "a note", SearchOptions{SpecFolder: "auth"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, id, results[0].Memory.ID)
	assert.Equal(t, "vector", results[0].MatchedOn)
}

func TestMultiConceptSearch_RequiresEveryConceptToClearFloor(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	both := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/both.md", Title: "both", ContentHash: "h1",
		Content: "both note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/one.md", Title: "one", ContentHash: "h2",
		Content: "one note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{-1, -1, -1, -1})

	results, err := engine.MultiConceptSearch(ctx, [][]float32{{1, 1, 1, 1}, {1, 1, 1, 0.9}}, SearchOptions{SpecFolder: "auth"})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, both, results[0].Memory.ID)
}

func TestMultiConceptSearch_RejectsOutOfRangeConceptCount(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	_, err := engine.MultiConceptSearch(ctx, [][]float32{{1, 1, 1, 1}}, SearchOptions{})
	assert.Error(t, err)
}

func TestMatchTriggerPhrases_RanksByImportanceWeight(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	critical := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/c.md", Title: "c", ContentHash: "h1",
		Content: "c", ImportanceTier: store.TierCritical, ImportanceWeight: store.TierCritical.Weight(),
		TriggerPhrases: []string{"login flow"},
	}, nil)
	normal := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/n.md", Title: "n", ContentHash: "h2",
		Content: "n", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		TriggerPhrases: []string{"refresh token"},
	}, nil)

	results, err := engine.MatchTriggerPhrases(ctx, "Our Login Flow uses a refresh token.", 10)
	require.NoError(t, err)
	require.Len(t, results, 2)
	assert.Equal(t, critical, results[0].Memory.ID)
	assert.Equal(t, normal, results[1].Memory.ID)
}

func TestMatchTriggerPhrases_CacheInvalidatesOnWrite(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	results, err := engine.MatchTriggerPhrases(ctx, "anything", 10)
	require.NoError(t, err)
	assert.Empty(t, results)

	insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/c.md", Title: "c", ContentHash: "h1",
		Content: "c", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		TriggerPhrases: []string{"login flow"},
	}, nil)
	engine.Invalidate()

	results, err = engine.MatchTriggerPhrases(ctx, "login flow", 10)
	require.NoError(t, err)
	assert.Len(t, results, 1)
}

func TestVectorSearch_PinsConstitutionalRowWhenMissingFromTop(t *testing.T) {
	ctx := context.Background()
	dbPath := filepath.Join(t.TempDir(), "cogmemd.db")
	metadata, vectors := newTestEngineStores(t, dbPath)
	engine := newTestEngine(metadata, vectors, nil)
	engine.DBPath = dbPath

	insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/n.md", Title: "n", ContentHash: "h1",
		Content: "n note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	constitutional := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "rules", FilePath: "rules/const.md", Title: "const", ContentHash: "h2",
		Content: "constitutional note", ImportanceTier: store.TierConstitutional, ImportanceWeight: store.TierConstitutional.Weight(),
		UpdatedAt: time.Now(),
	}, []float32{-1, -1, -1, -1})

	results, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth", IncludeConstitutional: true})
	require.NoError(t, err)

	var foundConstitutional bool
	for _, r := range results {
		if r.Memory.ID == constitutional {
			foundConstitutional = true
		}
	}
	assert.True(t, foundConstitutional)
}

func TestApplyTestingEffect_BumpsStabilityAndReviewCount(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestEngineStores(t, "")
	engine := newTestEngine(metadata, vectors, nil)

	id := insertMemory(t, ctx, metadata, vectors, &store.Memory{
		SpecFolder: "auth", FilePath: "auth/a.md", Title: "a", ContentHash: "h1",
		Content: "a note", ImportanceTier: store.TierNormal, ImportanceWeight: store.TierNormal.Weight(),
		Stability: 1.0, Difficulty: 5.0, ReviewCount: 2, LastReview: time.Now().Add(-10 * 24 * time.Hour),
		UpdatedAt: time.Now(),
	}, []float32{1, 1, 1, 1})

	_, err := engine.VectorSearch(ctx, []float32{1, 1, 1, 1}, SearchOptions{SpecFolder: "auth"})
	require.NoError(t, err)

	m, err := metadata.GetMemory(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 3, m.ReviewCount)
	assert.Greater(t, m.Stability, 1.0)
}
