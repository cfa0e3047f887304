package search

import (
	"context"
	"strconv"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/fsrs"
	"github.com/cogmemd/cogmemd/internal/store"
)

const testEngineDimensions = 4

func newTestEngineStores(t *testing.T, dbPath string) (*store.SQLiteMetadataStore, *store.HNSWStore) {
	t.Helper()
	metadata, err := store.NewSQLiteMetadataStore(dbPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(testEngineDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	return metadata, vectors
}

func newTestEngine(metadata store.MetadataStore, vectors store.VectorStore, bm25 store.BM25Index) *Engine {
	return &Engine{
		Metadata:  metadata,
		Vectors:   vectors,
		BM25:      bm25,
		Scheduler: fsrs.NewScheduler(config.SchedulerConfig{InitialStability: 1.0, InitialDifficulty: 5.0, RetrievabilityFloor: 0.7}),
		Config: config.RetrievalConfig{
			BM25Weight:                  0.4,
			SemanticWeight:              0.6,
			RRFConstant:                 60,
			TierWeightFloor:             0.1,
			DecayTauDays:                30,
			MinConceptSimilarity:        0.5,
			ConstitutionalBackfillLimit: 5,
		},
	}
}

func insertMemory(t *testing.T, ctx context.Context, metadata store.MetadataStore, vectors store.VectorStore, m *store.Memory, vec []float32) int64 {
	t.Helper()
	id, err := metadata.IndexMemory(ctx, m)
	require.NoError(t, err)
	if vec != nil {
		require.NoError(t, vectors.Add(ctx, []string{strconv.FormatInt(id, 10)}, [][]float32{vec}))
	}
	return id
}
