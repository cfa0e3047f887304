package indexer

import (
	"context"
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/cogmemd/cogmemd/internal/config"
	"github.com/cogmemd/cogmemd/internal/fsrs"
	"github.com/cogmemd/cogmemd/internal/pegate"
	"github.com/cogmemd/cogmemd/internal/store"
)

const testDimensions = 4

func newTestStores(t *testing.T) (*store.SQLiteMetadataStore, *store.HNSWStore) {
	t.Helper()
	metadata, err := store.NewSQLiteMetadataStore("")
	require.NoError(t, err)
	t.Cleanup(func() { _ = metadata.Close() })

	vectors, err := store.NewHNSWStore(store.DefaultVectorStoreConfig(testDimensions))
	require.NoError(t, err)
	t.Cleanup(func() { _ = vectors.Close() })

	return metadata, vectors
}

// constantEmbedder always returns the same unit vector, so every document
// it embeds lands at cosine similarity 1.0 against any other it embedded:
// enough to drive the indexer's CREATE/REINFORCE orchestration without
// needing a real embedding model. The PE gate's banding logic itself is
// covered directly in package pegate.
type constantEmbedder struct {
	fail bool
}

var errEmbedUnavailable = errors.New("embedding provider unavailable")

func (e *constantEmbedder) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	if e.fail {
		return nil, errEmbedUnavailable
	}
	return []float32{1, 1, 1, 1}, nil
}

func (e *constantEmbedder) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return []float32{1, 1, 1, 1}, nil
}

func newTestIndexer(t *testing.T, metadata store.MetadataStore, vectors store.VectorStore, embedder *constantEmbedder) *Indexer {
	t.Helper()
	gate := pegate.NewGate(config.PEGateConfig{
		ReinforceThreshold: 0.95,
		UpdateThreshold:    0.90,
		LinkedThreshold:    0.70,
	}, pegate.NewNegationPairDetector())
	scheduler := fsrs.NewScheduler(config.SchedulerConfig{
		InitialStability:    1.0,
		InitialDifficulty:   5.0,
		RetrievabilityFloor: 0.7,
	})
	return &Indexer{
		Metadata:  metadata,
		Vectors:   vectors,
		Embedder:  embedder,
		Gate:      gate,
		Scheduler: scheduler,
	}
}

func writeMemoryFile(t *testing.T, dir, name, frontmatter, body string) string {
	t.Helper()
	path := dir + "/" + name
	content := "---\n" + frontmatter + "\n---\n" + body + "\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

const validFrontmatter = `title: Login flow uses refresh tokens
spec_folder: auth
context_type: decision
importance_tier: important
trigger_phrases: ["login flow", "refresh token"]`
