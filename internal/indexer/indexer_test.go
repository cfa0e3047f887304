package indexer

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cogmemd/cogmemd/internal/store"
)

func memoryDir(t *testing.T) string {
	t.Helper()
	dir := filepath.Join(t.TempDir(), "specs", "auth", "memory")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	return dir
}

func TestIndexMemoryFile_FirstWriteCreates(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{})

	path := writeMemoryFile(t, memoryDir(t), "001-login.md", validFrontmatter, "Login issues a refresh token on success.")

	result, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, result.Status)
	assert.Positive(t, result.ID)

	m, err := metadata.GetMemory(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, "Login flow uses refresh tokens", m.Title)
	assert.Equal(t, store.EmbeddingSuccess, m.EmbeddingStatus)
	assert.Equal(t, 1, vectors.Count())
}

func TestIndexMemoryFile_RejectsPathOutsideAllowedRoots(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{})

	path := writeMemoryFile(t, t.TempDir(), "001-login.md", validFrontmatter, "body")

	_, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	assert.Error(t, err)
}

func TestIndexMemoryFile_UnchangedContentHashShortCircuits(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{})
	dir := memoryDir(t)
	path := writeMemoryFile(t, dir, "001-login.md", validFrontmatter, "Login issues a refresh token on success.")

	first, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, first.Status)

	second, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	require.NoError(t, err)
	assert.Equal(t, StatusUnchanged, second.Status)
	assert.Equal(t, first.ID, second.ID)
}

func TestIndexMemoryFile_ForceBypassesUnchangedShortCircuit(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{})
	dir := memoryDir(t)
	path := writeMemoryFile(t, dir, "001-login.md", validFrontmatter, "Login issues a refresh token on success.")

	first, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	require.NoError(t, err)
	require.Equal(t, StatusCreated, first.Status)

	// Same content, same embedding (constantEmbedder): the gate sees a
	// candidate at similarity 1.0 and reinforces rather than recreating.
	second, err := idx.IndexMemoryFile(ctx, path, IndexOptions{Force: true})
	require.NoError(t, err)
	assert.Equal(t, StatusReinforced, second.Status)
	assert.Equal(t, first.ID, second.ID)

	m, err := metadata.GetMemory(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, m.ReviewCount)
}

func TestIndexMemoryFile_EmbeddingFailureWithoutPartialUpdateErrors(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{fail: true})
	path := writeMemoryFile(t, memoryDir(t), "001-login.md", validFrontmatter, "body")

	_, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	assert.Error(t, err)
}

func TestIndexMemoryFile_EmbeddingFailureWithPartialUpdateStoresPending(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{fail: true})
	path := writeMemoryFile(t, memoryDir(t), "001-login.md", validFrontmatter, "body")

	result, err := idx.IndexMemoryFile(ctx, path, IndexOptions{AllowPartialUpdate: true})
	require.NoError(t, err)
	assert.Equal(t, StatusCreated, result.Status)
	assert.NotEmpty(t, result.Warnings)

	m, err := metadata.GetMemory(ctx, result.ID)
	require.NoError(t, err)
	assert.Equal(t, store.EmbeddingPending, m.EmbeddingStatus)
	assert.Equal(t, 0, vectors.Count())
}

func TestIndexMemoryFile_InvalidFrontMatterReturnsError(t *testing.T) {
	ctx := context.Background()
	metadata, vectors := newTestStores(t)
	idx := newTestIndexer(t, metadata, vectors, &constantEmbedder{})
	path := writeMemoryFile(t, memoryDir(t), "001-login.md", "title: only a title", "body")

	_, err := idx.IndexMemoryFile(ctx, path, IndexOptions{})
	assert.Error(t, err)
}
