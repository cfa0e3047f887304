package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "sqlite", cfg.Storage.FTSBackend)
	assert.Equal(t, "ollama", cfg.Embeddings.Provider)
	assert.Equal(t, 60, cfg.Retrieval.RRFConstant)
	assert.InDelta(t, 1.0, cfg.Retrieval.BM25Weight+cfg.Retrieval.SemanticWeight, 0.001)
}

func TestConfig_Validate_RejectsBadWeights(t *testing.T) {
	cfg := NewConfig()
	cfg.Retrieval.BM25Weight = 0.9
	cfg.Retrieval.SemanticWeight = 0.9
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestConfig_Validate_RejectsBadPEGateOrdering(t *testing.T) {
	cfg := NewConfig()
	cfg.PEGate.UpdateThreshold = 0.95
	err := cfg.Validate()
	assert.Error(t, err)
}

func TestConfig_LoadFromProjectFile(t *testing.T) {
	dir := t.TempDir()
	yamlContent := `
storage:
  fts_backend: bleve
retrieval:
  bm25_weight: 0.3
  semantic_weight: 0.7
  rrf_constant: 30
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".cogmemd.yaml"), []byte(yamlContent), 0o644))

	cfg := NewConfig()
	require.NoError(t, cfg.loadFromFile(dir))

	assert.Equal(t, "bleve", cfg.Storage.FTSBackend)
	assert.Equal(t, 30, cfg.Retrieval.RRFConstant)
	assert.InDelta(t, 0.3, cfg.Retrieval.BM25Weight, 0.001)
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("COGMEMD_RRF_CONSTANT", "42")
	t.Setenv("COGMEMD_EMBEDDINGS_PROVIDER", "static")

	cfg := NewConfig()
	cfg.applyEnvOverrides()

	assert.Equal(t, 42, cfg.Retrieval.RRFConstant)
	assert.Equal(t, "static", cfg.Embeddings.Provider)
}

func TestConfig_MergeWith_OnlyOverridesNonZero(t *testing.T) {
	base := NewConfig()
	override := &Config{}
	override.Retrieval.RRFConstant = 99

	base.mergeWith(override)

	assert.Equal(t, 99, base.Retrieval.RRFConstant)
	assert.Equal(t, "ollama", base.Embeddings.Provider) // untouched
}
