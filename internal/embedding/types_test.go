package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestProfile_Slug_IsStableForSameInputs(t *testing.T) {
	p1 := Profile{Provider: "ollama", Model: "qwen3-embedding:0.6b", Dim: 1024}
	p2 := Profile{Provider: "ollama", Model: "qwen3-embedding:0.6b", Dim: 1024}

	assert.Equal(t, p1.Slug(), p2.Slug())
	assert.Len(t, p1.Slug(), 16)
}

func TestProfile_Slug_DiffersOnAnyField(t *testing.T) {
	base := Profile{Provider: "ollama", Model: "qwen3-embedding:0.6b", Dim: 1024}
	diffProvider := Profile{Provider: "static", Model: base.Model, Dim: base.Dim}
	diffModel := Profile{Provider: base.Provider, Model: "mxbai-embed-large", Dim: base.Dim}
	diffDim := Profile{Provider: base.Provider, Model: base.Model, Dim: 768}

	assert.NotEqual(t, base.Slug(), diffProvider.Slug())
	assert.NotEqual(t, base.Slug(), diffModel.Slug())
	assert.NotEqual(t, base.Slug(), diffDim.Slug())
}

func TestProfile_String_IncludesProviderModelDimAndSlug(t *testing.T) {
	p := Profile{Provider: "static", Model: "hash-projection-v1", Dim: StaticDimensions}

	s := p.String()
	assert.Contains(t, s, "static")
	assert.Contains(t, s, "hash-projection-v1")
	assert.Contains(t, s, p.Slug())
}

func TestNormalizeVector_ScalesToUnitLength(t *testing.T) {
	v := []float32{3, 4}
	normalized := normalizeVector(v)

	assert.InDelta(t, 1.0, vectorMagnitude(normalized), 0.0001)
}

func TestNormalizeVector_ZeroVectorReturnedAsIs(t *testing.T) {
	v := []float32{0, 0, 0}
	normalized := normalizeVector(v)

	assert.Equal(t, v, normalized)
}
