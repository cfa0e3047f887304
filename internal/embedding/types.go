// Package embedding implements the embedding profile and provider
// abstraction (C1): a deterministic (provider, model, dim) identity and a
// synchronous embed_document/embed_query contract in front of it.
package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"math"
	"time"
)

// Batch and timeout defaults. Thermal-progression tuning for sustained
// on-device GPU workloads does not apply here: the providers this module
// talks to are either a local Ollama daemon or a pure-function fallback,
// neither of which throttles the way Apple Silicon's shared memory bus does
// under a long indexing run.
const (
	MinBatchSize     = 1
	MaxBatchSize     = 256
	DefaultBatchSize = 32

	DefaultTimeout        = 30 * time.Second
	DefaultConnectTimeout = 5 * time.Second
	DefaultMaxRetries     = 3

	// ModelUnloadThreshold is how long Ollama keeps a model resident after
	// its last use. No code in this module reads it.
	ModelUnloadThreshold = 5 * time.Minute
)

// StaticDimensions is the embedding dimension produced by StaticProvider.
const StaticDimensions = 256

// Profile is the deterministic (provider, model, dim) identity spec.md
// §4.1 requires: its Slug forms the database-file suffix and is the value
// written into the store's config table on first use.
type Profile struct {
	Provider string
	Model    string
	Dim      int
}

// Slug returns a stable, filesystem-safe identifier for the profile: a
// sha256 of provider+model+dim, hex-encoded and truncated to 16 characters.
func (p Profile) Slug() string {
	h := sha256.Sum256([]byte(fmt.Sprintf("%s\x00%s\x00%d", p.Provider, p.Model, p.Dim)))
	return hex.EncodeToString(h[:])[:16]
}

func (p Profile) String() string {
	return fmt.Sprintf("%s/%s (dim=%d, slug=%s)", p.Provider, p.Model, p.Dim, p.Slug())
}

// Provider generates vector embeddings for memory content and queries.
// Documents and queries may apply different normalizations or prefixes
// internally but must always return vectors of the same length, Metadata().Dim.
type Provider interface {
	// EmbedDocument embeds memory content being written to the store.
	EmbedDocument(ctx context.Context, text string) ([]float32, error)

	// EmbedQuery embeds a retrieval query. Some providers prepend a
	// query-specific instruction prefix; callers must not assume document
	// and query embeddings of the same text are identical.
	EmbedQuery(ctx context.Context, text string) ([]float32, error)

	// Metadata returns the provider's profile identity.
	Metadata() Profile

	// IsReady reports whether the provider can currently serve requests
	// without blocking.
	IsReady() bool

	// AwaitReady blocks until the provider becomes ready or ctx is done.
	AwaitReady(ctx context.Context) error

	// Close releases any held resources (connections, background probes).
	Close() error
}

// normalizeVector scales v to unit length. A zero vector is returned as-is.
func normalizeVector(v []float32) []float32 {
	var sumSquares float64
	for _, val := range v {
		sumSquares += float64(val) * float64(val)
	}

	magnitude := math.Sqrt(sumSquares)
	if magnitude == 0 {
		return v
	}

	out := make([]float32, len(v))
	for i, val := range v {
		out[i] = float32(float64(val) / magnitude)
	}
	return out
}
