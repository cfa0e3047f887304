package embedding

import (
	"context"
	"crypto/sha256"
	"encoding/hex"

	lru "github.com/hashicorp/golang-lru/v2"
)

// DefaultCacheSize is the default number of content-hash to vector entries
// kept per cache (document and query caches are sized independently).
const DefaultCacheSize = 1000

// CachedProvider wraps a Provider with an LRU of content-hash to vector,
// avoiding redundant embedding calls when the same memory content or query
// text is seen again within the cache window.
type CachedProvider struct {
	inner      Provider
	docCache   *lru.Cache[string, []float32]
	queryCache *lru.Cache[string, []float32]
}

// NewCachedProvider wraps inner with document and query LRU caches of the
// given size (0 uses DefaultCacheSize).
func NewCachedProvider(inner Provider, cacheSize int) *CachedProvider {
	if cacheSize <= 0 {
		cacheSize = DefaultCacheSize
	}
	docCache, _ := lru.New[string, []float32](cacheSize)
	queryCache, _ := lru.New[string, []float32](cacheSize)
	return &CachedProvider{inner: inner, docCache: docCache, queryCache: queryCache}
}

func (c *CachedProvider) cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text + "\x00" + c.inner.Metadata().Slug()))
	return hex.EncodeToString(sum[:])
}

// EmbedDocument returns a cached vector if present, otherwise computes and
// caches one via the wrapped provider.
func (c *CachedProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.docCache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedDocument(ctx, text)
	if err != nil {
		return nil, err
	}
	c.docCache.Add(key, vec)
	return vec, nil
}

// EmbedQuery returns a cached vector if present, otherwise computes and
// caches one via the wrapped provider. Kept in a cache separate from
// EmbedDocument's because providers may apply different prefixes.
func (c *CachedProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	key := c.cacheKey(text)
	if vec, ok := c.queryCache.Get(key); ok {
		return vec, nil
	}
	vec, err := c.inner.EmbedQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	c.queryCache.Add(key, vec)
	return vec, nil
}

// Metadata passes through to the wrapped provider.
func (c *CachedProvider) Metadata() Profile {
	return c.inner.Metadata()
}

// IsReady passes through to the wrapped provider.
func (c *CachedProvider) IsReady() bool {
	return c.inner.IsReady()
}

// AwaitReady passes through to the wrapped provider.
func (c *CachedProvider) AwaitReady(ctx context.Context) error {
	return c.inner.AwaitReady(ctx)
}

// Close closes the wrapped provider. The caches hold no resources beyond
// memory and need no explicit release.
func (c *CachedProvider) Close() error {
	return c.inner.Close()
}

// Inner returns the wrapped provider, for callers that need
// provider-specific behavior not exposed through the Provider interface.
func (c *CachedProvider) Inner() Provider {
	return c.inner
}
