package embedding

import (
	"context"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockProvider struct {
	docCalls  atomic.Int64
	queryCalls atomic.Int64
	dim       int
	vec       []float32
	ready     bool
}

func newMockProvider(dim int) *mockProvider {
	vec := make([]float32, dim)
	for i := range vec {
		vec[i] = float32(i) * 0.001
	}
	return &mockProvider{dim: dim, vec: vec, ready: true}
}

func (m *mockProvider) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	m.docCalls.Add(1)
	return m.vec, nil
}

func (m *mockProvider) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	m.queryCalls.Add(1)
	return m.vec, nil
}

func (m *mockProvider) Metadata() Profile {
	return Profile{Provider: "mock", Model: "mock-model", Dim: m.dim}
}

func (m *mockProvider) IsReady() bool { return m.ready }

func (m *mockProvider) AwaitReady(ctx context.Context) error { return nil }

func (m *mockProvider) Close() error { return nil }

func TestCachedProvider_ImplementsProviderInterface(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	var _ Provider = cached
}

func TestCachedProvider_CacheHit_ReturnsWithoutCallingInner(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	text := "causal edge contradicts"

	r1, err1 := cached.EmbedDocument(ctx, text)
	r2, err2 := cached.EmbedDocument(ctx, text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(1), inner.docCalls.Load())
	assert.Equal(t, r1, r2)
}

func TestCachedProvider_CacheMiss_CallsInnerForNewText(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, err1 := cached.EmbedDocument(ctx, "text one")
	_, err2 := cached.EmbedDocument(ctx, "text two")
	_, err3 := cached.EmbedDocument(ctx, "text three")

	require.NoError(t, err1)
	require.NoError(t, err2)
	require.NoError(t, err3)
	assert.Equal(t, int64(3), inner.docCalls.Load())
}

func TestCachedProvider_DocumentAndQueryCachesAreIndependent(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	text := "same text, different roles"

	_, err1 := cached.EmbedDocument(ctx, text)
	_, err2 := cached.EmbedQuery(ctx, text)

	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, int64(1), inner.docCalls.Load())
	assert.Equal(t, int64(1), inner.queryCalls.Load())

	// Repeating either call should now be a cache hit.
	_, _ = cached.EmbedDocument(ctx, text)
	_, _ = cached.EmbedQuery(ctx, text)
	assert.Equal(t, int64(1), inner.docCalls.Load())
	assert.Equal(t, int64(1), inner.queryCalls.Load())
}

func TestCachedProvider_Metadata_ReturnsInnerMetadata(t *testing.T) {
	inner := newMockProvider(1024)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, 1024, cached.Metadata().Dim)
}

func TestCachedProvider_IsReady_ReturnsInnerReady(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	assert.True(t, cached.IsReady())
}

func TestCachedProvider_Close_ClosesInner(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)

	assert.NoError(t, cached.Close())
}

func TestNewCachedProvider_ZeroSizeUsesDefault(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 0)
	defer func() { _ = cached.Close() }()

	_, err := cached.EmbedDocument(context.Background(), "test")
	require.NoError(t, err)
}

func TestCachedProvider_CacheEviction_OldestEvictedFirst(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 3)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	_, _ = cached.EmbedDocument(ctx, "text1")
	_, _ = cached.EmbedDocument(ctx, "text2")
	_, _ = cached.EmbedDocument(ctx, "text3")
	_, _ = cached.EmbedDocument(ctx, "text4")

	inner.docCalls.Store(0)
	_, err := cached.EmbedDocument(ctx, "text1")
	require.NoError(t, err)
	assert.Equal(t, int64(1), inner.docCalls.Load(), "evicted text should require recomputation")

	inner.docCalls.Store(0)
	_, _ = cached.EmbedDocument(ctx, "text3")
	_, _ = cached.EmbedDocument(ctx, "text4")
	assert.Equal(t, int64(0), inner.docCalls.Load(), "recent texts should stay cached")
}

func TestCachedProvider_Inner_ReturnsWrappedProvider(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	assert.Equal(t, inner, cached.Inner())
}

func TestCachedProvider_ConcurrentAccess_NoRace(t *testing.T) {
	inner := newMockProvider(768)
	cached := NewCachedProvider(inner, 100)
	defer func() { _ = cached.Close() }()

	ctx := context.Background()
	texts := []string{"a", "b", "c", "d", "e"}

	done := make(chan bool)
	for i := 0; i < 10; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				_, _ = cached.EmbedDocument(ctx, texts[j%len(texts)])
				_, _ = cached.EmbedQuery(ctx, texts[j%len(texts)])
			}
			done <- true
		}()
	}
	for i := 0; i < 10; i++ {
		<-done
	}
}
