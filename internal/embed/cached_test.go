package embed

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingEmbedder wraps StaticEmbedder and counts provider calls.
type countingEmbedder struct {
	*StaticEmbedder
	mu         sync.Mutex
	embedCalls int
	batchTexts int
}

func (c *countingEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	c.mu.Lock()
	c.embedCalls++
	c.mu.Unlock()
	return c.StaticEmbedder.Embed(ctx, text)
}

func (c *countingEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	c.mu.Lock()
	c.batchTexts += len(texts)
	c.mu.Unlock()
	return c.StaticEmbedder.EmbedBatch(ctx, texts)
}

func TestCachedEmbedder_RepeatQueryHitsCache(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	first, err := c.Embed(ctx, "what did we decide about dark mode")
	require.NoError(t, err)
	second, err := c.Embed(ctx, "what did we decide about dark mode")
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, 1, inner.embedCalls)
}

func TestCachedEmbedder_BatchOnlyEmbedsMisses(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 16)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Embed(ctx, "already cached")
	require.NoError(t, err)

	vecs, err := c.EmbedBatch(ctx, []string{"already cached", "new text"})
	require.NoError(t, err)
	require.Len(t, vecs, 2)

	// Only the miss went to the provider.
	assert.Equal(t, 1, inner.batchTexts)
}

func TestCachedEmbedder_EvictionRecomputes(t *testing.T) {
	inner := &countingEmbedder{StaticEmbedder: NewStaticEmbedder()}
	c := NewCachedEmbedder(inner, 2)
	defer func() { _ = c.Close() }()

	ctx := context.Background()
	_, err := c.Embed(ctx, "a")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "b")
	require.NoError(t, err)
	_, err = c.Embed(ctx, "c") // evicts "a"
	require.NoError(t, err)
	_, err = c.Embed(ctx, "a")
	require.NoError(t, err)

	assert.Equal(t, 4, inner.embedCalls)
}

func TestCachedEmbedder_PassthroughMetadata(t *testing.T) {
	c := NewCachedEmbedder(NewStaticEmbedder(), 16)
	defer func() { _ = c.Close() }()

	assert.Equal(t, StaticDimensions, c.Dimensions())
	assert.Equal(t, "static-hash-v1", c.ModelName())
	assert.True(t, c.Available(context.Background()))
}
