package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewEmbedder_StaticProvider(t *testing.T) {
	e, err := NewEmbedder(context.Background(), FactoryConfig{Provider: ProviderStatic})

	require.NoError(t, err)
	require.NotNil(t, e)
	defer func() { _ = e.Close() }()

	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_NoneDisablesVectorSide(t *testing.T) {
	e, err := NewEmbedder(context.Background(), FactoryConfig{Provider: ProviderNone})

	require.NoError(t, err)
	assert.Nil(t, e)
}

func TestNewEmbedder_UnknownProviderRejected(t *testing.T) {
	_, err := NewEmbedder(context.Background(), FactoryConfig{Provider: "gpt-xxl"})

	assert.Error(t, err)
}

func TestNewEmbedder_OllamaUnreachableDegradesToStatic(t *testing.T) {
	// Nothing listens on this port; startup must degrade, not fail.
	e, err := NewEmbedder(context.Background(), FactoryConfig{
		Provider:   ProviderOllama,
		OllamaHost: "http://127.0.0.1:1",
	})

	require.NoError(t, err)
	require.NotNil(t, e)
	defer func() { _ = e.Close() }()

	assert.Equal(t, "static-hash-v1", e.ModelName())
}
