package embed

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseProvider(t *testing.T) {
	tests := []struct {
		in      string
		want    ProviderType
		wantErr bool
	}{
		{"", ProviderStatic, false},
		{"static", ProviderStatic, false},
		{" Ollama ", ProviderOllama, false},
		{"mlx", "", true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ParseProvider(tt.in)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestNewEmbedder_StaticIsCachedByDefault(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Config{Provider: ProviderStatic})
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.(*CachedEmbedder)
	assert.True(t, ok)
	assert.Equal(t, StaticDimensions, e.Dimensions())
}

func TestNewEmbedder_NegativeCacheSizeDisablesCache(t *testing.T) {
	e, err := NewEmbedder(context.Background(), Config{Provider: ProviderStatic, CacheSize: -1})
	require.NoError(t, err)
	defer e.Close()

	_, ok := e.(*StaticEmbedder)
	assert.True(t, ok)
}

func TestNewEmbedder_UnknownProvider(t *testing.T) {
	_, err := NewEmbedder(context.Background(), Config{Provider: "mlx"})
	assert.Error(t, err)
}
