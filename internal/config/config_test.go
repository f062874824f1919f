package config

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoad_MissingAPIKeyErrors(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "")
	_, err := Load()
	assert.Error(t, err)
}

func TestLoad_DefaultsApplyWhenUnset(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("INDEXER_VERSION", "")
	t.Setenv("DISTANCE_METRIC", "")
	t.Setenv("HTTP_ADDR", "")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 1, cfg.IndexerVersion)
	assert.Equal(t, DistanceCosine, cfg.DistanceMetric)
	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, "text-embedding-3-small", cfg.OpenAI.EmbeddingModel)
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("INDEXER_VERSION", "7")
	t.Setenv("DISTANCE_METRIC", "dot")
	t.Setenv("HTTP_ADDR", ":9090")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 7, cfg.IndexerVersion)
	assert.Equal(t, DistanceDot, cfg.DistanceMetric)
	assert.Equal(t, ":9090", cfg.HTTPAddr)
}

func TestLoad_InvalidIntFallsBackToDefault(t *testing.T) {
	t.Setenv("OPENAI_API_KEY", "test-key")
	t.Setenv("MAX_QUEUE_SIZE", "not-a-number")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 10_000, cfg.MaxQueueSize)
}
