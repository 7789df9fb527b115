package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lazypower/ember/internal/engine"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "127.0.0.1:37778", cfg.ListenAddr())
}

func TestDefaultMatchesEngineDefaults(t *testing.T) {
	cfg := Default()
	assert.Equal(t, engine.DefaultOptions(), cfg.EngineOptions())
}

func TestLoadNoSources(t *testing.T) {
	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), *cfg)
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("EMBER_SERVER_PORT", "9000")
	t.Setenv("EMBER_RANK_HEAT_WEIGHT", "0.5")
	t.Setenv("EMBER_RANK_BOOST_ON_SEARCH", "false")
	t.Setenv("EMBER_COLD_MIN_AGE_DAYS", "14")
	t.Setenv("EMBER_DECAY_INTERVAL", "6h")
	t.Setenv("EMBER_EMBEDDER_PROVIDER", "tfidf")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 0.5, cfg.Rank.HeatWeight)
	assert.False(t, cfg.Rank.BoostOnSearch)
	assert.Equal(t, 14.0, cfg.Cold.MinAgeDays)
	assert.Equal(t, 6*time.Hour, cfg.Decay.Interval)
	assert.Equal(t, "tfidf", cfg.Embedder.Provider)

	// Untouched keys keep their defaults.
	assert.Equal(t, 0.7, cfg.Rank.SimilarityWeight)
}

func TestLoadFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ember.env")
	content := "EMBER_SERVER_BIND=0.0.0.0\nEMBER_QUERY_TIMEOUT=2s\nEMBER_HEAT_DECAY_RATE=0.9\nOTHER_KEY=ignored\n"
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	t.Setenv("EMBER_HEAT_DECAY_RATE", "0.95")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "0.0.0.0", cfg.Server.Bind)
	assert.Equal(t, 2*time.Second, cfg.Query.Timeout)
	assert.Equal(t, 0.95, cfg.Heat.DecayRate, "environment wins over the file")
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.env"))
	assert.Error(t, err)
}

func TestLoadBadDuration(t *testing.T) {
	t.Setenv("EMBER_QUERY_TIMEOUT", "soon")
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "query.timeout")
}

func TestValidateCollectsErrors(t *testing.T) {
	cfg := Default()
	cfg.Server.Port = 0
	cfg.Heat.DecayRate = 1.5
	cfg.Bands.Warm = 1.5
	cfg.Query.MaxLimit = 5
	cfg.Embedder.Provider = "openai"
	cfg.Log.Level = "trace"

	err := cfg.Validate()
	require.Error(t, err)
	msg := err.Error()
	assert.Contains(t, msg, "config validation failed")
	assert.Contains(t, msg, "Server.Port")
	assert.Contains(t, msg, "Heat.DecayRate")
	assert.Contains(t, msg, "bands.warm")
	assert.Contains(t, msg, "query.max.limit")
	assert.Contains(t, msg, "Embedder.Provider")
	assert.Contains(t, msg, "Log.Level")
}

func TestValidateWeights(t *testing.T) {
	cfg := Default()
	cfg.Rank.SimilarityWeight = 0
	cfg.Rank.HeatWeight = 0
	assert.Error(t, cfg.Validate())

	cfg.Rank.HeatWeight = 1
	assert.NoError(t, cfg.Validate(), "pure heat ranking is allowed")
}

func TestValidateOllamaNeedsURL(t *testing.T) {
	cfg := Default()
	cfg.Embedder.Provider = "ollama"
	cfg.Embedder.OllamaURL = ""
	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "embedder.ollama.url")
}
