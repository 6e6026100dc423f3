package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, ":8080", cfg.HTTPAddr)
	assert.Equal(t, 2, cfg.MatchSize)
	assert.Equal(t, 250*time.Millisecond, cfg.MatchInterval)
	assert.Equal(t, 100.0, cfg.InitialWindow)
	assert.Equal(t, 500.0, cfg.MaxWindow)
	assert.Equal(t, time.Minute, cfg.MaxQueueWait)
	assert.Equal(t, 3, cfg.ProvisionRetries)
	assert.Equal(t, 3, cfg.MaxRequeue)
	assert.Equal(t, 32.0, cfg.EloK)
	assert.Equal(t, 24*time.Hour, cfg.ProcessedTTL)
	assert.Empty(t, cfg.OrchestratorURL)
}

func TestLoadOverridesFromEnv(t *testing.T) {
	t.Setenv("MATCH_SIZE", "4")
	t.Setenv("MATCH_INTERVAL", "1s")
	t.Setenv("INITIAL_WINDOW", "50")
	t.Setenv("MAX_QUEUE_WAIT", "90s")
	t.Setenv("ORCHESTRATOR_URL", "http://agones-gateway:9090")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, 4, cfg.MatchSize)
	assert.Equal(t, time.Second, cfg.MatchInterval)
	assert.Equal(t, 50.0, cfg.InitialWindow)
	assert.Equal(t, 90*time.Second, cfg.MaxQueueWait)
	assert.Equal(t, "http://agones-gateway:9090", cfg.OrchestratorURL)
}

func TestLoadRejectsGarbage(t *testing.T) {
	t.Setenv("MATCH_SIZE", "not-a-number")

	_, err := Load()
	require.Error(t, err)
}
