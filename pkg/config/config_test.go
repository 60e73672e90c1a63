package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)

	assert.Equal(t, 8080, cfg.Server.Port)
	assert.True(t, cfg.Summarizer.RuleBased)
	assert.Equal(t, 15, cfg.Emergency.ResponseBudgetSec)
	assert.Equal(t, 20, cfg.Emergency.HistoryLimit)
	assert.Equal(t, 5, cfg.Search.TopK)
	assert.Equal(t, 2000, cfg.Search.ChunkSize)
	assert.False(t, cfg.Redis.Enabled)
}

func TestLoadFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	content := `
server:
  port: 9090
summarizer:
  ruleBased: false
  extraAllergens:
    - bee venom
search:
  topK: 3
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := LoadFrom(viper.New(), path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.False(t, cfg.Summarizer.RuleBased)
	assert.Equal(t, []string{"bee venom"}, cfg.Summarizer.ExtraAllergens)
	assert.Equal(t, 3, cfg.Search.TopK)
	assert.Equal(t, "info", cfg.Logging.Level)
}

func TestLoadExplicitMissingFile(t *testing.T) {
	_, err := LoadFrom(viper.New(), filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestLoadEnvOverride(t *testing.T) {
	t.Setenv("MEDIVAULT_SERVER_PORT", "7070")

	cfg, err := LoadFrom(viper.New(), "")
	require.NoError(t, err)
	assert.Equal(t, 7070, cfg.Server.Port)
}
