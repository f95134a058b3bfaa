package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadRequiresAccount(t *testing.T) {
	_, err := Load("")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "account is required")
}

func TestLoadDefaultsWithEnvAccount(t *testing.T) {
	t.Setenv("POTHEAD_ACCOUNT", "+12025550100")

	cfg, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, "+12025550100", cfg.Account)
	assert.Equal(t, []string{"!pot", "!pothead", "!ph"}, cfg.TriggerWords)
	assert.Equal(t, 30, cfg.HistoryMaxLength)
	assert.Equal(t, 30, cfg.SettleSeconds)
	assert.Equal(t, "signal-cli", cfg.SignalCLIPath)
}

func TestLoadYAMLFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pothead.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
account: "+12025550100"
superuser: "+12025550199"
trigger_words: ["!bot"]
history_max_length: 5
enabled_plugins: [echo, cron]
ai:
  provider: openai
  model: gpt-4o
`), 0o644))

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "+12025550199", cfg.Superuser)
	assert.Equal(t, []string{"!bot"}, cfg.TriggerWords)
	assert.Equal(t, 5, cfg.HistoryMaxLength)
	assert.Equal(t, []string{"echo", "cron"}, cfg.EnabledPlugins)
	assert.Equal(t, "openai", cfg.AI.Provider)
}

func TestEnvironmentOverridesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "pothead.yaml")
	require.NoError(t, os.WriteFile(path, []byte("account: \"+111\"\nlog_level: info\n"), 0o644))

	t.Setenv("POTHEAD_LOG_LEVEL", "debug")
	t.Setenv("POTHEAD_AI_API_KEY", "sk-test")

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "+111", cfg.Account)
	assert.Equal(t, "debug", cfg.LogLevel)
	assert.Equal(t, "sk-test", cfg.AI.APIKey)
}

func TestMissingFileFallsBackToDefaults(t *testing.T) {
	t.Setenv("POTHEAD_ACCOUNT", "+12025550100")

	cfg, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "info", cfg.LogLevel)
}
