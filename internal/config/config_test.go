package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("BRAINTRAP_STORAGE_PATH", filepath.Join(dir, "data", "braintrap.bolt"))

	cfg, err := Load(filepath.Join(dir, "missing.yaml"))
	require.NoError(t, err)

	assert.Equal(t, "bolt", cfg.Storage.Type)
	assert.Equal(t, "1s", cfg.Engine.Debounce)
	assert.Equal(t, "30s", cfg.Usage.PollInterval)
	assert.Equal(t, 90, cfg.Usage.RetentionDays)
	assert.Equal(t, 3, cfg.Challenge.ProblemsRequired)
	assert.Equal(t, 45, cfg.Challenge.DefaultBonusMinutes)
	assert.Equal(t, 10, cfg.Intercept.FocusUnlockMinutes)
	assert.DirExists(t, filepath.Join(dir, "data"))
}

func TestLoadFromFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	content := `
storage:
  type: redis
  redis:
    host: cache.internal
engine:
  host_app_id: org.example.guard
  debounce: 2s
challenge:
  problems_required: 5
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "redis", cfg.Storage.Type)
	assert.Equal(t, "cache.internal", cfg.Storage.Redis.Host)
	assert.Equal(t, "org.example.guard", cfg.Engine.HostAppID)
	assert.Equal(t, "2s", cfg.Engine.Debounce)
	assert.Equal(t, 5, cfg.Challenge.ProblemsRequired)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
	}{
		{"unknown storage", func(c *Config) { c.Storage.Type = "sqlite" }},
		{"bad debounce", func(c *Config) { c.Engine.Debounce = "soon" }},
		{"negative settle", func(c *Config) { c.Intercept.SettleDelay = "-1s" }},
		{"bad cleanup time", func(c *Config) { c.Usage.CleanupTime = "25:99" }},
		{"zero problems", func(c *Config) { c.Challenge.ProblemsRequired = 0 }},
		{"negative bonus", func(c *Config) { c.Challenge.DefaultBonusMinutes = -5 }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig(t)
			tt.mutate(cfg)
			assert.Error(t, validate(cfg))
		})
	}
}

func validConfig(t *testing.T) *Config {
	t.Helper()
	return &Config{
		Storage: StorageConfig{Type: "bolt", Path: filepath.Join(t.TempDir(), "db.bolt")},
		Engine:  EngineConfig{Debounce: "1s", UsageQueryTimeout: "500ms"},
		Usage:   UsageConfig{PollInterval: "30s", RetentionDays: 90, CleanupTime: "03:00"},
		Intercept: InterceptConfig{
			SettleDelay:        "300ms",
			LockoutCountdown:   "10s",
			FocusUnlockMinutes: 10,
		},
		Challenge: ChallengeConfig{
			ProblemsRequired:    3,
			ProblemTimeLimit:    "30s",
			DefaultBonusMinutes: 45,
			HistoryWindow:       5,
		},
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	assert.Equal(t, "bolt", cfg.Storage.Type)
	assert.Equal(t, "300ms", cfg.Intercept.SettleDelay)
	assert.Equal(t, 8, cfg.Bridge.MaxInFlight)
	assert.True(t, cfg.Metrics.Enabled)
}

func TestKnownKeys(t *testing.T) {
	keys := KnownKeys()
	assert.True(t, keys["engine.debounce"])
	assert.True(t, keys["storage.redis.password"])
	assert.True(t, keys["challenge.history_window"])
	assert.False(t, keys["engine.debounse"])
}
