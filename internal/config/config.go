package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config holds the complete application configuration
type Config struct {
	Storage   StorageConfig   `mapstructure:"storage"`
	Logging   LoggingConfig   `mapstructure:"logging"`
	Engine    EngineConfig    `mapstructure:"engine"`
	Usage     UsageConfig     `mapstructure:"usage_tracking"`
	Intercept InterceptConfig `mapstructure:"intercept"`
	Challenge ChallengeConfig `mapstructure:"challenge"`
	Bridge    BridgeConfig    `mapstructure:"bridge"`
	Metrics   MetricsConfig   `mapstructure:"metrics"`
}

// StorageConfig defines storage backend settings
type StorageConfig struct {
	Path  string      `mapstructure:"path"`
	Type  string      `mapstructure:"type"` // "bolt" or "redis"
	Redis RedisConfig `mapstructure:"redis"`
}

// RedisConfig defines the redis connection used when storage.type is "redis"
type RedisConfig struct {
	Host         string `mapstructure:"host"`
	Port         int    `mapstructure:"port"`
	Password     string `mapstructure:"password"`
	DB           int    `mapstructure:"db"`
	PoolSize     int    `mapstructure:"pool_size"`
	MinIdleConns int    `mapstructure:"min_idle_conns"`
	DialTimeout  string `mapstructure:"dial_timeout"`
	ReadTimeout  string `mapstructure:"read_timeout"`
	WriteTimeout string `mapstructure:"write_timeout"`
}

// LoggingConfig defines logging behavior
type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// EngineConfig defines blocking decision engine settings
type EngineConfig struct {
	HostAppID         string `mapstructure:"host_app_id"`         // our own package, never blocked
	Debounce          string `mapstructure:"debounce"`            // suppress re-blocks within this window
	UsageQueryTimeout string `mapstructure:"usage_query_timeout"` // fail open after this
	LimitCacheSize    int    `mapstructure:"limit_cache_size"`
	LimitCacheTTL     string `mapstructure:"limit_cache_ttl"`
}

// UsageConfig defines usage accounting settings
type UsageConfig struct {
	PollInterval  string `mapstructure:"poll_interval"`
	RetentionDays int    `mapstructure:"retention_days"`
	CleanupTime   string `mapstructure:"cleanup_time"` // HH:MM local
}

// InterceptConfig defines eviction and lockout settings
type InterceptConfig struct {
	SettleDelay        string `mapstructure:"settle_delay"`
	LockoutCountdown   string `mapstructure:"lockout_countdown"`
	FocusUnlockMinutes int    `mapstructure:"focus_unlock_minutes"`
	QueueSize          int    `mapstructure:"queue_size"`
}

// ChallengeConfig defines the arithmetic challenge
type ChallengeConfig struct {
	ProblemsRequired    int    `mapstructure:"problems_required"`
	ProblemTimeLimit    string `mapstructure:"problem_time_limit"`
	DefaultBonusMinutes int    `mapstructure:"default_bonus_minutes"`
	HistoryWindow       int    `mapstructure:"history_window"`
}

// BridgeConfig defines the host event bridge
type BridgeConfig struct {
	MaxInFlight int `mapstructure:"max_in_flight"`
}

// MetricsConfig defines the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Address string `mapstructure:"address"`
}

// Load loads configuration from file and environment variables
func Load(configPath string) (*Config, error) {
	v := viper.New()

	setDefaults(v)

	v.SetConfigFile(configPath)
	v.SetEnvPrefix("BRAINTRAP")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !os.IsNotExist(err) && !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		// Config file not found, use defaults and environment variables
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := validate(&config); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &config, nil
}

// Defaults returns the configuration with only default values applied.
func Defaults() *Config {
	v := viper.New()
	setDefaults(v)

	var config Config
	_ = v.Unmarshal(&config)
	return &config
}

// KnownKeys returns every recognised configuration key.
func KnownKeys() map[string]bool {
	v := viper.New()
	setDefaults(v)

	keys := map[string]bool{
		// Keys without a default
		"storage.redis.password": true,
	}
	for _, key := range v.AllKeys() {
		keys[key] = true
	}
	return keys
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Storage defaults
	v.SetDefault("storage.path", "/var/lib/braintrap/braintrap.bolt")
	v.SetDefault("storage.type", "bolt")
	v.SetDefault("storage.redis.host", "localhost")
	v.SetDefault("storage.redis.port", 6379)
	v.SetDefault("storage.redis.db", 0)
	v.SetDefault("storage.redis.pool_size", 10)
	v.SetDefault("storage.redis.min_idle_conns", 2)
	v.SetDefault("storage.redis.dial_timeout", "5s")
	v.SetDefault("storage.redis.read_timeout", "3s")
	v.SetDefault("storage.redis.write_timeout", "3s")

	// Logging defaults
	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")

	// Engine defaults
	v.SetDefault("engine.host_app_id", "com.braintrap.app")
	v.SetDefault("engine.debounce", "1s")
	v.SetDefault("engine.usage_query_timeout", "500ms")
	v.SetDefault("engine.limit_cache_size", 256)
	v.SetDefault("engine.limit_cache_ttl", "1m")

	// Usage tracking defaults
	v.SetDefault("usage_tracking.poll_interval", "30s")
	v.SetDefault("usage_tracking.retention_days", 90)
	v.SetDefault("usage_tracking.cleanup_time", "03:00")

	// Intercept defaults
	v.SetDefault("intercept.settle_delay", "300ms")
	v.SetDefault("intercept.lockout_countdown", "10s")
	v.SetDefault("intercept.focus_unlock_minutes", 10)
	v.SetDefault("intercept.queue_size", 16)

	// Challenge defaults
	v.SetDefault("challenge.problems_required", 3)
	v.SetDefault("challenge.problem_time_limit", "30s")
	v.SetDefault("challenge.default_bonus_minutes", 45)
	v.SetDefault("challenge.history_window", 5)

	// Bridge defaults
	v.SetDefault("bridge.max_in_flight", 8)

	// Metrics defaults
	v.SetDefault("metrics.enabled", true)
	v.SetDefault("metrics.address", "127.0.0.1:9464")
}

// validate validates the configuration
func validate(cfg *Config) error {
	if cfg.Storage.Type == "" {
		cfg.Storage.Type = "bolt"
	}

	switch cfg.Storage.Type {
	case "bolt":
		if cfg.Storage.Path == "" {
			return fmt.Errorf("storage path is required")
		}
		// Ensure storage directory exists
		storageDir := filepath.Dir(cfg.Storage.Path)
		if err := os.MkdirAll(storageDir, 0755); err != nil {
			return fmt.Errorf("failed to create storage directory: %w", err)
		}
	case "redis":
		if cfg.Storage.Redis.Host == "" {
			return fmt.Errorf("storage.redis.host is required")
		}
	default:
		return fmt.Errorf("unsupported storage type: %s", cfg.Storage.Type)
	}

	durations := map[string]string{
		"engine.debounce":              cfg.Engine.Debounce,
		"engine.usage_query_timeout":   cfg.Engine.UsageQueryTimeout,
		"usage_tracking.poll_interval": cfg.Usage.PollInterval,
		"intercept.settle_delay":       cfg.Intercept.SettleDelay,
		"intercept.lockout_countdown":  cfg.Intercept.LockoutCountdown,
		"challenge.problem_time_limit": cfg.Challenge.ProblemTimeLimit,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", key, err)
		}
		if d < 0 {
			return fmt.Errorf("invalid %s: must not be negative", key)
		}
	}

	if _, err := time.Parse("15:04", cfg.Usage.CleanupTime); err != nil {
		return fmt.Errorf("invalid usage_tracking.cleanup_time %q: %w", cfg.Usage.CleanupTime, err)
	}
	if cfg.Usage.RetentionDays <= 0 {
		return fmt.Errorf("usage_tracking.retention_days must be positive")
	}
	if cfg.Challenge.ProblemsRequired <= 0 {
		return fmt.Errorf("challenge.problems_required must be positive")
	}
	if cfg.Challenge.HistoryWindow <= 0 {
		return fmt.Errorf("challenge.history_window must be positive")
	}
	if cfg.Challenge.DefaultBonusMinutes < 0 || cfg.Intercept.FocusUnlockMinutes < 0 {
		return fmt.Errorf("grant minutes must not be negative")
	}

	return nil
}
