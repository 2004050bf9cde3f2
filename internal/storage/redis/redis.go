package redis

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/braintrap/internal/config"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const keyPrefix = "braintrap:"

// Store implements the storage.Store interface using Redis
type Store struct {
	client       *redis.Client
	limits       *limitStore
	usage        *usageStore
	attempts     *attemptStore
	settings     *settingsStore
	achievements *achievementStore
}

// Open creates a new Redis-backed storage instance
func Open(cfg config.RedisConfig) (*Store, error) {
	dialTimeout, err := time.ParseDuration(cfg.DialTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid dial_timeout: %w", err)
	}

	readTimeout, err := time.ParseDuration(cfg.ReadTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid read_timeout: %w", err)
	}

	writeTimeout, err := time.ParseDuration(cfg.WriteTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid write_timeout: %w", err)
	}

	// Host may already carry the port
	addr := cfg.Host
	if cfg.Port > 0 {
		addr = fmt.Sprintf("%s:%d", cfg.Host, cfg.Port)
	}

	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     cfg.Password,
		DB:           cfg.DB,
		PoolSize:     cfg.PoolSize,
		MinIdleConns: cfg.MinIdleConns,
		DialTimeout:  dialTimeout,
		ReadTimeout:  readTimeout,
		WriteTimeout: writeTimeout,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return newStore(client), nil
}

func newStore(client *redis.Client) *Store {
	return &Store{
		client:       client,
		limits:       &limitStore{client: client},
		usage:        &usageStore{client: client},
		attempts:     &attemptStore{client: client},
		settings:     &settingsStore{client: client},
		achievements: &achievementStore{client: client},
	}
}

// Close closes the Redis connection
func (s *Store) Close() error {
	return s.client.Close()
}

// Limits returns the TimeLimitStore implementation
func (s *Store) Limits() storage.TimeLimitStore { return s.limits }

// Usage returns the UsageStore implementation
func (s *Store) Usage() storage.UsageStore { return s.usage }

// Attempts returns the AttemptStore implementation
func (s *Store) Attempts() storage.AttemptStore { return s.attempts }

// Settings returns the SettingsStore implementation
func (s *Store) Settings() storage.SettingsStore { return s.settings }

// Achievements returns the AchievementStore implementation
func (s *Store) Achievements() storage.AchievementStore { return s.achievements }
