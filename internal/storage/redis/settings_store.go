package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	settingsKey     = keyPrefix + "settings"
	achievementsKey = keyPrefix + "achievements"
)

type settingsStore struct {
	client *redis.Client
}

func (s *settingsStore) Get(ctx context.Context, key string) (string, error) {
	value, err := s.client.HGet(ctx, settingsKey, key).Result()
	if err == redis.Nil {
		return "", storage.ErrNotFound
	}
	return value, err
}

func (s *settingsStore) Put(ctx context.Context, key, value string) error {
	return s.client.HSet(ctx, settingsKey, key, value).Err()
}

func (s *settingsStore) Delete(ctx context.Context, key string) error {
	return s.client.HDel(ctx, settingsKey, key).Err()
}

type achievementStore struct {
	client *redis.Client
}

func (s *achievementStore) Get(ctx context.Context, id string) (*storage.AchievementUnlock, error) {
	raw, err := s.client.HGet(ctx, achievementsKey, id).Result()
	if err == redis.Nil {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	var unlock storage.AchievementUnlock
	if err := json.Unmarshal([]byte(raw), &unlock); err != nil {
		return nil, fmt.Errorf("unmarshal achievement: %w", err)
	}
	return &unlock, nil
}

func (s *achievementStore) List(ctx context.Context) ([]storage.AchievementUnlock, error) {
	all, err := s.client.HGetAll(ctx, achievementsKey).Result()
	if err != nil {
		return nil, err
	}
	unlocks := make([]storage.AchievementUnlock, 0, len(all))
	for _, raw := range all {
		var unlock storage.AchievementUnlock
		if err := json.Unmarshal([]byte(raw), &unlock); err != nil {
			return nil, fmt.Errorf("unmarshal achievement: %w", err)
		}
		unlocks = append(unlocks, unlock)
	}
	return unlocks, nil
}

// Unlock relies on HSETNX so concurrent evaluations record an achievement once
func (s *achievementStore) Unlock(ctx context.Context, unlock storage.AchievementUnlock) (bool, error) {
	payload, err := json.Marshal(unlock)
	if err != nil {
		return false, fmt.Errorf("marshal achievement: %w", err)
	}
	return s.client.HSetNX(ctx, achievementsKey, unlock.ID, string(payload)).Result()
}
