package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const attemptsKey = keyPrefix + "attempts"

type attemptStore struct {
	client *redis.Client
}

func attemptKey(id string) string {
	return keyPrefix + "attempt:" + id
}

func attemptsAppKey(appID string) string {
	return keyPrefix + "attempts:app:" + appID
}

func (s *attemptStore) Add(ctx context.Context, attempt storage.ChallengeAttempt) error {
	payload, err := json.Marshal(attempt)
	if err != nil {
		return fmt.Errorf("marshal attempt: %w", err)
	}
	keys := []string{attemptKey(attempt.ID), attemptsKey, attemptsAppKey(attempt.AppID)}
	args := []interface{}{attempt.ID, string(payload), attempt.Timestamp.UnixNano()}
	return addAttempt.Run(ctx, s.client, keys, args...).Err()
}

func (s *attemptStore) RecentForApp(ctx context.Context, appID string, limit int) ([]storage.ChallengeAttempt, error) {
	if limit <= 0 {
		return []storage.ChallengeAttempt{}, nil
	}
	ids, err := s.client.ZRevRange(ctx, attemptsAppKey(appID), 0, int64(limit-1)).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *attemptStore) List(ctx context.Context) ([]storage.ChallengeAttempt, error) {
	ids, err := s.client.ZRange(ctx, attemptsKey, 0, -1).Result()
	if err != nil {
		return nil, err
	}
	return s.load(ctx, ids)
}

func (s *attemptStore) Count(ctx context.Context) (int, error) {
	n, err := s.client.ZCard(ctx, attemptsKey).Result()
	return int(n), err
}

func (s *attemptStore) DeleteBefore(ctx context.Context, cutoff time.Time) (int, error) {
	bound := "(" + strconv.FormatInt(cutoff.UnixNano(), 10)
	ids, err := s.client.ZRangeByScore(ctx, attemptsKey, &redis.ZRangeBy{Min: "-inf", Max: bound}).Result()
	if err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, nil
	}

	attempts, err := s.load(ctx, ids)
	if err != nil {
		return 0, err
	}

	pipe := s.client.TxPipeline()
	for _, attempt := range attempts {
		pipe.ZRem(ctx, attemptsAppKey(attempt.AppID), attempt.ID)
	}
	for _, id := range ids {
		pipe.Del(ctx, attemptKey(id))
		pipe.ZRem(ctx, attemptsKey, id)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return 0, err
	}
	return len(ids), nil
}

// load fetches attempts by id, preserving order and skipping expired entries
func (s *attemptStore) load(ctx context.Context, ids []string) ([]storage.ChallengeAttempt, error) {
	attempts := make([]storage.ChallengeAttempt, 0, len(ids))
	if len(ids) == 0 {
		return attempts, nil
	}

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = attemptKey(id)
	}
	values, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, err
	}

	for _, value := range values {
		raw, ok := value.(string)
		if !ok {
			continue
		}
		var attempt storage.ChallengeAttempt
		if err := json.Unmarshal([]byte(raw), &attempt); err != nil {
			return nil, fmt.Errorf("unmarshal attempt: %w", err)
		}
		attempts = append(attempts, attempt)
	}
	return attempts, nil
}
