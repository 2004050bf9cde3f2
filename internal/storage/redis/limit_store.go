package redis

import (
	"context"
	"sort"
	"strconv"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const limitsSetKey = keyPrefix + "limits"

type limitStore struct {
	client *redis.Client
}

func limitKey(appID string) string {
	return keyPrefix + "limit:" + appID
}

func (s *limitStore) Get(ctx context.Context, appID string) (*storage.TimeLimit, error) {
	data, err := s.client.HGetAll(ctx, limitKey(appID)).Result()
	if err != nil {
		return nil, err
	}
	return parseTimeLimit(data)
}

func (s *limitStore) List(ctx context.Context) ([]storage.TimeLimit, error) {
	apps, err := s.client.SMembers(ctx, limitsSetKey).Result()
	if err != nil {
		return nil, err
	}
	if len(apps) == 0 {
		return []storage.TimeLimit{}, nil
	}
	sort.Strings(apps)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(apps))
	for i, app := range apps {
		cmds[i] = pipe.HGetAll(ctx, limitKey(app))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	limits := make([]storage.TimeLimit, 0, len(apps))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		limit, err := parseTimeLimit(data)
		if err == nil {
			limits = append(limits, *limit)
		}
	}
	return limits, nil
}

func (s *limitStore) Upsert(ctx context.Context, limit storage.TimeLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, limitKey(limit.AppID),
			"app_id", limit.AppID,
			"daily_limit_minutes", limit.DailyLimitMinutes,
			"weekday_limit_minutes", optionalInt(limit.WeekdayLimitMinutes),
			"weekend_limit_minutes", optionalInt(limit.WeekendLimitMinutes),
			"enabled", strconv.FormatBool(limit.Enabled),
		)
		pipe.SAdd(ctx, limitsSetKey, limit.AppID)
		return nil
	})
	return err
}

func (s *limitStore) Delete(ctx context.Context, appID string) error {
	removed, err := s.client.SRem(ctx, limitsSetKey, appID).Result()
	if err != nil {
		return err
	}
	if removed == 0 {
		return storage.ErrNotFound
	}
	return s.client.Del(ctx, limitKey(appID)).Err()
}
