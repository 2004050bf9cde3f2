package redis

import (
	"context"
	"fmt"
	"sort"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/redis/go-redis/v9"
)

const (
	usageKeyPrefix = keyPrefix + "usage:daily:"
	usageDatesKey  = keyPrefix + "usage:dates"
)

type usageStore struct {
	client *redis.Client
}

func usageKey(date, appID string) string {
	return fmt.Sprintf("%s%s:%s", usageKeyPrefix, date, appID)
}

func usageIndexKey(date string) string {
	return fmt.Sprintf("%sindex:%s", usageKeyPrefix, date)
}

// GetDailyUsage retrieves the record for one app on one date
func (s *usageStore) GetDailyUsage(ctx context.Context, date string, appID string) (*storage.UsageRecord, error) {
	data, err := s.client.HGetAll(ctx, usageKey(date, appID)).Result()
	if err != nil {
		return nil, err
	}
	return parseUsageRecord(data)
}

// ListDailyUsage returns all records for a specific date
func (s *usageStore) ListDailyUsage(ctx context.Context, date string) ([]storage.UsageRecord, error) {
	apps, err := s.client.SMembers(ctx, usageIndexKey(date)).Result()
	if err != nil {
		return nil, err
	}
	return s.fetch(ctx, date, apps)
}

// ListUsageRange walks the date index between from and to inclusive
func (s *usageStore) ListUsageRange(ctx context.Context, appID string, from, to string) ([]storage.UsageRecord, error) {
	lo, err := dayNumber(from)
	if err != nil {
		return nil, err
	}
	hi, err := dayNumber(to)
	if err != nil {
		return nil, err
	}

	dates, err := s.client.ZRangeByScore(ctx, usageDatesKey, &redis.ZRangeBy{
		Min: fmt.Sprintf("%d", lo),
		Max: fmt.Sprintf("%d", hi),
	}).Result()
	if err != nil {
		return nil, err
	}

	records := make([]storage.UsageRecord, 0)
	for _, date := range dates {
		var dayRecords []storage.UsageRecord
		if appID != "" {
			dayRecords, err = s.fetch(ctx, date, []string{appID})
		} else {
			dayRecords, err = s.ListDailyUsage(ctx, date)
		}
		if err != nil {
			return nil, err
		}
		records = append(records, dayRecords...)
	}
	return records, nil
}

// fetch loads several records for one date in a single pipeline
func (s *usageStore) fetch(ctx context.Context, date string, apps []string) ([]storage.UsageRecord, error) {
	if len(apps) == 0 {
		return []storage.UsageRecord{}, nil
	}
	sort.Strings(apps)

	pipe := s.client.Pipeline()
	cmds := make([]*redis.MapStringStringCmd, len(apps))
	for i, app := range apps {
		cmds[i] = pipe.HGetAll(ctx, usageKey(date, app))
	}
	if _, err := pipe.Exec(ctx); err != nil && err != redis.Nil {
		return nil, err
	}

	records := make([]storage.UsageRecord, 0, len(apps))
	for _, cmd := range cmds {
		data, err := cmd.Result()
		if err != nil || len(data) == 0 {
			continue
		}
		record, err := parseUsageRecord(data)
		if err == nil {
			records = append(records, *record)
		}
	}
	return records, nil
}

// SetUsedMinutes atomically overwrites used minutes
func (s *usageStore) SetUsedMinutes(ctx context.Context, date string, appID string, minutes int64) error {
	return s.update(ctx, date, appID, "used_minutes", "set", minutes)
}

// IncrementUnlocks atomically bumps the unlock counter
func (s *usageStore) IncrementUnlocks(ctx context.Context, date string, appID string) error {
	return s.update(ctx, date, appID, "unlock_count", "incr", 1)
}

// IncrementChallengesCompleted atomically bumps the challenge counter
func (s *usageStore) IncrementChallengesCompleted(ctx context.Context, date string, appID string) error {
	return s.update(ctx, date, appID, "challenges_completed", "incr", 1)
}

func (s *usageStore) update(ctx context.Context, date, appID, field, mode string, value int64) error {
	day, err := dayNumber(date)
	if err != nil {
		return err
	}
	keys := []string{usageKey(date, appID), usageIndexKey(date), usageDatesKey}
	args := []interface{}{date, appID, field, mode, value, day}
	return updateUsage.Run(ctx, s.client, keys, args...).Err()
}

// DeleteDailyUsageBefore deletes every record dated before cutoffDate
func (s *usageStore) DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error) {
	cutoff, err := dayNumber(cutoffDate)
	if err != nil {
		return 0, err
	}

	dates, err := s.client.ZRangeByScore(ctx, usageDatesKey, &redis.ZRangeBy{
		Min: "-inf",
		Max: fmt.Sprintf("(%d", cutoff),
	}).Result()
	if err != nil {
		return 0, err
	}

	deleted := 0
	for _, date := range dates {
		keys := []string{usageIndexKey(date), usageDatesKey}
		n, err := deleteUsageDate.Run(ctx, s.client, keys, date, usageKeyPrefix).Int()
		if err != nil {
			return deleted, err
		}
		deleted += n
	}
	return deleted, nil
}

// dayNumber maps a YYYY-MM-DD date to days since the epoch for zset scores
func dayNumber(date string) (int64, error) {
	t, err := time.Parse(storage.DateFormat, date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	return t.Unix() / 86400, nil
}
