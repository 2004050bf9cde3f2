package redis

import (
	"fmt"
	"strconv"

	"github.com/goodtune/braintrap/internal/storage"
)

// parseUsageRecord converts a Redis hash to UsageRecord
func parseUsageRecord(data map[string]string) (*storage.UsageRecord, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	usedMinutes, err := strconv.ParseInt(data["used_minutes"], 10, 64)
	if err != nil {
		return nil, fmt.Errorf("failed to parse used_minutes: %w", err)
	}

	unlocks, err := strconv.Atoi(data["unlock_count"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse unlock_count: %w", err)
	}

	challenges, err := strconv.Atoi(data["challenges_completed"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse challenges_completed: %w", err)
	}

	return &storage.UsageRecord{
		AppID:               data["app_id"],
		Date:                data["date"],
		UsedMinutes:         usedMinutes,
		UnlockCount:         unlocks,
		ChallengesCompleted: challenges,
	}, nil
}

// parseTimeLimit converts a Redis hash to TimeLimit
func parseTimeLimit(data map[string]string) (*storage.TimeLimit, error) {
	if len(data) == 0 {
		return nil, storage.ErrNotFound
	}

	daily, err := strconv.Atoi(data["daily_limit_minutes"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse daily_limit_minutes: %w", err)
	}

	enabled, err := strconv.ParseBool(data["enabled"])
	if err != nil {
		return nil, fmt.Errorf("failed to parse enabled: %w", err)
	}

	limit := &storage.TimeLimit{
		AppID:             data["app_id"],
		DailyLimitMinutes: daily,
		Enabled:           enabled,
	}

	if raw, ok := data["weekday_limit_minutes"]; ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse weekday_limit_minutes: %w", err)
		}
		limit.WeekdayLimitMinutes = &v
	}
	if raw, ok := data["weekend_limit_minutes"]; ok && raw != "" {
		v, err := strconv.Atoi(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to parse weekend_limit_minutes: %w", err)
		}
		limit.WeekendLimitMinutes = &v
	}

	return limit, nil
}

func optionalInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}
