package storage

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimeLimit is the daily budget for a single app.
type TimeLimit struct {
	AppID               string `json:"app_id"`
	DailyLimitMinutes   int    `json:"daily_limit_minutes"`
	WeekdayLimitMinutes *int   `json:"weekday_limit_minutes,omitempty"`
	WeekendLimitMinutes *int   `json:"weekend_limit_minutes,omitempty"`
	Enabled             bool   `json:"enabled"`
}

// Validate checks the limit for negative values.
func (l TimeLimit) Validate() error {
	if l.AppID == "" {
		return fmt.Errorf("time limit: app id is required")
	}
	if l.DailyLimitMinutes < 0 {
		return ErrInvalidLimit
	}
	if l.WeekdayLimitMinutes != nil && *l.WeekdayLimitMinutes < 0 {
		return ErrInvalidLimit
	}
	if l.WeekendLimitMinutes != nil && *l.WeekendLimitMinutes < 0 {
		return ErrInvalidLimit
	}
	return nil
}

// LimitFor returns the budget that applies on the given weekday. Weekend and
// weekday overrides win when set.
func (l TimeLimit) LimitFor(day time.Weekday) int {
	weekend := day == time.Saturday || day == time.Sunday
	if weekend && l.WeekendLimitMinutes != nil {
		return *l.WeekendLimitMinutes
	}
	if !weekend && l.WeekdayLimitMinutes != nil {
		return *l.WeekdayLimitMinutes
	}
	return l.DailyLimitMinutes
}

// UsageRecord aggregates one app's activity for one local calendar day.
type UsageRecord struct {
	AppID               string `json:"app_id"`
	Date                string `json:"date"` // YYYY-MM-DD
	UsedMinutes         int64  `json:"used_minutes"`
	UnlockCount         int    `json:"unlock_count"`
	ChallengesCompleted int    `json:"challenges_completed"`
}

// Difficulty is a challenge tier.
type Difficulty string

const (
	DifficultyEasy   Difficulty = "EASY"
	DifficultyMedium Difficulty = "MEDIUM"
	DifficultyHard   Difficulty = "HARD"
)

// ChallengeAttempt is one successfully completed challenge session.
type ChallengeAttempt struct {
	ID                    string     `json:"id"`
	AppID                 string     `json:"app_id"`
	Timestamp             time.Time  `json:"timestamp"`
	AttemptsCount         int        `json:"attempts_count"`
	CompletionTimeSeconds int        `json:"completion_time_seconds"`
	Difficulty            Difficulty `json:"difficulty"`
}

// AchievementUnlock records when an achievement was earned.
type AchievementUnlock struct {
	ID         string    `json:"id"`
	UnlockedAt time.Time `json:"unlocked_at"`
	Progress   int       `json:"progress"`
}

// Settings keys.
const (
	SettingUnlockMethod  = "unlock_method"
	SettingBonusMinutes  = "bonus_minutes"
	SettingRegisteredTag = "registered_tag"
	SettingFocusActive   = "focus_mode_active"
	SettingFocusBlocked  = "focus_mode_blocked_apps"
)

// UnlockMethod selects how a blocked app may be re-entered.
type UnlockMethod string

const (
	UnlockMath UnlockMethod = "math"
	UnlockNFC  UnlockMethod = "nfc"
	UnlockBoth UnlockMethod = "both"
)

// ParseUnlockMethod validates a stored unlock method.
func ParseUnlockMethod(s string) (UnlockMethod, error) {
	switch UnlockMethod(s) {
	case UnlockMath, UnlockNFC, UnlockBoth:
		return UnlockMethod(s), nil
	default:
		return "", fmt.Errorf("invalid unlock method: %s (must be math, nfc, or both)", s)
	}
}

// LoadUnlockMethod reads the unlock method, defaulting to math.
func LoadUnlockMethod(ctx context.Context, settings SettingsStore) (UnlockMethod, error) {
	value, err := settings.Get(ctx, SettingUnlockMethod)
	if errors.Is(err, ErrNotFound) {
		return UnlockMath, nil
	}
	if err != nil {
		return UnlockMath, err
	}
	return ParseUnlockMethod(value)
}

// LoadBonusMinutes reads the challenge bonus, falling back to def.
func LoadBonusMinutes(ctx context.Context, settings SettingsStore, def int) (int, error) {
	value, err := settings.Get(ctx, SettingBonusMinutes)
	if errors.Is(err, ErrNotFound) {
		return def, nil
	}
	if err != nil {
		return def, err
	}
	minutes, err := strconv.Atoi(value)
	if err != nil || minutes < 0 {
		return def, fmt.Errorf("invalid bonus minutes %q", value)
	}
	return minutes, nil
}

// DateKey formats t as a UsageRecord date in t's location.
func DateKey(t time.Time) string {
	return t.Format(DateFormat)
}
