package storage

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a record is missing from storage.
var ErrNotFound = errors.New("storage: record not found")

// ErrLocked is returned when another process holds the database open.
var ErrLocked = errors.New("storage: database is in use by another process")

// ErrInvalidLimit is returned when a time limit carries a negative value.
var ErrInvalidLimit = errors.New("storage: limit minutes must be non-negative")

// DateFormat is the layout of UsageRecord.Date and every date argument below.
const DateFormat = "2006-01-02"

// Store represents the root storage interface.
type Store interface {
	Close() error
	Limits() TimeLimitStore
	Usage() UsageStore
	Attempts() AttemptStore
	Settings() SettingsStore
	Achievements() AchievementStore
}

// TimeLimitStore manages per-app daily limits.
type TimeLimitStore interface {
	Get(ctx context.Context, appID string) (*TimeLimit, error)
	List(ctx context.Context) ([]TimeLimit, error)
	Upsert(ctx context.Context, limit TimeLimit) error
	Delete(ctx context.Context, appID string) error
}

// UsageStore manages one UsageRecord per (app, date).
type UsageStore interface {
	GetDailyUsage(ctx context.Context, date string, appID string) (*UsageRecord, error)
	ListDailyUsage(ctx context.Context, date string) ([]UsageRecord, error)
	// ListUsageRange returns records with from <= date <= to. An empty appID
	// matches every app.
	ListUsageRange(ctx context.Context, appID string, from, to string) ([]UsageRecord, error)
	// SetUsedMinutes overwrites the used minutes, creating the record if
	// needed and leaving the counters untouched.
	SetUsedMinutes(ctx context.Context, date string, appID string, minutes int64) error
	IncrementUnlocks(ctx context.Context, date string, appID string) error
	IncrementChallengesCompleted(ctx context.Context, date string, appID string) error
	DeleteDailyUsageBefore(ctx context.Context, cutoffDate string) (int, error)
}

// AttemptStore is the append-only challenge attempt log.
type AttemptStore interface {
	Add(ctx context.Context, attempt ChallengeAttempt) error
	// RecentForApp returns at most limit attempts for the app, newest first.
	RecentForApp(ctx context.Context, appID string, limit int) ([]ChallengeAttempt, error)
	List(ctx context.Context) ([]ChallengeAttempt, error)
	Count(ctx context.Context) (int, error)
	DeleteBefore(ctx context.Context, cutoff time.Time) (int, error)
}

// SettingsStore holds small string settings.
type SettingsStore interface {
	Get(ctx context.Context, key string) (string, error)
	Put(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
}

// AchievementStore records which achievements have been unlocked.
type AchievementStore interface {
	Get(ctx context.Context, id string) (*AchievementUnlock, error)
	List(ctx context.Context) ([]AchievementUnlock, error)
	// Unlock stores the record unless the achievement is already unlocked.
	// It reports whether a new unlock was written.
	Unlock(ctx context.Context, unlock AchievementUnlock) (bool, error)
}
