// Package stats derives streaks, time saved and achievements from the
// usage and challenge history.
package stats

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultLookbackDays bounds how much history is scanned.
const DefaultLookbackDays = 90

// DayActivity summarises one calendar day against the configured limits.
type DayActivity struct {
	Date                string `json:"date"`
	TrackedApps         int    `json:"tracked_apps"`
	Exceeded            int    `json:"exceeded"`
	WithinLimit         int    `json:"within_limit"`
	SavedMinutes        int64  `json:"saved_minutes"`
	ChallengesCompleted int    `json:"challenges_completed"`
	HasData             bool   `json:"has_data"`
}

// UnderLimit reports whether every tracked app stayed under its limit on a
// day with recorded usage.
func (d DayActivity) UnderLimit() bool {
	return d.HasData && d.TrackedApps > 0 && d.Exceeded == 0
}

// Streak is a run of consecutive qualifying days.
type Streak struct {
	Current int `json:"current"`
	Longest int `json:"longest"`
}

// TimeSaved sums saved minutes over trailing windows ending today.
type TimeSaved struct {
	TodayMinutes int64 `json:"today_minutes"`
	WeekMinutes  int64 `json:"week_minutes"`
	MonthMinutes int64 `json:"month_minutes"`
}

// Summary is the full statistics view.
type Summary struct {
	TimeSaved        TimeSaved                   `json:"time_saved"`
	UnderLimitStreak Streak                      `json:"under_limit_streak"`
	ChallengeStreak  Streak                      `json:"challenge_streak"`
	Progress         Progress                    `json:"progress"`
	Unlocked         []storage.AchievementUnlock `json:"unlocked"`
}

// Calculator computes statistics from the store.
type Calculator struct {
	store    storage.Store
	clock    clock.Clock
	lookback int
	logger   zerolog.Logger
}

// NewCalculator creates a statistics calculator. lookback <= 0 uses
// DefaultLookbackDays.
func NewCalculator(store storage.Store, lookback int, logger zerolog.Logger) *Calculator {
	if lookback <= 0 {
		lookback = DefaultLookbackDays
	}
	return &Calculator{
		store:    store,
		clock:    clock.RealClock{},
		lookback: lookback,
		logger:   logger.With().Str("component", "stats").Logger(),
	}
}

// SetClock replaces the clock that defines "today".
func (c *Calculator) SetClock(clk clock.Clock) {
	c.clock = clk
}

// Activity returns one entry per day from from to to inclusive, oldest
// first. Saved minutes are limit minus usage for apps that stayed under.
func (c *Calculator) Activity(ctx context.Context, from, to time.Time) ([]DayActivity, error) {
	limits, err := c.store.Limits().List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list limits: %w", err)
	}
	records, err := c.store.Usage().ListUsageRange(ctx, "", storage.DateKey(from), storage.DateKey(to))
	if err != nil {
		return nil, fmt.Errorf("list usage: %w", err)
	}

	byDate := make(map[string]map[string]storage.UsageRecord)
	for _, r := range records {
		if byDate[r.Date] == nil {
			byDate[r.Date] = make(map[string]storage.UsageRecord)
		}
		byDate[r.Date][r.AppID] = r
	}

	var days []DayActivity
	for day := dayStart(from); !day.After(to); day = day.AddDate(0, 0, 1) {
		date := storage.DateKey(day)
		recs := byDate[date]
		activity := DayActivity{Date: date, HasData: len(recs) > 0}

		for _, r := range recs {
			activity.ChallengesCompleted += r.ChallengesCompleted
		}
		for _, limit := range limits {
			if !limit.Enabled {
				continue
			}
			activity.TrackedApps++
			budget := int64(limit.LimitFor(day.Weekday()))
			used := recs[limit.AppID].UsedMinutes
			if used >= budget {
				activity.Exceeded++
				continue
			}
			activity.WithinLimit++
			if activity.HasData {
				activity.SavedMinutes += budget - used
			}
		}
		days = append(days, activity)
	}
	return days, nil
}

// TimeSaved sums saved minutes for today, the last 7 days and the last 30
// days, each window including today.
func (c *Calculator) TimeSaved(ctx context.Context) (TimeSaved, error) {
	now := c.clock.Now()
	days, err := c.Activity(ctx, dayStart(now).AddDate(0, 0, -29), now)
	if err != nil {
		return TimeSaved{}, err
	}

	var saved TimeSaved
	for i, d := range days {
		age := len(days) - 1 - i
		saved.MonthMinutes += d.SavedMinutes
		if age < 7 {
			saved.WeekMinutes += d.SavedMinutes
		}
		if age == 0 {
			saved.TodayMinutes = d.SavedMinutes
		}
	}
	return saved, nil
}

// Progress computes every achievement metric. Limit-based metrics only count
// finished days.
func (c *Calculator) Progress(ctx context.Context) (Progress, error) {
	days, attempts, now, err := c.history(ctx)
	if err != nil {
		return Progress{}, err
	}
	return progressFrom(days, attempts, now), nil
}

// Summary returns the full statistics view.
func (c *Calculator) Summary(ctx context.Context) (Summary, error) {
	saved, err := c.TimeSaved(ctx)
	if err != nil {
		return Summary{}, err
	}
	days, attempts, now, err := c.history(ctx)
	if err != nil {
		return Summary{}, err
	}
	unlocked, err := c.store.Achievements().List(ctx)
	if err != nil {
		return Summary{}, fmt.Errorf("list achievements: %w", err)
	}

	return Summary{
		TimeSaved:        saved,
		UnderLimitStreak: UnderLimitStreak(days),
		ChallengeStreak:  ChallengeStreak(attempts, now),
		Progress:         progressFrom(days, attempts, now),
		Unlocked:         unlocked,
	}, nil
}

// history loads finished days within the lookback and every attempt.
func (c *Calculator) history(ctx context.Context) ([]DayActivity, []storage.ChallengeAttempt, time.Time, error) {
	now := c.clock.Now()
	today := dayStart(now)

	days, err := c.Activity(ctx, today.AddDate(0, 0, -c.lookback), today.AddDate(0, 0, -1))
	if err != nil {
		return nil, nil, now, err
	}
	attempts, err := c.store.Attempts().List(ctx)
	if err != nil {
		return nil, nil, now, fmt.Errorf("list attempts: %w", err)
	}
	return days, attempts, now, nil
}

func progressFrom(days []DayActivity, attempts []storage.ChallengeAttempt, now time.Time) Progress {
	var p Progress
	p.Challenges = int64(len(attempts))
	for _, a := range attempts {
		if a.CompletionTimeSeconds <= FastChallengeSeconds {
			p.FastChallenges++
		}
	}
	for _, d := range days {
		p.SavedMinutes += d.SavedMinutes
		if d.UnderLimit() {
			p.PerfectDays++
		}
	}
	p.UnderLimitStreak = int64(UnderLimitStreak(days).Longest)
	p.ChallengeStreak = int64(ChallengeStreak(attempts, now).Longest)
	return p
}

// Evaluate unlocks every achievement whose requirement is met and returns
// the ones unlocked by this call.
func (c *Calculator) Evaluate(ctx context.Context) ([]Achievement, error) {
	progress, err := c.Progress(ctx)
	if err != nil {
		return nil, err
	}

	now := c.clock.Now()
	var unlocked []Achievement
	for _, a := range Achievements {
		value := progress.Value(a.Metric)
		if value < a.Requirement {
			continue
		}
		created, err := c.store.Achievements().Unlock(ctx, storage.AchievementUnlock{ID: a.ID, UnlockedAt: now, Progress: int(value)})
		if err != nil {
			return unlocked, fmt.Errorf("unlock %s: %w", a.ID, err)
		}
		if created {
			c.logger.Info().Str("achievement", a.ID).Msg("Achievement unlocked")
			unlocked = append(unlocked, a)
		}
	}
	return unlocked, nil
}

// UnderLimitStreak scans days oldest first. Current is the run ending at the
// last day.
func UnderLimitStreak(days []DayActivity) Streak {
	var s Streak
	for _, d := range days {
		if d.UnderLimit() {
			s.Current++
			s.Longest = max(s.Longest, s.Current)
		} else {
			s.Current = 0
		}
	}
	return s
}

// ChallengeStreak counts consecutive local days with at least one completed
// challenge. The current run may end today or yesterday.
func ChallengeStreak(attempts []storage.ChallengeAttempt, now time.Time) Streak {
	if len(attempts) == 0 {
		return Streak{}
	}

	loc := now.Location()
	active := make(map[string]bool, len(attempts))
	earliest := now
	for _, a := range attempts {
		ts := a.Timestamp.In(loc)
		active[storage.DateKey(ts)] = true
		if ts.Before(earliest) {
			earliest = ts
		}
	}

	var s Streak
	run := 0
	for day := dayStart(earliest); !day.After(now); day = day.AddDate(0, 0, 1) {
		if active[storage.DateKey(day)] {
			run++
			s.Longest = max(s.Longest, run)
		} else {
			run = 0
		}
	}

	today := dayStart(now)
	switch {
	case active[storage.DateKey(today)]:
		s.Current = run
	case active[storage.DateKey(today.AddDate(0, 0, -1))]:
		for day := today.AddDate(0, 0, -1); active[storage.DateKey(day)]; day = day.AddDate(0, 0, -1) {
			s.Current++
		}
	}
	return s
}

func dayStart(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
