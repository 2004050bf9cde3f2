package usage

import (
	"context"
	"fmt"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultRetentionDays is how long usage and attempt history is kept.
const DefaultRetentionDays = 90

// Retention deletes history older than the retention period once a day.
type Retention struct {
	usage         storage.UsageStore
	attempts      storage.AttemptStore
	cleanupTime   time.Time // only hour and minute are used
	retentionDays int
	logger        zerolog.Logger
	stopChan      chan struct{}
}

// NewRetention creates a new retention scheduler
func NewRetention(usage storage.UsageStore, attempts storage.AttemptStore, cleanupTime string, retentionDays int, logger zerolog.Logger) (*Retention, error) {
	// Parse cleanup time (HH:MM format)
	parsedTime, err := time.Parse("15:04", cleanupTime)
	if err != nil {
		return nil, err
	}
	if retentionDays <= 0 {
		retentionDays = DefaultRetentionDays
	}

	return &Retention{
		usage:         usage,
		attempts:      attempts,
		cleanupTime:   parsedTime,
		retentionDays: retentionDays,
		logger:        logger.With().Str("component", "retention").Logger(),
		stopChan:      make(chan struct{}),
	}, nil
}

// Start begins the retention scheduler
func (r *Retention) Start() {
	go r.run()
	r.logger.Info().
		Str("cleanup_time", r.cleanupTime.Format("15:04")).
		Int("retention_days", r.retentionDays).
		Msg("History retention scheduler started")
}

// Stop stops the retention scheduler
func (r *Retention) Stop() {
	close(r.stopChan)
	r.logger.Info().Msg("History retention scheduler stopped")
}

func (r *Retention) run() {
	for {
		next := r.nextRun(time.Now())
		wait := time.Until(next)

		r.logger.Debug().
			Time("next_cleanup", next).
			Dur("wait_duration", wait).
			Msg("Scheduled next history cleanup")

		select {
		case <-time.After(wait):
			if _, _, err := r.Cleanup(context.Background(), time.Now()); err != nil {
				r.logger.Error().Err(err).Msg("History cleanup failed")
			}
		case <-r.stopChan:
			return
		}
	}
}

// nextRun returns the next cleanup instant after now.
func (r *Retention) nextRun(now time.Time) time.Time {
	today := time.Date(
		now.Year(), now.Month(), now.Day(),
		r.cleanupTime.Hour(), r.cleanupTime.Minute(), 0, 0,
		now.Location(),
	)

	if !today.After(now) {
		return today.AddDate(0, 0, 1)
	}
	return today
}

// Cleanup deletes usage records dated before the cutoff day and attempts
// recorded before its midnight.
func (r *Retention) Cleanup(ctx context.Context, now time.Time) (int, int, error) {
	cutoff := StartOfDay(now).AddDate(0, 0, -r.retentionDays)
	cutoffDate := storage.DateKey(cutoff)

	usageDeleted, err := r.usage.DeleteDailyUsageBefore(ctx, cutoffDate)
	if err != nil {
		return 0, 0, fmt.Errorf("delete usage before %s: %w", cutoffDate, err)
	}

	attemptsDeleted, err := r.attempts.DeleteBefore(ctx, cutoff)
	if err != nil {
		return usageDeleted, 0, fmt.Errorf("delete attempts before %s: %w", cutoffDate, err)
	}

	r.logger.Info().
		Int("usage_deleted", usageDeleted).
		Int("attempts_deleted", attemptsDeleted).
		Str("cutoff_date", cutoffDate).
		Msg("Old history cleaned up")
	return usageDeleted, attemptsDeleted, nil
}
