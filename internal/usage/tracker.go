package usage

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/platform"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
)

// DefaultPollInterval is the accounting tick cadence.
const DefaultPollInterval = 30 * time.Second

// Config holds service configuration
type Config struct {
	PollInterval time.Duration
}

// Service keeps today's UsageRecords in step with the OS usage accounting.
type Service struct {
	usageStore storage.UsageStore
	limits     storage.TimeLimitStore
	source     platform.UsageSource
	clock      clock.Clock
	interval   time.Duration
	logger     zerolog.Logger

	tracking atomic.Bool
	mu       sync.Mutex
	stopChan chan struct{}
	done     chan struct{}
}

// NewService creates a new usage accounting service
func NewService(usageStore storage.UsageStore, limits storage.TimeLimitStore, source platform.UsageSource, config Config, logger zerolog.Logger) *Service {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}

	return &Service{
		usageStore: usageStore,
		limits:     limits,
		source:     source,
		clock:      clock.RealClock{},
		interval:   config.PollInterval,
		logger:     logger.With().Str("component", "usage-service").Logger(),
	}
}

// SetClock replaces the clock used for day boundaries.
func (s *Service) SetClock(c clock.Clock) {
	s.clock = c
}

// IsTracking reports whether the tick loop is running.
func (s *Service) IsTracking() bool {
	return s.tracking.Load()
}

// Start begins periodic accounting. Calling Start while tracking is a no-op.
func (s *Service) Start(ctx context.Context) {
	s.mu.Lock()
	if !s.tracking.CompareAndSwap(false, true) {
		s.mu.Unlock()
		return
	}
	s.stopChan = make(chan struct{})
	s.done = make(chan struct{})
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	go s.run(ctx, stop, done)
	s.logger.Info().Dur("interval", s.interval).Msg("Usage tracking started")
}

// Stop ends periodic accounting. An in-flight tick completes before Stop
// returns; no further ticks are scheduled. Calling Stop when idle is a no-op.
func (s *Service) Stop() {
	s.mu.Lock()
	if !s.tracking.CompareAndSwap(true, false) {
		s.mu.Unlock()
		return
	}
	stop, done := s.stopChan, s.done
	s.mu.Unlock()

	close(stop)
	<-done
	s.logger.Info().Msg("Usage tracking stopped")
}

func (s *Service) run(ctx context.Context, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		if _, err := s.TrackNow(ctx); err != nil {
			s.logger.Warn().Err(err).Msg("Usage tick skipped")
		}

		select {
		case <-ticker.C:
		case <-stop:
			return
		case <-ctx.Done():
			s.tracking.Store(false)
			return
		}
	}
}

// TrackNow runs one accounting tick. Each app with a time limit has today's
// used minutes overwritten with the OS total since local midnight. Per-app
// failures are logged and skipped; the number of records written is returned.
func (s *Service) TrackNow(ctx context.Context) (int, error) {
	limits, err := s.limits.List(ctx)
	if err != nil {
		metrics.UsageTicksTotal.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("list time limits: %w", err)
	}

	now := s.clock.Now()
	start := StartOfDay(now)
	date := storage.DateKey(now)

	updated := 0
	for _, limit := range limits {
		minutes, err := s.source.QueryForegroundMinutes(ctx, limit.AppID, start, now)
		if err != nil {
			s.logger.Debug().Err(err).Str("app_id", limit.AppID).Msg("Usage query failed")
			continue
		}
		if err := s.usageStore.SetUsedMinutes(ctx, date, limit.AppID, minutes); err != nil {
			s.logger.Error().Err(err).Str("app_id", limit.AppID).Msg("Failed to persist usage")
			continue
		}
		metrics.UsageMinutesToday.WithLabelValues(limit.AppID).Set(float64(minutes))
		updated++
	}

	metrics.UsageTicksTotal.WithLabelValues("ok").Inc()
	s.logger.Debug().Int("apps", len(limits)).Int("updated", updated).Msg("Usage tick complete")
	return updated, nil
}

// GetUsageForToday returns the freshest foreground minutes for appID. The OS
// is asked first; when it fails the last persisted value is used.
func (s *Service) GetUsageForToday(ctx context.Context, appID string) (int64, error) {
	now := s.clock.Now()

	minutes, err := s.source.QueryForegroundMinutes(ctx, appID, StartOfDay(now), now)
	if err == nil {
		return minutes, nil
	}

	record, storeErr := s.usageStore.GetDailyUsage(ctx, storage.DateKey(now), appID)
	if storeErr == nil {
		s.logger.Debug().Err(err).Str("app_id", appID).Msg("Usage query failed, using stored record")
		return record.UsedMinutes, nil
	}
	if errors.Is(storeErr, storage.ErrNotFound) {
		return 0, fmt.Errorf("query usage for %s: %w", appID, err)
	}
	return 0, fmt.Errorf("query usage for %s: %w (stored record: %v)", appID, err, storeErr)
}

// StartOfDay returns local midnight of t's day.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
