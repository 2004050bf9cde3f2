package intercept

import (
	"context"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/platform"
	"github.com/goodtune/braintrap/internal/storage"
)

// lockout is a running focus-mode countdown. Fields are guarded by the
// controller mutex.
type lockout struct {
	appID      string
	deadline   time.Time
	generation uint64
	timer      clock.Timer
}

func (l *lockout) cancel() {
	if l.timer != nil {
		l.timer.Stop()
	}
}

// startLockout shows the countdown for appID. A countdown already in
// progress is left running.
func (c *Controller) startLockout(appID string) {
	now := c.deps.Clock.Now()

	c.mu.Lock()
	if existing := c.lockout; existing != nil {
		remaining := existing.deadline.Sub(now)
		c.mu.Unlock()
		c.logger.Debug().Str("app_id", existing.appID).Msg("Lockout already counting down")
		c.deps.Presenter.ShowLockout(existing.appID, remaining)
		return
	}
	c.lockoutGen++
	lo := &lockout{
		appID:      appID,
		deadline:   now.Add(c.config.LockoutCountdown),
		generation: c.lockoutGen,
	}
	c.lockout = lo
	c.scheduleTickLocked(lo, now)
	c.mu.Unlock()

	c.logger.Info().
		Str("app_id", appID).
		Dur("countdown", c.config.LockoutCountdown).
		Msg("Focus lockout started")
	c.deps.Presenter.ShowLockout(appID, c.config.LockoutCountdown)
}

func (c *Controller) scheduleTickLocked(lo *lockout, now time.Time) {
	wait := min(time.Second, lo.deadline.Sub(now))
	generation := lo.generation
	lo.timer = c.deps.Clock.AfterFunc(wait, func() { c.lockoutTick(generation) })
}

// lockoutTick refreshes the countdown once a second and escalates when it
// reaches zero. Stale generations are ignored.
func (c *Controller) lockoutTick(generation uint64) {
	now := c.deps.Clock.Now()

	c.mu.Lock()
	lo := c.lockout
	if lo == nil || lo.generation != generation {
		c.mu.Unlock()
		return
	}
	remaining := lo.deadline.Sub(now)
	if remaining > 0 {
		c.scheduleTickLocked(lo, now)
		c.mu.Unlock()
		c.deps.Presenter.ShowLockout(lo.appID, remaining)
		return
	}
	c.lockout = nil
	c.mu.Unlock()

	c.escalate(lo.appID)
}

func (c *Controller) escalate(appID string) {
	c.logger.Warn().Str("app_id", appID).Msg("Lockout expired, escalating")

	var lock, shutdown func() platform.Result
	if c.deps.Device != nil {
		lock, shutdown = c.deps.Device.LockDevice, c.deps.Device.RequestShutdown
	}
	c.tryAction(appID, "lock_device", lock)
	c.tryAction(appID, "request_shutdown", shutdown)
	c.deps.Presenter.Dismiss(appID)
}

func (c *Controller) tryAction(appID, action string, fn func() platform.Result) (res platform.Result) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error().Interface("panic", r).Str("action", action).Msg("Escalation panicked")
			res = platform.ResultFailed
		}
		metrics.EscalationsTotal.WithLabelValues(action, string(res)).Inc()
		c.logger.Info().
			Str("app_id", appID).
			Str("action", action).
			Str("result", string(res)).
			Msg("Escalation attempted")
	}()

	if fn == nil {
		return platform.ResultUnsupported
	}
	return fn()
}

// ScanTag handles a proximity-tag read. During a lockout the registered tag
// cancels the countdown and grants the focus unlock; any other tag leaves
// it running. Outside a lockout, with unlock method nfc or both, the
// registered tag completes every running challenge with the bonus grant.
func (c *Controller) ScanTag(ctx context.Context, tagID string) (bool, error) {
	c.mu.Lock()
	lo := c.lockout
	c.mu.Unlock()

	if lo != nil {
		if !c.deps.Tags.IsRegisteredTag(ctx, tagID) {
			c.deps.Presenter.ShowFeedback(lo.appID, "That tag is not registered.")
			return false, nil
		}

		c.mu.Lock()
		if c.lockout != lo {
			c.mu.Unlock()
			return false, ErrNoLockout
		}
		c.lockout = nil
		lo.cancel()
		c.mu.Unlock()

		c.unlock(ctx, lo.appID, time.Duration(c.config.FocusUnlockMinutes)*time.Minute, "nfc")
		c.deps.Presenter.Dismiss(lo.appID)
		return true, nil
	}

	apps := c.ActiveChallenges()
	if len(apps) == 0 {
		return false, ErrNoLockout
	}
	method, err := storage.LoadUnlockMethod(ctx, c.deps.Store.Settings())
	if err != nil || method == storage.UnlockMath {
		return false, ErrNoLockout
	}
	if !c.deps.Tags.IsRegisteredTag(ctx, tagID) {
		for _, appID := range apps {
			c.deps.Presenter.ShowFeedback(appID, "That tag is not registered.")
		}
		return false, nil
	}

	bonus, err := storage.LoadBonusMinutes(ctx, c.deps.Store.Settings(), c.config.DefaultBonusMinutes)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load bonus minutes")
	}
	for _, appID := range apps {
		c.unlock(ctx, appID, time.Duration(bonus)*time.Minute, "nfc")
		// Abandoning the session dismisses its surface.
		if err := c.Abandon(appID); err != nil {
			c.logger.Debug().Err(err).Str("app_id", appID).Msg("Challenge ended before tag unlock")
		}
	}
	return true, nil
}

// RegisterTag replaces the unlock tag and returns its normalised id.
func (c *Controller) RegisterTag(ctx context.Context, tagID string) (string, error) {
	return c.deps.Tags.RegisterTag(ctx, tagID)
}

// ClearTag forgets the unlock tag.
func (c *Controller) ClearTag(ctx context.Context) error {
	return c.deps.Tags.Clear(ctx)
}

// LockoutActive reports the app under a running countdown.
func (c *Controller) LockoutActive() (string, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.lockout == nil {
		return "", false
	}
	return c.lockout.appID, true
}
