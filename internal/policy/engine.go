package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/whitelist"
	"github.com/hashicorp/golang-lru/v2/expirable"
	"github.com/rs/zerolog"
)

const (
	// DefaultDebounce suppresses repeat blocks of the same app
	DefaultDebounce = time.Second

	// DefaultUsageQueryTimeout bounds the quota check before failing open
	DefaultUsageQueryTimeout = 500 * time.Millisecond

	defaultLimitCacheSize = 256
	defaultLimitCacheTTL  = time.Minute
)

// UsageQuerier reports today's foreground minutes for an app.
type UsageQuerier interface {
	GetUsageForToday(ctx context.Context, appID string) (int64, error)
}

// Interceptor receives every BLOCK verdict. Intercept must not block.
type Interceptor interface {
	Intercept(req InterceptRequest)
}

// Config holds engine configuration
type Config struct {
	HostAppID         string
	Debounce          time.Duration
	UsageQueryTimeout time.Duration
	LimitCacheSize    int
	LimitCacheTTL     time.Duration
}

// limitEntry caches both hits and misses so absent limits skip the store.
type limitEntry struct {
	limit *storage.TimeLimit
}

// Engine is the blocking decision engine. One instance owns the whitelist,
// the recently-blocked set and the focus-mode state.
type Engine struct {
	limits      storage.TimeLimitStore
	settings    storage.SettingsStore
	usage       UsageQuerier
	interceptor Interceptor
	clock       clock.Clock
	config      Config
	limitCache  *expirable.LRU[string, limitEntry]
	logger      zerolog.Logger

	mu              sync.Mutex
	whitelist       *whitelist.Whitelist
	recentlyBlocked map[string]uint64 // app -> block sequence
	blockSeq        uint64
	lastBlock       time.Time
	focus           FocusModeState
}

// NewEngine creates a new decision engine
func NewEngine(limits storage.TimeLimitStore, settings storage.SettingsStore, usage UsageQuerier, config Config, logger zerolog.Logger) *Engine {
	if config.Debounce <= 0 {
		config.Debounce = DefaultDebounce
	}
	if config.UsageQueryTimeout <= 0 {
		config.UsageQueryTimeout = DefaultUsageQueryTimeout
	}
	if config.LimitCacheSize <= 0 {
		config.LimitCacheSize = defaultLimitCacheSize
	}
	if config.LimitCacheTTL <= 0 {
		config.LimitCacheTTL = defaultLimitCacheTTL
	}

	return &Engine{
		limits:          limits,
		settings:        settings,
		usage:           usage,
		clock:           clock.RealClock{},
		config:          config,
		limitCache:      expirable.NewLRU[string, limitEntry](config.LimitCacheSize, nil, config.LimitCacheTTL),
		logger:          logger.With().Str("component", "decision-engine").Logger(),
		whitelist:       whitelist.New(),
		recentlyBlocked: make(map[string]uint64),
	}
}

// SetClock replaces the clock used for grants and events without timestamps.
func (e *Engine) SetClock(c clock.Clock) {
	e.clock = c
}

// SetInterceptor sets the receiver of BLOCK verdicts.
func (e *Engine) SetInterceptor(i Interceptor) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.interceptor = i
}

// HandleEvent evaluates one foreground change.
func (e *Engine) HandleEvent(ctx context.Context, event ForegroundEvent) (decision Decision) {
	start := time.Now()
	now := event.Timestamp
	if now.IsZero() {
		now = e.clock.Now()
	}

	defer func() {
		if r := recover(); r != nil {
			e.logger.Error().
				Str("app_id", event.AppID).
				Interface("panic", r).
				Msg("Decision loop panicked, failing open")
			decision = Decision{AppID: event.AppID, Verdict: VerdictAllow, Reason: ReasonInternalError}
		}
		metrics.DecisionsTotal.WithLabelValues(string(decision.Verdict), string(decision.Reason)).Inc()
		metrics.DecisionDuration.WithLabelValues(string(decision.Verdict)).Observe(time.Since(start).Seconds())
	}()

	decision, seen, pending := e.evaluateLocked(event.AppID, now)
	if !pending {
		return decision
	}

	// Quota check runs without the lock so other apps keep flowing.
	decision = e.checkQuota(ctx, event.AppID, now)

	if decision.Verdict.Blocks() {
		return e.commitBlock(decision, now)
	}

	// A block recorded while the check was in flight supersedes this ALLOW.
	e.mu.Lock()
	if e.recentlyBlocked[event.AppID] == seen {
		delete(e.recentlyBlocked, event.AppID)
	}
	e.mu.Unlock()
	return decision
}

// evaluateLocked runs the synchronous steps. pending means the quota check
// still has to run; seen is the app's block sequence at that point.
func (e *Engine) evaluateLocked(appID string, now time.Time) (Decision, uint64, bool) {
	allow := func(reason Reason) Decision {
		return Decision{AppID: appID, Verdict: VerdictAllow, Reason: reason}
	}

	if appID == "" || appID == e.config.HostAppID {
		return allow(ReasonSelf), 0, false
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, expired := range e.whitelist.Sweep(now) {
		delete(e.recentlyBlocked, expired)
		e.logger.Debug().Str("app_id", expired).Msg("Access grant expired")
	}
	metrics.WhitelistEntries.Set(float64(e.whitelist.Len()))

	if e.whitelist.Active(appID, now) {
		delete(e.recentlyBlocked, appID)
		return allow(ReasonWhitelisted), 0, false
	}

	if e.debouncedLocked(appID, now) {
		return allow(ReasonDebounced), 0, false
	}

	if e.focus.blocks(appID) {
		d := Decision{AppID: appID, Verdict: VerdictBlockFocus, Reason: ReasonFocusMode}
		e.markBlockedLocked(appID, now)
		e.dispatch(d, now)
		return d, 0, false
	}

	return Decision{AppID: appID}, e.recentlyBlocked[appID], true
}

func (e *Engine) debouncedLocked(appID string, now time.Time) bool {
	_, blocked := e.recentlyBlocked[appID]
	return blocked && now.Sub(e.lastBlock) < e.config.Debounce
}

func (e *Engine) markBlockedLocked(appID string, now time.Time) {
	e.blockSeq++
	e.recentlyBlocked[appID] = e.blockSeq
	e.lastBlock = now
}

// commitBlock re-checks the state that may have changed while the quota
// check was in flight before acting on a BLOCK verdict.
func (e *Engine) commitBlock(d Decision, now time.Time) Decision {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.whitelist.Active(d.AppID, now) {
		return Decision{AppID: d.AppID, Verdict: VerdictAllow, Reason: ReasonWhitelisted}
	}
	if e.debouncedLocked(d.AppID, now) {
		return Decision{AppID: d.AppID, Verdict: VerdictAllow, Reason: ReasonDebounced}
	}

	e.markBlockedLocked(d.AppID, now)
	e.dispatch(d, now)
	return d
}

// dispatch must be called with the lock held; the interceptor only enqueues.
func (e *Engine) dispatch(d Decision, now time.Time) {
	e.logger.Info().
		Str("app_id", d.AppID).
		Str("verdict", string(d.Verdict)).
		Int64("used_minutes", d.UsedMinutes).
		Int("limit_minutes", d.LimitMinutes).
		Msg("Blocking app")

	metrics.EvictionsTotal.WithLabelValues(string(d.Verdict)).Inc()
	if e.interceptor == nil {
		return
	}
	e.interceptor.Intercept(InterceptRequest{
		AppID:       d.AppID,
		Verdict:     d.Verdict,
		At:          now,
		FocusActive: e.focus.Active,
	})
}

func (e *Engine) checkQuota(ctx context.Context, appID string, now time.Time) Decision {
	d := Decision{AppID: appID, Verdict: VerdictAllow}

	limit, err := e.lookupLimit(ctx, appID)
	if err != nil {
		e.logger.Warn().Err(err).Str("app_id", appID).Msg("Time limit lookup failed, allowing")
		d.Reason = ReasonNoLimit
		return d
	}
	if limit == nil || !limit.Enabled {
		d.Reason = ReasonNoLimit
		return d
	}
	d.LimitMinutes = limit.LimitFor(now.Weekday())

	queryCtx, cancel := context.WithTimeout(ctx, e.config.UsageQueryTimeout)
	defer cancel()

	used, err := e.usage.GetUsageForToday(queryCtx, appID)
	if err != nil {
		metrics.UsageQueryErrors.Inc()
		e.logger.Warn().Err(err).Str("app_id", appID).Msg("Usage query failed, allowing")
		d.Reason = ReasonUsageUnavailable
		return d
	}
	d.UsedMinutes = used

	if used >= int64(d.LimitMinutes) {
		d.Verdict = VerdictBlockQuota
		d.Reason = ReasonOverLimit
		return d
	}
	d.Reason = ReasonUnderLimit
	return d
}

func (e *Engine) lookupLimit(ctx context.Context, appID string) (*storage.TimeLimit, error) {
	if entry, ok := e.limitCache.Get(appID); ok {
		metrics.LimitCacheHits.Inc()
		return entry.limit, nil
	}
	metrics.LimitCacheMisses.Inc()

	limit, err := e.limits.Get(ctx, appID)
	if errors.Is(err, storage.ErrNotFound) {
		e.limitCache.Add(appID, limitEntry{})
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	e.limitCache.Add(appID, limitEntry{limit: limit})
	return limit, nil
}

// Check classifies an app without touching engine state or intercepting.
func (e *Engine) Check(ctx context.Context, appID string, at time.Time) Decision {
	if appID == "" || appID == e.config.HostAppID {
		return Decision{AppID: appID, Verdict: VerdictAllow, Reason: ReasonSelf}
	}

	e.mu.Lock()
	whitelisted := e.whitelist.Active(appID, at)
	focusBlocked := e.focus.blocks(appID)
	e.mu.Unlock()

	switch {
	case whitelisted:
		return Decision{AppID: appID, Verdict: VerdictAllow, Reason: ReasonWhitelisted}
	case focusBlocked:
		return Decision{AppID: appID, Verdict: VerdictBlockFocus, Reason: ReasonFocusMode}
	}
	return e.checkQuota(ctx, appID, at)
}

// GrantAccess whitelists appID for d from now and re-arms blocking for it.
func (e *Engine) GrantAccess(appID string, d time.Duration) time.Time {
	e.mu.Lock()
	defer e.mu.Unlock()

	expiresAt := e.clock.Now().Add(d)
	e.whitelist.Grant(appID, expiresAt)
	delete(e.recentlyBlocked, appID)
	metrics.WhitelistEntries.Set(float64(e.whitelist.Len()))

	e.logger.Info().
		Str("app_id", appID).
		Time("expires_at", expiresAt).
		Msg("Granted temporary access")
	return expiresAt
}

// RevokeAccess removes any grant for appID.
func (e *Engine) RevokeAccess(appID string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.whitelist.Revoke(appID)
	metrics.WhitelistEntries.Set(float64(e.whitelist.Len()))
}

// WhitelistExpiry returns the grant expiry for appID.
func (e *Engine) WhitelistExpiry(appID string) (time.Time, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.whitelist.Expiry(appID)
}

// Refresh clears the recently-blocked set so every app is re-evaluated.
func (e *Engine) Refresh() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.recentlyBlocked = make(map[string]uint64)
	e.logger.Debug().Msg("Cleared recently blocked apps")
}

// SetLimit validates and stores a time limit and drops the cached copy so
// the next event sees it.
func (e *Engine) SetLimit(ctx context.Context, limit storage.TimeLimit) error {
	if err := limit.Validate(); err != nil {
		return err
	}
	if err := e.limits.Upsert(ctx, limit); err != nil {
		return fmt.Errorf("store limit: %w", err)
	}
	e.InvalidateLimit(limit.AppID)
	e.logger.Info().
		Str("app_id", limit.AppID).
		Int("daily_minutes", limit.DailyLimitMinutes).
		Bool("enabled", limit.Enabled).
		Msg("Time limit updated")
	return nil
}

// DeleteLimit removes the time limit for appID.
func (e *Engine) DeleteLimit(ctx context.Context, appID string) error {
	err := e.limits.Delete(ctx, appID)
	e.InvalidateLimit(appID)
	if err != nil {
		return fmt.Errorf("delete limit: %w", err)
	}
	e.logger.Info().Str("app_id", appID).Msg("Time limit removed")
	return nil
}

// InvalidateLimit drops a cached time limit after it changes.
func (e *Engine) InvalidateLimit(appID string) {
	e.limitCache.Remove(appID)
}

// InvalidateLimits drops every cached time limit.
func (e *Engine) InvalidateLimits() {
	e.limitCache.Purge()
}

// FocusMode returns a copy of the focus-mode state.
func (e *Engine) FocusMode() FocusModeState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return FocusModeState{Active: e.focus.Active, Blocked: append([]string(nil), e.focus.Blocked...)}
}

// SetFocusMode toggles focus mode and persists the change.
func (e *Engine) SetFocusMode(ctx context.Context, active bool) error {
	e.mu.Lock()
	e.focus.Active = active
	e.recentlyBlocked = make(map[string]uint64)
	e.mu.Unlock()

	e.logger.Info().Bool("active", active).Msg("Focus mode changed")
	if e.settings == nil {
		return nil
	}
	return e.settings.Put(ctx, storage.SettingFocusActive, strconv.FormatBool(active))
}

// SetBlockedApps replaces the focus-mode block list and persists it.
func (e *Engine) SetBlockedApps(ctx context.Context, apps []string) error {
	apps = normalizeApps(apps)

	e.mu.Lock()
	e.focus.Blocked = apps
	e.recentlyBlocked = make(map[string]uint64)
	e.mu.Unlock()

	e.logger.Info().Strs("apps", apps).Msg("Focus mode block list changed")
	if e.settings == nil {
		return nil
	}
	data, err := json.Marshal(apps)
	if err != nil {
		return fmt.Errorf("marshal blocked apps: %w", err)
	}
	return e.settings.Put(ctx, storage.SettingFocusBlocked, string(data))
}

// LoadFocusMode restores persisted focus-mode state. Missing settings leave
// focus mode off.
func (e *Engine) LoadFocusMode(ctx context.Context) error {
	if e.settings == nil {
		return nil
	}

	var state FocusModeState
	active, err := e.settings.Get(ctx, storage.SettingFocusActive)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load focus mode: %w", err)
	default:
		state.Active, _ = strconv.ParseBool(active)
	}

	blocked, err := e.settings.Get(ctx, storage.SettingFocusBlocked)
	switch {
	case errors.Is(err, storage.ErrNotFound):
	case err != nil:
		return fmt.Errorf("load focus block list: %w", err)
	default:
		if err := json.Unmarshal([]byte(blocked), &state.Blocked); err != nil {
			return fmt.Errorf("decode focus block list: %w", err)
		}
	}

	e.mu.Lock()
	e.focus = FocusModeState{Active: state.Active, Blocked: normalizeApps(state.Blocked)}
	e.mu.Unlock()
	return nil
}

// Snapshot returns a read-only view of engine state.
func (e *Engine) Snapshot() Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	recent := make([]string, 0, len(e.recentlyBlocked))
	for appID := range e.recentlyBlocked {
		recent = append(recent, appID)
	}
	sort.Strings(recent)

	return Snapshot{
		Whitelist:       e.whitelist.Snapshot(),
		RecentlyBlocked: recent,
		LastBlock:       e.lastBlock,
		Focus:           FocusModeState{Active: e.focus.Active, Blocked: append([]string(nil), e.focus.Blocked...)},
	}
}
