// Package intercept evicts blocked apps and runs the re-entry flows.
package intercept

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/braintrap/internal/challenge"
	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/platform"
	"github.com/goodtune/braintrap/internal/policy"
	"github.com/goodtune/braintrap/internal/stats"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/tags"
	"github.com/rs/zerolog"
)

const (
	DefaultSettleDelay        = 300 * time.Millisecond
	DefaultLockoutCountdown   = 10 * time.Second
	DefaultFocusUnlockMinutes = 10
	DefaultBonusMinutes       = 45
	DefaultQueueSize          = 16
)

var (
	// ErrNoSession is returned for input addressed to an app with no
	// running challenge.
	ErrNoSession = errors.New("intercept: no challenge in progress")

	// ErrNoLockout is returned when a tag is scanned with nothing to unlock.
	ErrNoLockout = errors.New("intercept: nothing awaiting a tag")
)

// Granter grants temporary access after a successful unlock.
type Granter interface {
	GrantAccess(appID string, d time.Duration) time.Time
}

// Evaluator unlocks achievements after a challenge completes.
type Evaluator interface {
	Evaluate(ctx context.Context) ([]stats.Achievement, error)
}

// Config holds controller configuration
type Config struct {
	SettleDelay         time.Duration
	LockoutCountdown    time.Duration
	FocusUnlockMinutes  int
	DefaultBonusMinutes int
	QueueSize           int
	Session             challenge.SessionConfig
}

// Deps are the collaborators of a Controller.
type Deps struct {
	Engine    Granter
	Navigator platform.Navigator
	Device    platform.DeviceController
	Presenter platform.Presenter
	Store     storage.Store
	Tags      *tags.Registry
	Adapter   *challenge.Adapter
	Generator *challenge.Generator
	Stats     Evaluator
	Clock     clock.Clock
}

// Controller executes BLOCK verdicts on a single goroutine.
type Controller struct {
	deps   Deps
	config Config
	logger zerolog.Logger
	queue  chan policy.InterceptRequest

	mu         sync.Mutex
	ctx        context.Context
	sessions   map[string]*challenge.Session
	lockout    *lockout
	lockoutGen uint64
}

// NewController creates an interception controller
func NewController(deps Deps, config Config, logger zerolog.Logger) *Controller {
	if config.LockoutCountdown <= 0 {
		config.LockoutCountdown = DefaultLockoutCountdown
	}
	if config.FocusUnlockMinutes <= 0 {
		config.FocusUnlockMinutes = DefaultFocusUnlockMinutes
	}
	if config.DefaultBonusMinutes <= 0 {
		config.DefaultBonusMinutes = DefaultBonusMinutes
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if deps.Clock == nil {
		deps.Clock = clock.RealClock{}
	}

	return &Controller{
		deps:     deps,
		config:   config,
		logger:   logger.With().Str("component", "interceptor").Logger(),
		queue:    make(chan policy.InterceptRequest, config.QueueSize),
		ctx:      context.Background(),
		sessions: make(map[string]*challenge.Session),
	}
}

// Intercept queues a request without blocking. When the queue is full the
// request is dropped; the app will be evaluated again on its next event.
func (c *Controller) Intercept(req policy.InterceptRequest) {
	select {
	case c.queue <- req:
	default:
		c.logger.Warn().Str("app_id", req.AppID).Msg("Intercept queue full, dropping request")
	}
}

// Run processes queued requests until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) error {
	c.mu.Lock()
	c.ctx = ctx
	c.mu.Unlock()

	c.logger.Info().Msg("Interceptor started")
	for {
		select {
		case req := <-c.queue:
			c.Handle(ctx, req)
		case <-ctx.Done():
			c.Close()
			return ctx.Err()
		}
	}
}

// Handle evicts the app and presents the re-entry flow.
func (c *Controller) Handle(ctx context.Context, req policy.InterceptRequest) {
	log := c.logger.With().Str("app_id", req.AppID).Str("verdict", string(req.Verdict)).Logger()

	if res := c.deps.Navigator.GoBack(); !res.OK() {
		log.Debug().Str("result", string(res)).Msg("Go back had no effect")
	}
	if res := c.deps.Navigator.GoHome(); !res.OK() {
		log.Warn().Str("result", string(res)).Msg("Go home had no effect")
	}

	if c.config.SettleDelay > 0 {
		timer := time.NewTimer(c.config.SettleDelay)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			return
		}
	}

	method, err := storage.LoadUnlockMethod(ctx, c.deps.Store.Settings())
	if err != nil {
		log.Warn().Err(err).Msg("Failed to load unlock method, using math")
		method = storage.UnlockMath
	}

	if req.FocusActive && method == storage.UnlockNFC {
		if c.deps.Tags.HasTag(ctx) {
			c.startLockout(req.AppID)
			return
		}
		c.deps.Presenter.ShowNotice(req.AppID, "No NFC tag registered. Register one in settings to unlock focus mode with a tap.")
	}
	c.startChallenge(ctx, req.AppID)
}

func (c *Controller) startChallenge(ctx context.Context, appID string) {
	c.mu.Lock()
	if existing, ok := c.sessions[appID]; ok {
		c.mu.Unlock()
		c.logger.Debug().Str("app_id", appID).Msg("Challenge already running, re-presenting")
		state := existing.State()
		c.ProblemReady(appID, challenge.Prompt{
			Question:  existing.Question(),
			Index:     state.Current,
			Required:  state.Required,
			Attempts:  state.Attempts,
			TimeLimit: c.sessionTimeLimit(),
		})
		return
	}

	session := challenge.NewSession(appID, c.config.Session, c.deps.Clock, c.deps.Generator, c.deps.Adapter,
		c.deps.Store.Attempts(), c, c.logger)
	c.sessions[appID] = session
	c.mu.Unlock()

	session.Start(ctx)
}

func (c *Controller) sessionTimeLimit() time.Duration {
	if c.config.Session.ProblemTimeLimit > 0 {
		return c.config.Session.ProblemTimeLimit
	}
	return challenge.DefaultProblemTimeLimit
}

func (c *Controller) session(appID string) (*challenge.Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.sessions[appID]
	return s, ok
}

func (c *Controller) dropSession(appID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.sessions, appID)
}

func (c *Controller) baseContext() context.Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ctx
}

// SubmitAnswer forwards an answer to the app's challenge.
func (c *Controller) SubmitAnswer(appID string, answer int) (challenge.Event, error) {
	s, ok := c.session(appID)
	if !ok {
		return 0, ErrNoSession
	}
	return s.Submit(answer)
}

// Abandon ends the app's challenge without unlocking.
func (c *Controller) Abandon(appID string) error {
	s, ok := c.session(appID)
	if !ok {
		return ErrNoSession
	}
	return s.Abandon()
}

// ActiveChallenges returns the apps with a running challenge.
func (c *Controller) ActiveChallenges() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	apps := make([]string, 0, len(c.sessions))
	for appID := range c.sessions {
		apps = append(apps, appID)
	}
	return apps
}

// Close abandons running challenges and cancels any lockout.
func (c *Controller) Close() {
	c.mu.Lock()
	sessions := make([]*challenge.Session, 0, len(c.sessions))
	for _, s := range c.sessions {
		sessions = append(sessions, s)
	}
	lo := c.lockout
	c.lockout = nil
	c.mu.Unlock()

	for _, s := range sessions {
		_ = s.Abandon()
	}
	if lo != nil {
		lo.cancel()
	}
}

// ProblemReady implements challenge.Listener.
func (c *Controller) ProblemReady(appID string, p challenge.Prompt) {
	bonus, err := storage.LoadBonusMinutes(c.baseContext(), c.deps.Store.Settings(), c.config.DefaultBonusMinutes)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load bonus minutes")
	}
	c.deps.Presenter.ShowChallenge(platform.Problem{
		AppID:        appID,
		Text:         p.Text,
		Index:        p.Index,
		Required:     p.Required,
		Difficulty:   string(p.Difficulty),
		TimeLimit:    p.TimeLimit,
		Attempts:     p.Attempts,
		BonusMinutes: bonus,
	})
}

// AnswerRejected implements challenge.Listener.
func (c *Controller) AnswerRejected(appID string, reason challenge.Event) {
	msg := "Wrong answer. Starting over."
	if reason == challenge.EventTimeout {
		msg = "Time's up. Starting over."
	}
	c.deps.Presenter.ShowFeedback(appID, msg)
}

// Completed implements challenge.Listener.
func (c *Controller) Completed(appID string, attempt storage.ChallengeAttempt) {
	ctx := c.baseContext()
	c.dropSession(appID)

	bonus, err := storage.LoadBonusMinutes(ctx, c.deps.Store.Settings(), c.config.DefaultBonusMinutes)
	if err != nil {
		c.logger.Warn().Err(err).Msg("Failed to load bonus minutes")
	}
	c.unlock(ctx, appID, time.Duration(bonus)*time.Minute, "challenge")

	if err := c.deps.Store.Usage().IncrementChallengesCompleted(ctx, storage.DateKey(attempt.Timestamp), appID); err != nil {
		c.logger.Error().Err(err).Str("app_id", appID).Msg("Failed to record completed challenge")
	}

	if c.deps.Stats != nil {
		unlocked, err := c.deps.Stats.Evaluate(ctx)
		if err != nil {
			c.logger.Warn().Err(err).Msg("Failed to evaluate achievements")
		}
		for _, a := range unlocked {
			c.deps.Presenter.ShowNotice(appID, fmt.Sprintf("Achievement unlocked: %s", a.Title))
		}
	}
	c.deps.Presenter.Dismiss(appID)
}

// Abandoned implements challenge.Listener.
func (c *Controller) Abandoned(appID string) {
	c.dropSession(appID)
	c.deps.Presenter.Dismiss(appID)
}

// unlock grants access and counts the unlock for today.
func (c *Controller) unlock(ctx context.Context, appID string, d time.Duration, method string) {
	expiresAt := c.deps.Engine.GrantAccess(appID, d)
	metrics.UnlocksTotal.WithLabelValues(method).Inc()

	if err := c.deps.Store.Usage().IncrementUnlocks(ctx, storage.DateKey(c.deps.Clock.Now()), appID); err != nil {
		c.logger.Error().Err(err).Str("app_id", appID).Msg("Failed to record unlock")
	}
	c.logger.Info().
		Str("app_id", appID).
		Str("method", method).
		Time("expires_at", expiresAt).
		Msg("App unlocked")
}
