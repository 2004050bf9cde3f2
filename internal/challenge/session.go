package challenge

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

const (
	// DefaultProblemsRequired is the number of consecutive correct answers
	// needed to complete a session.
	DefaultProblemsRequired = 3

	// DefaultProblemTimeLimit is the per-problem countdown.
	DefaultProblemTimeLimit = 30 * time.Second
)

// ErrSessionClosed is returned for input to a finished session.
var ErrSessionClosed = errors.New("challenge: session is not awaiting an answer")

// Prompt is a problem ready for display.
type Prompt struct {
	Question
	Index     int
	Required  int
	Attempts  int
	TimeLimit time.Duration
}

// Listener receives session output. Callbacks run without the session lock.
type Listener interface {
	ProblemReady(appID string, p Prompt)
	AnswerRejected(appID string, reason Event)
	Completed(appID string, attempt storage.ChallengeAttempt)
	Abandoned(appID string)
}

// Recommender picks the tier for the next problem.
type Recommender interface {
	Recommend(ctx context.Context, appID string) storage.Difficulty
}

// SessionConfig holds per-session parameters
type SessionConfig struct {
	ProblemsRequired int
	ProblemTimeLimit time.Duration
}

// Session is one challenge run for a blocked app.
type Session struct {
	appID     string
	config    SessionConfig
	clock     clock.Clock
	generator *Generator
	adapter   Recommender
	attempts  storage.AttemptStore
	listener  Listener
	logger    zerolog.Logger

	mu         sync.Mutex
	ctx        context.Context
	state      State
	question   Question
	started    time.Time
	generation uint64
	timer      clock.Timer
}

// NewSession creates a session. Nothing is shown until Start.
func NewSession(appID string, config SessionConfig, clk clock.Clock, generator *Generator, adapter Recommender, attempts storage.AttemptStore, listener Listener, logger zerolog.Logger) *Session {
	if config.ProblemsRequired <= 0 {
		config.ProblemsRequired = DefaultProblemsRequired
	}
	if config.ProblemTimeLimit <= 0 {
		config.ProblemTimeLimit = DefaultProblemTimeLimit
	}
	return &Session{
		appID:     appID,
		config:    config,
		clock:     clk,
		generator: generator,
		adapter:   adapter,
		attempts:  attempts,
		listener:  listener,
		logger:    logger.With().Str("component", "challenge").Str("app_id", appID).Logger(),
		state:     NewState(config.ProblemsRequired),
	}
}

// AppID returns the app the session unlocks.
func (s *Session) AppID() string {
	return s.appID
}

// State returns the current progress.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Question returns the problem currently shown.
func (s *Session) Question() Question {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.question
}

// Start shows the first problem and starts the session clock.
func (s *Session) Start(ctx context.Context) {
	s.mu.Lock()
	s.ctx = context.WithoutCancel(ctx)
	s.started = s.clock.Now()
	prompt := s.nextProblemLocked()
	s.mu.Unlock()

	s.logger.Info().Msg("Challenge started")
	s.listener.ProblemReady(s.appID, prompt)
}

// Submit checks an answer against the current problem.
func (s *Session) Submit(answer int) (Event, error) {
	s.mu.Lock()
	if s.state.Phase.Terminal() {
		s.mu.Unlock()
		return 0, ErrSessionClosed
	}

	s.cancelTimerLocked()
	event := EventIncorrect
	if answer == s.question.Answer {
		event = EventCorrect
	}
	metrics.ProblemsAnswered.WithLabelValues(string(s.question.Difficulty), event.String()).Inc()

	s.state = Transition(s.state, event)
	if s.state.Phase == PhaseCompleted {
		attempt := s.completeLocked()
		s.mu.Unlock()
		s.listener.Completed(s.appID, attempt)
		return event, nil
	}

	prompt := s.nextProblemLocked()
	s.mu.Unlock()

	if event == EventIncorrect {
		s.listener.AnswerRejected(s.appID, event)
	}
	s.listener.ProblemReady(s.appID, prompt)
	return event, nil
}

// Abandon ends the session without unlocking.
func (s *Session) Abandon() error {
	s.mu.Lock()
	if s.state.Phase.Terminal() {
		s.mu.Unlock()
		return ErrSessionClosed
	}
	s.cancelTimerLocked()
	s.state = Transition(s.state, EventAbandon)
	s.mu.Unlock()

	metrics.ChallengesTotal.WithLabelValues("abandoned").Inc()
	s.logger.Info().Msg("Challenge abandoned")
	s.listener.Abandoned(s.appID)
	return nil
}

// expire handles a countdown reaching zero. Stale timers are ignored.
func (s *Session) expire(generation uint64) {
	s.mu.Lock()
	if generation != s.generation || s.state.Phase.Terminal() {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	metrics.ProblemsAnswered.WithLabelValues(string(s.question.Difficulty), EventTimeout.String()).Inc()
	s.state = Transition(s.state, EventTimeout)
	prompt := s.nextProblemLocked()
	s.mu.Unlock()

	s.logger.Debug().Msg("Problem timed out, restarting session")
	s.listener.AnswerRejected(s.appID, EventTimeout)
	s.listener.ProblemReady(s.appID, prompt)
}

func (s *Session) cancelTimerLocked() {
	s.generation++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

// nextProblemLocked re-queries difficulty for every problem.
func (s *Session) nextProblemLocked() Prompt {
	difficulty := s.adapter.Recommend(s.ctx, s.appID)
	s.question = s.generator.Generate(difficulty)

	s.generation++
	generation := s.generation
	s.timer = s.clock.AfterFunc(s.config.ProblemTimeLimit, func() { s.expire(generation) })

	return Prompt{
		Question:  s.question,
		Index:     s.state.Current,
		Required:  s.state.Required,
		Attempts:  s.state.Attempts,
		TimeLimit: s.config.ProblemTimeLimit,
	}
}

func (s *Session) completeLocked() storage.ChallengeAttempt {
	now := s.clock.Now()
	attempt := storage.ChallengeAttempt{
		ID:                    uuid.NewString(),
		AppID:                 s.appID,
		Timestamp:             now,
		AttemptsCount:         s.state.Attempts,
		CompletionTimeSeconds: int(now.Sub(s.started) / time.Second),
		Difficulty:            s.question.Difficulty,
	}

	if err := s.attempts.Add(s.ctx, attempt); err != nil {
		s.logger.Error().Err(fmt.Errorf("record attempt: %w", err)).Msg("Failed to record challenge attempt")
	}
	metrics.ChallengesTotal.WithLabelValues("completed").Inc()
	s.logger.Info().
		Int("attempts", attempt.AttemptsCount).
		Int("seconds", attempt.CompletionTimeSeconds).
		Str("difficulty", string(attempt.Difficulty)).
		Msg("Challenge completed")
	return attempt
}
