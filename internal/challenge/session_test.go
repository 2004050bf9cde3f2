package challenge

import (
	"context"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/goodtune/braintrap/internal/clock"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/goodtune/braintrap/internal/storage/bolt"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openAttempts(t *testing.T) storage.AttemptStore {
	t.Helper()
	store, err := bolt.Open(filepath.Join(t.TempDir(), "challenge.bolt"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store.Attempts()
}

type recordingListener struct {
	mu        sync.Mutex
	prompts   []Prompt
	rejected  []Event
	completed []storage.ChallengeAttempt
	abandoned int
}

func (l *recordingListener) ProblemReady(_ string, p Prompt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.prompts = append(l.prompts, p)
}

func (l *recordingListener) AnswerRejected(_ string, reason Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.rejected = append(l.rejected, reason)
}

func (l *recordingListener) Completed(_ string, attempt storage.ChallengeAttempt) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.completed = append(l.completed, attempt)
}

func (l *recordingListener) Abandoned(string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.abandoned++
}

type sessionFixture struct {
	session  *Session
	clock    *clock.TestClock
	attempts storage.AttemptStore
	listener *recordingListener
}

func newSession(t *testing.T) *sessionFixture {
	t.Helper()
	clk := clock.NewTestClock(time.Date(2024, 2, 5, 12, 0, 0, 0, time.UTC))
	attempts := openAttempts(t)
	listener := &recordingListener{}
	s := NewSession("com.video", SessionConfig{}, clk, NewGenerator(11), NewAdapter(attempts, 0, zerolog.Nop()), attempts, listener, zerolog.Nop())
	s.Start(context.Background())
	return &sessionFixture{session: s, clock: clk, attempts: attempts, listener: listener}
}

func (f *sessionFixture) answerCorrectly(t *testing.T) Event {
	t.Helper()
	e, err := f.session.Submit(f.session.Question().Answer)
	require.NoError(t, err)
	return e
}

func TestSessionCompletesAfterThreeCorrect(t *testing.T) {
	f := newSession(t)

	f.clock.Advance(4 * time.Second)
	assert.Equal(t, EventCorrect, f.answerCorrectly(t))
	f.clock.Advance(4 * time.Second)
	assert.Equal(t, EventCorrect, f.answerCorrectly(t))
	f.clock.Advance(4 * time.Second)
	assert.Equal(t, EventCorrect, f.answerCorrectly(t))

	require.Len(t, f.listener.completed, 1)
	attempt := f.listener.completed[0]
	assert.Equal(t, 3, attempt.AttemptsCount)
	assert.Equal(t, 12, attempt.CompletionTimeSeconds)
	assert.Equal(t, storage.DifficultyEasy, attempt.Difficulty)
	assert.NotEmpty(t, attempt.ID)

	count, err := f.attempts.Count(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	assert.Equal(t, PhaseCompleted, f.session.State().Phase)
	assert.Equal(t, 0, f.clock.Pending(), "no countdown should remain after completion")

	_, err = f.session.Submit(0)
	assert.ErrorIs(t, err, ErrSessionClosed)
}

func TestIncorrectAnswerResetsSession(t *testing.T) {
	f := newSession(t)

	f.answerCorrectly(t)
	f.answerCorrectly(t)
	e, err := f.session.Submit(f.session.Question().Answer + 1)
	require.NoError(t, err)
	assert.Equal(t, EventIncorrect, e)

	state := f.session.State()
	assert.Equal(t, 0, state.Current)
	assert.Equal(t, 3, state.Attempts)
	assert.Equal(t, []Event{EventIncorrect}, f.listener.rejected)

	f.answerCorrectly(t)
	f.answerCorrectly(t)
	assert.Empty(t, f.listener.completed)
	f.answerCorrectly(t)

	require.Len(t, f.listener.completed, 1)
	assert.Equal(t, 6, f.listener.completed[0].AttemptsCount)
}

func TestTimeoutResetsAndFiresOnce(t *testing.T) {
	f := newSession(t)

	f.answerCorrectly(t)
	f.clock.Advance(DefaultProblemTimeLimit)

	state := f.session.State()
	assert.Equal(t, 0, state.Current)
	assert.Equal(t, 2, state.Attempts)
	assert.Equal(t, []Event{EventTimeout}, f.listener.rejected)

	// Only the fresh countdown for the new problem is armed.
	assert.Equal(t, 1, f.clock.Pending())
	f.clock.Advance(DefaultProblemTimeLimit - time.Second)
	assert.Len(t, f.listener.rejected, 1)
}

func TestStaleTimerIsIgnored(t *testing.T) {
	f := newSession(t)

	f.session.mu.Lock()
	stale := f.session.generation
	f.session.mu.Unlock()

	f.answerCorrectly(t)
	f.session.expire(stale)

	assert.Empty(t, f.listener.rejected)
	assert.Equal(t, 1, f.session.State().Current)
}

func TestAbandonStopsCountdown(t *testing.T) {
	f := newSession(t)

	require.NoError(t, f.session.Abandon())
	assert.Equal(t, PhaseAbandoned, f.session.State().Phase)
	assert.Equal(t, 1, f.listener.abandoned)
	assert.Equal(t, 0, f.clock.Pending())
	assert.ErrorIs(t, f.session.Abandon(), ErrSessionClosed)

	count, err := f.attempts.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, count)
}

func TestDifficultyRequeriedPerProblem(t *testing.T) {
	clk := clock.NewTestClock(time.Now())
	attempts := openAttempts(t)
	listener := &recordingListener{}
	tier := &switchingTier{tiers: []storage.Difficulty{storage.DifficultyEasy, storage.DifficultyHard, storage.DifficultyMedium}}
	s := NewSession("com.video", SessionConfig{ProblemsRequired: 3}, clk, NewGenerator(5), tier, attempts, listener, zerolog.Nop())

	s.Start(context.Background())
	_, _ = s.Submit(s.Question().Answer)
	_, _ = s.Submit(s.Question().Answer)

	require.Len(t, listener.prompts, 3)
	assert.Equal(t, storage.DifficultyEasy, listener.prompts[0].Difficulty)
	assert.Equal(t, storage.DifficultyHard, listener.prompts[1].Difficulty)
	assert.Equal(t, storage.DifficultyMedium, listener.prompts[2].Difficulty)
	assert.Equal(t, 2, listener.prompts[2].Index)
}

type switchingTier struct {
	tiers []storage.Difficulty
	calls int
}

func (s *switchingTier) Recommend(context.Context, string) storage.Difficulty {
	d := s.tiers[s.calls%len(s.tiers)]
	s.calls++
	return d
}
