package challenge

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
)

func history(pairs ...[2]int) []storage.ChallengeAttempt {
	out := make([]storage.ChallengeAttempt, 0, len(pairs))
	for _, p := range pairs {
		out = append(out, storage.ChallengeAttempt{AttemptsCount: p[0], CompletionTimeSeconds: p[1]})
	}
	return out
}

func TestRecommendFromHistory(t *testing.T) {
	tests := []struct {
		name    string
		history []storage.ChallengeAttempt
		want    storage.Difficulty
	}{
		{"empty history", nil, storage.DifficultyEasy},
		{"fast and clean", history([2]int{1, 10}, [2]int{1, 10}), storage.DifficultyHard},
		// avg attempts 1.4, avg time 22
		{"moderate", history([2]int{1, 20}, [2]int{2, 24}, [2]int{1, 22}, [2]int{2, 22}, [2]int{1, 22}), storage.DifficultyMedium},
		{"struggling", history([2]int{3, 28}, [2]int{3, 28}), storage.DifficultyEasy},
		{"hard boundary attempts inclusive", history([2]int{1, 19}, [2]int{1, 19}, [2]int{1, 19}, [2]int{1, 19}, [2]int{2, 19}), storage.DifficultyHard},
		{"hard time boundary exclusive", history([2]int{1, 20}), storage.DifficultyMedium},
		{"medium time boundary exclusive", history([2]int{1, 25}), storage.DifficultyEasy},
		{"outliers average out", history([2]int{1, 2}, [2]int{1, 2}, [2]int{1, 2}, [2]int{1, 2}, [2]int{1, 80}), storage.DifficultyHard},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, RecommendFromHistory(tt.history))
		})
	}
}

type stubAttempts struct {
	storage.AttemptStore
	recent []storage.ChallengeAttempt
	err    error
	limit  int
}

func (s *stubAttempts) RecentForApp(_ context.Context, _ string, limit int) ([]storage.ChallengeAttempt, error) {
	s.limit = limit
	return s.recent, s.err
}

func TestAdapterRecommend(t *testing.T) {
	store := &stubAttempts{recent: history([2]int{1, 5})}
	adapter := NewAdapter(store, 0, zerolog.Nop())

	assert.Equal(t, storage.DifficultyHard, adapter.Recommend(context.Background(), "com.video"))
	assert.Equal(t, HistoryWindow, store.limit)

	store.err = errors.New("disk on fire")
	assert.Equal(t, storage.DifficultyEasy, adapter.Recommend(context.Background(), "com.video"))
}

func TestAdapterUsesMostRecentAttempts(t *testing.T) {
	attempts := openAttempts(t)
	ctx := context.Background()
	base := time.Date(2024, 2, 1, 9, 0, 0, 0, time.UTC)

	// Old struggles followed by five fast, clean runs.
	for i := 0; i < 5; i++ {
		_ = attempts.Add(ctx, storage.ChallengeAttempt{ID: "old", AppID: "com.video", Timestamp: base.Add(time.Duration(i) * time.Minute), AttemptsCount: 6, CompletionTimeSeconds: 90})
	}
	for i := 0; i < 5; i++ {
		_ = attempts.Add(ctx, storage.ChallengeAttempt{ID: "new", AppID: "com.video", Timestamp: base.Add(time.Hour + time.Duration(i)*time.Minute), AttemptsCount: 1, CompletionTimeSeconds: 8})
	}

	adapter := NewAdapter(attempts, HistoryWindow, zerolog.Nop())
	assert.Equal(t, storage.DifficultyHard, adapter.Recommend(ctx, "com.video"))
	assert.Equal(t, storage.DifficultyEasy, adapter.Recommend(ctx, "com.other"))
}

func TestClassifyMonotonicity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 500
	properties := gopter.NewProperties(parameters)

	properties.Property("more attempts never raise the tier", prop.ForAll(
		func(attempts, extra, seconds float64) bool {
			return rank(Classify(attempts+extra, seconds)) <= rank(Classify(attempts, seconds))
		},
		gen.Float64Range(1, 6),
		gen.Float64Range(0, 3),
		gen.Float64Range(0, 60),
	))

	properties.Property("slower runs never raise the tier", prop.ForAll(
		func(attempts, seconds, extra float64) bool {
			return rank(Classify(attempts, seconds+extra)) <= rank(Classify(attempts, seconds))
		},
		gen.Float64Range(1, 6),
		gen.Float64Range(0, 60),
		gen.Float64Range(0, 30),
	))

	properties.TestingRun(t)
}

// rank orders tiers for comparisons.
func rank(d storage.Difficulty) int {
	switch d {
	case storage.DifficultyHard:
		return 2
	case storage.DifficultyMedium:
		return 1
	default:
		return 0
	}
}
