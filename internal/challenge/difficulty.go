package challenge

import (
	"context"

	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
)

// HistoryWindow is the number of recent attempts the adapter averages.
const HistoryWindow = 5

const (
	hardMaxAttempts   = 1.2
	hardMaxSeconds    = 20.0
	mediumMaxAttempts = 1.5
	mediumMaxSeconds  = 25.0
)

// Adapter recommends a difficulty tier from an app's recent attempts.
type Adapter struct {
	attempts storage.AttemptStore
	window   int
	logger   zerolog.Logger
}

// NewAdapter creates a difficulty adapter. A window <= 0 uses HistoryWindow.
func NewAdapter(attempts storage.AttemptStore, window int, logger zerolog.Logger) *Adapter {
	if window <= 0 {
		window = HistoryWindow
	}
	return &Adapter{
		attempts: attempts,
		window:   window,
		logger:   logger.With().Str("component", "difficulty").Logger(),
	}
}

// Recommend returns the tier for the next problem shown for appID. A history
// lookup failure yields EASY.
func (a *Adapter) Recommend(ctx context.Context, appID string) storage.Difficulty {
	recent, err := a.attempts.RecentForApp(ctx, appID, a.window)
	if err != nil {
		a.logger.Warn().Err(err).Str("app_id", appID).Msg("Failed to load challenge history")
		return storage.DifficultyEasy
	}
	return RecommendFromHistory(recent)
}

// RecommendFromHistory applies the tier thresholds to the given attempts.
// Callers pass at most the window of most recent records; no outlier
// rejection is done.
func RecommendFromHistory(recent []storage.ChallengeAttempt) storage.Difficulty {
	if len(recent) == 0 {
		return storage.DifficultyEasy
	}

	var attempts, seconds float64
	for _, a := range recent {
		attempts += float64(a.AttemptsCount)
		seconds += float64(a.CompletionTimeSeconds)
	}
	n := float64(len(recent))
	return Classify(attempts/n, seconds/n)
}

// Classify maps average attempts and average completion seconds to a tier.
func Classify(avgAttempts, avgSeconds float64) storage.Difficulty {
	switch {
	case avgAttempts <= hardMaxAttempts && avgSeconds < hardMaxSeconds:
		return storage.DifficultyHard
	case avgAttempts <= mediumMaxAttempts && avgSeconds < mediumMaxSeconds:
		return storage.DifficultyMedium
	default:
		return storage.DifficultyEasy
	}
}
