package stats

// Metric names the progress value an achievement is measured against.
type Metric string

const (
	MetricChallenges       Metric = "challenges"
	MetricFastChallenges   Metric = "fast_challenges"
	MetricChallengeStreak  Metric = "challenge_streak"
	MetricUnderLimitStreak Metric = "under_limit_streak"
	MetricSavedMinutes     Metric = "saved_minutes"
	MetricPerfectDays      Metric = "perfect_days"
)

// FastChallengeSeconds is the completion time that counts towards SPEED_DEMON.
const FastChallengeSeconds = 15

// Achievement is an unlockable milestone.
type Achievement struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
	Requirement int64  `json:"requirement"`
	Metric      Metric `json:"metric"`
}

// Achievements is the fixed catalogue in display order.
var Achievements = []Achievement{
	{ID: "first_challenge", Title: "First Victory", Description: "Complete your first challenge", Requirement: 1, Metric: MetricChallenges},
	{ID: "streak_3", Title: "On Fire", Description: "Complete a challenge 3 days in a row", Requirement: 3, Metric: MetricChallengeStreak},
	{ID: "streak_7", Title: "Week Warrior", Description: "Complete a challenge 7 days in a row", Requirement: 7, Metric: MetricChallengeStreak},
	{ID: "streak_30", Title: "Monthly Master", Description: "Complete a challenge 30 days in a row", Requirement: 30, Metric: MetricChallengeStreak},
	{ID: "challenges_10", Title: "Math Whiz", Description: "Complete 10 challenges", Requirement: 10, Metric: MetricChallenges},
	{ID: "challenges_50", Title: "Scholar", Description: "Complete 50 challenges", Requirement: 50, Metric: MetricChallenges},
	{ID: "challenges_100", Title: "Champion", Description: "Complete 100 challenges", Requirement: 100, Metric: MetricChallenges},
	{ID: "speed_demon", Title: "Speed Demon", Description: "Complete 5 challenges in 15 seconds or less", Requirement: 5, Metric: MetricFastChallenges},
	{ID: "under_limit_7", Title: "Week Perfect", Description: "Stay under every limit for 7 days straight", Requirement: 7, Metric: MetricUnderLimitStreak},
	{ID: "under_limit_30", Title: "Month Perfect", Description: "Stay under every limit for 30 days straight", Requirement: 30, Metric: MetricUnderLimitStreak},
	{ID: "time_saved_10h", Title: "10 Hours Saved", Description: "Save 10 hours of screen time", Requirement: 600, Metric: MetricSavedMinutes},
	{ID: "time_saved_50h", Title: "50 Hours Saved", Description: "Save 50 hours of screen time", Requirement: 3000, Metric: MetricSavedMinutes},
	{ID: "perfect_day", Title: "Perfect Day", Description: "Stay under every limit for a whole day", Requirement: 1, Metric: MetricPerfectDays},
}

// Progress holds the value of every metric.
type Progress struct {
	Challenges       int64 `json:"challenges"`
	FastChallenges   int64 `json:"fast_challenges"`
	ChallengeStreak  int64 `json:"challenge_streak"`
	UnderLimitStreak int64 `json:"under_limit_streak"`
	SavedMinutes     int64 `json:"saved_minutes"`
	PerfectDays      int64 `json:"perfect_days"`
}

// Value returns the progress for m.
func (p Progress) Value(m Metric) int64 {
	switch m {
	case MetricChallenges:
		return p.Challenges
	case MetricFastChallenges:
		return p.FastChallenges
	case MetricChallengeStreak:
		return p.ChallengeStreak
	case MetricUnderLimitStreak:
		return p.UnderLimitStreak
	case MetricSavedMinutes:
		return p.SavedMinutes
	case MetricPerfectDays:
		return p.PerfectDays
	default:
		return 0
	}
}
