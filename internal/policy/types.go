package policy

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/goodtune/braintrap/internal/whitelist"
)

// Verdict represents the outcome of evaluating a foreground event
type Verdict string

const (
	VerdictAllow      Verdict = "ALLOW"
	VerdictBlockFocus Verdict = "BLOCK_FOCUS_MODE"
	VerdictBlockQuota Verdict = "BLOCK_QUOTA"
)

// Blocks reports whether the verdict evicts the app.
func (v Verdict) Blocks() bool {
	return v == VerdictBlockFocus || v == VerdictBlockQuota
}

// UnmarshalJSON implements json.Unmarshaler to normalize verdicts to uppercase.
func (v *Verdict) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	normalized := Verdict(strings.ToUpper(s))
	switch normalized {
	case VerdictAllow, VerdictBlockFocus, VerdictBlockQuota:
		*v = normalized
		return nil
	default:
		return fmt.Errorf("invalid verdict: %s (must be ALLOW, BLOCK_FOCUS_MODE, or BLOCK_QUOTA)", s)
	}
}

// MarshalJSON implements json.Marshaler to ensure uppercase output.
func (v Verdict) MarshalJSON() ([]byte, error) {
	return json.Marshal(string(v))
}

// Reason explains which evaluation step produced a verdict
type Reason string

const (
	ReasonSelf             Reason = "self"
	ReasonWhitelisted      Reason = "whitelisted"
	ReasonDebounced        Reason = "debounced"
	ReasonFocusMode        Reason = "focus_mode"
	ReasonNoLimit          Reason = "no_limit"
	ReasonUnderLimit       Reason = "under_limit"
	ReasonOverLimit        Reason = "over_limit"
	ReasonUsageUnavailable Reason = "usage_unavailable"
	ReasonInternalError    Reason = "internal_error"
)

// ForegroundEvent is one foreground-change notification from the OS.
type ForegroundEvent struct {
	AppID     string    `json:"app_id"`
	Timestamp time.Time `json:"timestamp"`
}

// Decision is the result of evaluating a ForegroundEvent
type Decision struct {
	AppID        string  `json:"app_id"`
	Verdict      Verdict `json:"verdict"`
	Reason       Reason  `json:"reason"`
	UsedMinutes  int64   `json:"used_minutes,omitempty"`
	LimitMinutes int     `json:"limit_minutes,omitempty"`
}

// InterceptRequest is handed to the interceptor for every BLOCK verdict.
type InterceptRequest struct {
	AppID       string
	Verdict     Verdict
	At          time.Time
	FocusActive bool
}

// FocusModeState is the user's focus-mode configuration.
type FocusModeState struct {
	Active  bool     `json:"active"`
	Blocked []string `json:"blocked_apps"`
}

func (f FocusModeState) blocks(appID string) bool {
	if !f.Active {
		return false
	}
	for _, id := range f.Blocked {
		if id == appID {
			return true
		}
	}
	return false
}

func normalizeApps(apps []string) []string {
	seen := make(map[string]struct{}, len(apps))
	out := make([]string, 0, len(apps))
	for _, app := range apps {
		app = strings.TrimSpace(app)
		if app == "" {
			continue
		}
		if _, dup := seen[app]; dup {
			continue
		}
		seen[app] = struct{}{}
		out = append(out, app)
	}
	sort.Strings(out)
	return out
}

// Snapshot is a read-only projection of engine state.
type Snapshot struct {
	Whitelist       []whitelist.Entry `json:"whitelist"`
	RecentlyBlocked []string          `json:"recently_blocked"`
	LastBlock       time.Time         `json:"last_block"`
	Focus           FocusModeState    `json:"focus"`
}
