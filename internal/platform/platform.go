// Package platform declares the operating-system collaborators the
// enforcement core drives. Implementations live with the host shell; the
// bridge subpackage provides one over a line-delimited JSON stream.
package platform

import (
	"context"
	"time"
)

// Result is the outcome of a best-effort platform action.
type Result string

const (
	ResultOK          Result = "ok"
	ResultUnsupported Result = "unsupported"
	ResultDenied      Result = "denied"
	ResultFailed      Result = "failed"
)

// OK reports whether the action took effect.
func (r Result) OK() bool { return r == ResultOK }

// UsageSource reports total foreground time for an app.
type UsageSource interface {
	QueryForegroundMinutes(ctx context.Context, appID string, start, end time.Time) (int64, error)
}

// Navigator moves the foreground away from the current app.
type Navigator interface {
	GoBack() Result
	GoHome() Result
}

// DeviceController performs the lockout escalation.
type DeviceController interface {
	LockDevice() Result
	RequestShutdown() Result
}

// Problem is what the challenge surface renders.
type Problem struct {
	AppID        string        `json:"app_id"`
	Text         string        `json:"text"`
	Index        int           `json:"index"` // zero-based within the session
	Required     int           `json:"required"`
	Difficulty   string        `json:"difficulty"`
	TimeLimit    time.Duration `json:"time_limit"`
	Attempts     int           `json:"attempts"`
	BonusMinutes int           `json:"bonus_minutes"`
}

// Presenter drives the user-facing surfaces.
type Presenter interface {
	ShowChallenge(p Problem)
	ShowFeedback(appID string, message string)
	ShowLockout(appID string, remaining time.Duration)
	ShowNotice(appID string, message string)
	Dismiss(appID string)
}
