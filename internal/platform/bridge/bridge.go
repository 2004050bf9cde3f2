// Package bridge connects the enforcement core to a host shell over
// line-delimited JSON. The host writes events on the reader and executes
// the commands written to the writer.
package bridge

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"sync"
	"time"

	"github.com/goodtune/braintrap/internal/challenge"
	"github.com/goodtune/braintrap/internal/metrics"
	"github.com/goodtune/braintrap/internal/platform"
	"github.com/goodtune/braintrap/internal/policy"
	"github.com/goodtune/braintrap/internal/storage"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// DefaultMaxInFlight bounds concurrently dispatched events.
const DefaultMaxInFlight = 8

// Inbound event types
const (
	EventForeground  = "foreground"
	EventUsage       = "usage"
	EventAnswer      = "answer"
	EventTag         = "tag"
	EventAbandon     = "abandon"
	EventFocus       = "focus"
	EventBlockedApps = "blocked_apps"
	EventLimitSet    = "limit_set"
	EventLimitDelete = "limit_delete"
	EventTagRegister = "tag_register"
	EventTagClear    = "tag_clear"
)

// Outbound command types
const (
	CmdGoBack          = "go_back"
	CmdGoHome          = "go_home"
	CmdLockDevice      = "lock_device"
	CmdRequestShutdown = "request_shutdown"
	CmdShowChallenge   = "show_challenge"
	CmdShowFeedback    = "show_feedback"
	CmdShowLockout     = "show_lockout"
	CmdShowNotice      = "show_notice"
	CmdDismiss         = "dismiss"
	CmdDecision        = "decision"
	CmdAnswerResult    = "answer_result"
	CmdTagResult       = "tag_result"
	CmdAck             = "ack"
	CmdError           = "error"
)

// ErrNoUsage is returned when the host has not pushed today's total.
var ErrNoUsage = errors.New("bridge: no usage reported for app today")

// Event is one inbound line.
type Event struct {
	Type      string             `json:"type"`
	AppID     string             `json:"app_id,omitempty"`
	Timestamp time.Time          `json:"timestamp,omitempty"`
	Date      string             `json:"date,omitempty"`
	Minutes   int64              `json:"minutes,omitempty"`
	Answer    int                `json:"answer,omitempty"`
	Tag       string             `json:"tag,omitempty"`
	Active    bool               `json:"active,omitempty"`
	Apps      []string           `json:"apps,omitempty"`
	Limit     *storage.TimeLimit `json:"limit,omitempty"`
}

// Command is one outbound line.
type Command struct {
	Type             string            `json:"type"`
	AppID            string            `json:"app_id,omitempty"`
	Problem          *platform.Problem `json:"problem,omitempty"`
	Message          string            `json:"message,omitempty"`
	RemainingSeconds int               `json:"remaining_seconds,omitempty"`
	Verdict          policy.Verdict    `json:"verdict,omitempty"`
	Reason           policy.Reason     `json:"reason,omitempty"`
	Result           string            `json:"result,omitempty"`
	Unlocked         *bool             `json:"unlocked,omitempty"`
}

// Engine is the decision side of the core.
type Engine interface {
	HandleEvent(ctx context.Context, event policy.ForegroundEvent) policy.Decision
	SetFocusMode(ctx context.Context, active bool) error
	SetBlockedApps(ctx context.Context, apps []string) error
	SetLimit(ctx context.Context, limit storage.TimeLimit) error
	DeleteLimit(ctx context.Context, appID string) error
}

// Controls are the inbound UI operations.
type Controls interface {
	SubmitAnswer(appID string, answer int) (challenge.Event, error)
	Abandon(appID string) error
	ScanTag(ctx context.Context, tagID string) (bool, error)
	RegisterTag(ctx context.Context, tagID string) (string, error)
	ClearTag(ctx context.Context) error
}

// Config holds bridge configuration
type Config struct {
	MaxInFlight int
	// EchoDecisions writes a decision line for every foreground event.
	EchoDecisions bool
}

type pushedUsage struct {
	date    string
	minutes int64
}

// Bridge implements the platform interfaces over a JSON-lines stream.
type Bridge struct {
	in       io.Reader
	config   Config
	logger   zerolog.Logger
	engine   Engine
	controls Controls

	writeMu sync.Mutex
	enc     *json.Encoder

	usageMu sync.RWMutex
	usage   map[string]pushedUsage
}

// New creates a bridge reading events from in and writing commands to out.
func New(in io.Reader, out io.Writer, config Config, logger zerolog.Logger) *Bridge {
	if config.MaxInFlight <= 0 {
		config.MaxInFlight = DefaultMaxInFlight
	}
	return &Bridge{
		in:     in,
		config: config,
		logger: logger.With().Str("component", "bridge").Logger(),
		enc:    json.NewEncoder(out),
		usage:  make(map[string]pushedUsage),
	}
}

// Attach sets the handlers for inbound events. It must be called before
// Serve.
func (b *Bridge) Attach(engine Engine, controls Controls) {
	b.engine = engine
	b.controls = controls
}

// Serve reads events until the reader is exhausted or ctx is cancelled,
// then waits for in-flight dispatches.
func (b *Bridge) Serve(ctx context.Context) error {
	if b.engine == nil || b.controls == nil {
		return fmt.Errorf("bridge: handlers not attached")
	}

	lines := make(chan []byte)
	readErr := make(chan error, 1)
	go func() {
		defer close(lines)
		scanner := bufio.NewScanner(b.in)
		scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
		for scanner.Scan() {
			line := append([]byte(nil), scanner.Bytes()...)
			select {
			case lines <- line:
			case <-ctx.Done():
				return
			}
		}
		readErr <- scanner.Err()
	}()

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(b.config.MaxInFlight)

	b.logger.Info().Int("max_in_flight", b.config.MaxInFlight).Msg("Bridge serving")
	for {
		select {
		case line, ok := <-lines:
			if !ok {
				_ = g.Wait()
				select {
				case err := <-readErr:
					if err != nil {
						return fmt.Errorf("read events: %w", err)
					}
				default:
				}
				b.logger.Info().Msg("Event stream closed")
				return nil
			}
			if len(line) == 0 {
				continue
			}

			var event Event
			if err := json.Unmarshal(line, &event); err != nil {
				metrics.BridgeEventsTotal.WithLabelValues("invalid").Inc()
				b.logger.Warn().Err(err).Msg("Discarding malformed event")
				b.send(Command{Type: CmdError, Message: "malformed event"})
				continue
			}
			g.Go(func() error {
				b.dispatch(gctx, event)
				return nil
			})
		case <-ctx.Done():
			_ = g.Wait()
			return ctx.Err()
		}
	}
}

func (b *Bridge) dispatch(ctx context.Context, event Event) {
	metrics.BridgeEventsTotal.WithLabelValues(event.Type).Inc()
	log := b.logger.With().Str("type", event.Type).Str("app_id", event.AppID).Logger()

	switch event.Type {
	case EventForeground:
		ts := event.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		d := b.engine.HandleEvent(ctx, policy.ForegroundEvent{AppID: event.AppID, Timestamp: ts})
		if b.config.EchoDecisions {
			b.send(Command{Type: CmdDecision, AppID: d.AppID, Verdict: d.Verdict, Reason: d.Reason})
		}

	case EventUsage:
		date := event.Date
		if date == "" {
			date = storage.DateKey(time.Now())
		}
		b.usageMu.Lock()
		b.usage[event.AppID] = pushedUsage{date: date, minutes: event.Minutes}
		b.usageMu.Unlock()

	case EventAnswer:
		result, err := b.controls.SubmitAnswer(event.AppID, event.Answer)
		if err != nil {
			log.Debug().Err(err).Msg("Answer rejected")
			b.send(Command{Type: CmdError, AppID: event.AppID, Message: err.Error()})
			return
		}
		b.send(Command{Type: CmdAnswerResult, AppID: event.AppID, Result: result.String()})

	case EventTag:
		unlocked, err := b.controls.ScanTag(ctx, event.Tag)
		if err != nil {
			log.Debug().Err(err).Msg("Tag ignored")
		}
		b.send(Command{Type: CmdTagResult, Unlocked: &unlocked})

	case EventAbandon:
		if err := b.controls.Abandon(event.AppID); err != nil {
			log.Debug().Err(err).Msg("Nothing to abandon")
		}

	case EventFocus:
		if err := b.engine.SetFocusMode(ctx, event.Active); err != nil {
			log.Error().Err(err).Msg("Failed to set focus mode")
			b.send(Command{Type: CmdError, Message: "failed to set focus mode"})
		}

	case EventBlockedApps:
		if err := b.engine.SetBlockedApps(ctx, event.Apps); err != nil {
			log.Error().Err(err).Msg("Failed to set blocked apps")
			b.send(Command{Type: CmdError, Message: "failed to set blocked apps"})
		}

	case EventLimitSet:
		if event.Limit == nil {
			b.send(Command{Type: CmdError, Message: "limit_set without limit"})
			return
		}
		if err := b.engine.SetLimit(ctx, *event.Limit); err != nil {
			log.Error().Err(err).Msg("Failed to set limit")
			b.send(Command{Type: CmdError, AppID: event.Limit.AppID, Message: err.Error()})
			return
		}
		b.send(Command{Type: CmdAck, AppID: event.Limit.AppID, Result: event.Type})

	case EventLimitDelete:
		if err := b.engine.DeleteLimit(ctx, event.AppID); err != nil {
			log.Error().Err(err).Msg("Failed to delete limit")
			b.send(Command{Type: CmdError, AppID: event.AppID, Message: err.Error()})
			return
		}
		b.send(Command{Type: CmdAck, AppID: event.AppID, Result: event.Type})

	case EventTagRegister:
		id, err := b.controls.RegisterTag(ctx, event.Tag)
		if err != nil {
			log.Error().Err(err).Msg("Failed to register tag")
			b.send(Command{Type: CmdError, Message: err.Error()})
			return
		}
		b.send(Command{Type: CmdAck, Result: event.Type, Message: id})

	case EventTagClear:
		if err := b.controls.ClearTag(ctx); err != nil {
			log.Error().Err(err).Msg("Failed to clear tag")
			b.send(Command{Type: CmdError, Message: err.Error()})
			return
		}
		b.send(Command{Type: CmdAck, Result: event.Type})

	default:
		log.Warn().Msg("Unknown event type")
		b.send(Command{Type: CmdError, Message: fmt.Sprintf("unknown event type %q", event.Type)})
	}
}

// send writes one command line. Writes are serialised.
func (b *Bridge) send(cmd Command) platform.Result {
	b.writeMu.Lock()
	defer b.writeMu.Unlock()
	if err := b.enc.Encode(cmd); err != nil {
		b.logger.Error().Err(err).Str("command", cmd.Type).Msg("Failed to write command")
		return platform.ResultFailed
	}
	return platform.ResultOK
}

// QueryForegroundMinutes returns the total last pushed by the host for the
// day containing start.
func (b *Bridge) QueryForegroundMinutes(_ context.Context, appID string, start, _ time.Time) (int64, error) {
	b.usageMu.RLock()
	defer b.usageMu.RUnlock()
	pushed, ok := b.usage[appID]
	if !ok || pushed.date != storage.DateKey(start) {
		return 0, ErrNoUsage
	}
	return pushed.minutes, nil
}

// GoBack implements platform.Navigator.
func (b *Bridge) GoBack() platform.Result { return b.send(Command{Type: CmdGoBack}) }

// GoHome implements platform.Navigator.
func (b *Bridge) GoHome() platform.Result { return b.send(Command{Type: CmdGoHome}) }

// LockDevice implements platform.DeviceController.
func (b *Bridge) LockDevice() platform.Result { return b.send(Command{Type: CmdLockDevice}) }

// RequestShutdown implements platform.DeviceController.
func (b *Bridge) RequestShutdown() platform.Result {
	return b.send(Command{Type: CmdRequestShutdown})
}

func (b *Bridge) ShowChallenge(p platform.Problem) {
	b.send(Command{Type: CmdShowChallenge, AppID: p.AppID, Problem: &p})
}

func (b *Bridge) ShowFeedback(appID string, message string) {
	b.send(Command{Type: CmdShowFeedback, AppID: appID, Message: message})
}

func (b *Bridge) ShowLockout(appID string, remaining time.Duration) {
	b.send(Command{Type: CmdShowLockout, AppID: appID, RemainingSeconds: int(math.Ceil(remaining.Seconds()))})
}

func (b *Bridge) ShowNotice(appID string, message string) {
	b.send(Command{Type: CmdShowNotice, AppID: appID, Message: message})
}

func (b *Bridge) Dismiss(appID string) {
	b.send(Command{Type: CmdDismiss, AppID: appID})
}
