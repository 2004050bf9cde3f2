package challenge

// Phase is the lifecycle position of a challenge session.
type Phase int

const (
	PhaseAwaitingAnswer Phase = iota
	PhaseCompleted
	PhaseAbandoned
)

func (p Phase) String() string {
	switch p {
	case PhaseAwaitingAnswer:
		return "awaiting_answer"
	case PhaseCompleted:
		return "completed"
	case PhaseAbandoned:
		return "abandoned"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further events are accepted.
func (p Phase) Terminal() bool {
	return p == PhaseCompleted || p == PhaseAbandoned
}

// Event drives a session transition.
type Event int

const (
	EventCorrect Event = iota
	EventIncorrect
	EventTimeout
	EventAbandon
)

func (e Event) String() string {
	switch e {
	case EventCorrect:
		return "correct"
	case EventIncorrect:
		return "incorrect"
	case EventTimeout:
		return "timeout"
	case EventAbandon:
		return "abandon"
	default:
		return "unknown"
	}
}

// State is the progress of a session.
type State struct {
	Phase Phase
	// Current is the zero-based index of the problem being shown, which is
	// also the number of consecutive correct answers so far.
	Current  int
	Required int
	// Attempts counts every answered or timed-out problem across resets.
	Attempts int
}

// NewState returns the initial state for a session needing required
// consecutive correct answers.
func NewState(required int) State {
	if required <= 0 {
		required = 1
	}
	return State{Phase: PhaseAwaitingAnswer, Required: required}
}

// Transition applies e to s. Terminal states absorb every event.
func Transition(s State, e Event) State {
	if s.Phase.Terminal() {
		return s
	}

	switch e {
	case EventCorrect:
		s.Attempts++
		s.Current++
		if s.Current >= s.Required {
			s.Phase = PhaseCompleted
		}
	case EventIncorrect, EventTimeout:
		s.Attempts++
		s.Current = 0
	case EventAbandon:
		s.Phase = PhaseAbandoned
	}
	return s
}
