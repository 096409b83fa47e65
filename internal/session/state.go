package session

import "fmt"

// State is the externally observable lifecycle state of a session.
type State int

const (
	StateLoading State = iota
	StateReady
	StateError
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateError:
		return "error"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// Phase is the initialization step a session is in.
type Phase int

const (
	PhaseCamera Phase = iota
	PhasePlayback
	PhaseSurface
	PhaseDetector
	PhaseModel
	PhaseRunning
)

func (p Phase) String() string {
	switch p {
	case PhaseCamera:
		return "camera"
	case PhasePlayback:
		return "playback"
	case PhaseSurface:
		return "surface"
	case PhaseDetector:
		return "detector"
	case PhaseModel:
		return "model"
	case PhaseRunning:
		return "running"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// transitions lists the allowed target states per state. Closed is
// reachable from everywhere and is terminal. Ready falls to error when the
// camera is lost.
var transitions = map[State][]State{
	StateLoading: {StateReady, StateError, StateClosed},
	StateReady:   {StateError, StateClosed},
	StateError:   {StateLoading, StateClosed},
	StateClosed:  {},
}

// canTransition reports whether from → to is allowed.
func canTransition(from, to State) bool {
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
