package track

import (
	"fmt"

	"github.com/benchsweep/benchsweep/internal/scheduler"
)

// State is a run instance's position in its lifecycle.
type State int

const (
	Pending State = iota
	Submitted
	Running
	Completed
	Failed
	Cancelled
)

var stateNames = [...]string{"pending", "submitted", "running", "completed", "failed", "cancelled"}

func (s State) String() string {
	if s < Pending || s > Cancelled {
		return "unknown"
	}
	return stateNames[s]
}

// Terminal reports whether no further transition can happen.
func (s State) Terminal() bool {
	return s == Completed || s == Failed || s == Cancelled
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(text []byte) error {
	for i, name := range stateNames {
		if string(text) == name {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("unknown state %q", text)
}

// FromRaw maps a backend status onto the lifecycle. exited reports
// whether the run left an exit artifact behind; it decides between
// Completed and Failed when the backend no longer knows the handle.
func FromRaw(raw scheduler.RawStatus, exited bool) State {
	switch raw {
	case scheduler.StatusPending:
		return Submitted
	case scheduler.StatusRunning:
		return Running
	case scheduler.StatusCompleted:
		return Completed
	case scheduler.StatusFailed:
		return Failed
	default:
		if exited {
			return Completed
		}
		return Failed
	}
}
