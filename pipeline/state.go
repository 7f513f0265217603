package pipeline

import (
	"errors"
	"fmt"
)

var ErrInvalidTransition = errors.New("invalid session state transition")

// State is the lifecycle of an inspection session. Swapping the source always
// goes through Stopped so the old source is released before a new one attaches.
type State int

const (
	Idle State = iota
	SourceReady
	Running
	Stopped
)

var stateNames = map[State]string{
	Idle:        "idle",
	SourceReady: "source_ready",
	Running:     "running",
	Stopped:     "stopped",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for state, name := range stateNames {
		if name == string(b) {
			*s = state
			return nil
		}
	}
	return fmt.Errorf("unknown session state %q", b)
}

var transitions = map[State][]State{
	Idle:        {SourceReady},
	SourceReady: {Running, Stopped},
	Running:     {Stopped},
	Stopped:     {SourceReady},
}

func (s State) CanTransition(to State) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

func transition(from, to State) error {
	if !from.CanTransition(to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
