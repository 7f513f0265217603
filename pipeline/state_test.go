package pipeline

import (
	"errors"
	"testing"
)

func TestTransitions(t *testing.T) {
	tests := []struct {
		from, to State
		ok       bool
	}{
		{Idle, SourceReady, true},
		{Idle, Running, false},
		{Idle, Stopped, false},
		{SourceReady, Running, true},
		{SourceReady, Stopped, true},
		{SourceReady, SourceReady, false},
		{Running, Stopped, true},
		{Running, SourceReady, false},
		{Stopped, SourceReady, true},
		{Stopped, Running, false},
	}

	for _, tt := range tests {
		err := transition(tt.from, tt.to)
		if tt.ok && err != nil {
			t.Errorf("%s -> %s: unexpected error %v", tt.from, tt.to, err)
		}
		if !tt.ok && !errors.Is(err, ErrInvalidTransition) {
			t.Errorf("%s -> %s: error = %v, want ErrInvalidTransition", tt.from, tt.to, err)
		}
	}
}

func TestStateText(t *testing.T) {
	if got := SourceReady.String(); got != "source_ready" {
		t.Errorf("String() = %q", got)
	}
	if got := State(9).String(); got != "state(9)" {
		t.Errorf("String() = %q", got)
	}
	b, err := Running.MarshalText()
	if err != nil || string(b) != "running" {
		t.Errorf("MarshalText() = %q, %v", b, err)
	}
}

func TestStateUnmarshalText(t *testing.T) {
	var s State
	if err := s.UnmarshalText([]byte("stopped")); err != nil || s != Stopped {
		t.Errorf("UnmarshalText(stopped) = %s, %v", s, err)
	}
	if err := s.UnmarshalText([]byte("paused")); err == nil {
		t.Error("UnmarshalText accepted an unknown state")
	}
}
