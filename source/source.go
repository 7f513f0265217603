// Package source provides the video inputs an inspection session can read.
// Every source returns io.EOF once it has ended.
package source

import (
	"errors"
	"fmt"
	"strings"
	"sync/atomic"
)

var ErrCaptureUnavailable = errors.New("video capture unavailable")

// Facing is the camera facing-mode preference.
type Facing string

const (
	FacingEnvironment Facing = "environment"
	FacingUser        Facing = "user"
)

func ParseFacing(s string) (Facing, error) {
	switch Facing(strings.ToLower(strings.TrimSpace(s))) {
	case "", FacingEnvironment:
		return FacingEnvironment, nil
	case FacingUser:
		return FacingUser, nil
	}
	return FacingEnvironment, fmt.Errorf("unknown facing mode %q", s)
}

// Toggle switches between the front and back camera.
func (f Facing) Toggle() Facing {
	if f == FacingUser {
		return FacingEnvironment
	}
	return FacingUser
}

// Devices maps facing modes to capture device ids.
type Devices struct {
	Environment int
	User        int
}

func (d Devices) For(f Facing) int {
	if f == FacingUser {
		return d.User
	}
	return d.Environment
}

// pauser is embedded by sources to support Pause and Resume.
type pauser struct {
	paused atomic.Bool
}

func (p *pauser) Pause()       { p.paused.Store(true) }
func (p *pauser) Resume()      { p.paused.Store(false) }
func (p *pauser) Paused() bool { return p.paused.Load() }
