package blueprint

import (
	"fmt"
	"strings"
	"sync"

	"github.com/Tutortoise/damage-inspection-service/models"
)

// MissPolicy says what a frame without damage does to the highlight.
type MissPolicy int

const (
	ClearOnMiss MissPolicy = iota
	KeepOnMiss
)

func (p MissPolicy) String() string {
	if p == KeepOnMiss {
		return "keep"
	}
	return "clear"
}

func ParseMissPolicy(s string) (MissPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "clear":
		return ClearOnMiss, nil
	case "keep":
		return KeepOnMiss, nil
	}
	return ClearOnMiss, fmt.Errorf("unknown miss policy %q", s)
}

// Board is the highlight state of one blueprint.
type Board struct {
	mu      sync.RWMutex
	policy  MissPolicy
	current models.PanelSet
}

func NewBoard(policy MissPolicy) *Board {
	return &Board{policy: policy}
}

// Apply replaces the highlight with set.
func (b *Board) Apply(set models.PanelSet) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = append(models.PanelSet(nil), set...)
}

// Miss records a frame with nothing to highlight.
func (b *Board) Miss() {
	if b.policy == KeepOnMiss {
		return
	}
	b.Clear()
}

func (b *Board) Clear() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.current = nil
}

func (b *Board) Current() models.PanelSet {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return append(models.PanelSet(nil), b.current...)
}

func (b *Board) Count() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.current)
}

func (b *Board) Summary() string {
	return fmt.Sprintf("ALERTS: %d PANELS IMPACTED", b.Count())
}
