package pipeline

import (
	"sync"
	"time"

	"github.com/Tutortoise/damage-inspection-service/models"
)

// Status lines shown by the blueprint UI.
const (
	StatusReady         = "SOURCE READY"
	StatusActive        = "AI ENGINE ACTIVE"
	StatusComplete      = "Scan Complete! Click Download."
	StatusStopped       = "SCAN STOPPED"
	StatusNoRecording   = "RECORDING UNAVAILABLE"
	StatusSourceFailure = "VIDEO SOURCE LOST"
)

// Sink is the UI boundary. The panel set and its count are the only
// detection payload that crosses it.
type Sink interface {
	Status(text string)
	Highlight(panels models.PanelSet)
	Summary(count int, text string)
	Alert(visible bool)
}

// Snapshot is the last state pushed to a StateSink.
type Snapshot struct {
	Status    string          `json:"status"`
	Panels    models.PanelSet `json:"panels"`
	Count     int             `json:"panel_count"`
	Summary   string          `json:"summary"`
	Alert     bool            `json:"alert"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// StateSink keeps the latest UI state in memory for polling clients.
type StateSink struct {
	mu   sync.RWMutex
	snap Snapshot
}

func NewStateSink() *StateSink {
	return &StateSink{snap: Snapshot{Panels: models.PanelSet{}}}
}

func (s *StateSink) update(fn func(*Snapshot)) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn(&s.snap)
	s.snap.UpdatedAt = time.Now()
}

func (s *StateSink) Status(text string) {
	s.update(func(snap *Snapshot) { snap.Status = text })
}

func (s *StateSink) Highlight(panels models.PanelSet) {
	set := append(models.PanelSet{}, panels...)
	s.update(func(snap *Snapshot) { snap.Panels = set })
}

func (s *StateSink) Summary(count int, text string) {
	s.update(func(snap *Snapshot) {
		snap.Count = count
		snap.Summary = text
	})
}

func (s *StateSink) Alert(visible bool) {
	s.update(func(snap *Snapshot) { snap.Alert = visible })
}

func (s *StateSink) Snapshot() Snapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap := s.snap
	snap.Panels = append(models.PanelSet{}, s.snap.Panels...)
	return snap
}

// MultiSink fans every call out to each sink in order.
type MultiSink []Sink

func (m MultiSink) Status(text string) {
	for _, s := range m {
		s.Status(text)
	}
}

func (m MultiSink) Highlight(panels models.PanelSet) {
	for _, s := range m {
		s.Highlight(panels)
	}
}

func (m MultiSink) Summary(count int, text string) {
	for _, s := range m {
		s.Summary(count, text)
	}
}

func (m MultiSink) Alert(visible bool) {
	for _, s := range m {
		s.Alert(visible)
	}
}

type discardSink struct{}

func (discardSink) Status(string)             {}
func (discardSink) Highlight(models.PanelSet) {}
func (discardSink) Summary(int, string)       {}
func (discardSink) Alert(bool)                {}
