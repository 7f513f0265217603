package pipeline

import (
	"testing"

	"github.com/Tutortoise/damage-inspection-service/models"
)

func TestStateSink(t *testing.T) {
	s := NewStateSink()
	panels := models.PanelSet{models.Trunk}

	s.Status(StatusActive)
	s.Highlight(panels)
	s.Summary(1, "ALERTS: 1 PANELS IMPACTED")
	s.Alert(true)

	// The sink keeps its own copy.
	panels[0] = models.Roof

	snap := s.Snapshot()
	if snap.Status != StatusActive || snap.Count != 1 || !snap.Alert {
		t.Errorf("Snapshot() = %+v", snap)
	}
	if !snap.Panels.Equal(models.PanelSet{models.Trunk}) {
		t.Errorf("Panels = %v, want [trunk]", snap.Panels)
	}
	if snap.UpdatedAt.IsZero() {
		t.Error("UpdatedAt not set")
	}

	snap.Panels[0] = models.Hood
	if got := s.Snapshot().Panels; !got.Equal(models.PanelSet{models.Trunk}) {
		t.Errorf("Snapshot() shares its panel slice: %v", got)
	}
}

func TestMultiSinkFansOut(t *testing.T) {
	a, b := NewStateSink(), NewStateSink()
	m := MultiSink{a, b}

	m.Status(StatusReady)
	m.Highlight(models.PanelSet{models.Hood})
	m.Summary(1, "one")
	m.Alert(true)

	for i, s := range []*StateSink{a, b} {
		snap := s.Snapshot()
		if snap.Status != StatusReady || snap.Summary != "one" || !snap.Alert || snap.Panels.Count() != 1 {
			t.Errorf("sink %d snapshot = %+v", i, snap)
		}
	}
}
