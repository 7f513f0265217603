package blueprint

import (
	"testing"

	"github.com/Tutortoise/damage-inspection-service/models"
)

func TestBoardClearOnMiss(t *testing.T) {
	b := NewBoard(ClearOnMiss)
	b.Apply(models.PanelSet{models.Hood})
	if b.Count() != 1 {
		t.Fatalf("Count() = %d, want 1", b.Count())
	}
	if got := b.Summary(); got != "ALERTS: 1 PANELS IMPACTED" {
		t.Errorf("Summary() = %q", got)
	}

	b.Miss()
	if b.Count() != 0 {
		t.Errorf("Count() after miss = %d, want 0", b.Count())
	}
	if got := b.Summary(); got != "ALERTS: 0 PANELS IMPACTED" {
		t.Errorf("Summary() = %q", got)
	}
}

func TestBoardKeepOnMiss(t *testing.T) {
	b := NewBoard(KeepOnMiss)
	b.Apply(models.PanelSet{models.Trunk})
	b.Miss()
	if !b.Current().Equal(models.PanelSet{models.Trunk}) {
		t.Errorf("Current() after miss = %v, want [trunk]", b.Current())
	}

	b.Apply(models.PanelSet{models.Roof})
	if !b.Current().Equal(models.PanelSet{models.Roof}) {
		t.Errorf("Current() = %v, want a replaced highlight", b.Current())
	}
}

func TestBoardCurrentIsACopy(t *testing.T) {
	b := NewBoard(ClearOnMiss)
	b.Apply(models.PanelSet{models.Hood})
	cur := b.Current()
	cur[0] = models.Roof
	if !b.Current().Equal(models.PanelSet{models.Hood}) {
		t.Errorf("board changed through Current(): %v", b.Current())
	}
}

func TestParseMissPolicy(t *testing.T) {
	for in, want := range map[string]MissPolicy{"": ClearOnMiss, "clear": ClearOnMiss, "KEEP": KeepOnMiss} {
		got, err := ParseMissPolicy(in)
		if err != nil || got != want {
			t.Errorf("ParseMissPolicy(%q) = %v, %v; want %v", in, got, err, want)
		}
	}
	if _, err := ParseMissPolicy("sometimes"); err == nil {
		t.Error("ParseMissPolicy(sometimes) succeeded")
	}
}
