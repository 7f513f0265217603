package detections

import (
	"testing"

	"github.com/Tutortoise/damage-inspection-service/models"
)

func reversed(t Tensor) Tensor {
	n := t.Anchors
	out := make([]float32, len(t.Data))
	for c := 0; c < t.Attributes(); c++ {
		for i := 0; i < n; i++ {
			out[c*n+i] = t.Data[c*n+(n-1-i)]
		}
	}
	return NewTensor(out, n)
}

func TestBestOfIsOrderIndependent(t *testing.T) {
	tensor := newTensor(100, 2,
		anchor{index: 5, box: models.Box{X: 0.1, Y: 0.1, W: 0.1, H: 0.1}, scores: []float32{0.5, 0.2}},
		anchor{index: 50, box: models.Box{X: 0.6, Y: 0.4, W: 0.3, H: 0.3}, scores: []float32{0.1, 0.8}},
		anchor{index: 90, box: models.Box{X: 0.9, Y: 0.9, W: 0.1, H: 0.1}, scores: []float32{0.7, 0.0}},
	)
	sel := Selector{Policy: BestOf, Threshold: 0.45}

	forward, ok, err := sel.Select(tensor)
	if err != nil || !ok {
		t.Fatalf("Select() = %v, %v", ok, err)
	}
	backward, ok, err := sel.Select(reversed(tensor))
	if err != nil || !ok {
		t.Fatalf("Select(reversed) = %v, %v", ok, err)
	}

	if forward.Box != backward.Box || forward.Confidence != backward.Confidence {
		t.Errorf("forward %+v and backward %+v disagree", forward, backward)
	}
	if forward.Confidence != 0.8 {
		t.Errorf("Confidence = %v, want 0.8", forward.Confidence)
	}
}

func TestBestOfTieKeepsFirstSeen(t *testing.T) {
	tensor := newTensor(100, 1,
		anchor{index: 20, box: models.Box{X: 0.2, Y: 0.2, W: 0.1, H: 0.1}, scores: []float32{0.7}},
		anchor{index: 40, box: models.Box{X: 0.4, Y: 0.4, W: 0.1, H: 0.1}, scores: []float32{0.7}},
	)
	det, ok, err := Selector{Policy: BestOf, Threshold: 0.45}.Select(tensor)
	if err != nil || !ok {
		t.Fatalf("Select() = %v, %v", ok, err)
	}
	if det.Anchor != 20 {
		t.Errorf("Anchor = %d, want 20", det.Anchor)
	}
}

func TestFirstAboveStopsAtLowestIndex(t *testing.T) {
	tensor := newTensor(100, 1,
		anchor{index: 10, box: models.Box{X: 0.2, Y: 0.2, W: 0.1, H: 0.1}, scores: []float32{0.5}},
		anchor{index: 60, box: models.Box{X: 0.6, Y: 0.6, W: 0.1, H: 0.1}, scores: []float32{0.99}},
	)
	det, ok, err := Selector{Policy: FirstAbove, Threshold: 0.45}.Select(tensor)
	if err != nil || !ok {
		t.Fatalf("Select() = %v, %v", ok, err)
	}
	if det.Anchor != 10 {
		t.Errorf("Anchor = %d, want 10", det.Anchor)
	}
}

func TestSelectRejects(t *testing.T) {
	tests := []struct {
		name string
		sel  Selector
		pred anchor
	}{
		{
			name: "below threshold",
			sel:  VehicleSelector(),
			pred: anchor{index: 1, box: models.Box{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}, scores: []float32{0.3}},
		},
		{
			name: "equal to threshold",
			sel:  VehicleSelector(),
			pred: anchor{index: 1, box: models.Box{X: 0.5, Y: 0.5, W: 0.5, H: 0.5}, scores: []float32{0.45}},
		},
		{
			name: "damage too small",
			sel:  DamageSelector(),
			pred: anchor{index: 1, box: models.Box{X: 0.5, Y: 0.5, W: 0.04, H: 0.04}, scores: []float32{0.9}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			det, ok, err := tt.sel.Select(newTensor(8400, 1, tt.pred))
			if err != nil {
				t.Fatalf("Select() error = %v", err)
			}
			if ok {
				t.Errorf("Select() = %+v, want no detection", det)
			}
		})
	}
}

func TestSelectAllZeroTensor(t *testing.T) {
	for _, policy := range []Policy{BestOf, FirstAbove} {
		_, ok, err := Selector{Policy: policy, Threshold: 0.45}.Select(newTensor(8400, 1))
		if err != nil {
			t.Fatalf("%s: Select() error = %v", policy, err)
		}
		if ok {
			t.Errorf("%s: Select() found a detection in an empty tensor", policy)
		}
	}
}

func TestParsePolicy(t *testing.T) {
	tests := map[string]Policy{
		"":            BestOf,
		"best_of":     BestOf,
		"best-of":     BestOf,
		"first_above": FirstAbove,
		"FIRST-ABOVE": FirstAbove,
	}
	for in, want := range tests {
		got, err := ParsePolicy(in)
		if err != nil {
			t.Errorf("ParsePolicy(%q) error = %v", in, err)
			continue
		}
		if got != want {
			t.Errorf("ParsePolicy(%q) = %v, want %v", in, got, want)
		}
	}
	if _, err := ParsePolicy("random"); err == nil {
		t.Error("ParsePolicy(random) succeeded")
	}
}
