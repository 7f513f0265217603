package detections

import (
	"fmt"
	"strings"

	"github.com/Tutortoise/damage-inspection-service/models"
)

// Policy decides which anchor wins when several clear the threshold.
type Policy int

const (
	// BestOf keeps the highest confidence. The running best is only replaced
	// on a strictly greater score, so the lowest anchor wins ties.
	BestOf Policy = iota
	// FirstAbove stops at the lowest anchor that clears the threshold. It
	// favors low anchor indices over confidence.
	FirstAbove
)

func (p Policy) String() string {
	switch p {
	case BestOf:
		return "best-of"
	case FirstAbove:
		return "first-above"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "best-of", "best_of", "best":
		return BestOf, nil
	case "first-above", "first_above", "first":
		return FirstAbove, nil
	}
	return BestOf, fmt.Errorf("unknown selection policy %q", s)
}

type Selector struct {
	Policy    Policy
	Threshold float32
	// MinArea rejects boxes with w*h below it. Zero disables the filter.
	MinArea float32
}

func VehicleSelector() Selector {
	return Selector{Policy: BestOf, Threshold: VehicleConfThreshold}
}

func DamageSelector() Selector {
	return Selector{Policy: FirstAbove, Threshold: DamageConfThreshold, MinArea: MinDamageArea}
}

func (s Selector) accepts(det models.Detection) bool {
	if det.Confidence <= s.Threshold {
		return false
	}
	return s.MinArea <= 0 || det.Box.Area() >= s.MinArea
}

// Select scans the anchors in ascending order. The bool is false when no
// anchor is accepted.
func (s Selector) Select(t Tensor) (models.Detection, bool, error) {
	if err := t.Validate(); err != nil {
		return models.Detection{}, false, err
	}

	var best models.Detection
	found := false

	for i := 0; i < t.Anchors; i++ {
		det := t.At(i)
		if !s.accepts(det) {
			continue
		}
		if s.Policy == FirstAbove {
			return det, true, nil
		}
		if !found || det.Confidence > best.Confidence {
			best = det
			found = true
		}
	}

	return best, found, nil
}
