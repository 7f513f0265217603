package detections

import (
	"testing"

	"github.com/Tutortoise/damage-inspection-service/models"
)

func TestClusterBoxesMergesOverlaps(t *testing.T) {
	dets := []models.Detection{
		{Box: models.Box{X: 0.50, Y: 0.50, W: 0.20, H: 0.20}, Confidence: 0.9, Anchor: 1},
		{Box: models.Box{X: 0.51, Y: 0.50, W: 0.20, H: 0.20}, Confidence: 0.8, Anchor: 2},
		{Box: models.Box{X: 0.50, Y: 0.51, W: 0.20, H: 0.20}, Confidence: 0.7, Anchor: 3},
		{Box: models.Box{X: 0.10, Y: 0.10, W: 0.05, H: 0.05}, Confidence: 0.6, Anchor: 4},
	}

	got := ClusterBoxes(dets)
	if len(got) != 2 {
		t.Fatalf("ClusterBoxes() returned %d boxes, want 2: %+v", len(got), got)
	}
	if got[0].Confidence != 0.9 || got[0].Anchor != 1 {
		t.Errorf("merged box = %+v, want confidence 0.9 from anchor 1", got[0])
	}
	if got[0].Box.W < 0.2 || got[0].Box.H < 0.2 {
		t.Errorf("merged box %+v is smaller than its members", got[0].Box)
	}
	if got[1].Anchor != 4 {
		t.Errorf("isolated box = %+v, want anchor 4", got[1])
	}
}

func TestClusterBoxesEmpty(t *testing.T) {
	if got := ClusterBoxes(nil); got != nil {
		t.Errorf("ClusterBoxes(nil) = %+v, want nil", got)
	}
}

func TestCalculateIOU(t *testing.T) {
	a := models.Box{X: 0.5, Y: 0.5, W: 0.2, H: 0.2}
	if iou := calculateIOU(a, a); iou < 0.999 {
		t.Errorf("IOU(a, a) = %v, want 1", iou)
	}
	b := models.Box{X: 0.9, Y: 0.9, W: 0.1, H: 0.1}
	if iou := calculateIOU(a, b); iou != 0 {
		t.Errorf("IOU(disjoint) = %v, want 0", iou)
	}
}
