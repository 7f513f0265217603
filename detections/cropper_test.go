package detections

import (
	"image"
	"image/color"
	"testing"

	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/disintegration/imaging"
)

func TestToFrameCropCenterIsIdentity(t *testing.T) {
	car := models.Box{X: 0.5, Y: 0.5, W: 0.4, H: 0.6}
	got := ToFrame(car, models.Point{X: 0.5, Y: 0.5})
	if got != (models.Point{X: 0.5, Y: 0.5}) {
		t.Errorf("ToFrame(center) = %+v, want (0.5, 0.5)", got)
	}
}

func TestToFrame(t *testing.T) {
	car := models.Box{X: 0.5, Y: 0.5, W: 0.4, H: 0.6}
	tests := []struct {
		in   models.Point
		want models.Point
	}{
		{models.Point{X: 0, Y: 0}, models.Point{X: 0.3, Y: 0.2}},
		{models.Point{X: 1, Y: 1}, models.Point{X: 0.7, Y: 0.8}},
		{models.Point{X: 0.25, Y: 0.75}, models.Point{X: 0.4, Y: 0.65}},
	}
	for _, tt := range tests {
		got := ToFrame(car, tt.in)
		if !near(got.X, tt.want.X) || !near(got.Y, tt.want.Y) {
			t.Errorf("ToFrame(%+v) = %+v, want %+v", tt.in, got, tt.want)
		}
	}
}

func TestToFrameBoxScalesSize(t *testing.T) {
	car := models.Box{X: 0.5, Y: 0.5, W: 0.4, H: 0.6}
	got := ToFrameBox(car, models.Box{X: 0.5, Y: 0.5, W: 0.5, H: 0.5})
	want := models.Box{X: 0.5, Y: 0.5, W: 0.2, H: 0.3}
	if !near(got.X, want.X) || !near(got.Y, want.Y) || !near(got.W, want.W) || !near(got.H, want.H) {
		t.Errorf("ToFrameBox() = %+v, want %+v", got, want)
	}
}

func TestCropRegionUsesWidthForRightEdge(t *testing.T) {
	r := CropRegion(models.Box{X: 0.5, Y: 0.5, W: 0.2, H: 0.6})
	if !near(r.Left, 0.4) || !near(r.Right, 0.6) || !near(r.Top, 0.2) || !near(r.Bottom, 0.8) {
		t.Errorf("CropRegion() = %+v", r)
	}
}

func TestCropFillsOutsideWithBlack(t *testing.T) {
	src := imaging.New(100, 100, color.NRGBA{R: 255, G: 255, B: 255, A: 255})

	// Left half of the box hangs off the frame.
	crop := Crop(src, models.Box{X: 0, Y: 0.5, W: 0.5, H: 0.5}, 64)
	if crop.Bounds() != image.Rect(0, 0, 64, 64) {
		t.Fatalf("Crop() bounds = %v, want 64x64", crop.Bounds())
	}

	left := crop.NRGBAAt(4, 32)
	right := crop.NRGBAAt(60, 32)
	if left.R != 0 || left.G != 0 || left.B != 0 {
		t.Errorf("outside pixel = %+v, want black", left)
	}
	if right.R != 255 || right.G != 255 || right.B != 255 {
		t.Errorf("inside pixel = %+v, want white", right)
	}
}

func TestRegionPixelsNeverEmpty(t *testing.T) {
	r := Region{Top: 0.5, Left: 0.5, Bottom: 0.5, Right: 0.5}.Pixels(100, 100)
	if r.Dx() < 1 || r.Dy() < 1 {
		t.Errorf("Pixels() = %v, want at least one pixel", r)
	}
}

func near(a, b float32) bool {
	d := a - b
	return d < 1e-5 && d > -1e-5
}
