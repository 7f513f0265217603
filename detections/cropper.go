package detections

import (
	"image"
	"image/color"
	"math"

	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/disintegration/imaging"
)

// Region is a normalized crop rectangle in [top, left, bottom, right] order.
type Region struct {
	Top    float32
	Left   float32
	Bottom float32
	Right  float32
}

// CropRegion returns the rectangle covered by a center/size box. It is not
// clamped; Crop fills whatever falls outside the frame with black.
func CropRegion(b models.Box) Region {
	return Region{
		Top:    b.Y - b.H/2,
		Left:   b.X - b.W/2,
		Bottom: b.Y + b.H/2,
		Right:  b.X + b.W/2,
	}
}

// Pixels maps the region onto a frame of the given size.
func (r Region) Pixels(width, height int) image.Rectangle {
	x0 := int(math.Floor(float64(r.Left) * float64(width)))
	y0 := int(math.Floor(float64(r.Top) * float64(height)))
	x1 := int(math.Ceil(float64(r.Right) * float64(width)))
	y1 := int(math.Ceil(float64(r.Bottom) * float64(height)))
	if x1 <= x0 {
		x1 = x0 + 1
	}
	if y1 <= y0 {
		y1 = y0 + 1
	}
	return image.Rect(x0, y0, x1, y1)
}

// Crop cuts the region of b out of img and resizes it to size x size.
func Crop(img image.Image, b models.Box, size int) *image.NRGBA {
	bounds := img.Bounds()
	rect := CropRegion(b).Pixels(bounds.Dx(), bounds.Dy()).Add(bounds.Min)

	canvas := imaging.New(rect.Dx(), rect.Dy(), color.NRGBA{A: 255})
	canvas = imaging.Paste(canvas, img, bounds.Min.Sub(rect.Min))

	return imaging.Resize(canvas, size, size, imaging.Linear)
}

// ToFrame maps a point relative to the car crop back into full frame space.
func ToFrame(car models.Box, p models.Point) models.Point {
	return models.Point{
		X: car.X + (p.X-0.5)*car.W,
		Y: car.Y + (p.Y-0.5)*car.H,
	}
}

// ToFrameBox is ToFrame for a whole box, scaling its size by the car box.
func ToFrameBox(car models.Box, b models.Box) models.Box {
	p := ToFrame(car, b.Center())
	return models.Box{X: p.X, Y: p.Y, W: b.W * car.W, H: b.H * car.H}
}
