package render

import (
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"math"

	"github.com/Tutortoise/damage-inspection-service/models"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

var (
	VehicleColor = color.RGBA{R: 0x00, G: 0xf2, B: 0xff, A: 0xff}
	DamageColor  = color.RGBA{R: 0xff, G: 0x00, B: 0x55, A: 0xff}
)

const (
	LineThickness = 4
	labelPad      = 10
)

// StrokeBox draws the outline of b, scaled to dst, and returns the pixel
// rectangle it used.
func StrokeBox(dst draw.Image, b models.Box, clr color.Color, thickness int) models.PixelRect {
	bounds := dst.Bounds()
	pr := b.Pixels(float32(bounds.Dx()), float32(bounds.Dy()))
	rect := pr.Rect().Add(bounds.Min)
	strokeRect(dst, rect, clr, thickness)
	return pr
}

func strokeRect(dst draw.Image, r image.Rectangle, clr color.Color, thickness int) {
	if thickness < 1 {
		thickness = 1
	}
	src := image.NewUniform(clr)
	half := thickness / 2
	outer := image.Rect(r.Min.X-half, r.Min.Y-half, r.Max.X+thickness-half, r.Max.Y+thickness-half)

	edges := []image.Rectangle{
		image.Rect(outer.Min.X, outer.Min.Y, outer.Max.X, outer.Min.Y+thickness), // top
		image.Rect(outer.Min.X, outer.Max.Y-thickness, outer.Max.X, outer.Max.Y), // bottom
		image.Rect(outer.Min.X, outer.Min.Y, outer.Min.X+thickness, outer.Max.Y), // left
		image.Rect(outer.Max.X-thickness, outer.Min.Y, outer.Max.X, outer.Max.Y), // right
	}
	for _, e := range edges {
		draw.Draw(dst, e.Intersect(dst.Bounds()), src, image.Point{}, draw.Src)
	}
}

// Label writes text just above the top-left corner of rect.
func Label(dst draw.Image, rect models.PixelRect, text string, clr color.Color) {
	bounds := dst.Bounds()
	x := int(math.Round(float64(rect.Left))) + bounds.Min.X
	y := int(math.Round(float64(rect.Top))) + bounds.Min.Y - labelPad
	if y < bounds.Min.Y+basicfont.Face7x13.Ascent {
		y = bounds.Min.Y + basicfont.Face7x13.Ascent
	}

	d := &font.Drawer{
		Dst:  dst,
		Src:  image.NewUniform(clr),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y),
	}
	d.DrawString(text)
}

func DamageLabel(confidence float32) string {
	return fmt.Sprintf("DAMAGE %d%%", int(math.Round(float64(confidence)*100)))
}

func VehicleLabel(confidence float32) string {
	return fmt.Sprintf("VEHICLE %d%%", int(math.Round(float64(confidence)*100)))
}

// Overlay draws one overlay box with its label.
func Overlay(dst draw.Image, ob models.OverlayBox) {
	clr, label := DamageColor, DamageLabel(ob.Confidence)
	if ob.Kind == models.OverlayVehicle {
		clr, label = VehicleColor, VehicleLabel(ob.Confidence)
	}
	rect := StrokeBox(dst, ob.Box, clr, LineThickness)
	Label(dst, rect, label, clr)
}
