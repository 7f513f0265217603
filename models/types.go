package models

import (
	"image"
	"math"
	"time"
)

// Box is a normalized center/size box. Values are fractions of the frame, or
// of the crop region for second stage detections.
type Box struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
	W float32 `json:"w"`
	H float32 `json:"h"`
}

// Area returns w*h in normalized units.
func (b Box) Area() float32 {
	return b.W * b.H
}

// Center returns the box center as a point.
func (b Box) Center() Point {
	return Point{X: b.X, Y: b.Y}
}

// Pixels scales the box onto a canvas of the given size.
func (b Box) Pixels(width, height float32) PixelRect {
	return PixelRect{
		Left:   (b.X - b.W/2) * width,
		Top:    (b.Y - b.H/2) * height,
		Width:  b.W * width,
		Height: b.H * height,
	}
}

// PixelRect is a box in canvas pixels, top-left origin.
type PixelRect struct {
	Left   float32 `json:"left"`
	Top    float32 `json:"top"`
	Width  float32 `json:"width"`
	Height float32 `json:"height"`
}

// Rect rounds the rectangle to integer pixel coordinates.
func (r PixelRect) Rect() image.Rectangle {
	x0 := int(math.Round(float64(r.Left)))
	y0 := int(math.Round(float64(r.Top)))
	x1 := int(math.Round(float64(r.Left + r.Width)))
	y1 := int(math.Round(float64(r.Top + r.Height)))
	return image.Rect(x0, y0, x1, y1)
}

type Point struct {
	X float32 `json:"x"`
	Y float32 `json:"y"`
}

type Detection struct {
	Box        Box     `json:"box"`
	Confidence float32 `json:"confidence"`
	Anchor     int     `json:"anchor"`
	Class      int     `json:"class"`
}

// OverlayKind tags what an overlay box was drawn for.
type OverlayKind string

const (
	OverlayVehicle OverlayKind = "vehicle"
	OverlayDamage  OverlayKind = "damage"
)

type OverlayBox struct {
	Kind       OverlayKind `json:"kind"`
	Box        Box         `json:"box"`
	Rect       PixelRect   `json:"rect"`
	Confidence float32     `json:"confidence"`
}

// FrameReport is everything derived from a single frame.
type FrameReport struct {
	Seq         uint64             `json:"seq"`
	Timestamp   time.Time          `json:"timestamp"`
	Vehicle     *Detection         `json:"vehicle,omitempty"`
	Damage      *Detection         `json:"damage,omitempty"`
	DamagePoint *Point             `json:"damage_point,omitempty"`
	Boxes       []OverlayBox       `json:"boxes"`
	Panels      PanelSet           `json:"panels"`
	Timings     *ProcessingTimings `json:"-"`
}

// Damaged reports whether the frame produced a damage detection.
func (r *FrameReport) Damaged() bool {
	return r.Damage != nil
}

type ProcessingTimings struct {
	RequestID   string
	ImageDecode time.Duration
	Resize      time.Duration
	Preprocess  time.Duration
	Inference   time.Duration
	Crop        time.Duration
	DamageInfer time.Duration
	Postprocess time.Duration
	Mapping     time.Duration
	Render      time.Duration
	Total       time.Duration
}
