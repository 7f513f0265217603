package render

import (
	"image"
	"image/draw"
	"sync"

	"github.com/disintegration/imaging"
)

// Canvas is the overlay surface, sized to the source video. Only the frame
// loop draws on it; readers take a Snapshot.
type Canvas struct {
	mu  sync.RWMutex
	img *image.RGBA
}

func NewCanvas(width, height int) *Canvas {
	return &Canvas{img: image.NewRGBA(image.Rect(0, 0, width, height))}
}

// Resize reallocates the canvas if the source size changed.
func (c *Canvas) Resize(width, height int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.img.Rect.Dx() == width && c.img.Rect.Dy() == height {
		return
	}
	c.img = image.NewRGBA(image.Rect(0, 0, width, height))
}

func (c *Canvas) Size() (int, int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.img.Rect.Dx(), c.img.Rect.Dy()
}

// DrawFrame paints frame over the whole canvas, scaling when sizes differ.
func (c *Canvas) DrawFrame(frame image.Image) {
	c.mu.Lock()
	defer c.mu.Unlock()

	b := frame.Bounds()
	if b.Dx() != c.img.Rect.Dx() || b.Dy() != c.img.Rect.Dy() {
		frame = imaging.Resize(frame, c.img.Rect.Dx(), c.img.Rect.Dy(), imaging.Linear)
		b = frame.Bounds()
	}
	draw.Draw(c.img, c.img.Rect, frame, b.Min, draw.Src)
}

// Paint runs fn with exclusive access to the canvas pixels.
func (c *Canvas) Paint(fn func(dst *image.RGBA)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fn(c.img)
}

// Snapshot copies the current canvas.
func (c *Canvas) Snapshot() *image.RGBA {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := image.NewRGBA(c.img.Rect)
	copy(out.Pix, c.img.Pix)
	return out
}
