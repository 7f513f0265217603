//go:build !gocv
// +build !gocv

package source

import (
	"context"
	"fmt"
	"image"
	"io"
)

// Capture is unavailable without OpenCV; the constructors always fail.
type Capture struct {
	pauser
}

func OpenCamera(devices Devices, facing Facing) (*Capture, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrCaptureUnavailable)
}

func OpenVideo(path string) (*Capture, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrCaptureUnavailable)
}

func (c *Capture) Next(ctx context.Context) (image.Image, error) {
	return nil, io.EOF
}

func (c *Capture) FPS() float64 {
	return 0
}

func (c *Capture) Close() error {
	return nil
}
