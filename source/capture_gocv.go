//go:build gocv
// +build gocv

package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"sync"

	"gocv.io/x/gocv"
)

// Capture reads frames from an OpenCV video capture, either a camera device
// or a video file.
type Capture struct {
	pauser

	mu     sync.Mutex
	vc     *gocv.VideoCapture
	mat    gocv.Mat
	live   bool
	closed bool
}

// OpenCamera opens the device for the facing mode.
func OpenCamera(devices Devices, facing Facing) (*Capture, error) {
	id := devices.For(facing)
	vc, err := gocv.OpenVideoCapture(id)
	if err != nil {
		return nil, fmt.Errorf("%w: camera %d: %v", ErrCaptureUnavailable, id, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("%w: camera %d did not open", ErrCaptureUnavailable, id)
	}
	vc.Set(gocv.VideoCaptureBufferSize, 1)
	return &Capture{vc: vc, mat: gocv.NewMat(), live: true}, nil
}

// OpenVideo opens a video file.
func OpenVideo(path string) (*Capture, error) {
	vc, err := gocv.VideoCaptureFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCaptureUnavailable, err)
	}
	return &Capture{vc: vc, mat: gocv.NewMat()}, nil
}

func (c *Capture) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return nil, io.EOF
	}

	for {
		if ok := c.vc.Read(&c.mat); !ok {
			if c.live {
				return nil, fmt.Errorf("%w: failed to read frame from camera", ErrCaptureUnavailable)
			}
			return nil, io.EOF
		}
		if !c.mat.Empty() {
			break
		}
	}

	return c.mat.ToImage()
}

// FPS is the frame rate reported by the container, zero for most cameras.
func (c *Capture) FPS() float64 {
	return c.vc.Get(gocv.VideoCaptureFPS)
}

func (c *Capture) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true
	c.mat.Close()
	return c.vc.Close()
}
