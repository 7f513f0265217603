//go:build !gocv
// +build !gocv

package recording

import "fmt"

// Open always fails without OpenCV.
func Open(path string, f Format, fps float64, width, height int) (Writer, error) {
	return nil, fmt.Errorf("%w: gocv build tag is not enabled", ErrNoCodec)
}

// Supported reports no codec support without OpenCV.
func Supported(f Format) bool {
	return false
}
