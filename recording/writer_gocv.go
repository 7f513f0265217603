//go:build gocv
// +build gocv

package recording

import (
	"fmt"
	"image"
	"os"
	"path/filepath"

	"gocv.io/x/gocv"
)

type videoWriter struct {
	vw *gocv.VideoWriter
}

// Open starts an OpenCV video writer for f.
func Open(path string, f Format, fps float64, width, height int) (Writer, error) {
	vw, err := gocv.VideoWriterFile(path, f.FourCC, fps, width, height, true)
	if err != nil {
		return nil, err
	}
	if !vw.IsOpened() {
		vw.Close()
		return nil, fmt.Errorf("%w: %s (%s)", ErrNoCodec, f.Name, f.FourCC)
	}
	return &videoWriter{vw: vw}, nil
}

func (w *videoWriter) Write(img image.Image) error {
	mat, err := gocv.ImageToMatRGB(img)
	if err != nil {
		return err
	}
	defer mat.Close()
	return w.vw.Write(mat)
}

func (w *videoWriter) Close() error {
	return w.vw.Close()
}

// Supported opens a tiny throwaway file to check whether OpenCV can encode f.
func Supported(f Format) bool {
	dir, err := os.MkdirTemp("", "codec-check")
	if err != nil {
		return false
	}
	defer os.RemoveAll(dir)

	w, err := Open(filepath.Join(dir, "check"+f.Ext), f, DefaultFPS, 16, 16)
	if err != nil {
		return false
	}
	w.Close()
	return true
}
