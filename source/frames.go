package source

import (
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/disintegration/imaging"
)

var frameExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".tif":  true,
	".tiff": true,
}

// Frames plays a directory of still images in name order.
type Frames struct {
	pauser

	mu    sync.Mutex
	paths []string
	next  int
}

func OpenFrames(dir string) (*Frames, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("read frame directory: %w", err)
	}

	var paths []string
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if frameExtensions[strings.ToLower(filepath.Ext(e.Name()))] {
			paths = append(paths, filepath.Join(dir, e.Name()))
		}
	}
	if len(paths) == 0 {
		return nil, fmt.Errorf("no frames found in %s", dir)
	}
	sort.Strings(paths)

	return &Frames{paths: paths}, nil
}

func (f *Frames) Next(ctx context.Context) (image.Image, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	f.mu.Lock()
	if f.next >= len(f.paths) {
		f.mu.Unlock()
		return nil, io.EOF
	}
	path := f.paths[f.next]
	f.next++
	f.mu.Unlock()

	img, err := imaging.Open(path)
	if err != nil {
		return nil, fmt.Errorf("decode frame %s: %w", filepath.Base(path), err)
	}
	return img, nil
}

func (f *Frames) Len() int {
	return len(f.paths)
}

func (f *Frames) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next = len(f.paths)
	return nil
}
