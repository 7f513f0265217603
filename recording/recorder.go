package recording

import (
	"fmt"
	"image"
	"path/filepath"
	"sync"
	"time"
)

const (
	DefaultFPS    = 30
	DefaultPrefix = "Damage_Report"
)

// Writer encodes frames into a container file.
type Writer interface {
	Write(img image.Image) error
	Close() error
}

// Opener creates a Writer for path. Recorders open lazily on the first frame
// because the size is only known then.
type Opener func(path string, f Format, fps float64, width, height int) (Writer, error)

type Options struct {
	Dir    string
	Prefix string
	Format Format
	FPS    float64
	Open   Opener
	Now    func() time.Time
}

// Recorder captures the overlay canvas at a fixed frame rate. It has a single
// writer, the frame loop, and is finalized exactly once.
type Recorder struct {
	opts     Options
	interval time.Duration
	path     string

	mu       sync.Mutex
	w        Writer
	last     time.Time
	frames   int
	err      error
	closed   bool
	once     sync.Once
	closeErr error
}

func New(opts Options) *Recorder {
	if opts.FPS <= 0 {
		opts.FPS = DefaultFPS
	}
	if opts.Prefix == "" {
		opts.Prefix = DefaultPrefix
	}
	if opts.Open == nil {
		opts.Open = Open
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Recorder{
		opts:     opts,
		interval: time.Duration(float64(time.Second) / opts.FPS),
		path:     filepath.Join(opts.Dir, Filename(opts.Prefix, opts.Now(), opts.Format)),
	}
}

// Capture writes img when at least one frame interval has passed since the
// last written frame. Later frames inside the interval are dropped.
func (r *Recorder) Capture(img image.Image, at time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return fmt.Errorf("recorder closed")
	}
	if r.err != nil {
		return r.err
	}
	if r.frames > 0 && at.Sub(r.last) < r.interval {
		return nil
	}

	if r.w == nil {
		b := img.Bounds()
		w, err := r.opts.Open(r.path, r.opts.Format, r.opts.FPS, b.Dx(), b.Dy())
		if err != nil {
			r.err = fmt.Errorf("open recording %s: %w", r.path, err)
			return r.err
		}
		r.w = w
	}

	if err := r.w.Write(img); err != nil {
		r.err = fmt.Errorf("write recording frame: %w", err)
		return r.err
	}
	r.last = at
	r.frames++
	return nil
}

// Close flushes and closes the container. Only the first call does work.
func (r *Recorder) Close() error {
	r.once.Do(func() {
		r.mu.Lock()
		defer r.mu.Unlock()
		r.closed = true
		if r.w != nil {
			r.closeErr = r.w.Close()
		}
	})
	return r.closeErr
}

func (r *Recorder) Path() string {
	return r.path
}

// Filename is the base name offered for download.
func (r *Recorder) Filename() string {
	return filepath.Base(r.path)
}

func (r *Recorder) Format() Format {
	return r.opts.Format
}

func (r *Recorder) FPS() float64 {
	return r.opts.FPS
}

func (r *Recorder) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Ready reports whether a finalized file with at least one frame exists.
func (r *Recorder) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closed && r.frames > 0 && r.closeErr == nil
}
