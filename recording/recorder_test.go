package recording

import (
	"errors"
	"image"
	"path/filepath"
	"testing"
	"time"
)

type fakeWriter struct {
	frames int
	closes int
	width  int
	height int
	err    error
}

func (w *fakeWriter) Write(image.Image) error {
	if w.err != nil {
		return w.err
	}
	w.frames++
	return nil
}

func (w *fakeWriter) Close() error {
	w.closes++
	return nil
}

func newFakeRecorder(t *testing.T, w *fakeWriter) (*Recorder, *int) {
	t.Helper()
	opens := 0
	start := time.UnixMilli(1700000000000)
	r := New(Options{
		Dir:    t.TempDir(),
		Format: MP4,
		Now:    func() time.Time { return start },
		Open: func(path string, f Format, fps float64, width, height int) (Writer, error) {
			opens++
			w.width, w.height = width, height
			return w, nil
		},
	})
	return r, &opens
}

func TestRecorderPacesFrames(t *testing.T) {
	w := &fakeWriter{}
	r, opens := newFakeRecorder(t, w)
	img := image.NewRGBA(image.Rect(0, 0, 64, 48))

	start := time.Now()
	// 60 Hz input for one second.
	for i := 0; i < 60; i++ {
		at := start.Add(time.Duration(i) * time.Second / 60)
		if err := r.Capture(img, at); err != nil {
			t.Fatalf("Capture() error = %v", err)
		}
	}

	if *opens != 1 {
		t.Errorf("writer opened %d times, want 1", *opens)
	}
	if w.width != 64 || w.height != 48 {
		t.Errorf("writer size = %dx%d, want 64x48", w.width, w.height)
	}
	if w.frames < 29 || w.frames > 31 {
		t.Errorf("wrote %d frames, want about 30", w.frames)
	}
}

func TestRecorderClosesOnce(t *testing.T) {
	w := &fakeWriter{}
	r, _ := newFakeRecorder(t, w)
	if err := r.Capture(image.NewRGBA(image.Rect(0, 0, 2, 2)), time.Now()); err != nil {
		t.Fatalf("Capture() error = %v", err)
	}

	for i := 0; i < 3; i++ {
		if err := r.Close(); err != nil {
			t.Fatalf("Close() error = %v", err)
		}
	}
	if w.closes != 1 {
		t.Errorf("writer closed %d times, want 1", w.closes)
	}
	if !r.Ready() {
		t.Error("Ready() = false after close with frames")
	}
	if err := r.Capture(image.NewRGBA(image.Rect(0, 0, 2, 2)), time.Now()); err == nil {
		t.Error("Capture() after Close succeeded")
	}
}

func TestRecorderNotReadyWithoutFrames(t *testing.T) {
	r, _ := newFakeRecorder(t, &fakeWriter{})
	r.Close()
	if r.Ready() {
		t.Error("Ready() = true for an empty recording")
	}
}

func TestRecorderWriteErrorIsSticky(t *testing.T) {
	boom := errors.New("disk full")
	w := &fakeWriter{err: boom}
	r, _ := newFakeRecorder(t, w)
	img := image.NewRGBA(image.Rect(0, 0, 2, 2))

	if err := r.Capture(img, time.Now()); !errors.Is(err, boom) {
		t.Fatalf("Capture() error = %v, want %v", err, boom)
	}
	w.err = nil
	if err := r.Capture(img, time.Now().Add(time.Second)); !errors.Is(err, boom) {
		t.Errorf("second Capture() error = %v, want sticky %v", err, boom)
	}
}

func TestRecorderPath(t *testing.T) {
	r, _ := newFakeRecorder(t, &fakeWriter{})
	if got := r.Filename(); got != "Damage_Report_1700000000000.mp4" {
		t.Errorf("Filename() = %q", got)
	}
	if filepath.Base(r.Path()) != r.Filename() {
		t.Errorf("Path() = %q does not end in Filename()", r.Path())
	}
}

func TestNegotiate(t *testing.T) {
	tests := []struct {
		name      string
		preferred Format
		supported map[string]bool
		want      Format
		wantErr   bool
	}{
		{"preferred works", MP4, map[string]bool{"mp4": true, "webm": true}, MP4, false},
		{"fallback to webm", MP4, map[string]bool{"webm": true}, WebM, false},
		{"nothing works", MP4, map[string]bool{}, Format{}, true},
		{"webm only", WebM, map[string]bool{"mp4": true}, Format{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Negotiate(tt.preferred, func(f Format) bool { return tt.supported[f.Name] })
			if tt.wantErr {
				if !errors.Is(err, ErrNoCodec) {
					t.Fatalf("Negotiate() error = %v, want ErrNoCodec", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("Negotiate() error = %v", err)
			}
			if got != tt.want {
				t.Errorf("Negotiate() = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFilename(t *testing.T) {
	at := time.UnixMilli(1712345678901)
	if got := Filename("Damage_Report", at, WebM); got != "Damage_Report_1712345678901.webm" {
		t.Errorf("Filename() = %q", got)
	}
}
