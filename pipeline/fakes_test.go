package pipeline

import (
	"context"
	"errors"
	"image"
	"image/color"
	"io"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Tutortoise/damage-inspection-service/detections"
	"github.com/Tutortoise/damage-inspection-service/models"
	"github.com/Tutortoise/damage-inspection-service/render"
	"github.com/disintegration/imaging"
)

const testAnchors = 8400

type prediction struct {
	index int
	box   models.Box
	score float32
}

func tensorOf(preds ...prediction) detections.Tensor {
	n := testAnchors
	data := make([]float32, 5*n)
	for _, p := range preds {
		data[p.index] = p.box.X
		data[n+p.index] = p.box.Y
		data[2*n+p.index] = p.box.W
		data[3*n+p.index] = p.box.H
		data[4*n+p.index] = p.score
	}
	return detections.NewTensor(data, n)
}

// fakeModel hands out the same tensor for every call.
type fakeModel struct {
	tensor detections.Tensor
	err    error
	delay  time.Duration

	calls    atomic.Int64
	active   atomic.Int64
	maxSeen  atomic.Int64
	inputLen atomic.Int64
}

func (m *fakeModel) Infer(ctx context.Context, input []float32, fn func(detections.Tensor) error) error {
	m.calls.Add(1)
	m.inputLen.Store(int64(len(input)))

	cur := m.active.Add(1)
	defer m.active.Add(-1)
	for {
		prev := m.maxSeen.Load()
		if cur <= prev || m.maxSeen.CompareAndSwap(prev, cur) {
			break
		}
	}

	if m.delay > 0 {
		select {
		case <-time.After(m.delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	if m.err != nil {
		return m.err
	}
	return fn(m.tensor)
}

// sealedSource forwards a fakeSource without exposing Pause.
type sealedSource struct {
	src *fakeSource
}

func (s sealedSource) Next(ctx context.Context) (image.Image, error) { return s.src.Next(ctx) }
func (s sealedSource) Paused() bool                                  { return s.src.Paused() }
func (s sealedSource) Close() error                                  { return s.src.Close() }

// fakeSource yields n gray frames, or frames forever when n is negative.
type fakeSource struct {
	mu     sync.Mutex
	n      int
	served int
	closes int
	paused atomic.Bool
	err    error
}

func (s *fakeSource) Next(ctx context.Context) (image.Image, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	if s.n >= 0 && s.served >= s.n {
		return nil, io.EOF
	}
	s.served++
	return imaging.New(64, 48, color.NRGBA{R: 90, G: 90, B: 90, A: 255}), nil
}

func (s *fakeSource) Pause() {
	s.paused.Store(true)
}

func (s *fakeSource) Paused() bool {
	return s.paused.Load()
}

func (s *fakeSource) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	return nil
}

func (s *fakeSource) Closes() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closes
}

type fakeRecorder struct {
	mu       sync.Mutex
	captured int
	closes   int
	sizes    []image.Rectangle
	err      error
}

func (r *fakeRecorder) Capture(img image.Image, _ time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.captured++
	r.sizes = append(r.sizes, img.Bounds())
	return nil
}

func (r *fakeRecorder) recordedSizes() []image.Rectangle {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]image.Rectangle(nil), r.sizes...)
}

func (r *fakeRecorder) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closes++
	return nil
}

func (r *fakeRecorder) Ready() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.closes > 0 && r.captured > 0
}

func (r *fakeRecorder) counts() (int, int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.captured, r.closes
}

var errInference = errors.New("inference exploded")

// flakyProcessor fails its first call and delegates afterwards.
type flakyProcessor struct {
	next  Processor
	calls atomic.Int64
}

func (p *flakyProcessor) Process(ctx context.Context, frame image.Image, canvas *render.Canvas) (models.FrameReport, error) {
	if p.calls.Add(1) == 1 {
		return models.FrameReport{}, errInference
	}
	return p.next.Process(ctx, frame, canvas)
}
