package pipeline

import (
	"context"
	"image"
	"io"
	"sync"
)

// FrameSlot holds the latest rendered overlay. Publish overwrites whatever is
// there; slow readers skip straight to the newest frame.
type FrameSlot struct {
	mu     sync.Mutex
	frame  *image.RGBA
	seq    uint64
	notify chan struct{}
	closed bool
}

func NewFrameSlot() *FrameSlot {
	return &FrameSlot{notify: make(chan struct{})}
}

// Publish stores img. The caller must not modify img afterwards.
func (s *FrameSlot) Publish(img *image.RGBA) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.frame = img
	s.seq++
	close(s.notify)
	s.notify = make(chan struct{})
}

// Latest returns the newest frame and its sequence number, or nil before the
// first Publish.
func (s *FrameSlot) Latest() (*image.RGBA, uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.frame, s.seq
}

// Wait blocks until a frame newer than after is published. It returns io.EOF
// once the slot is closed and has nothing newer.
func (s *FrameSlot) Wait(ctx context.Context, after uint64) (*image.RGBA, uint64, error) {
	for {
		s.mu.Lock()
		if s.seq > after && s.frame != nil {
			frame, seq := s.frame, s.seq
			s.mu.Unlock()
			return frame, seq, nil
		}
		if s.closed {
			s.mu.Unlock()
			return nil, 0, io.EOF
		}
		ch := s.notify
		s.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return nil, 0, ctx.Err()
		}
	}
}

func (s *FrameSlot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return
	}
	s.closed = true
	close(s.notify)
}
