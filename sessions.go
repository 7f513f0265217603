package main

import (
	"context"
	"errors"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/Tutortoise/damage-inspection-service/pipeline"
	"github.com/Tutortoise/damage-inspection-service/source"
	"github.com/google/uuid"
)

var errTooManySessions = errors.New("too many active sessions")

const (
	SourceCamera = "camera"
	SourceVideo  = "video"
	SourceFrames = "frames"
)

// Session is one inspection: a frame loop, its UI state and its recording.
type Session struct {
	ID      string
	Kind    string
	Created time.Time
	Sink    *pipeline.StateSink
	Orch    *pipeline.Orchestrator

	mu        sync.Mutex
	facing    source.Facing
	record    bool
	recordErr string
	upload    string
}

func newSession(kind string) *Session {
	return &Session{
		ID:      uuid.NewString(),
		Kind:    kind,
		Created: time.Now(),
		Sink:    pipeline.NewStateSink(),
	}
}

func (s *Session) Facing() source.Facing {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.facing
}

func (s *Session) setFacing(f source.Facing) {
	s.mu.Lock()
	s.facing = f
	s.mu.Unlock()
}

func (s *Session) setRecordErr(err error) {
	s.mu.Lock()
	s.recordErr = pipeline.StatusNoRecording + ": " + err.Error()
	s.mu.Unlock()
}

// cleanup stops the loop, ends any live streams and removes an uploaded
// video.
func (s *Session) cleanup() {
	s.Orch.Stop()
	s.Orch.Frames().Close()
	s.mu.Lock()
	upload := s.upload
	s.upload = ""
	s.mu.Unlock()
	if upload != "" {
		os.Remove(upload)
	}
}

// SessionView is the JSON form of a session.
type SessionView struct {
	ID        string            `json:"id"`
	Source    string            `json:"source"`
	Facing    source.Facing     `json:"facing,omitempty"`
	State     pipeline.State    `json:"state"`
	Stats     pipeline.Stats    `json:"stats"`
	UI        pipeline.Snapshot `json:"ui"`
	Recording *RecordingView    `json:"recording,omitempty"`
	Created   time.Time         `json:"created_at"`
}

type RecordingView struct {
	Ready    bool   `json:"ready"`
	Filename string `json:"filename,omitempty"`
	URL      string `json:"url,omitempty"`
	Error    string `json:"error,omitempty"`
}

func (s *Session) View() SessionView {
	v := SessionView{
		ID:      s.ID,
		Source:  s.Kind,
		State:   s.Orch.State(),
		Stats:   s.Orch.Stats(),
		UI:      s.Sink.Snapshot(),
		Created: s.Created,
	}
	if s.Kind == SourceCamera {
		v.Facing = s.Facing()
	}
	if rec, ok := recorderOf(s.Orch); ok {
		v.Recording = &RecordingView{Ready: rec.Ready()}
		if rec.Ready() {
			v.Recording.Filename = rec.Filename()
			v.Recording.URL = "/sessions/" + s.ID + "/recording"
		}
	} else {
		s.mu.Lock()
		if s.recordErr != "" {
			v.Recording = &RecordingView{Error: s.recordErr}
		}
		s.mu.Unlock()
	}
	return v
}

// SessionRegistry tracks sessions by id. Finished sessions stay around so
// their recording can be downloaded until they are evicted.
type SessionRegistry struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	max      int
}

func NewSessionRegistry(max int) *SessionRegistry {
	if max <= 0 {
		max = 8
	}
	return &SessionRegistry{sessions: make(map[string]*Session), max: max}
}

// Add registers s, evicting the oldest finished session when full.
func (r *SessionRegistry) Add(s *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.sessions) >= r.max {
		var oldest *Session
		for _, cur := range r.sessions {
			if cur.Orch.State() != pipeline.Stopped {
				continue
			}
			if oldest == nil || cur.Created.Before(oldest.Created) {
				oldest = cur
			}
		}
		if oldest == nil {
			return errTooManySessions
		}
		delete(r.sessions, oldest.ID)
		go oldest.cleanup()
	}
	r.sessions[s.ID] = s
	return nil
}

func (r *SessionRegistry) Get(id string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.sessions[id]
	return s, ok
}

// List returns sessions oldest first.
func (r *SessionRegistry) List() []*Session {
	r.mu.RLock()
	out := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		out = append(out, s)
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Created.Before(out[j].Created) })
	return out
}

func (r *SessionRegistry) Remove(id string) {
	r.mu.Lock()
	s, ok := r.sessions[id]
	delete(r.sessions, id)
	r.mu.Unlock()
	if ok {
		s.cleanup()
	}
}

// StopAll stops every session, finalizing their recordings.
func (r *SessionRegistry) StopAll(ctx context.Context) {
	var wg sync.WaitGroup
	for _, s := range r.List() {
		wg.Add(1)
		go func(s *Session) {
			defer wg.Done()
			s.cleanup()
		}(s)
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
	}
}
