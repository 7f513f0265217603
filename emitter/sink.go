package emitter

import (
	"sync"
	"time"

	"github.com/Tutortoise/damage-inspection-service/models"
)

// Event is the blueprint state of one session as published to the broker.
type Event struct {
	Session string   `json:"session" msgpack:"session"`
	Status  string   `json:"status" msgpack:"status"`
	Panels  []string `json:"panels" msgpack:"panels"`
	Count   int      `json:"panel_count" msgpack:"panel_count"`
	Summary string   `json:"summary" msgpack:"summary"`
	Alert   bool     `json:"alert" msgpack:"alert"`
	At      int64    `json:"at" msgpack:"at"`
}

// SessionSink publishes a session's UI state whenever it changes. The frame
// loop calls it every frame; unchanged state is not republished.
type SessionSink struct {
	e     *MQTT
	topic string
	now   func() time.Time

	mu   sync.Mutex
	last Event
	sent bool
}

func (e *MQTT) Session(id string) *SessionSink {
	return &SessionSink{
		e:     e,
		topic: e.Topic(id),
		now:   time.Now,
		last:  Event{Session: id, Panels: []string{}},
	}
}

func (s *SessionSink) Status(text string) {
	s.update(func(ev *Event) { ev.Status = text })
}

func (s *SessionSink) Highlight(panels models.PanelSet) {
	names := panels.Strings()
	s.update(func(ev *Event) { ev.Panels = names })
}

func (s *SessionSink) Summary(count int, text string) {
	s.update(func(ev *Event) {
		ev.Count = count
		ev.Summary = text
	})
}

func (s *SessionSink) Alert(visible bool) {
	s.update(func(ev *Event) { ev.Alert = visible })
}

func (s *SessionSink) update(fn func(*Event)) {
	s.mu.Lock()
	next := s.last
	next.Panels = append([]string{}, s.last.Panels...)
	fn(&next)
	if s.sent && equalEvent(next, s.last) {
		s.mu.Unlock()
		return
	}
	next.At = s.now().UnixMilli()
	s.last = next
	s.sent = true
	s.mu.Unlock()

	if err := s.e.Publish(s.topic, next); err != nil {
		s.e.log.WithError(err).WithField("topic", s.topic).Debug("dropping blueprint event")
	}
}

func equalEvent(a, b Event) bool {
	if a.Status != b.Status || a.Count != b.Count || a.Summary != b.Summary || a.Alert != b.Alert {
		return false
	}
	if len(a.Panels) != len(b.Panels) {
		return false
	}
	for i := range a.Panels {
		if a.Panels[i] != b.Panels[i] {
			return false
		}
	}
	return true
}
