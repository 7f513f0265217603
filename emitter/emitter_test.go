package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/Tutortoise/damage-inspection-service/models"
)

type fakeToken struct {
	err error
}

func (t *fakeToken) Wait() bool                     { return true }
func (t *fakeToken) WaitTimeout(time.Duration) bool { return true }
func (t *fakeToken) Error() error                   { return t.err }
func (t *fakeToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

type message struct {
	topic   string
	qos     byte
	payload []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []message
	err  error
}

func (p *fakePublisher) Publish(topic string, qos byte, _ bool, payload interface{}) mqtt.Token {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.msgs = append(p.msgs, message{topic: topic, qos: qos, payload: payload.([]byte)})
	return &fakeToken{err: p.err}
}

func (p *fakePublisher) sent() []message {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]message(nil), p.msgs...)
}

func newConnected(t *testing.T, codec string) (*MQTT, *fakePublisher) {
	t.Helper()
	log, _ := test.NewNullLogger()
	e, err := New(Config{Broker: "localhost:1883", Codec: codec, QoS: 1}, log)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	pub := &fakePublisher{}
	e.pub = pub
	e.setConnected(true)
	return e, pub
}

func TestNewRejectsUnknownCodec(t *testing.T) {
	if _, err := New(Config{Codec: "protobuf"}, logrus.New()); err == nil {
		t.Error("New() accepted an unknown codec")
	}
}

func TestTopic(t *testing.T) {
	e, _ := newConnected(t, "")
	if got := e.Topic("abc"); got != "inspection/abc/blueprint" {
		t.Errorf("Topic() = %q", got)
	}
}

func TestPublishRequiresConnection(t *testing.T) {
	e, pub := newConnected(t, CodecJSON)
	e.setConnected(false)

	if err := e.Publish("t", Event{}); err == nil {
		t.Fatal("Publish() succeeded while disconnected")
	}
	if len(pub.sent()) != 0 {
		t.Error("message sent while disconnected")
	}
	if got := e.Stats().Errors; got != 1 {
		t.Errorf("Errors = %d, want 1", got)
	}
}

func TestPublishCountsBrokerErrors(t *testing.T) {
	e, pub := newConnected(t, CodecJSON)
	pub.err = errors.New("not authorized")

	if err := e.Publish("t", Event{}); err == nil {
		t.Fatal("Publish() succeeded on a failed token")
	}
	stats := e.Stats()
	if stats.Errors != 1 || stats.Published["t"] != 0 {
		t.Errorf("Stats() = %+v", stats)
	}
}

func TestSessionSinkPublishesChangesOnly(t *testing.T) {
	e, pub := newConnected(t, CodecJSON)
	sink := e.Session("s1")
	sink.now = func() time.Time { return time.UnixMilli(1700000000000) }

	sink.Status("AI ENGINE ACTIVE")
	sink.Status("AI ENGINE ACTIVE")
	sink.Highlight(models.PanelSet{models.Hood})
	sink.Highlight(models.PanelSet{models.Hood})
	sink.Summary(1, "ALERTS: 1 PANELS IMPACTED")
	sink.Alert(true)
	sink.Alert(true)

	msgs := pub.sent()
	if len(msgs) != 4 {
		t.Fatalf("published %d events, want 4", len(msgs))
	}
	if msgs[0].topic != "inspection/s1/blueprint" || msgs[0].qos != 1 {
		t.Errorf("message = %+v", msgs[0])
	}

	var last map[string]interface{}
	if err := json.Unmarshal(msgs[3].payload, &last); err != nil {
		t.Fatalf("payload is not json: %v", err)
	}
	if last["panel_count"] != float64(1) || last["alert"] != true || last["session"] != "s1" {
		t.Errorf("last event = %v", last)
	}
	if last["at"] != float64(1700000000000) {
		t.Errorf("at = %v", last["at"])
	}
	if got := e.Stats().Published["inspection/s1/blueprint"]; got != 4 {
		t.Errorf("Published = %d, want 4", got)
	}
}

func TestSessionSinkMsgpack(t *testing.T) {
	e, pub := newConnected(t, CodecMsgpack)
	sink := e.Session("s2")

	sink.Highlight(models.PanelSet{models.Trunk, models.RearBumper})

	msgs := pub.sent()
	if len(msgs) != 1 {
		t.Fatalf("published %d events, want 1", len(msgs))
	}
	var ev Event
	if err := msgpack.Unmarshal(msgs[0].payload, &ev); err != nil {
		t.Fatalf("payload is not msgpack: %v", err)
	}
	if ev.Session != "s2" || len(ev.Panels) != 2 || ev.Panels[0] != "trunk" {
		t.Errorf("event = %+v", ev)
	}
}

func TestSessionSinkSurvivesDisconnect(t *testing.T) {
	e, pub := newConnected(t, CodecJSON)
	e.setConnected(false)
	sink := e.Session("s3")

	sink.Status("SCAN STOPPED")

	if len(pub.sent()) != 0 {
		t.Error("event sent while disconnected")
	}
}
