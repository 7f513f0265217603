// Package emitter publishes blueprint UI events to an MQTT broker.
package emitter

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/sirupsen/logrus"
	"github.com/vmihailenco/msgpack/v5"
)

const (
	CodecJSON    = "json"
	CodecMsgpack = "msgpack"
)

type Config struct {
	Broker      string
	ClientID    string
	TopicPrefix string
	Codec       string
	QoS         byte
}

// publisher is the part of mqtt.Client the emitter needs.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes encoded events. It is safe for concurrent use.
type MQTT struct {
	cfg    Config
	client mqtt.Client
	pub    publisher
	encode func(v interface{}) ([]byte, error)
	log    logrus.FieldLogger

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
	connected bool
}

func New(cfg Config, log logrus.FieldLogger) (*MQTT, error) {
	encode, err := encoder(cfg.Codec)
	if err != nil {
		return nil, err
	}
	if cfg.TopicPrefix == "" {
		cfg.TopicPrefix = "inspection"
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MQTT{
		cfg:       cfg,
		encode:    encode,
		log:       log.WithField("component", "mqtt"),
		published: make(map[string]uint64),
	}, nil
}

func encoder(codec string) (func(v interface{}) ([]byte, error), error) {
	switch strings.ToLower(codec) {
	case "", CodecJSON:
		return json.Marshal, nil
	case CodecMsgpack:
		return msgpack.Marshal, nil
	}
	return nil, fmt.Errorf("unknown mqtt codec %q", codec)
}

// Connect dials the broker. The client reconnects on its own afterwards.
func (e *MQTT) Connect(ctx context.Context) error {
	broker := e.cfg.Broker
	if !strings.Contains(broker, "://") {
		broker = "tcp://" + broker
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(broker)
	opts.SetClientID(e.cfg.ClientID)
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(2 * time.Second)
	opts.SetMaxReconnectInterval(30 * time.Second)

	opts.OnConnect = func(mqtt.Client) {
		e.setConnected(true)
		e.log.WithField("broker", broker).Info("mqtt connection established")
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		e.setConnected(false)
		e.log.WithError(err).Warn("mqtt connection lost, will auto-reconnect")
	}

	e.client = mqtt.NewClient(opts)
	e.pub = e.client

	e.log.WithField("broker", broker).Info("connecting to mqtt broker")

	token := e.client.Connect()
	select {
	case <-token.Done():
	case <-time.After(5 * time.Second):
		return fmt.Errorf("mqtt connection timeout")
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connection failed: %w", err)
	}

	e.setConnected(true)
	return nil
}

// Publish encodes v with the configured codec and sends it to topic.
func (e *MQTT) Publish(topic string, v interface{}) error {
	if !e.isConnected() {
		e.countError()
		return fmt.Errorf("mqtt not connected")
	}

	payload, err := e.encode(v)
	if err != nil {
		e.countError()
		return fmt.Errorf("failed to encode event: %w", err)
	}

	token := e.pub.Publish(topic, e.cfg.QoS, false, payload)
	if !token.WaitTimeout(2 * time.Second) {
		e.countError()
		return fmt.Errorf("publish timeout")
	}
	if err := token.Error(); err != nil {
		e.countError()
		return fmt.Errorf("publish failed: %w", err)
	}

	e.mu.Lock()
	e.published[topic]++
	e.mu.Unlock()

	e.log.WithField("topic", topic).WithField("size", len(payload)).Debug("event published")
	return nil
}

// Topic is where events for one session go.
func (e *MQTT) Topic(session string) string {
	return fmt.Sprintf("%s/%s/blueprint", e.cfg.TopicPrefix, session)
}

func (e *MQTT) Disconnect() {
	if e.client != nil && e.client.IsConnected() {
		e.client.Disconnect(250)
		e.log.Info("mqtt disconnected")
	}
	e.setConnected(false)
}

type Stats struct {
	Connected bool              `json:"connected"`
	Published map[string]uint64 `json:"published"`
	Errors    uint64            `json:"errors"`
}

func (e *MQTT) Stats() Stats {
	e.mu.RLock()
	defer e.mu.RUnlock()

	published := make(map[string]uint64, len(e.published))
	for k, v := range e.published {
		published[k] = v
	}
	return Stats{Connected: e.connected, Published: published, Errors: e.errors}
}

func (e *MQTT) setConnected(v bool) {
	e.mu.Lock()
	e.connected = v
	e.mu.Unlock()
}

func (e *MQTT) isConnected() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.connected
}

func (e *MQTT) countError() {
	e.mu.Lock()
	e.errors++
	e.mu.Unlock()
}
