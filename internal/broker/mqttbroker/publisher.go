// Package mqttbroker publishes replayed data to an MQTT broker as msgpack
// payloads.
package mqttbroker

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

// ErrNotConnected is returned while the MQTT client is disconnected.
var ErrNotConnected = errors.New("mqttbroker: not connected")

// Transport is the subset of mqtt.Client used for publishing.
type Transport interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// Topics are the destination topics per payload kind.
type Topics struct {
	Capture string
	Sensor  string
	Input   string
}

// Options configures a Publisher.
type Options struct {
	Topics Topics
	QoS    byte
	// IncludeImages publishes image bytes with each capture. Off by default;
	// frames are usually large.
	IncludeImages bool
}

// Publisher is a broker.Broker over MQTT. Publishes are fire-and-forget:
// tokens are not waited on, but errors already known are reported.
type Publisher struct {
	transport Transport
	opts      Options

	mu        sync.RWMutex
	published map[string]uint64
	errors    uint64
}

var _ broker.Broker = (*Publisher)(nil)

// New creates a Publisher.
func New(t Transport, opts Options) *Publisher {
	return &Publisher{
		transport: t,
		opts:      opts,
		published: make(map[string]uint64),
	}
}

func (p *Publisher) SetCapture(c broker.Capture) error {
	msg := captureMessage{
		ID:           c.ID,
		SessionID:    c.SessionID,
		TraceID:      c.TraceID,
		TimestampUs:  c.TimestampUs,
		HasTimestamp: c.HasTimestamp,
		ImageBytes:   len(c.Image),
	}
	if p.opts.IncludeImages {
		msg.Image = c.Image
	}
	return p.publish(p.opts.Topics.Capture, &msg)
}

func (p *Publisher) SetSensorSample(s media.SensorSample) error {
	return p.publish(p.opts.Topics.Sensor, &sampleMessage{
		TimestampUs: s.TimestampUs,
		Kind:        s.Kind,
		Values:      s.Values,
	})
}

func (p *Publisher) SetInputEvent(e eventlog.InputEvent) error {
	msg, err := encodeEvent(e)
	if err != nil {
		p.countError()
		return err
	}
	return p.publish(p.opts.Topics.Input, &msg)
}

func (p *Publisher) publish(topic string, v interface{}) error {
	if topic == "" {
		return nil
	}
	if !p.transport.IsConnected() {
		p.countError()
		return ErrNotConnected
	}

	payload, err := msgpack.Marshal(v)
	if err != nil {
		p.countError()
		return fmt.Errorf("mqttbroker: encode %s: %w", topic, err)
	}

	token := p.transport.Publish(topic, p.opts.QoS, false, payload)
	select {
	case <-token.Done():
		if err := token.Error(); err != nil {
			p.countError()
			return fmt.Errorf("mqttbroker: publish %s: %w", topic, err)
		}
	default:
	}

	p.mu.Lock()
	p.published[topic]++
	p.mu.Unlock()

	slog.Debug("mqttbroker: published", "topic", topic, "size", len(payload))
	return nil
}

func (p *Publisher) countError() {
	p.mu.Lock()
	p.errors++
	p.mu.Unlock()
}

// Stats contains publisher statistics.
type Stats struct {
	Connected bool
	Published map[string]uint64
	Errors    uint64
}

func (p *Publisher) Stats() Stats {
	p.mu.RLock()
	defer p.mu.RUnlock()

	published := make(map[string]uint64, len(p.published))
	for k, v := range p.published {
		published[k] = v
	}
	return Stats{
		Connected: p.transport.IsConnected(),
		Published: published,
		Errors:    p.errors,
	}
}
