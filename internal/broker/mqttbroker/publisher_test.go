package mqttbroker

import (
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/broker"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/eventlog"
	"github.com/e7canasta/orion-care-sensor/modules/replay/internal/media"
)

type doneToken struct {
	err  error
	done chan struct{}
}

func newToken(err error) *doneToken {
	t := &doneToken{err: err, done: make(chan struct{})}
	close(t.done)
	return t
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{}          { return t.done }
func (t *doneToken) Error() error                   { return t.err }

type message struct {
	topic   string
	payload []byte
}

type fakeTransport struct {
	mu        sync.Mutex
	connected bool
	err       error
	sent      []message
}

func (f *fakeTransport) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, message{topic: topic, payload: payload.([]byte)})
	return newToken(f.err)
}

func (f *fakeTransport) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func testOptions() Options {
	return Options{Topics: Topics{Capture: "replay/cap", Sensor: "replay/sensor", Input: "replay/input"}}
}

func TestPublishCaptureAndEvents(t *testing.T) {
	tr := &fakeTransport{connected: true}
	p := New(tr, testOptions())

	if err := p.SetCapture(broker.Capture{ID: 3, SessionID: "s1", TimestampUs: 33_000, HasTimestamp: true, Image: []byte{1, 2, 3}}); err != nil {
		t.Fatalf("SetCapture() failed: %v", err)
	}
	if err := p.SetSensorSample(media.SensorSample{TimestampUs: 33_000, Kind: "imu", Values: []float64{1}}); err != nil {
		t.Fatalf("SetSensorSample() failed: %v", err)
	}
	events := []eventlog.InputEvent{
		{Timestamp: 10, MediaUs: 10, Payload: eventlog.Keyboard{Key: 65, Down: true}},
		{Timestamp: 11, MediaUs: 11, Payload: eventlog.Mouse{X: 5, Y: 6, Button: eventlog.ButtonLeft, Action: eventlog.ActionDown}},
	}
	for _, e := range events {
		if err := p.SetInputEvent(e); err != nil {
			t.Fatalf("SetInputEvent() failed: %v", err)
		}
	}

	if len(tr.sent) != 4 {
		t.Fatalf("expected 4 publishes, got %d", len(tr.sent))
	}

	var cm captureMessage
	if err := msgpack.Unmarshal(tr.sent[0].payload, &cm); err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if cm.ID != 3 || cm.TimestampUs != 33_000 || cm.ImageBytes != 3 || cm.Image != nil {
		t.Errorf("unexpected capture message: %+v", cm)
	}

	var em eventMessage
	if err := msgpack.Unmarshal(tr.sent[3].payload, &em); err != nil {
		t.Fatalf("decode event: %v", err)
	}
	if em.Kind != "mouse" || em.Button != "left" || em.Action != "down" || em.X != 5 {
		t.Errorf("unexpected event message: %+v", em)
	}
	if tr.sent[2].topic != "replay/input" {
		t.Errorf("event topic = %q", tr.sent[2].topic)
	}

	st := p.Stats()
	if st.Published["replay/input"] != 2 || st.Errors != 0 {
		t.Errorf("unexpected stats: %+v", st)
	}
}

func TestIncludeImages(t *testing.T) {
	tr := &fakeTransport{connected: true}
	opts := testOptions()
	opts.IncludeImages = true
	p := New(tr, opts)

	if err := p.SetCapture(broker.Capture{ID: 1, Image: []byte{9, 9}}); err != nil {
		t.Fatalf("SetCapture() failed: %v", err)
	}
	var cm captureMessage
	if err := msgpack.Unmarshal(tr.sent[0].payload, &cm); err != nil {
		t.Fatalf("decode capture: %v", err)
	}
	if len(cm.Image) != 2 {
		t.Errorf("image not included: %+v", cm)
	}
}

func TestPublishErrors(t *testing.T) {
	t.Run("disconnected", func(t *testing.T) {
		p := New(&fakeTransport{connected: false}, testOptions())
		if err := p.SetCapture(broker.Capture{}); !errors.Is(err, ErrNotConnected) {
			t.Fatalf("expected ErrNotConnected, got %v", err)
		}
		if p.Stats().Errors != 1 {
			t.Errorf("Errors = %d, want 1", p.Stats().Errors)
		}
	})

	t.Run("token error", func(t *testing.T) {
		boom := errors.New("boom")
		p := New(&fakeTransport{connected: true, err: boom}, testOptions())
		if err := p.SetSensorSample(media.SensorSample{}); !errors.Is(err, boom) {
			t.Fatalf("expected token error, got %v", err)
		}
	})

	t.Run("unknown payload", func(t *testing.T) {
		p := New(&fakeTransport{connected: true}, testOptions())
		if err := p.SetInputEvent(eventlog.InputEvent{}); err == nil {
			t.Fatal("expected error for nil payload")
		}
	})

	t.Run("empty topic is skipped", func(t *testing.T) {
		tr := &fakeTransport{connected: false}
		p := New(tr, Options{})
		if err := p.SetCapture(broker.Capture{}); err != nil {
			t.Fatalf("SetCapture() with no topic failed: %v", err)
		}
		if len(tr.sent) != 0 {
			t.Errorf("published to empty topic")
		}
	})
}
