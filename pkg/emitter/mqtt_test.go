package emitter

import (
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/teslashibe/go-camhost/pkg/marker"
)

type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Error() error                   { return t.err }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}

// fakeClient implements the parts of mqtt.Client the emitter uses.
type fakeClient struct {
	mqtt.Client

	mu        sync.Mutex
	connected bool
	topics    []string
	payloads  [][]byte
	err       error
}

func (c *fakeClient) IsConnected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

func (c *fakeClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
	c.payloads = append(c.payloads, payload.([]byte))
	return &doneToken{err: c.err}
}

func (c *fakeClient) Disconnect(quiesce uint) {
	c.mu.Lock()
	c.connected = false
	c.mu.Unlock()
}

func (c *fakeClient) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.payloads)
}

func waitFor(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatal("condition not met in time")
}

func TestTopic(t *testing.T) {
	tests := []struct {
		prefix string
		camera string
		want   string
	}{
		{"camhost", "left_hand_camera", "camhost/left_hand_camera/markers"},
		{"robot/", "head_camera", "robot/head_camera/markers"},
		{"", "head_camera", "camhost/head_camera/markers"},
	}

	for _, tt := range tests {
		e := newEmitter(Config{Topic: tt.prefix, Camera: tt.camera}, &fakeClient{}, nil)
		if got := e.Topic(); got != tt.want {
			t.Errorf("Topic() = %q, want %q", got, tt.want)
		}
	}
}

func TestBrokerURL(t *testing.T) {
	if got := brokerURL("localhost:1883"); got != "tcp://localhost:1883" {
		t.Errorf("brokerURL = %q", got)
	}
	if got := brokerURL("ssl://broker:8883"); got != "ssl://broker:8883" {
		t.Errorf("brokerURL = %q", got)
	}
}

func TestPublishDetection(t *testing.T) {
	client := &fakeClient{connected: true}
	e := newEmitter(Config{Topic: "camhost", Camera: "head_camera", QoS: 1}, client, nil)
	e.Start()
	defer e.Close()

	det := marker.Detection{
		IDs:   []int{7},
		Rvecs: [][3]float64{{0, 3.14, 0}},
		Tvecs: [][3]float64{{0, 0, 0.5}},
		Size:  0.06,
	}
	e.PublishDetection(det)

	waitFor(t, func() bool { return client.count() == 1 })

	client.mu.Lock()
	topic, payload := client.topics[0], client.payloads[0]
	client.mu.Unlock()

	if topic != "camhost/head_camera/markers" {
		t.Errorf("topic = %q", topic)
	}

	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		t.Fatalf("payload is not JSON: %v", err)
	}
	if ev.Camera != "head_camera" || len(ev.Detection.IDs) != 1 || ev.Detection.IDs[0] != 7 {
		t.Errorf("event = %+v", ev)
	}

	waitFor(t, func() bool { return e.GetStats().Published == 1 })
}

func TestPublishErrors(t *testing.T) {
	client := &fakeClient{connected: false}
	e := newEmitter(Config{Camera: "c"}, client, nil)
	e.Start()
	defer e.Close()

	e.PublishDetection(marker.Detection{})
	waitFor(t, func() bool { return e.GetStats().Errors == 1 })

	client.mu.Lock()
	client.connected = true
	client.err = errors.New("broker rejected")
	client.mu.Unlock()

	e.PublishDetection(marker.Detection{})
	waitFor(t, func() bool { return e.GetStats().Errors == 2 })
	if e.GetStats().Published != 0 {
		t.Error("failed publishes must not be counted")
	}
}

func TestPublishDropsWhenFull(t *testing.T) {
	e := newEmitter(Config{Camera: "c"}, &fakeClient{connected: true}, nil)

	// Worker not started: the queue fills up.
	for i := 0; i < queueSize+5; i++ {
		e.PublishDetection(marker.Detection{})
	}
	if got := e.GetStats().Dropped; got != 5 {
		t.Errorf("Dropped = %d, want 5", got)
	}
	e.Close()
}
