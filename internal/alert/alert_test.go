package alert

import (
	"encoding/json"
	"log/slog"
	"os"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stratoml/sentinel/internal/config"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
}

// doneToken is an mqtt.Token that completed immediately.
type doneToken struct {
	err error
}

func (t *doneToken) Wait() bool                     { return true }
func (t *doneToken) WaitTimeout(time.Duration) bool { return true }
func (t *doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t *doneToken) Error() error { return t.err }

// fakeClient records published payloads.
type fakeClient struct {
	connected bool
	published []struct {
		topic   string
		payload []byte
	}
}

func (f *fakeClient) Connect() mqtt.Token {
	f.connected = true
	return &doneToken{}
}

func (f *fakeClient) Disconnect(uint) { f.connected = false }

func (f *fakeClient) Publish(topic string, _ byte, _ bool, payload interface{}) mqtt.Token {
	f.published = append(f.published, struct {
		topic   string
		payload []byte
	}{topic, payload.([]byte)})
	return &doneToken{}
}

func (f *fakeClient) IsConnected() bool { return f.connected }

func mqttConfig(enabled bool) config.MQTTConfig {
	return config.MQTTConfig{
		Enabled:  enabled,
		Broker:   "tcp://localhost:1883",
		Topic:    "sentinel/alerts",
		ClientID: "sentinel-test",
	}
}

func TestSendDisabledIsLogOnly(t *testing.T) {
	p := NewPublisher(mqttConfig(false), testLogger())
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := p.Send(Message{Priority: "normal", Subject: "test"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
}

func TestSendPublishesToTopic(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisherWithClient(mqttConfig(true), testLogger(), func(*mqtt.ClientOptions) MQTTClient {
		return client
	})
	if err := p.Connect(); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	defer p.Close()

	msg := Message{Priority: "high", Subject: "degradation", Body: "f1_score below threshold"}
	if err := p.Send(msg); err != nil {
		t.Fatalf("Send: %v", err)
	}

	if len(client.published) != 1 {
		t.Fatalf("published %d messages", len(client.published))
	}
	if client.published[0].topic != "sentinel/alerts" {
		t.Fatalf("topic = %s", client.published[0].topic)
	}

	var got Message
	if err := json.Unmarshal(client.published[0].payload, &got); err != nil {
		t.Fatalf("unmarshal payload: %v", err)
	}
	if got.Subject != "degradation" || got.Priority != "high" {
		t.Fatalf("payload = %+v", got)
	}
	if got.Timestamp.IsZero() {
		t.Fatal("timestamp not stamped")
	}
}

func TestCloseDisconnects(t *testing.T) {
	client := &fakeClient{}
	p := NewPublisherWithClient(mqttConfig(true), testLogger(), func(*mqtt.ClientOptions) MQTTClient {
		return client
	})
	if err := p.Connect(); err != nil {
		t.Fatal(err)
	}
	p.Close()
	if client.connected {
		t.Fatal("client still connected after Close")
	}
}
