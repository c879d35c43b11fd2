// Package alert delivers operator notifications. Alerts are published to
// an MQTT topic when a broker is configured, and always land in the
// structured log so a broker outage never swallows a notification.
package alert

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/stratoml/sentinel/internal/config"
)

// MQTTClient is the slice of the paho client the publisher uses.
// It exists so tests can swap in a fake.
type MQTTClient interface {
	Connect() mqtt.Token
	Disconnect(quiesce uint)
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	IsConnected() bool
}

// DefaultMQTTClient wraps the paho MQTT client.
type DefaultMQTTClient struct {
	client mqtt.Client
}

func (d *DefaultMQTTClient) Connect() mqtt.Token { return d.client.Connect() }

func (d *DefaultMQTTClient) Disconnect(quiesce uint) { d.client.Disconnect(quiesce) }

func (d *DefaultMQTTClient) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	return d.client.Publish(topic, qos, retained, payload)
}

func (d *DefaultMQTTClient) IsConnected() bool { return d.client.IsConnected() }

// Message is the alert payload put on the wire.
type Message struct {
	Priority  string         `json:"priority"`
	Subject   string         `json:"subject"`
	Body      string         `json:"body"`
	Details   map[string]any `json:"details,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Publisher sends alerts. With MQTT disabled it degrades to log-only.
type Publisher struct {
	cfg    config.MQTTConfig
	logger *slog.Logger
	client MQTTClient

	clientFactory func(opts *mqtt.ClientOptions) MQTTClient
}

// NewPublisher creates a publisher from config.
func NewPublisher(cfg config.MQTTConfig, logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Publisher{
		cfg:    cfg,
		logger: logger.With("component", "alert"),
		clientFactory: func(opts *mqtt.ClientOptions) MQTTClient {
			return &DefaultMQTTClient{client: mqtt.NewClient(opts)}
		},
	}
}

// NewPublisherWithClient creates a publisher with a custom client factory
// (for testing).
func NewPublisherWithClient(cfg config.MQTTConfig, logger *slog.Logger, factory func(*mqtt.ClientOptions) MQTTClient) *Publisher {
	p := NewPublisher(cfg, logger)
	p.clientFactory = factory
	return p
}

// Connect establishes the broker connection. It is a no-op when MQTT is
// disabled.
func (p *Publisher) Connect() error {
	if !p.cfg.Enabled {
		return nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(p.cfg.Broker)
	opts.SetClientID(p.cfg.ClientID)
	if p.cfg.Username != "" {
		opts.SetUsername(p.cfg.Username)
		opts.SetPassword(p.cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)

	p.client = p.clientFactory(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(10 * time.Second) {
		return fmt.Errorf("mqtt connect timeout to %s", p.cfg.Broker)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect: %w", err)
	}

	p.logger.Info("connected to broker", "broker", p.cfg.Broker, "topic", p.cfg.Topic)
	return nil
}

// Close disconnects from the broker.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// Send delivers one alert. The structured log line is written first so
// the alert survives a broker failure.
func (p *Publisher) Send(msg Message) error {
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}

	p.logger.Warn("alert",
		"priority", msg.Priority,
		"subject", msg.Subject,
		"body", msg.Body,
	)

	if !p.cfg.Enabled || p.client == nil {
		return nil
	}

	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal alert: %w", err)
	}

	token := p.client.Publish(p.cfg.Topic, 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return fmt.Errorf("mqtt publish timeout on %s", p.cfg.Topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt publish: %w", err)
	}
	return nil
}
