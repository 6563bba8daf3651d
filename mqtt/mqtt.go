// Package mqtt publishes controller telemetry to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	paho "github.com/eclipse/paho.mqtt.golang"

	"furitingoasis/growbox/internal/logger"
	"furitingoasis/growbox/internal/models"
)

// Topic suffixes under the configured prefix.
const (
	TopicEvents  = "events"
	TopicDevices = "devices"
	TopicSensors = "sensors"
)

// Config holds the broker connection settings.
type Config struct {
	BrokerURL     string
	ClientID      string
	Username      string
	Password      string
	TopicPrefix   string
	QoS           byte
	Retained      bool
	MaxRetries    int
	RetryInterval time.Duration
}

// Devices is the actuator snapshot published every tick.
type Devices struct {
	Light      string `json:"light"`
	Fan        string `json:"fan"`
	Pump       string `json:"pump"`
	LastFanRun string `json:"last_fan_run"`
	Timestamp  string `json:"timestamp"`
}

// Sensors is the reading published every tick. Absent values encode as null.
type Sensors struct {
	models.SensorReading
	Timestamp string `json:"timestamp"`
}

type client interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	IsConnected() bool
	Disconnect(quiesce uint)
}

// Publisher sends JSON payloads without blocking the caller on delivery.
type Publisher struct {
	client client
	cfg    Config
	log    *logger.Logger
}

// Connect dials the broker, retrying with exponential backoff up to MaxRetries attempts.
func Connect(cfg Config, log *logger.Logger) (*Publisher, error) {
	opts := paho.NewClientOptions().AddBroker(cfg.BrokerURL)
	opts.SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectTimeout(cfg.RetryInterval)

	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.RetryInterval
	retries := cfg.MaxRetries
	if retries < 1 {
		retries = 1
	}

	var c paho.Client
	attempt := 0
	err := backoff.Retry(func() error {
		attempt++
		c = paho.NewClient(opts)
		token := c.Connect()
		if !token.WaitTimeout(cfg.RetryInterval) {
			err := fmt.Errorf("timed out after %s", cfg.RetryInterval)
			log.Warnw("mqtt connect failed", "broker", cfg.BrokerURL, "attempt", attempt, "max", retries, "err", err)
			return err
		}
		if err := token.Error(); err != nil {
			log.Warnw("mqtt connect failed", "broker", cfg.BrokerURL, "attempt", attempt, "max", retries, "err", err)
			return err
		}
		return nil
	}, backoff.WithMaxRetries(bo, uint64(retries-1)))
	if err != nil {
		return nil, fmt.Errorf("connecting to mqtt broker %s after %d attempts: %w", cfg.BrokerURL, attempt, err)
	}

	log.Infow("connected to mqtt broker", "broker", cfg.BrokerURL)
	return newPublisher(c, cfg, log), nil
}

func newPublisher(c client, cfg Config, log *logger.Logger) *Publisher {
	return &Publisher{client: c, cfg: cfg, log: log}
}

// Topic joins the prefix and suffix.
func (p *Publisher) Topic(suffix string) string {
	return p.cfg.TopicPrefix + "/" + suffix
}

// PublishEvent sends one event log entry.
func (p *Publisher) PublishEvent(e models.EventLogEntry) {
	p.publish(p.Topic(TopicEvents), e)
}

// PublishDevices sends the actuator snapshot.
func (p *Publisher) PublishDevices(d Devices) {
	p.publish(p.Topic(TopicDevices), d)
}

// PublishSensors sends the latest reading.
func (p *Publisher) PublishSensors(s Sensors) {
	p.publish(p.Topic(TopicSensors), s)
}

func (p *Publisher) publish(topic string, v any) {
	if p.client == nil || !p.client.IsConnected() {
		p.log.Debugw("mqtt not connected, dropping message", "topic", topic)
		return
	}
	payload, err := json.Marshal(v)
	if err != nil {
		p.log.Errorw("marshalling mqtt payload", "topic", topic, "err", err)
		return
	}
	token := p.client.Publish(topic, p.cfg.QoS, p.cfg.Retained, payload)
	go func() {
		if token.Wait() && token.Error() != nil {
			p.log.Warnw("mqtt publish failed", "topic", topic, "err", token.Error())
		}
	}()
	p.log.Debugw("published", "topic", topic, "payload", string(payload))
}

// Close disconnects, waiting up to 250ms for in-flight messages.
func (p *Publisher) Close() {
	if p.client != nil && p.client.IsConnected() {
		p.log.Infow("disconnecting from mqtt broker")
		p.client.Disconnect(250)
	}
}
