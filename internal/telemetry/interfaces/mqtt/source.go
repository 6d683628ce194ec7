package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"aquasense-cloud/internal/observability/metrics"
	"aquasense-cloud/internal/telemetry/application"
)

// SourceConfig configures the optional MQTT ingest source.
type SourceConfig struct {
	BrokerURL string
	ClientID  string
	Topic     string
	Username  string
	Password  string
	QoS       byte
}

// Source subscribes to a broker topic and feeds readings through the same
// normalizer and buffer as HTTP ingestion.
type Source struct {
	client     mqtt.Client
	normalizer *application.Normalizer
	buffer     *application.Buffer
	logger     *log.Logger
}

// NewSource constructs an MQTT source.
func NewSource(cfg SourceConfig, normalizer *application.Normalizer, buffer *application.Buffer, logger *log.Logger) (*Source, error) {
	if cfg.BrokerURL == "" || cfg.Topic == "" {
		return nil, errors.New("mqtt source: broker url and topic required")
	}
	if normalizer == nil || buffer == nil {
		return nil, errors.New("mqtt source: nil dependency")
	}
	if logger == nil {
		logger = log.Default()
	}

	source := &Source{normalizer: normalizer, buffer: buffer, logger: logger}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.BrokerURL).
		SetClientID(cfg.ClientID).
		SetOrderMatters(false).
		SetCleanSession(false).
		SetKeepAlive(30 * time.Second).
		SetPingTimeout(10 * time.Second).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	opts.OnConnect = func(c mqtt.Client) {
		logger.Printf("mqtt connected: %s", cfg.BrokerURL)
		if token := c.Subscribe(cfg.Topic, cfg.QoS, source.handleMessage); token.Wait() && token.Error() != nil {
			logger.Printf("mqtt subscribe error: %v", token.Error())
		} else {
			logger.Printf("mqtt subscribed: topic=%s qos=%d", cfg.Topic, cfg.QoS)
		}
	}
	opts.OnConnectionLost = func(_ mqtt.Client, err error) {
		logger.Printf("mqtt connection lost: %v", err)
	}

	source.client = mqtt.NewClient(opts)
	return source, nil
}

// Connect dials the broker, retrying with backoff until ctx is done.
func (s *Source) Connect(ctx context.Context, start, max time.Duration) {
	backoff := start
	for {
		if token := s.client.Connect(); token.Wait() && token.Error() != nil {
			s.logger.Printf("mqtt connect error: %v; retrying in %s", token.Error(), backoff)
			select {
			case <-time.After(backoff):
				if backoff < max {
					backoff *= 2
				}
			case <-ctx.Done():
				return
			}
			continue
		}
		return
	}
}

// Disconnect closes the broker connection.
func (s *Source) Disconnect() {
	if s == nil || s.client == nil {
		return
	}
	s.client.Disconnect(250)
}

func (s *Source) handleMessage(_ mqtt.Client, msg mqtt.Message) {
	var payload map[string]any
	if err := json.Unmarshal(msg.Payload(), &payload); err != nil {
		s.logger.Printf("mqtt ingest: decode error: topic=%s err=%v", msg.Topic(), err)
		metrics.IncIngestError("invalid_json")
		return
	}
	record, err := s.normalizer.Normalize(payload)
	if err != nil {
		s.logger.Printf("mqtt ingest: invalid payload: topic=%s err=%v", msg.Topic(), err)
		metrics.IncIngestError("invalid_payload")
		return
	}
	s.buffer.Enqueue(record)
}
