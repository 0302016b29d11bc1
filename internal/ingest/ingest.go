package ingest

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/davidson-engineering/fast-database-clients/config"
	"github.com/davidson-engineering/fast-database-clients/influx"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultSubscribeTimeout is the maximum time to wait for a subscription ack.
	defaultSubscribeTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations
	// on disconnect, in milliseconds.
	defaultDisconnectQuiesce = 1000

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// MetricWriter is the write surface the ingest needs from the InfluxDB
// client. *influx.Client implements it; tests may substitute a fake.
type MetricWriter interface {
	WriteAsync(metrics ...influx.Metric) error
}

// Logger interface for optional logging support.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
}

// Ingestor subscribes to MQTT topics and forwards JSON payloads to
// InfluxDB as metrics via the client's batching write path.
//
// Payloads must be JSON objects; each scalar member becomes a field.
// The measurement name is taken from configuration, or from the last
// topic segment when unconfigured. The full topic is recorded as a tag.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Message handlers run on the paho library's goroutines.
type Ingestor struct {
	client pahomqtt.Client
	writer MetricWriter
	cfg    config.MQTTConfig

	connected bool
	connMu    sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// Start connects to the MQTT broker and subscribes to the configured
// topic filters.
//
// It performs the following setup:
//  1. Builds connection options from config (broker URL, auth, TLS)
//  2. Sets up auto-reconnect with exponential backoff
//  3. Attempts the initial connection with a timeout
//  4. Subscribes every configured topic filter
func Start(cfg config.MQTTConfig, writer MetricWriter) (*Ingestor, error) {
	s := &Ingestor{
		writer: writer,
		cfg:    cfg,
	}

	opts := buildClientOptions(cfg)
	opts.SetOnConnectHandler(func(_ pahomqtt.Client) {
		s.handleConnect()
	})
	opts.SetConnectionLostHandler(func(_ pahomqtt.Client, err error) {
		s.handleDisconnect(err)
	})

	s.client = pahomqtt.NewClient(opts)
	token := s.client.Connect()
	if !token.WaitTimeout(defaultConnectTimeout) {
		return nil, fmt.Errorf("%w: timeout after %v", ErrConnectionFailed, defaultConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrConnectionFailed, err)
	}

	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	if err := s.subscribeAll(); err != nil {
		s.client.Disconnect(defaultDisconnectQuiesce)
		return nil, err
	}

	return s, nil
}

// buildClientOptions creates paho MQTT options from ingest config.
func buildClientOptions(cfg config.MQTTConfig) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if cfg.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, cfg.Host, cfg.Port))
	opts.SetClientID(cfg.ClientID)

	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}

	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff; subscriptions are restored
	// by the OnConnect handler.
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(time.Duration(cfg.Reconnect.InitialDelay) * time.Second)
	opts.SetMaxReconnectInterval(time.Duration(cfg.Reconnect.MaxDelay) * time.Second)

	opts.SetConnectTimeout(defaultConnectTimeout)
	opts.SetKeepAlive(defaultKeepAlive)

	if cfg.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	return opts
}

// handleConnect is called on initial connect and every reconnect.
func (s *Ingestor) handleConnect() {
	s.connMu.Lock()
	s.connected = true
	s.connMu.Unlock()

	// Re-subscribe; errors during reconnection are logged, the next
	// reconnect retries.
	if err := s.subscribeAll(); err != nil {
		if logger := s.getLogger(); logger != nil {
			logger.Warn("resubscribe after reconnect failed", "error", err)
		}
	}
}

// handleDisconnect is called when the connection is lost.
func (s *Ingestor) handleDisconnect(err error) {
	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	if logger := s.getLogger(); logger != nil {
		logger.Warn("mqtt connection lost", "error", err)
	}
}

// subscribeAll subscribes every configured topic filter.
func (s *Ingestor) subscribeAll() error {
	for _, topic := range s.cfg.Topics {
		token := s.client.Subscribe(topic, byte(s.cfg.QoS), s.messageHandler())
		if !token.WaitTimeout(defaultSubscribeTimeout) {
			return fmt.Errorf("%w: timeout subscribing to %q", ErrSubscribeFailed, topic)
		}
		if err := token.Error(); err != nil {
			return fmt.Errorf("%w: %q: %w", ErrSubscribeFailed, topic, err)
		}
	}
	return nil
}

// messageHandler wraps handleMessage with panic recovery and logging.
func (s *Ingestor) messageHandler() pahomqtt.MessageHandler {
	return func(_ pahomqtt.Client, msg pahomqtt.Message) {
		defer func() {
			if r := recover(); r != nil {
				if logger := s.getLogger(); logger != nil {
					logger.Error("ingest handler panic recovered",
						"topic", msg.Topic(),
						"panic", r,
					)
				}
			}
		}()

		if err := s.handleMessage(msg.Topic(), msg.Payload()); err != nil {
			if logger := s.getLogger(); logger != nil {
				logger.Warn("dropping message",
					"topic", msg.Topic(),
					"error", err,
				)
			}
		}
	}
}

// handleMessage decodes one payload and forwards it.
func (s *Ingestor) handleMessage(topic string, payload []byte) error {
	metric, err := decodeMetric(topic, s.cfg.Measurement, payload)
	if err != nil {
		return err
	}
	return s.writer.WriteAsync(metric)
}

// decodeMetric converts a JSON object payload into a metric.
//
// Scalar members (numbers, booleans, strings) become fields; nested
// objects and arrays are ignored. A payload with no usable fields is an
// error.
func decodeMetric(topic, measurement string, payload []byte) (influx.Metric, error) {
	var body map[string]any
	if err := json.Unmarshal(payload, &body); err != nil {
		return influx.Metric{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}

	fields := make(map[string]any, len(body))
	for key, value := range body {
		switch value.(type) {
		case float64, bool, string:
			fields[key] = value
		}
	}
	if len(fields) == 0 {
		return influx.Metric{}, fmt.Errorf("%w: no scalar fields in payload", ErrBadPayload)
	}

	if measurement == "" {
		measurement = lastTopicSegment(topic)
	}

	metric, err := influx.NewMetric(measurement, fields, influx.WithTag("topic", topic))
	if err != nil {
		return influx.Metric{}, fmt.Errorf("%w: %w", ErrBadPayload, err)
	}
	return metric, nil
}

// lastTopicSegment returns the final non-empty segment of an MQTT topic.
func lastTopicSegment(topic string) string {
	segments := strings.Split(topic, "/")
	for i := len(segments) - 1; i >= 0; i-- {
		if segments[i] != "" {
			return segments[i]
		}
	}
	return topic
}

// HealthCheck verifies the broker connection is alive.
func (s *Ingestor) HealthCheck(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return fmt.Errorf("ingest health check: %w", ctx.Err())
	default:
	}

	if !s.IsConnected() {
		return ErrNotConnected
	}
	return nil
}

// IsConnected returns the current connection state.
func (s *Ingestor) IsConnected() bool {
	s.connMu.RLock()
	defer s.connMu.RUnlock()
	return s.connected && s.client.IsConnected()
}

// SetLogger sets a logger for handler errors and connection events.
// If not set, dropped messages are silently ignored.
func (s *Ingestor) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// getLogger returns the current logger (may be nil).
func (s *Ingestor) getLogger() Logger {
	s.loggerMu.RLock()
	defer s.loggerMu.RUnlock()
	return s.logger
}

// Close disconnects from the broker, allowing a quiesce period for
// in-flight messages.
func (s *Ingestor) Close() error {
	if s.client == nil {
		return nil
	}

	s.client.Disconnect(defaultDisconnectQuiesce)

	s.connMu.Lock()
	s.connected = false
	s.connMu.Unlock()

	return nil
}
