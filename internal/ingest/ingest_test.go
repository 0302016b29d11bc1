package ingest

import (
	"errors"
	"testing"
	"time"

	"github.com/davidson-engineering/fast-database-clients/config"
	"github.com/davidson-engineering/fast-database-clients/influx"
)

// =============================================================================
// Test Helpers
// =============================================================================

// fakeWriter records metrics handed to WriteAsync.
type fakeWriter struct {
	metrics []influx.Metric
	err     error
}

func (w *fakeWriter) WriteAsync(metrics ...influx.Metric) error {
	if w.err != nil {
		return w.err
	}
	w.metrics = append(w.metrics, metrics...)
	return nil
}

// =============================================================================
// Payload Decoding Tests
// =============================================================================

func TestDecodeMetric(t *testing.T) {
	payload := []byte(`{"temperature": 21.5, "humidity": 48, "ok": true, "mode": "auto"}`)

	metric, err := decodeMetric("sensors/lab/climate", "", payload)
	if err != nil {
		t.Fatalf("decodeMetric() error = %v", err)
	}

	if metric.Measurement != "climate" {
		t.Errorf("Measurement = %q, want %q (last topic segment)", metric.Measurement, "climate")
	}
	if got := metric.Fields["temperature"]; got != 21.5 {
		t.Errorf("Fields[temperature] = %v, want 21.5", got)
	}
	if got := metric.Fields["humidity"]; got != float64(48) {
		t.Errorf("Fields[humidity] = %v, want 48", got)
	}
	if got := metric.Fields["ok"]; got != true {
		t.Errorf("Fields[ok] = %v, want true", got)
	}
	if got := metric.Fields["mode"]; got != "auto" {
		t.Errorf("Fields[mode] = %v, want %q", got, "auto")
	}
	if got := metric.Tags["topic"]; got != "sensors/lab/climate" {
		t.Errorf("Tags[topic] = %q, want full topic", got)
	}
	if metric.Time.IsZero() {
		t.Error("Time should default to now")
	}
}

func TestDecodeMetric_ConfiguredMeasurement(t *testing.T) {
	metric, err := decodeMetric("sensors/lab/climate", "telemetry", []byte(`{"v": 1}`))
	if err != nil {
		t.Fatalf("decodeMetric() error = %v", err)
	}
	if metric.Measurement != "telemetry" {
		t.Errorf("Measurement = %q, want configured name", metric.Measurement)
	}
}

func TestDecodeMetric_IgnoresNestedValues(t *testing.T) {
	payload := []byte(`{"value": 3, "meta": {"unit": "C"}, "history": [1, 2]}`)

	metric, err := decodeMetric("sensors/reading", "", payload)
	if err != nil {
		t.Fatalf("decodeMetric() error = %v", err)
	}
	if len(metric.Fields) != 1 {
		t.Errorf("Fields = %v, want only the scalar member", metric.Fields)
	}
	if _, ok := metric.Fields["meta"]; ok {
		t.Error("nested object should not become a field")
	}
}

func TestDecodeMetric_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		topic   string
		payload string
	}{
		{
			name:    "not json",
			topic:   "sensors/a",
			payload: `value=1`,
		},
		{
			name:    "json array",
			topic:   "sensors/a",
			payload: `[1, 2, 3]`,
		},
		{
			name:    "no scalar fields",
			topic:   "sensors/a",
			payload: `{"nested": {"v": 1}}`,
		},
		{
			name:    "empty object",
			topic:   "sensors/a",
			payload: `{}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := decodeMetric(tt.topic, "", []byte(tt.payload))
			if !errors.Is(err, ErrBadPayload) {
				t.Errorf("decodeMetric() error = %v, want ErrBadPayload", err)
			}
		})
	}
}

func TestLastTopicSegment(t *testing.T) {
	tests := []struct {
		topic string
		want  string
	}{
		{"sensors/lab/climate", "climate"},
		{"climate", "climate"},
		{"sensors/lab/", "lab"},
		{"/", "/"},
	}

	for _, tt := range tests {
		if got := lastTopicSegment(tt.topic); got != tt.want {
			t.Errorf("lastTopicSegment(%q) = %q, want %q", tt.topic, got, tt.want)
		}
	}
}

// =============================================================================
// Message Handling Tests
// =============================================================================

func TestHandleMessage_ForwardsMetric(t *testing.T) {
	writer := &fakeWriter{}
	s := &Ingestor{
		writer: writer,
		cfg:    config.MQTTConfig{},
	}

	err := s.handleMessage("devices/boiler/temps", []byte(`{"flow": 61.2, "return": 44.8}`))
	if err != nil {
		t.Fatalf("handleMessage() error = %v", err)
	}

	if len(writer.metrics) != 1 {
		t.Fatalf("writer received %d metrics, want 1", len(writer.metrics))
	}
	m := writer.metrics[0]
	if m.Measurement != "temps" {
		t.Errorf("Measurement = %q, want %q", m.Measurement, "temps")
	}
	if m.Fields["flow"] != 61.2 {
		t.Errorf("Fields[flow] = %v, want 61.2", m.Fields["flow"])
	}
}

func TestHandleMessage_BadPayload(t *testing.T) {
	writer := &fakeWriter{}
	s := &Ingestor{
		writer: writer,
		cfg:    config.MQTTConfig{},
	}

	err := s.handleMessage("devices/boiler", []byte(`not json`))
	if !errors.Is(err, ErrBadPayload) {
		t.Errorf("handleMessage() error = %v, want ErrBadPayload", err)
	}
	if len(writer.metrics) != 0 {
		t.Errorf("writer received %d metrics, want 0", len(writer.metrics))
	}
}

func TestHandleMessage_WriterError(t *testing.T) {
	writer := &fakeWriter{err: errors.New("buffer full")}
	s := &Ingestor{
		writer: writer,
		cfg:    config.MQTTConfig{},
	}

	if err := s.handleMessage("devices/boiler", []byte(`{"v": 1}`)); err == nil {
		t.Error("handleMessage() should surface the writer error")
	}
}

// =============================================================================
// Options Tests
// =============================================================================

func TestBuildClientOptions(t *testing.T) {
	cfg := config.MQTTConfig{
		Host:     "broker.local",
		Port:     8883,
		TLS:      true,
		ClientID: "test-bridge",
		Username: "bridge",
		Password: "secret",
		Reconnect: config.MQTTReconnectConfig{
			InitialDelay: 2,
			MaxDelay:     120,
		},
	}

	opts := buildClientOptions(cfg)

	if len(opts.Servers) != 1 {
		t.Fatalf("Servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "ssl://broker.local:8883" {
		t.Errorf("broker URL = %q, want ssl scheme", got)
	}
	if opts.ClientID != "test-bridge" {
		t.Errorf("ClientID = %q, want %q", opts.ClientID, "test-bridge")
	}
	if opts.Username != "bridge" {
		t.Errorf("Username = %q, want %q", opts.Username, "bridge")
	}
	if !opts.AutoReconnect {
		t.Error("AutoReconnect should be enabled")
	}
	if opts.MaxReconnectInterval != 120*time.Second {
		t.Errorf("MaxReconnectInterval = %v, want 120s", opts.MaxReconnectInterval)
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config should enforce the minimum version")
	}
}

func TestBuildClientOptions_Plaintext(t *testing.T) {
	cfg := config.MQTTConfig{
		Host:     "127.0.0.1",
		Port:     1883,
		ClientID: "test-bridge",
	}

	opts := buildClientOptions(cfg)

	if got := opts.Servers[0].String(); got != "tcp://127.0.0.1:1883" {
		t.Errorf("broker URL = %q, want tcp scheme", got)
	}
	if opts.Username != "" {
		t.Errorf("Username = %q, want empty when unconfigured", opts.Username)
	}
	if opts.TLSConfig != nil && opts.TLSConfig.MinVersion != 0 {
		t.Error("TLS config should not be set for plaintext connections")
	}
}
