package influx

import (
	"fmt"
	"time"

	"github.com/influxdata/influxdb-client-go/v2/api/write"
)

// Metric is one measurement event: a measurement name, one or more
// field values, optional tags, and a timestamp.
//
// Metrics are plain values. They are constructed per data point,
// serialized on the write path, and discarded; the client never retains
// them.
type Metric struct {
	Measurement string
	Fields      map[string]any
	Tags        map[string]string
	Time        time.Time
}

// MetricOption customises a Metric during construction.
type MetricOption func(*Metric)

// WithTags sets the metric's tags, replacing any existing ones.
func WithTags(tags map[string]string) MetricOption {
	return func(m *Metric) {
		m.Tags = tags
	}
}

// WithTag adds a single tag to the metric.
func WithTag(key, value string) MetricOption {
	return func(m *Metric) {
		if m.Tags == nil {
			m.Tags = make(map[string]string)
		}
		m.Tags[key] = value
	}
}

// WithTime sets the metric's timestamp. Without it, the timestamp
// defaults to the construction time.
func WithTime(t time.Time) MetricOption {
	return func(m *Metric) {
		m.Time = t
	}
}

// NewMetric constructs and validates a Metric.
//
// The measurement and at least one field are required; field values must
// be numeric, boolean, or string. Validation failures wrap
// ErrInvalidMetric.
//
// Example:
//
//	m, err := influx.NewMetric("cpu", map[string]any{"usage": 42.5},
//	    influx.WithTag("host", "core-01"))
func NewMetric(measurement string, fields map[string]any, opts ...MetricOption) (Metric, error) {
	m := Metric{
		Measurement: measurement,
		Fields:      fields,
		Time:        time.Now(),
	}
	for _, opt := range opts {
		opt(&m)
	}

	if err := m.Validate(); err != nil {
		return Metric{}, err
	}

	return m, nil
}

// Validate checks the metric's invariants: non-empty measurement,
// non-empty fields, and supported field value types.
func (m Metric) Validate() error {
	if m.Measurement == "" {
		return fmt.Errorf("%w: measurement is required", ErrInvalidMetric)
	}
	if len(m.Fields) == 0 {
		return fmt.Errorf("%w: at least one field is required", ErrInvalidMetric)
	}
	for name, value := range m.Fields {
		if !validFieldValue(value) {
			return fmt.Errorf("%w: field %q has unsupported type %T", ErrInvalidMetric, name, value)
		}
	}
	return nil
}

// validFieldValue reports whether v is a type the line protocol can carry.
func validFieldValue(v any) bool {
	switch v.(type) {
	case int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		bool, string:
		return true
	default:
		return false
	}
}

// point converts the metric to the SDK's native point representation.
// A zero timestamp falls back to the conversion time.
func (m Metric) point() *write.Point {
	ts := m.Time
	if ts.IsZero() {
		ts = time.Now()
	}
	return write.NewPoint(m.Measurement, m.Tags, m.Fields, ts)
}
