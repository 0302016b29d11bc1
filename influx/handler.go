package influx

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultLogMeasurement is the measurement name used for forwarded log
// records unless overridden.
const DefaultLogMeasurement = "logs"

// MetricWriter is the narrow write surface the log handler needs from a
// client. *Client implements it; tests may substitute a fake.
type MetricWriter interface {
	WriteTo(ctx context.Context, bucket string, metrics ...Metric) error
	DefaultBucket() string
}

// LogHandlerOptions configures a LogHandler.
type LogHandlerOptions struct {
	// Level is the minimum record level forwarded. Defaults to slog.LevelInfo.
	Level slog.Leveler

	// Measurement overrides DefaultLogMeasurement.
	Measurement string

	// Bucket overrides the writer's default bucket for log records.
	Bucket string

	// OnError is invoked when forwarding a record fails. When nil,
	// failures are reported to a stderr fallback logger.
	OnError func(err error)
}

// LogHandler forwards log records to InfluxDB as metrics. It implements
// log/slog.Handler, so any slog.Logger can route its records into the
// database:
//
//	logger := slog.New(client.LoggingHandler(nil))
//	logger.Info("pump started", "flow_lpm", 12.5)
//
// Each record becomes one metric: the message, numeric level, and
// structured attributes as fields; the level name and source location as
// tags; the record's own timestamp.
//
// Write failures never propagate into the caller's control flow: they
// are reported via OnError (or the stderr fallback) and returned from
// Handle, which slog discards by convention.
type LogHandler struct {
	writer      MetricWriter
	measurement string
	bucket      string

	// level is shared across WithAttrs/WithGroup clones so SetLevel
	// affects the whole handler tree.
	level *slog.LevelVar

	onError  func(err error)
	fallback *slog.Logger

	// attrs are pre-formatted fields accumulated via WithAttrs.
	attrs map[string]any

	// groups is the open group stack; group names prefix field keys.
	groups []string
}

// NewLogHandler creates a log handler bound to a metric writer.
// A nil opts uses defaults.
func NewLogHandler(writer MetricWriter, opts *LogHandlerOptions) *LogHandler {
	if opts == nil {
		opts = &LogHandlerOptions{}
	}

	level := new(slog.LevelVar)
	if opts.Level != nil {
		level.Set(opts.Level.Level())
	}

	measurement := opts.Measurement
	if measurement == "" {
		measurement = DefaultLogMeasurement
	}

	return &LogHandler{
		writer:      writer,
		measurement: measurement,
		bucket:      opts.Bucket,
		level:       level,
		onError:     opts.OnError,
		fallback:    slog.New(slog.NewTextHandler(os.Stderr, nil)),
		attrs:       map[string]any{},
	}
}

// LoggingHandler returns a new log handler bound to this client.
// A nil opts uses defaults.
func (c *Client) LoggingHandler(opts *LogHandlerOptions) *LogHandler {
	return NewLogHandler(c, opts)
}

// SetLevel changes the minimum forwarded level at runtime.
func (h *LogHandler) SetLevel(level slog.Level) {
	h.level.Set(level)
}

// Enabled implements slog.Handler.
func (h *LogHandler) Enabled(_ context.Context, level slog.Level) bool {
	return level >= h.level.Level()
}

// Handle implements slog.Handler. It converts the record to a Metric and
// forwards it through the bound writer.
//
// Failures are reported out of band and returned; they are never raised
// into the emitting goroutine as a panic.
func (h *LogHandler) Handle(ctx context.Context, record slog.Record) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("log handler panic: %v", r)
			h.reportError(err)
		}
	}()

	fields := make(map[string]any, len(h.attrs)+len(h.groups)+2)
	for key, value := range h.attrs {
		fields[key] = value
	}
	fields["message"] = record.Message
	fields["level"] = int64(record.Level)

	prefix := h.groupPrefix()
	record.Attrs(func(attr slog.Attr) bool {
		addAttr(fields, prefix, attr)
		return true
	})

	tags := map[string]string{
		"level": record.Level.String(),
	}
	if frame := sourceFrame(record.PC); frame.File != "" {
		tags["source"] = fmt.Sprintf("%s:%d", filepath.Base(frame.File), frame.Line)
		if frame.Function != "" {
			tags["function"] = frame.Function
		}
	}

	ts := record.Time
	if ts.IsZero() {
		ts = time.Now()
	}

	metric := Metric{
		Measurement: h.measurement,
		Fields:      fields,
		Tags:        tags,
		Time:        ts,
	}

	bucket := h.bucket
	if bucket == "" {
		bucket = h.writer.DefaultBucket()
	}

	if writeErr := h.writer.WriteTo(ctx, bucket, metric); writeErr != nil {
		h.reportError(writeErr)
		return writeErr
	}
	return nil
}

// WithAttrs implements slog.Handler.
func (h *LogHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	if len(attrs) == 0 {
		return h
	}

	clone := h.clone()
	prefix := clone.groupPrefix()
	for _, attr := range attrs {
		addAttr(clone.attrs, prefix, attr)
	}
	return clone
}

// WithGroup implements slog.Handler.
func (h *LogHandler) WithGroup(name string) slog.Handler {
	if name == "" {
		return h
	}

	clone := h.clone()
	clone.groups = append(clone.groups, name)
	return clone
}

// clone copies the handler; the level var, writer and error reporting
// are shared so runtime changes affect all clones.
func (h *LogHandler) clone() *LogHandler {
	attrs := make(map[string]any, len(h.attrs))
	for key, value := range h.attrs {
		attrs[key] = value
	}

	return &LogHandler{
		writer:      h.writer,
		measurement: h.measurement,
		bucket:      h.bucket,
		level:       h.level,
		onError:     h.onError,
		fallback:    h.fallback,
		attrs:       attrs,
		groups:      append([]string(nil), h.groups...),
	}
}

// groupPrefix returns the field-key prefix for the open group stack.
func (h *LogHandler) groupPrefix() string {
	if len(h.groups) == 0 {
		return ""
	}
	return strings.Join(h.groups, ".") + "."
}

// reportError surfaces an emission failure without raising it into the
// caller's control flow.
func (h *LogHandler) reportError(err error) {
	if h.onError != nil {
		h.onError(err)
		return
	}
	h.fallback.Error("influx log handler: dropping record", "error", err)
}

// addAttr flattens an attribute into the fields map. Group values
// recurse with an extended prefix; everything else becomes one field.
func addAttr(fields map[string]any, prefix string, attr slog.Attr) {
	value := attr.Value.Resolve()

	if attr.Equal(slog.Attr{}) {
		return
	}

	if value.Kind() == slog.KindGroup {
		groupPrefix := prefix
		if attr.Key != "" {
			groupPrefix = prefix + attr.Key + "."
		}
		for _, nested := range value.Group() {
			addAttr(fields, groupPrefix, nested)
		}
		return
	}

	if attr.Key == "" {
		return
	}

	fields[prefix+attr.Key] = fieldValue(value)
}

// fieldValue converts a slog value to a line-protocol compatible field
// value: numerics and bools pass through, everything else is stringified.
func fieldValue(value slog.Value) any {
	switch value.Kind() {
	case slog.KindInt64:
		return value.Int64()
	case slog.KindUint64:
		return value.Uint64()
	case slog.KindFloat64:
		return value.Float64()
	case slog.KindBool:
		return value.Bool()
	case slog.KindDuration:
		return value.Duration().String()
	case slog.KindTime:
		return value.Time().Format(time.RFC3339Nano)
	default:
		return value.String()
	}
}

// sourceFrame resolves the record's program counter to a source frame.
func sourceFrame(pc uintptr) runtime.Frame {
	if pc == 0 {
		return runtime.Frame{}
	}
	frame, _ := runtime.CallersFrames([]uintptr{pc}).Next()
	return frame
}
