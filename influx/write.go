package influx

import (
	"context"
	"fmt"

	"github.com/influxdata/influxdb-client-go/v2/api/write"

	"github.com/davidson-engineering/fast-database-clients/logging"
)

// Write synchronously writes one or more metrics to the default bucket.
//
// Each metric is validated, converted to the SDK's point representation,
// and handed to the SDK's blocking write API in a single call. Server
// rejections and transport failures wrap ErrWriteFailed; no retry logic
// is added here — retries, if any, are the SDK's.
//
// Example:
//
//	m, _ := influx.NewMetric("cpu", map[string]any{"usage": 42.5})
//	if err := client.Write(ctx, m); err != nil {
//	    log.Error("write failed", "error", err)
//	}
func (c *Client) Write(ctx context.Context, metrics ...Metric) error {
	return c.WriteTo(ctx, c.DefaultBucket(), metrics...)
}

// WriteTo is Write with an explicit target bucket, overriding the
// default for this call only.
func (c *Client) WriteTo(ctx context.Context, bucket string, metrics ...Metric) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if bucket == "" {
		return ErrNoBucket
	}
	if len(metrics) == 0 {
		return nil
	}

	points, err := toPoints(metrics)
	if err != nil {
		return err
	}

	action := fmt.Sprintf("writing %d metric(s) to bucket %q", len(points), bucket)

	// The SDK caches blocking write APIs per org/bucket pair, so per-call
	// lookup is cheap.
	if err := c.client.WriteAPIBlocking(c.cfg.Org, bucket).WritePoint(ctx, points...); err != nil {
		c.logOutcome(action, logging.OutcomeFailed, err)
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}

	c.logOutcome(action, logging.OutcomeSuccess, nil)
	return nil
}

// WriteAsync enqueues metrics on the SDK's batching write API, targeting
// the current default bucket.
//
// The call does not block on network I/O. Validation errors are returned
// immediately; write failures are delivered asynchronously via the
// SetOnError and SetOnWriteFailed callbacks.
func (c *Client) WriteAsync(metrics ...Metric) error {
	c.mu.RLock()
	writeAPI := c.writeAPI
	connected := c.connected
	c.mu.RUnlock()

	if !connected {
		return ErrNotConnected
	}

	points, err := toPoints(metrics)
	if err != nil {
		return err
	}

	for _, point := range points {
		writeAPI.WritePoint(point)
	}
	return nil
}

// WriteRecord synchronously writes raw line-protocol records to a
// bucket. Used by dead-letter replay, where the failed batch is already
// serialized.
func (c *Client) WriteRecord(ctx context.Context, bucket string, lines string) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}
	if bucket == "" {
		return ErrNoBucket
	}

	if err := c.client.WriteAPIBlocking(c.cfg.Org, bucket).WriteRecord(ctx, lines); err != nil {
		return fmt.Errorf("%w: %w", ErrWriteFailed, err)
	}
	return nil
}

// toPoints validates metrics and converts them to SDK points.
// The batch is all-or-nothing: one invalid metric rejects the call.
func toPoints(metrics []Metric) ([]*write.Point, error) {
	points := make([]*write.Point, 0, len(metrics))
	for _, m := range metrics {
		if err := m.Validate(); err != nil {
			return nil, err
		}
		points = append(points, m.point())
	}
	return points, nil
}
