package ingest

import "errors"

// Domain-specific errors for the MQTT ingest.
// Use errors.Is() to check for these errors in calling code.
var (
	// ErrNotConnected is returned when the ingest is not connected to the broker.
	ErrNotConnected = errors.New("ingest: not connected")

	// ErrConnectionFailed is returned when the initial connection attempt fails.
	ErrConnectionFailed = errors.New("ingest: connection failed")

	// ErrSubscribeFailed is returned when a topic subscription fails.
	ErrSubscribeFailed = errors.New("ingest: subscribe failed")

	// ErrBadPayload is returned when a message payload cannot be decoded
	// into a metric.
	ErrBadPayload = errors.New("ingest: bad payload")
)
