package influx

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is() for specific handling:
//
//	if errors.Is(err, influx.ErrWriteFailed) {
//	    // Handle rejected write
//	}
var (
	// ErrNotConnected indicates the client is not connected to InfluxDB.
	ErrNotConnected = errors.New("influx: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influx: connection failed")

	// ErrWriteFailed indicates a synchronous write was rejected by the
	// server or failed in transit. Async write errors are delivered via
	// the error callback instead.
	ErrWriteFailed = errors.New("influx: write failed")

	// ErrAdminFailed indicates a bucket administration call was rejected.
	ErrAdminFailed = errors.New("influx: admin operation failed")

	// ErrQueryFailed indicates a Flux query was rejected.
	ErrQueryFailed = errors.New("influx: query failed")

	// ErrInvalidMetric indicates a metric failed validation.
	ErrInvalidMetric = errors.New("influx: invalid metric")

	// ErrNoBucket indicates no target bucket was supplied and the client
	// has no default bucket.
	ErrNoBucket = errors.New("influx: no bucket specified")
)
