// Package influx provides a convenience client for InfluxDB v2.
//
// It wraps the official influxdb-client-go v2 library to simplify
// connecting from a config file, writing metrics, administering buckets,
// and routing application log records into the database. Connection
// management, the wire protocol, batching and retries all remain the
// SDK's responsibility; this package adds no scheduling, queueing or
// protocol logic of its own.
//
// # Usage
//
//	client, err := influx.FromConfigFile("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
//
//	m, _ := influx.NewMetric("temperature", map[string]any{"celsius": 21.5},
//	    influx.WithTag("room", "lab"))
//	if err := client.Write(ctx, m); err != nil {
//	    log.Error("write failed", "error", err)
//	}
//
// # Log routing
//
// LoggingHandler returns a log/slog.Handler bound to the client, so an
// application can send structured log records to InfluxDB alongside its
// metrics:
//
//	outcomeLog := slog.New(client.LoggingHandler(nil))
//	outcomeLog.Info("calibration complete", "offset", 0.03)
//
// # Error handling
//
// Synchronous writes return errors wrapping ErrWriteFailed; bucket
// administration wraps ErrAdminFailed; configuration problems wrap
// config.ErrInvalid. Async write errors are delivered via the SetOnError
// and SetOnWriteFailed callbacks. Check with errors.Is().
//
// # Thread Safety
//
// All methods are safe for concurrent use from multiple goroutines.
// Thread safety of the shared connection handle is inherited from the
// SDK's documented guarantees.
package influx
