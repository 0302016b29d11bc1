package influx

import (
	"context"
	"fmt"
	"sync"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go/v2"
	"github.com/influxdata/influxdb-client-go/v2/api"
	influxhttp "github.com/influxdata/influxdb-client-go/v2/api/http"

	"github.com/davidson-engineering/fast-database-clients/config"
	"github.com/davidson-engineering/fast-database-clients/logging"
)

// Default timeouts and batching fallbacks for InfluxDB operations.
const (
	defaultConnectTimeout = 10 * time.Second
	defaultPingTimeout    = 5 * time.Second

	defaultBatchSize     = 5000
	defaultFlushInterval = 1 // seconds

	// millisecondsPerSecond converts seconds to milliseconds for the InfluxDB API.
	millisecondsPerSecond = 1000
)

// Logger is the optional logging surface used by the client.
// Compatible with logging.Logger and slog.Logger.
type Logger interface {
	Debug(msg string, args ...any)
	Error(msg string, args ...any)
}

// WriteFailedCallback is invoked when the SDK gives up on an async batch.
// batch is the complete line-protocol payload of the failed write.
// Returning true keeps the batch in the SDK's retry buffer; returning
// false discards it (after, say, journalling it elsewhere).
type WriteFailedCallback func(batch string, err error, retryAttempts uint) bool

// Client wraps the official InfluxDB v2 client with a convenience
// surface for connecting from config, writing metrics, administering
// buckets, and routing log records into InfluxDB.
//
// It is a stateless-per-call façade over one long-lived SDK connection
// handle: batching, retries, and the wire protocol are all the SDK's.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
//   - Write thread-safety is inherited from the SDK's guarantees.
type Client struct {
	client   influxdb2.Client
	writeAPI api.WriteAPI
	cfg      config.InfluxConfig

	// defaultBucket is the target for writes without an explicit bucket.
	// Mutable via SetDefaultBucket; everything else is fixed at Connect.
	defaultBucket string

	// watched tracks buckets whose async write API already has an error
	// listener, since the SDK caches write APIs per org/bucket pair.
	watched map[string]bool

	connected bool
	mu        sync.RWMutex

	// onError is called when async write errors occur.
	onError func(err error)

	// onWriteFailed is called when the SDK exhausts retries for a batch.
	onWriteFailed WriteFailedCallback

	logger   Logger
	loggerMu sync.RWMutex
}

// Connect establishes a connection to the InfluxDB server.
//
// It performs the following setup:
//  1. Creates the SDK client with token authentication and pass-through
//     options (batching, precision, timeout, gzip, default tags)
//  2. Verifies connectivity with a ping
//  3. Configures the non-blocking write API for the default bucket
//  4. Sets up error callbacks for async write failures
//
// Parameters:
//   - cfg: InfluxDB configuration (config file section or built in code)
//
// Returns:
//   - *Client: Connected client ready for use
//   - error: Wrapping config.ErrInvalid for incomplete configuration,
//     or ErrConnectionFailed if the server is unreachable/unhealthy
func Connect(cfg config.InfluxConfig) (*Client, error) {
	if cfg.URL == "" || cfg.Token == "" || cfg.Org == "" {
		return nil, fmt.Errorf("%w: influx url, token and org are required", config.ErrInvalid)
	}

	batchSize := cfg.BatchSize
	if batchSize <= 0 {
		batchSize = defaultBatchSize
	}
	flushInterval := cfg.FlushInterval
	if flushInterval <= 0 {
		flushInterval = defaultFlushInterval
	}

	// #nosec G115 -- values validated above to be positive
	opts := influxdb2.DefaultOptions().
		SetBatchSize(uint(batchSize)).
		SetFlushInterval(uint(flushInterval) * millisecondsPerSecond).
		SetPrecision(cfg.PrecisionDuration()).
		SetUseGZip(cfg.EnableGzip)
	if cfg.Timeout > 0 {
		opts = opts.SetHTTPRequestTimeout(uint(cfg.Timeout))
	}
	for key, value := range cfg.DefaultTags {
		opts = opts.AddDefaultTag(key, value)
	}

	client := influxdb2.NewClientWithOptions(cfg.URL, cfg.Token, opts)

	// Verify connectivity
	ctx, cancel := context.WithTimeout(context.Background(), defaultConnectTimeout)
	defer cancel()

	healthy, err := client.Ping(ctx)
	if err != nil {
		client.Close()
		return nil, fmt.Errorf("%w: ping failed: %w", ErrConnectionFailed, err)
	}
	if !healthy {
		client.Close()
		return nil, fmt.Errorf("%w: server not healthy", ErrConnectionFailed)
	}

	c := &Client{
		client:        client,
		cfg:           cfg,
		defaultBucket: cfg.Bucket,
		watched:       make(map[string]bool),
		connected:     true,
	}
	c.writeAPI = client.WriteAPI(cfg.Org, cfg.Bucket)
	c.watchWriteAPI(cfg.Bucket, c.writeAPI)

	return c, nil
}

// FromConfigFile loads configuration from a YAML or TOML file and
// connects. Config failures wrap config.ErrInvalid; connection failures
// wrap ErrConnectionFailed.
func FromConfigFile(path string) (*Client, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return Connect(cfg.Influx)
}

// watchWriteAPI attaches the async failure callbacks to a write API.
// Each org/bucket pair is watched at most once.
func (c *Client) watchWriteAPI(bucket string, writeAPI api.WriteAPI) {
	if c.watched[bucket] {
		return
	}
	c.watched[bucket] = true

	writeAPI.SetWriteFailedCallback(func(batch string, httpErr influxhttp.Error, retryAttempts uint) bool {
		c.mu.RLock()
		callback := c.onWriteFailed
		c.mu.RUnlock()

		if callback != nil {
			return callback(batch, &httpErr, retryAttempts)
		}
		// No callback registered: keep the SDK's default retry behaviour.
		return true
	})

	go c.handleWriteErrors(writeAPI.Errors())
}

// handleWriteErrors processes async write errors from the WriteAPI.
func (c *Client) handleWriteErrors(errorsCh <-chan error) {
	for err := range errorsCh {
		c.mu.RLock()
		callback := c.onError
		c.mu.RUnlock()

		if callback != nil {
			callback(err)
		}
	}
}

// DefaultBucket returns the bucket targeted by writes that do not name
// one explicitly.
func (c *Client) DefaultBucket() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.defaultBucket
}

// SetDefaultBucket retargets subsequent writes at a different bucket.
//
// Writes already issued are unaffected: the previous bucket's pending
// batches are flushed before the swap returns.
func (c *Client) SetDefaultBucket(bucket string) {
	c.mu.Lock()
	if bucket == c.defaultBucket {
		c.mu.Unlock()
		return
	}
	previous := c.writeAPI
	c.defaultBucket = bucket
	c.writeAPI = c.client.WriteAPI(c.cfg.Org, bucket)
	c.watchWriteAPI(bucket, c.writeAPI)
	c.mu.Unlock()

	previous.Flush()
}

// Org returns the organization the client operates in.
func (c *Client) Org() string {
	return c.cfg.Org
}

// ServerURL returns the URL of the connected server.
func (c *Client) ServerURL() string {
	return c.cfg.URL
}

// Close gracefully shuts down the InfluxDB connection.
//
// It flushes any pending async writes, then closes the underlying
// client. The SDK's Close doesn't return errors.
func (c *Client) Close() error {
	if c.client == nil {
		return nil
	}

	c.mu.Lock()
	c.connected = false
	writeAPI := c.writeAPI
	c.mu.Unlock()

	writeAPI.Flush()
	c.client.Close()

	return nil
}

// HealthCheck verifies the InfluxDB connection is alive and functioning.
func (c *Client) HealthCheck(ctx context.Context) error {
	if !c.IsConnected() {
		return ErrNotConnected
	}

	checkCtx, cancel := context.WithTimeout(ctx, defaultPingTimeout)
	defer cancel()

	healthy, err := c.client.Ping(checkCtx)
	if err != nil {
		return fmt.Errorf("influx health check failed: %w", err)
	}
	if !healthy {
		return fmt.Errorf("influx health check failed: server not healthy")
	}

	return nil
}

// Ping reports whether the server answers a liveness probe.
func (c *Client) Ping(ctx context.Context) bool {
	return c.HealthCheck(ctx) == nil
}

// ServerVersion returns the server's reported version string.
func (c *Client) ServerVersion(ctx context.Context) (string, error) {
	if !c.IsConnected() {
		return "", ErrNotConnected
	}

	health, err := c.client.Health(ctx)
	if err != nil {
		return "", fmt.Errorf("querying server health: %w", err)
	}
	if health.Version == nil {
		return "", nil
	}
	return *health.Version, nil
}

// IsConnected returns the current connection state.
//
// Note: This reflects the last known state. For reliability,
// use HealthCheck which performs an active ping.
func (c *Client) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.connected
}

// SetOnError sets a callback to be invoked when async write errors occur.
//
// Since async writes are non-blocking, their errors are delivered out of
// band. Use this callback to log or handle those failures.
func (c *Client) SetOnError(callback func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = callback
}

// SetOnWriteFailed sets a callback invoked when the SDK exhausts its
// retries for an async batch. Return false from the callback to discard
// the batch, e.g. after handing it to a dead-letter journal.
func (c *Client) SetOnWriteFailed(callback WriteFailedCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onWriteFailed = callback
}

// SetLogger sets an optional logger for write outcome records.
// If not set, write outcomes are not logged.
func (c *Client) SetLogger(logger Logger) {
	c.loggerMu.Lock()
	defer c.loggerMu.Unlock()
	c.logger = logger
}

// getLogger returns the current logger (may be nil).
func (c *Client) getLogger() Logger {
	c.loggerMu.RLock()
	defer c.loggerMu.RUnlock()
	return c.logger
}

// logOutcome records an action→outcome message for a write path call.
func (c *Client) logOutcome(action string, outcome logging.Outcome, err error) {
	logger := c.getLogger()
	if logger == nil {
		return
	}

	msg := logging.ActionOutcome(action, outcome)
	if err != nil {
		logger.Error(msg, "error", err)
		return
	}
	logger.Debug(msg)
}

// Flush forces all pending async writes to be sent to InfluxDB.
//
// This blocks until all buffered points are written.
// Useful for testing or before graceful shutdown.
func (c *Client) Flush() {
	c.mu.RLock()
	writeAPI := c.writeAPI
	connected := c.connected
	c.mu.RUnlock()

	if writeAPI == nil || !connected {
		return
	}

	writeAPI.Flush()
}
