package influx_test

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/davidson-engineering/fast-database-clients/config"
	"github.com/davidson-engineering/fast-database-clients/influx"
)

// testConfig returns a configuration for the local dev InfluxDB.
// These values match docker-compose.yml.
func testConfig() config.InfluxConfig {
	return config.InfluxConfig{
		URL:           "http://127.0.0.1:8086",
		Token:         "fastdb-dev-token",
		Org:           "fastdb",
		Bucket:        "metrics",
		BatchSize:     100,
		FlushInterval: 1, // 1 second for faster test feedback
		Precision:     "ns",
	}
}

// skipIfNoInfluxDB skips the test if InfluxDB is not running.
func skipIfNoInfluxDB(t *testing.T) {
	t.Helper()
	if os.Getenv("RUN_INTEGRATION") == "" {
		// Quick check: try to connect
		client, err := influx.Connect(testConfig())
		if err != nil {
			t.Skip("InfluxDB not available, skipping integration test")
		}
		client.Close()
	}
}

// =============================================================================
// Construction Tests
// =============================================================================

func TestConnect(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	if !client.IsConnected() {
		t.Error("IsConnected() = false after Connect()")
	}
	if client.DefaultBucket() != "metrics" {
		t.Errorf("DefaultBucket() = %q, want %q", client.DefaultBucket(), "metrics")
	}
}

func TestConnect_IncompleteConfig(t *testing.T) {
	_, err := influx.Connect(config.InfluxConfig{URL: "http://127.0.0.1:8086"})
	if err == nil {
		t.Fatal("Connect() should return error without token/org")
	}
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("Connect() error = %v, want config.ErrInvalid", err)
	}
}

func TestConnect_InvalidURL(t *testing.T) {
	cfg := testConfig()
	cfg.URL = "http://127.0.0.1:59999" // Non-existent port

	_, err := influx.Connect(cfg)
	if err == nil {
		t.Fatal("Connect() should return error for unreachable server")
	}
	if !errors.Is(err, influx.ErrConnectionFailed) {
		t.Errorf("Connect() error = %v, want ErrConnectionFailed", err)
	}
}

func TestFromConfigFile_MissingRequiredKey(t *testing.T) {
	// Token deliberately absent
	content := `
influx:
  url: "http://127.0.0.1:8086"
  org: "fastdb"
  bucket: "metrics"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0600); err != nil {
		t.Fatalf("failed to write test config: %v", err)
	}

	_, err := influx.FromConfigFile(path)
	if err == nil {
		t.Fatal("FromConfigFile() should return error for missing required key")
	}
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("FromConfigFile() error = %v, want config.ErrInvalid", err)
	}
}

func TestFromConfigFile_MissingFile(t *testing.T) {
	_, err := influx.FromConfigFile("/nonexistent/config.yaml")
	if err == nil {
		t.Fatal("FromConfigFile() should return error for missing file")
	}
	if !errors.Is(err, config.ErrInvalid) {
		t.Errorf("FromConfigFile() error = %v, want config.ErrInvalid", err)
	}
}

// =============================================================================
// Write Tests
// =============================================================================

func TestWrite(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	m, err := influx.NewMetric("test_measurement",
		map[string]any{"value": 42.0},
		influx.WithTag("source", "client-test"),
	)
	if err != nil {
		t.Fatalf("NewMetric() error = %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Write(ctx, m); err != nil {
		t.Errorf("Write() error = %v", err)
	}
}

func TestWrite_InvalidMetric(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	bad := influx.Metric{Measurement: "incomplete"}
	err = client.Write(context.Background(), bad)
	if !errors.Is(err, influx.ErrInvalidMetric) {
		t.Errorf("Write() error = %v, want ErrInvalidMetric", err)
	}
}

func TestWrite_AfterClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	client.Close()

	m, _ := influx.NewMetric("test_measurement", map[string]any{"value": 1})
	err = client.Write(context.Background(), m)
	if !errors.Is(err, influx.ErrNotConnected) {
		t.Errorf("Write() after Close error = %v, want ErrNotConnected", err)
	}
}

func TestWriteAsync(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	// Track errors with mutex for race safety
	var writeErr error
	var mu sync.Mutex
	client.SetOnError(func(err error) {
		mu.Lock()
		writeErr = err
		mu.Unlock()
	})

	m, _ := influx.NewMetric("test_measurement",
		map[string]any{"value": 99.9},
		influx.WithTag("source", "async-test"),
	)
	if err := client.WriteAsync(m); err != nil {
		t.Fatalf("WriteAsync() error = %v", err)
	}

	// Flush to ensure it's written
	client.Flush()

	// Give a moment for error callback
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	if writeErr != nil {
		t.Errorf("async write error = %v", writeErr)
	}
}

func TestSetDefaultBucket(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const altBucket = "metrics-alt"
	if err := client.EnsureBucket(ctx, altBucket); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	// Write to the original default, then retarget and write again.
	m, _ := influx.NewMetric("test_measurement", map[string]any{"value": 1.0})
	if err := client.Write(ctx, m); err != nil {
		t.Fatalf("Write() to original bucket error = %v", err)
	}

	client.SetDefaultBucket(altBucket)
	if client.DefaultBucket() != altBucket {
		t.Fatalf("DefaultBucket() = %q, want %q", client.DefaultBucket(), altBucket)
	}

	m2, _ := influx.NewMetric("test_measurement", map[string]any{"value": 2.0})
	if err := client.Write(ctx, m2); err != nil {
		t.Errorf("Write() to new default bucket error = %v", err)
	}
}

// =============================================================================
// Admin Tests
// =============================================================================

func TestCreateBucket_Duplicate(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	const name = "duplicate-bucket-test"
	if err := client.EnsureBucket(ctx, name); err != nil {
		t.Fatalf("EnsureBucket() error = %v", err)
	}

	// A second explicit create must be rejected by the server.
	err = client.CreateBucket(ctx, name, influx.WithRetention("7d"))
	if !errors.Is(err, influx.ErrAdminFailed) {
		t.Errorf("CreateBucket() duplicate error = %v, want ErrAdminFailed", err)
	}

	// EnsureBucket tolerates the duplicate.
	if err := client.EnsureBucket(ctx, name); err != nil {
		t.Errorf("EnsureBucket() duplicate error = %v", err)
	}
}

func TestBuckets(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	names, err := client.Buckets(ctx)
	if err != nil {
		t.Fatalf("Buckets() error = %v", err)
	}

	found := false
	for _, name := range names {
		if name == "metrics" {
			found = true
		}
	}
	if !found {
		t.Errorf("Buckets() = %v, want list containing %q", names, "metrics")
	}
}

// =============================================================================
// Health Tests
// =============================================================================

func TestHealthCheck(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.HealthCheck(ctx); err != nil {
		t.Errorf("HealthCheck() error = %v", err)
	}
}

func TestHealthCheck_Cancelled(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}
	defer client.Close()

	// Create already cancelled context
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := client.HealthCheck(ctx); err == nil {
		t.Error("HealthCheck() should return error for cancelled context")
	}
}

func TestClose(t *testing.T) {
	skipIfNoInfluxDB(t)

	client, err := influx.Connect(testConfig())
	if err != nil {
		t.Fatalf("Connect() error = %v", err)
	}

	if err := client.Close(); err != nil {
		t.Errorf("Close() error = %v", err)
	}
	if client.IsConnected() {
		t.Error("IsConnected() = true after Close()")
	}
}
