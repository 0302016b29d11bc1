// fastdb-bridge forwards metrics into InfluxDB.
//
// It connects the influx client wrapper to its supporting services: an
// optional MQTT ingest that turns JSON payloads into metrics, and an
// optional dead-letter journal that persists write batches the SDK has
// given up on so they can be replayed later.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/davidson-engineering/fast-database-clients/config"
	"github.com/davidson-engineering/fast-database-clients/influx"
	"github.com/davidson-engineering/fast-database-clients/internal/ingest"
	"github.com/davidson-engineering/fast-database-clients/internal/journal"
	"github.com/davidson-engineering/fast-database-clients/logging"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"     // Semantic version (e.g., "1.0.0")
	commit  = "unknown" // Git commit hash
	date    = "unknown" // Build date
)

// Default configuration file path
const defaultConfigPath = "configs/config.yaml"

func main() {
	// Cancel on interrupt signals (Ctrl+C, SIGTERM) for graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run is the actual application logic, separated from main for testability.
// Returning an error allows main to handle exit codes consistently.
func run(ctx context.Context) error {
	// Use default logger until config is loaded
	log := logging.Default()
	log.Info("starting fastdb-bridge",
		"version", version,
		"commit", commit,
		"build_date", date,
	)

	// Load configuration
	configPath := getConfigPath()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	log.Info("configuration loaded", "path", configPath)

	// Reinitialise logger with config settings
	log = logging.New(cfg.Logging, version)
	log.Info("logger initialised",
		"level", cfg.Logging.Level,
		"format", cfg.Logging.Format,
	)

	// Open dead-letter journal (optional)
	var deadLetters *journal.Journal
	if cfg.Journal.Enabled {
		deadLetters, err = journal.Open(ctx, cfg.Journal.Path)
		if err != nil {
			return fmt.Errorf("opening journal: %w", err)
		}
		defer func() {
			log.Info("closing journal")
			if closeErr := deadLetters.Close(); closeErr != nil {
				log.Error("error closing journal", "error", closeErr)
			}
		}()
		log.Info("journal opened", "path", cfg.Journal.Path)
	} else {
		log.Info("journal disabled")
	}

	// Connect to InfluxDB
	client, err := influx.Connect(cfg.Influx)
	if err != nil {
		return fmt.Errorf("connecting to InfluxDB: %w", err)
	}
	defer func() {
		log.Info("closing InfluxDB connection")
		if closeErr := client.Close(); closeErr != nil {
			log.Error("error closing InfluxDB", "error", closeErr)
		}
	}()
	log.Info("InfluxDB connected",
		"url", cfg.Influx.URL,
		"org", cfg.Influx.Org,
		"bucket", cfg.Influx.Bucket,
	)

	client.SetLogger(log)
	client.SetOnError(func(err error) {
		log.Error("InfluxDB write error", "error", err)
	})

	// Failed batches go to the journal instead of the SDK's retry buffer;
	// returning false tells the SDK to discard its copy.
	if deadLetters != nil {
		// Batches flushed during shutdown must still reach the journal
		// after the signal context is cancelled.
		journalCtx := context.WithoutCancel(ctx)
		client.SetOnWriteFailed(func(batch string, err error, retryAttempts uint) bool {
			log.Warn("journalling failed write batch",
				"attempts", retryAttempts,
				"error", err,
			)
			if appendErr := deadLetters.Append(journalCtx, batch, retryAttempts); appendErr != nil {
				log.Error("journalling batch failed, batch lost", "error", appendErr)
			}
			return false
		})
	}

	// Make sure the default bucket exists before accepting traffic
	if err := client.EnsureBucket(ctx, cfg.Influx.Bucket); err != nil {
		return fmt.Errorf("ensuring default bucket: %w", err)
	}

	// Drain any batches journalled during previous runs, then keep
	// retrying on a timer
	if deadLetters != nil {
		replayJournal(ctx, deadLetters, client, log)
		go replayLoop(ctx, deadLetters, client, log, cfg.Journal.ReplayIntervalDuration())
	}

	// Start MQTT ingest (optional)
	var subscriber *ingest.Ingestor
	if cfg.MQTT.Enabled {
		subscriber, err = ingest.Start(cfg.MQTT, client)
		if err != nil {
			return fmt.Errorf("starting MQTT ingest: %w", err)
		}
		defer func() {
			log.Info("stopping MQTT ingest")
			if closeErr := subscriber.Close(); closeErr != nil {
				log.Error("error closing MQTT ingest", "error", closeErr)
			}
		}()
		subscriber.SetLogger(log)
		log.Info("MQTT ingest started",
			"broker", fmt.Sprintf("%s:%d", cfg.MQTT.Host, cfg.MQTT.Port),
			"topics", cfg.MQTT.Topics,
		)
	} else {
		log.Info("MQTT ingest disabled")
	}

	// Route the bridge's own operational log into InfluxDB as well, so
	// the database records its feeder's health alongside the metrics.
	outcomeLog := slog.New(client.LoggingHandler(&influx.LogHandlerOptions{
		Level: slog.LevelInfo,
		OnError: func(err error) {
			log.Warn("log forwarding failed", "error", err)
		},
	}))
	outcomeLog.Info(logging.ActionOutcome("bridge startup", logging.OutcomeSuccess))

	// Verify all connections are healthy
	if err := healthCheck(ctx, client, deadLetters, subscriber); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	log.Info("all health checks passed")

	log.Info("initialisation complete, waiting for shutdown signal")

	// Wait for shutdown signal
	<-ctx.Done()

	log.Info("shutdown signal received, cleaning up")

	// Deferred Close() calls will run in reverse order:
	// 1. MQTT ingest (if enabled)
	// 2. InfluxDB
	// 3. Journal (if enabled)

	log.Info("fastdb-bridge stopped")
	return nil
}

// getConfigPath returns the configuration file path.
// Uses FASTDB_CONFIG environment variable if set, otherwise default.
func getConfigPath() string {
	if path := os.Getenv("FASTDB_CONFIG"); path != "" {
		return path
	}
	return defaultConfigPath
}

// replayJournal pushes journalled batches back through the client's
// synchronous write path. Replay stops at the first failure; remaining
// entries wait for the next tick.
func replayJournal(ctx context.Context, deadLetters *journal.Journal, client *influx.Client, log *logging.Logger) {
	n, err := deadLetters.Replay(ctx, func(batch string) error {
		return client.WriteRecord(ctx, client.DefaultBucket(), batch)
	})
	if err != nil {
		log.Warn("journal replay interrupted", "replayed", n, "error", err)
		return
	}
	if n > 0 {
		log.Info("journal replayed", "entries", n)
	}
}

// replayLoop retries journalled batches until shutdown.
func replayLoop(ctx context.Context, deadLetters *journal.Journal, client *influx.Client, log *logging.Logger, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			replayJournal(ctx, deadLetters, client, log)
		}
	}
}

// healthCheck verifies all connections are healthy.
// The journal and ingest may be nil when disabled.
func healthCheck(ctx context.Context, client *influx.Client, deadLetters *journal.Journal, subscriber *ingest.Ingestor) error {
	if err := client.HealthCheck(ctx); err != nil {
		return fmt.Errorf("influxdb: %w", err)
	}

	if deadLetters != nil {
		if err := deadLetters.HealthCheck(ctx); err != nil {
			return fmt.Errorf("journal: %w", err)
		}
	}

	if subscriber != nil {
		if err := subscriber.HealthCheck(ctx); err != nil {
			return fmt.Errorf("mqtt: %w", err)
		}
	}

	return nil
}
