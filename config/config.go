package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
)

// ErrInvalid indicates the configuration file is missing, malformed, or
// fails validation. Check with errors.Is().
var ErrInvalid = errors.New("config: invalid configuration")

// Config is the root configuration structure for fast-database-clients.
// It is loaded from a YAML or TOML file and can be overridden by
// environment variables.
type Config struct {
	Influx  InfluxConfig  `yaml:"influx" toml:"influx"`
	MQTT    MQTTConfig    `yaml:"mqtt" toml:"mqtt"`
	Journal JournalConfig `yaml:"journal" toml:"journal"`
	Logging LoggingConfig `yaml:"logging" toml:"logging"`
}

// InfluxConfig contains InfluxDB connection settings.
//
// URL, Token, Org and Bucket are required. The remaining fields are
// passed straight through to the underlying SDK client at construction.
type InfluxConfig struct {
	URL    string `yaml:"url" toml:"url"`
	Token  string `yaml:"token" toml:"token"`
	Org    string `yaml:"org" toml:"org"`
	Bucket string `yaml:"bucket" toml:"bucket"`

	// Timeout is the HTTP request timeout in seconds.
	Timeout int `yaml:"timeout" toml:"timeout"`

	// BatchSize is the maximum number of points per batch on the
	// non-blocking write path.
	BatchSize int `yaml:"batch_size" toml:"batch_size"`

	// FlushInterval is how often pending batches are flushed, in seconds.
	FlushInterval int `yaml:"flush_interval" toml:"flush_interval"`

	// Precision is the write precision: "s", "ms", "us" or "ns".
	Precision string `yaml:"precision" toml:"precision"`

	// EnableGzip enables gzip compression on write requests.
	EnableGzip bool `yaml:"enable_gzip" toml:"enable_gzip"`

	// DefaultTags are added to every point written by the client.
	DefaultTags map[string]string `yaml:"default_tags" toml:"default_tags"`
}

// MQTTConfig contains settings for the MQTT metric ingest.
type MQTTConfig struct {
	Enabled  bool   `yaml:"enabled" toml:"enabled"`
	Host     string `yaml:"host" toml:"host"`
	Port     int    `yaml:"port" toml:"port"`
	TLS      bool   `yaml:"tls" toml:"tls"`
	ClientID string `yaml:"client_id" toml:"client_id"`
	Username string `yaml:"username" toml:"username"`
	Password string `yaml:"password" toml:"password"`
	QoS      int    `yaml:"qos" toml:"qos"`

	// Topics are the MQTT topic filters to subscribe to. Payloads must be
	// JSON objects; each becomes one metric.
	Topics []string `yaml:"topics" toml:"topics"`

	// Measurement overrides the measurement name for ingested metrics.
	// When empty, the last topic segment is used.
	Measurement string `yaml:"measurement" toml:"measurement"`

	Reconnect MQTTReconnectConfig `yaml:"reconnect" toml:"reconnect"`
}

// MQTTReconnectConfig contains MQTT reconnection settings (seconds).
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay" toml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay" toml:"max_delay"`
}

// JournalConfig contains dead-letter journal settings.
type JournalConfig struct {
	Enabled bool   `yaml:"enabled" toml:"enabled"`
	Path    string `yaml:"path" toml:"path"`

	// ReplayInterval is how often the bridge retries journalled batches,
	// in seconds.
	ReplayInterval int `yaml:"replay_interval" toml:"replay_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level" toml:"level"`
	Format string `yaml:"format" toml:"format"`
	Output string `yaml:"output" toml:"output"`
}

// Load reads configuration from a YAML or TOML file (selected by
// extension) and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. File values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern FASTDB_SECTION_KEY,
// e.g. FASTDB_INFLUX_TOKEN, FASTDB_MQTT_HOST.
//
// All failures (unreadable file, parse error, validation error) wrap
// ErrInvalid.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading config file: %w", ErrInvalid, err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalid, err)
		}
	default:
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("%w: parsing config file: %w", ErrInvalid, err)
		}
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Influx: InfluxConfig{
			Timeout:       10,
			BatchSize:     5000,
			FlushInterval: 1,
			Precision:     "ns",
		},
		MQTT: MQTTConfig{
			Host:     "localhost",
			Port:     1883,
			ClientID: "fastdb-bridge",
			QoS:      1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Journal: JournalConfig{
			Path:           "./data/deadletter.db",
			ReplayInterval: 60,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the
// configuration. Variables follow the pattern FASTDB_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	// Influx
	if v := os.Getenv("FASTDB_INFLUX_URL"); v != "" {
		cfg.Influx.URL = v
	}
	if v := os.Getenv("FASTDB_INFLUX_TOKEN"); v != "" {
		cfg.Influx.Token = v
	}
	if v := os.Getenv("FASTDB_INFLUX_ORG"); v != "" {
		cfg.Influx.Org = v
	}
	if v := os.Getenv("FASTDB_INFLUX_BUCKET"); v != "" {
		cfg.Influx.Bucket = v
	}

	// MQTT
	if v := os.Getenv("FASTDB_MQTT_HOST"); v != "" {
		cfg.MQTT.Host = v
	}
	if v := os.Getenv("FASTDB_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Username = v
	}
	if v := os.Getenv("FASTDB_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Password = v
	}

	// Journal
	if v := os.Getenv("FASTDB_JOURNAL_PATH"); v != "" {
		cfg.Journal.Path = v
	}
}

// validPrecisions are the write precisions accepted by the InfluxDB API.
var validPrecisions = map[string]time.Duration{
	"s":  time.Second,
	"ms": time.Millisecond,
	"us": time.Microsecond,
	"ns": time.Nanosecond,
}

// Validate checks the configuration for errors.
//
// All problems are collected and reported together; the returned error
// wraps ErrInvalid.
func (c *Config) Validate() error {
	var errs []string

	// Influx validation - all connection identity fields are required
	if c.Influx.URL == "" {
		errs = append(errs, "influx.url is required")
	}
	if c.Influx.Token == "" {
		errs = append(errs, "influx.token is required (set FASTDB_INFLUX_TOKEN environment variable)")
	}
	if c.Influx.Org == "" {
		errs = append(errs, "influx.org is required")
	}
	if c.Influx.Bucket == "" {
		errs = append(errs, "influx.bucket is required")
	}
	if _, ok := validPrecisions[c.Influx.Precision]; !ok {
		errs = append(errs, "influx.precision must be one of: s, ms, us, ns")
	}

	// MQTT validation only matters when the ingest is enabled
	if c.MQTT.Enabled {
		if c.MQTT.Port < 1 || c.MQTT.Port > 65535 {
			errs = append(errs, "mqtt.port must be between 1 and 65535")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			errs = append(errs, "mqtt.qos must be 0, 1, or 2")
		}
		if len(c.MQTT.Topics) == 0 {
			errs = append(errs, "mqtt.topics must list at least one topic filter")
		}
	}

	// Journal validation
	if c.Journal.Enabled && c.Journal.Path == "" {
		errs = append(errs, "journal.path is required when the journal is enabled")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(errs, "; "))
	}

	return nil
}

// PrecisionDuration returns the write precision as a time.Duration for
// the SDK's options. Defaults to nanoseconds if unset.
func (c *InfluxConfig) PrecisionDuration() time.Duration {
	if d, ok := validPrecisions[c.Precision]; ok {
		return d
	}
	return time.Nanosecond
}

// RequestTimeout returns the HTTP request timeout as a Duration.
func (c *InfluxConfig) RequestTimeout() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// FlushIntervalDuration returns the batch flush interval as a Duration.
func (c *InfluxConfig) FlushIntervalDuration() time.Duration {
	return time.Duration(c.FlushInterval) * time.Second
}

// ReplayIntervalDuration returns the journal replay interval as a Duration.
func (c *JournalConfig) ReplayIntervalDuration() time.Duration {
	return time.Duration(c.ReplayInterval) * time.Second
}
