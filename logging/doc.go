// Package logging provides structured logging for fast-database-clients.
//
// It wraps the standard library's log/slog with configuration-driven
// setup (level, format, destination) and default service fields, plus a
// small helper for action→outcome messages used on write paths.
//
// # Usage
//
//	log := logging.New(cfg.Logging, version)
//	log.Info("client connected", "url", cfg.Influx.URL)
//
// Application log records can also be routed into InfluxDB itself via
// the influx package's LogHandler, which implements slog.Handler.
package logging
