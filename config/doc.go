// Package config loads and validates configuration for fast-database-clients.
//
// Configuration is read from a YAML or TOML file (the format is selected
// by file extension) and merged over hardcoded defaults. A small set of
// environment variables (FASTDB_*) override file values, which keeps
// secrets like the InfluxDB token out of checked-in config files.
//
// # Usage
//
//	cfg, err := config.Load("config.yaml")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	client, err := influx.Connect(cfg.Influx)
//
// # Validation
//
// Load validates after merging: the InfluxDB url, token, org and bucket
// are required, and section-specific checks run for whichever optional
// components are enabled. All validation failures are reported in a
// single error wrapping ErrInvalid.
package config
