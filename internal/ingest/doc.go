// Package ingest subscribes to MQTT topics and forwards JSON payloads
// into InfluxDB through the client's asynchronous write path.
//
// Each message is expected to be a JSON object; its scalar members
// become fields, the configured measurement (or the last topic segment)
// names the series, and the full topic is attached as a tag. Payloads
// that decode to no usable fields are dropped and logged.
//
// The subscriber reconnects automatically with exponential backoff and
// restores its subscriptions on every reconnect.
package ingest
