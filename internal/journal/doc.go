// Package journal persists write batches the InfluxDB SDK has given up
// on, so the bridge daemon can replay them once the server is reachable
// again.
//
// Entries are raw line-protocol payloads, exactly as handed to the
// client's write-failed callback, stored in a single sqlite table.
// Replay deletes entries only after a successful re-write, so a crash
// mid-replay never loses data (at-least-once delivery; InfluxDB writes
// are idempotent for identical points).
package journal
