// Package health defines the supervisor health snapshot and the sinks it is
// emitted to: the structured log, the SQLite history store and an optional
// MQTT topic.
package health
