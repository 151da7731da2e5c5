// Package daemon hosts the long-running camera supervision process.
//
// A Daemon owns the single-instance lock, the supervisor and its adapters,
// the optional hotplug watcher, the health sinks (log, SQLite history, MQTT)
// and the optional HTTP API. The IPC server and CLI drive it through Start,
// Stop, Status, Rescan and ResetSlot.
package daemon
