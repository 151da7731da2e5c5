// Package logs reads the daemon log file for `camwatch logs`.
//
// Tail returns the last N lines or everything after a byte offset, optionally
// waiting for new lines, and can keep only lines about one slot. Memory use
// is bounded by the requested line count.
package logs
