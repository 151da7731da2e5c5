// Package logging assembles structured slog loggers and formatting helpers used
// across camwatch.
//
// It owns the console and JSON handlers, centralizes level and output
// plumbing, and exposes attribute helpers so slot code tags every line with
// the slot index and device. The package also provides a no-op logger for
// tests and wiring code that cannot fail, a fan-out handler, and log
// retention.
package logging
