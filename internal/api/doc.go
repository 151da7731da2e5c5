// Package api defines wire-format types and converters shared by the IPC
// server, the HTTP API and the CLI. It translates supervisor health snapshots
// into transport-friendly DTOs so consumers never depend on internal types.
//
// DTOs use camelCase JSON tags. Slot states are exposed twice: the raw state
// name ("COOLING_DOWN") and a display label ("Cooling Down"), with
// FAILED_PERMANENT shown to operators as "Unavailable". Timestamps use RFC3339
// with milliseconds.
package api
