// Package ipc exposes the daemon over JSON-RPC on a Unix socket and ships the
// matching client used by the CLI.
//
// Request and response types wrap the api package views so the CLI, the HTTP
// API and the socket protocol render the same fields.
package ipc
