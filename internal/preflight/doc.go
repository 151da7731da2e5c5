// Package preflight checks that the host can run camwatch: the capture
// binary, holder lookup tools, writable state directories, readable device
// nodes and system metrics. `camwatch status` and `camwatch config validate`
// print the results.
package preflight
