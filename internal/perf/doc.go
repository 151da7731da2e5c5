// Package perf samples system load and temperature and runs the hysteresis
// controller that lowers capture and UI frame rates under sustained stress
// and restores them after sustained recovery.
//
// The current FPS targets live in atomic cells so capture workers can read
// them every frame without locking; only the controller loop writes them.
package perf
