// Package daemonctl drives the daemon process from the CLI: launching it
// detached, waiting for its socket, stopping and force-killing it, and
// collecting status with an offline fallback to stored health history.
package daemonctl
