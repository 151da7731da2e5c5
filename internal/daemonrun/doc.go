// Package daemonrun is the body of `camwatch daemon`: it sets up per-run log
// files, the pid file and the IPC socket, then runs the daemon until a
// termination signal arrives.
package daemonrun
