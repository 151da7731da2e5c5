// Command camwatch supervises USB cameras in a fixed set of slots.
//
// `camwatch start` launches the daemon in the background; the remaining
// commands talk to it over its Unix socket. `camwatch daemon` runs the
// daemon in the foreground for service managers.
package main
