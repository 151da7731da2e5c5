// Package notifications pushes operator alerts about camera slots.
//
// The default implementation publishes to ntfy using the topic configured in
// config.toml and degrades to a no-op when no topic is set. SlotWatcher plugs
// into the health emitter chain and reports a slot that stopped retrying its
// camera, its recovery, and cameras that were unplugged from a bound slot.
package notifications
