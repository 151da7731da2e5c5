// Package supervisor owns the camera slots and the periodic loops around
// them.
//
// Each Slot runs a small state machine (EMPTY, OPENING, ACTIVE, STALE,
// COOLING_DOWN, FAILED_PERMANENT) and owns at most one capture worker. Slot
// transitions are serialized by the slot's own mutex; workers never touch the
// state, they only deliver frames tagged with their generation, and the slot
// drops frames from any generation it has retired.
//
// The Supervisor wires the slots to the Rescanner (device reconciliation),
// the perf.Controller (shared FPS targets) and the Reporter (health
// snapshots). Failures in one slot or one loop never propagate to another.
package supervisor
