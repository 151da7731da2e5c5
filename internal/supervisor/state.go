package supervisor

import (
	"context"

	"camwatch/internal/device"
)

// State is a slot lifecycle state.
type State string

const (
	StateEmpty           State = "EMPTY"
	StateOpening         State = "OPENING"
	StateActive          State = "ACTIVE"
	StateStale           State = "STALE"
	StateCoolingDown     State = "COOLING_DOWN"
	StateFailedPermanent State = "FAILED_PERMANENT"
)

// FailureReason records why a slot last left service.
type FailureReason string

const (
	ReasonNone         FailureReason = ""
	ReasonOpenFailed   FailureReason = "open_failed"
	ReasonStale        FailureReason = "stale"
	ReasonRestartLimit FailureReason = "restart_limit"
)

// FPSSource supplies the current capture FPS target.
type FPSSource interface {
	CaptureFPS() float64
}

// FrameSink receives every accepted frame.
type FrameSink interface {
	EmitFrame(slot int, generation uint64, frame device.Frame)
}

// HolderKiller frees a device node held by another process.
type HolderKiller interface {
	KillHolders(ctx context.Context, id device.ID) error
}

type fixedFPS float64

func (f fixedFPS) CaptureFPS() float64 { return float64(f) }

type discardSink struct{}

func (discardSink) EmitFrame(int, uint64, device.Frame) {}
