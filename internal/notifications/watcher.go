package notifications

import (
	"context"
	"errors"
	"strconv"
	"sync"

	"camwatch/internal/health"
)

const (
	stateActive = "ACTIVE"
	stateFailed = "FAILED_PERMANENT"
)

type slotMemo struct {
	state  string
	device string
	failed bool
}

// SlotWatcher is a health.Emitter that turns snapshot-to-snapshot slot
// transitions into notifications. A slot that gave up is reported once, and
// again only after it recovered or lost its camera.
type SlotWatcher struct {
	svc Service

	mu    sync.Mutex
	slots map[int]slotMemo
}

// NewSlotWatcher returns a watcher publishing through svc.
func NewSlotWatcher(svc Service) *SlotWatcher {
	return &SlotWatcher{svc: svc, slots: make(map[int]slotMemo)}
}

// Emit compares snap with the previous snapshot and publishes the changes.
func (w *SlotWatcher) Emit(ctx context.Context, snap health.Snapshot) error {
	type pending struct {
		event   Event
		payload Payload
	}
	var out []pending

	w.mu.Lock()
	for _, slot := range snap.Slots {
		prev, seen := w.slots[slot.Index]
		next := slotMemo{state: slot.State, device: slot.Device, failed: prev.failed}
		payload := Payload{"slot": strconv.Itoa(slot.Index), "device": slot.Device}

		switch {
		case slot.State == stateFailed && !prev.failed:
			payload["reason"] = slot.FailureReason
			payload["error"] = slot.LastError
			out = append(out, pending{EventSlotUnavailable, payload})
			next.failed = true
		case slot.State == stateActive && prev.failed:
			out = append(out, pending{EventSlotRecovered, payload})
			next.failed = false
		case seen && prev.device != "" && slot.Device == "":
			payload["device"] = prev.device
			out = append(out, pending{EventDeviceLost, payload})
			next.failed = false
		}
		w.slots[slot.Index] = next
	}
	w.mu.Unlock()

	var errs []error
	for _, p := range out {
		if err := w.svc.Publish(ctx, p.event, p.payload); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
