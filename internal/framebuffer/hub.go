// Package framebuffer keeps the latest accepted frame of every slot for
// readers such as the HTTP API. New frames overwrite old ones; readers never
// slow down capture.
package framebuffer

import (
	"context"
	"errors"
	"sync"
	"time"

	"camwatch/internal/device"
)

// ErrNoFrame is returned when a slot has not produced a frame yet.
var ErrNoFrame = errors.New("no frame available")

// Latest is the newest frame of one slot.
type Latest struct {
	Slot       int
	Generation uint64
	Seq        uint64
	Frame      device.Frame
	ReceivedAt time.Time
}

type slotBuffer struct {
	latest      Latest
	has         bool
	overwritten uint64
	notify      chan struct{}
}

// Hub stores the latest frame per slot and wakes waiting readers.
type Hub struct {
	mu    sync.Mutex
	slots map[int]*slotBuffer
	now   func() time.Time
}

// NewHub returns an empty hub.
func NewHub() *Hub {
	return &Hub{slots: make(map[int]*slotBuffer), now: time.Now}
}

func (h *Hub) bufferLocked(slot int) *slotBuffer {
	buf, ok := h.slots[slot]
	if !ok {
		buf = &slotBuffer{notify: make(chan struct{})}
		h.slots[slot] = buf
	}
	return buf
}

// EmitFrame replaces the slot's latest frame. It never blocks on readers.
func (h *Hub) EmitFrame(slot int, generation uint64, frame device.Frame) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf := h.bufferLocked(slot)
	if buf.has {
		buf.overwritten++
	}
	buf.latest = Latest{
		Slot:       slot,
		Generation: generation,
		Seq:        buf.latest.Seq + 1,
		Frame:      frame,
		ReceivedAt: h.now(),
	}
	buf.has = true
	close(buf.notify)
	buf.notify = make(chan struct{})
}

// Latest returns the newest frame for slot.
func (h *Hub) Latest(slot int) (Latest, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	buf, ok := h.slots[slot]
	if !ok || !buf.has {
		return Latest{}, ErrNoFrame
	}
	return buf.latest, nil
}

// Next waits for a frame of slot newer than afterSeq.
func (h *Hub) Next(ctx context.Context, slot int, afterSeq uint64) (Latest, error) {
	for {
		h.mu.Lock()
		buf := h.bufferLocked(slot)
		if buf.has && buf.latest.Seq > afterSeq {
			latest := buf.latest
			h.mu.Unlock()
			return latest, nil
		}
		wait := buf.notify
		h.mu.Unlock()

		select {
		case <-ctx.Done():
			return Latest{}, ctx.Err()
		case <-wait:
		}
	}
}

// Clear drops the stored frame for slot, for example when its camera is
// released.
func (h *Hub) Clear(slot int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if buf, ok := h.slots[slot]; ok {
		buf.has = false
	}
}

// Overwritten reports how many frames of slot were replaced before any
// reader could have seen them.
func (h *Hub) Overwritten(slot int) uint64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	if buf, ok := h.slots[slot]; ok {
		return buf.overwritten
	}
	return 0
}
