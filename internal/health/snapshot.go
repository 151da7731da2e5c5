package health

import (
	"context"
	"errors"
	"sort"
	"strconv"
	"strings"
	"time"

	"camwatch/internal/perf"
)

// SlotStatus is the health view of one slot.
type SlotStatus struct {
	Index               int        `json:"index"`
	State               string     `json:"state"`
	Device              string     `json:"device,omitempty"`
	Generation          uint64     `json:"generation"`
	LastFrameAt         *time.Time `json:"last_frame_at,omitempty"`
	RestartsInWindow    int        `json:"restarts_in_window"`
	RestartsTotal       uint64     `json:"restarts_total"`
	CooldownRemainingMS int64      `json:"cooldown_remaining_ms,omitempty"`
	FailureReason       string     `json:"failure_reason,omitempty"`
	LastError           string     `json:"last_error,omitempty"`
	Frames              uint64     `json:"frames"`
	DiscardedFrames     uint64     `json:"discarded_frames"`
	ReadFailures        uint64     `json:"read_failures"`
}

// Snapshot is one point-in-time report of every slot and the FPS controller.
type Snapshot struct {
	TakenAt time.Time    `json:"taken_at"`
	RunID   string       `json:"run_id,omitempty"`
	Slots   []SlotStatus `json:"slots"`
	Perf    perf.State   `json:"perf"`
}

// StateCounts returns how many slots are in each state.
func (s Snapshot) StateCounts() map[string]int {
	counts := make(map[string]int, len(s.Slots))
	for _, slot := range s.Slots {
		counts[slot.State]++
	}
	return counts
}

// Summary renders state counts as "ACTIVE=2 EMPTY=1" in stable order.
func (s Snapshot) Summary() string {
	counts := s.StateCounts()
	keys := make([]string, 0, len(counts))
	for k := range counts {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(strconv.Itoa(counts[k]))
	}
	return b.String()
}

// Emitter publishes a snapshot. Emit must respect ctx cancellation.
type Emitter interface {
	Emit(ctx context.Context, snap Snapshot) error
}

// EmitterFunc adapts a function to Emitter.
type EmitterFunc func(ctx context.Context, snap Snapshot) error

// Emit calls f.
func (f EmitterFunc) Emit(ctx context.Context, snap Snapshot) error { return f(ctx, snap) }

// Multi sends each snapshot to every emitter and joins their errors.
type Multi []Emitter

// Emit forwards snap to every emitter even when one fails.
func (m Multi) Emit(ctx context.Context, snap Snapshot) error {
	var errs []error
	for _, e := range m {
		if e == nil {
			continue
		}
		if err := e.Emit(ctx, snap); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
