package api

import (
	"strings"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"camwatch/internal/device"
	"camwatch/internal/health"
)

var titleCaser = cases.Title(language.English)

// StateLabel renders a slot state for people. FAILED_PERMANENT is shown as
// "Unavailable".
func StateLabel(state string) string {
	if state == "FAILED_PERMANENT" {
		return "Unavailable"
	}
	if strings.TrimSpace(state) == "" {
		return "Unknown"
	}
	return titleCaser.String(strings.ReplaceAll(strings.ToLower(state), "_", " "))
}

// FromSlotStatus converts one slot.
func FromSlotStatus(s health.SlotStatus) SlotView {
	view := SlotView{
		Index:               s.Index,
		State:               s.State,
		Label:               StateLabel(s.State),
		Device:              s.Device,
		Generation:          s.Generation,
		RestartsInWindow:    s.RestartsInWindow,
		RestartsTotal:       s.RestartsTotal,
		CooldownRemainingMS: s.CooldownRemainingMS,
		FailureReason:       s.FailureReason,
		LastError:           s.LastError,
		Frames:              s.Frames,
		DiscardedFrames:     s.DiscardedFrames,
		ReadFailures:        s.ReadFailures,
	}
	if s.LastFrameAt != nil {
		view.LastFrameAt = formatTime(*s.LastFrameAt)
	}
	return view
}

// FromSnapshot converts a full health snapshot.
func FromSnapshot(snap health.Snapshot) HealthView {
	view := HealthView{
		TakenAt: formatTime(snap.TakenAt),
		RunID:   snap.RunID,
		Slots:   make([]SlotView, 0, len(snap.Slots)),
		Counts:  snap.StateCounts(),
		Perf: PerfView{
			CaptureFPS:    snap.Perf.CaptureFPS,
			UIFPS:         snap.Perf.UIFPS,
			Dynamic:       snap.Perf.Dynamic,
			Stressed:      snap.Perf.Stressed,
			StressStreak:  snap.Perf.StressStreak,
			RecoverStreak: snap.Perf.RecoverStreak,
			StepsDown:     snap.Perf.StepsDown,
			StepsUp:       snap.Perf.StepsUp,
		},
	}
	if sample := snap.Perf.LastSample; sample != nil {
		load := sample.Load
		view.Perf.Load = &load
		if sample.HasTemp {
			temp := sample.TempC
			view.Perf.TempC = &temp
		}
	}
	for _, slot := range snap.Slots {
		view.Slots = append(view.Slots, FromSlotStatus(slot))
	}
	return view
}

// FromDeviceInfo converts enumerated devices, marking the slot each one is
// bound to.
func FromDeviceInfo(infos []device.Info, snap health.Snapshot) []DeviceView {
	bound := make(map[string]int, len(snap.Slots))
	for _, slot := range snap.Slots {
		if slot.Device != "" {
			bound[slot.Device] = slot.Index
		}
	}
	out := make([]DeviceView, 0, len(infos))
	for _, info := range infos {
		view := DeviceView{
			ID:         string(info.ID),
			Accessible: info.Accessible,
			Problem:    info.Problem,
		}
		if idx, ok := bound[string(info.ID)]; ok {
			view.Slot = &idx
		}
		out = append(out, view)
	}
	return out
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(dateTimeFormat)
}
