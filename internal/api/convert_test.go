package api

import (
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/health"
	"camwatch/internal/perf"
)

func TestStateLabel(t *testing.T) {
	cases := map[string]string{
		"ACTIVE":           "Active",
		"COOLING_DOWN":     "Cooling Down",
		"FAILED_PERMANENT": "Unavailable",
		"":                 "Unknown",
	}
	for state, want := range cases {
		if got := StateLabel(state); got != want {
			t.Fatalf("StateLabel(%q) = %q, want %q", state, got, want)
		}
	}
}

func TestFromSnapshot(t *testing.T) {
	last := time.Date(2026, 3, 1, 12, 0, 0, 250_000_000, time.UTC)
	snap := health.Snapshot{
		TakenAt: last.Add(time.Second),
		RunID:   "run-7",
		Slots: []health.SlotStatus{
			{Index: 0, State: "ACTIVE", Device: "/dev/video0", LastFrameAt: &last, Frames: 42},
			{Index: 1, State: "FAILED_PERMANENT", Device: "/dev/video1", FailureReason: "restart_limit"},
		},
		Perf: perf.State{
			CaptureFPS: 22.5,
			UIFPS:      18,
			LastSample: &perf.Sample{Load: 0.9},
		},
	}
	view := FromSnapshot(snap)
	if view.RunID != "run-7" || len(view.Slots) != 2 {
		t.Fatalf("unexpected view %+v", view)
	}
	if view.Slots[0].LastFrameAt != "2026-03-01T12:00:00.250Z" {
		t.Fatalf("lastFrameAt = %q", view.Slots[0].LastFrameAt)
	}
	if view.Slots[1].Label != "Unavailable" {
		t.Fatalf("label = %q", view.Slots[1].Label)
	}
	if view.Perf.Load == nil || *view.Perf.Load != 0.9 {
		t.Fatal("load not carried over")
	}
	if view.Perf.TempC != nil {
		t.Fatal("temperature reported without a sensor")
	}
	if view.Counts["ACTIVE"] != 1 || view.Counts["FAILED_PERMANENT"] != 1 {
		t.Fatalf("counts = %v", view.Counts)
	}
}

func TestFromDeviceInfo(t *testing.T) {
	infos := []device.Info{
		{ID: "/dev/video0", Accessible: true},
		{ID: "/dev/video2", Accessible: false, Problem: "permission denied"},
	}
	snap := health.Snapshot{Slots: []health.SlotStatus{{Index: 1, State: "ACTIVE", Device: "/dev/video0"}}}
	views := FromDeviceInfo(infos, snap)
	if len(views) != 2 {
		t.Fatalf("got %d views", len(views))
	}
	if views[0].Slot == nil || *views[0].Slot != 1 {
		t.Fatal("bound slot missing for /dev/video0")
	}
	if views[1].Slot != nil || views[1].Problem != "permission denied" {
		t.Fatalf("unexpected view %+v", views[1])
	}
}
