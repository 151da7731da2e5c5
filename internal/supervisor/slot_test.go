package supervisor

import (
	"errors"
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/framebuffer"
	"camwatch/internal/logging"
)

const cam0 = device.ID("/dev/video0")

func TestSlotBindOnlyWhenEmpty(t *testing.T) {
	clock := newFakeClock()
	slot := newTestSlot(t, 0, testSettings(), newFakeOpener(), clock)

	if !slot.Bind(cam0) {
		t.Fatal("Bind on EMPTY slot failed")
	}
	if slot.Bind("/dev/video1") {
		t.Fatal("Bind on OPENING slot succeeded")
	}
	state, id := slot.State()
	if state != StateOpening || id != cam0 {
		t.Fatalf("state = %s/%s, want OPENING/%s", state, id, cam0)
	}
	if got := slot.Generation(); got != 1 {
		t.Fatalf("generation = %d, want 1", got)
	}
}

func TestSlotFirstFrameMakesActive(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	slot := newTestSlot(t, 0, testSettings(), opener, clock)
	slot.Bind(cam0)

	opener.feed <- device.Frame{Data: []byte{1}}
	waitFor(t, "first frame", func() bool { return slot.Status(clock.Now()).Frames == 1 })
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateActive {
		t.Fatalf("state = %s, want ACTIVE", state)
	}
	sink := slot.sink.(*recordingSink)
	sink.mu.Lock()
	defer sink.mu.Unlock()
	if sink.frames[0] != 1 {
		t.Fatalf("sink frames = %d, want 1", sink.frames[0])
	}
}

func TestSlotStaleCoolsDownThenRestarts(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	slot := newTestSlot(t, 0, testSettings(), opener, clock)
	slot.Bind(cam0)

	opener.feed <- device.Frame{Data: []byte{1}}
	waitFor(t, "first frame", func() bool { return slot.Status(clock.Now()).Frames == 1 })
	slot.Evaluate(clock.Now())

	clock.Advance(1400 * time.Millisecond)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateActive {
		t.Fatalf("state before timeout = %s, want ACTIVE", state)
	}

	clock.Advance(200 * time.Millisecond)
	slot.Evaluate(clock.Now())
	status := slot.Status(clock.Now())
	if status.State != string(StateCoolingDown) {
		t.Fatalf("state after timeout = %s, want COOLING_DOWN", status.State)
	}
	if status.FailureReason != string(ReasonStale) {
		t.Fatalf("failure reason = %q", status.FailureReason)
	}
	// max(failed_camera_cooldown, restart_cooldown)
	if status.CooldownRemainingMS != 30000 {
		t.Fatalf("cooldown remaining = %dms, want 30000", status.CooldownRemainingMS)
	}
	if opener.closedCount() != 1 {
		t.Fatalf("closed sources = %d, want 1", opener.closedCount())
	}

	clock.Advance(29 * time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateCoolingDown {
		t.Fatalf("state before cooldown expiry = %s", state)
	}

	clock.Advance(time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateOpening {
		t.Fatalf("state after cooldown = %s, want OPENING", state)
	}
	if got := slot.Generation(); got != 2 {
		t.Fatalf("generation = %d, want 2", got)
	}
	if opener.openCount(cam0) != 2 {
		t.Fatalf("opens = %d, want 2", opener.openCount(cam0))
	}
}

func TestSlotOpeningWithoutFramesGoesStale(t *testing.T) {
	clock := newFakeClock()
	slot := newTestSlot(t, 0, testSettings(), newFakeOpener(), clock)
	slot.Bind(cam0)

	clock.Advance(time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateOpening {
		t.Fatalf("state = %s, want OPENING", state)
	}
	clock.Advance(time.Second)
	slot.Evaluate(clock.Now())
	status := slot.Status(clock.Now())
	if status.State != string(StateCoolingDown) || status.FailureReason != string(ReasonStale) {
		t.Fatalf("status = %s/%s, want COOLING_DOWN/stale", status.State, status.FailureReason)
	}
}

func TestSlotDiscardsRetiredGeneration(t *testing.T) {
	clock := newFakeClock()
	slot := newTestSlot(t, 0, testSettings(), newFakeOpener(), clock)
	slot.Bind(cam0)

	clock.Advance(2 * time.Second)
	slot.Evaluate(clock.Now())
	clock.Advance(30 * time.Second)
	slot.Evaluate(clock.Now())
	if got := slot.Generation(); got != 2 {
		t.Fatalf("generation = %d, want 2", got)
	}

	if slot.deliver(1, device.Frame{Data: []byte{1}}) {
		t.Fatal("frame from generation 1 accepted")
	}
	if !slot.deliver(2, device.Frame{Data: []byte{1}}) {
		t.Fatal("frame from current generation rejected")
	}
	status := slot.Status(clock.Now())
	if status.DiscardedFrames != 1 || status.Frames != 1 {
		t.Fatalf("frames = %d discarded = %d, want 1/1", status.Frames, status.DiscardedFrames)
	}
}

func TestSlotOpenFailureCoolsDown(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	slot := newTestSlot(t, 0, testSettings(), opener, clock)
	slot.Bind(cam0)

	waitForState(t, slot, clock, StateCoolingDown)
	status := slot.Status(clock.Now())
	if status.FailureReason != string(ReasonOpenFailed) {
		t.Fatalf("failure reason = %q", status.FailureReason)
	}
	if status.LastError == "" {
		t.Fatal("expected the open error in status")
	}
	if status.RestartsInWindow != 1 {
		t.Fatalf("restarts in window = %d, want 1", status.RestartsInWindow)
	}
}

func TestSlotByCauseCooldown(t *testing.T) {
	settings := testSettings()
	settings.CooldownPolicy = "by_cause"

	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	failing := newTestSlot(t, 0, settings, opener, clock)
	failing.Bind(cam0)
	waitForState(t, failing, clock, StateCoolingDown)
	if got := failing.Status(clock.Now()).CooldownRemainingMS; got != 30000 {
		t.Fatalf("open failure cooldown = %dms, want 30000", got)
	}

	stale := newTestSlot(t, 1, settings, newFakeOpener(), clock)
	stale.Bind("/dev/video1")
	clock.Advance(2 * time.Second)
	stale.Evaluate(clock.Now())
	if got := stale.Status(clock.Now()).CooldownRemainingMS; got != 5000 {
		t.Fatalf("stale cooldown = %dms, want 5000", got)
	}
}

func TestSlotRestartLimitFailsPermanently(t *testing.T) {
	settings := testSettings()
	settings.FailedCameraCooldown = time.Second
	settings.RestartCooldown = time.Second
	settings.KillHolders = true

	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	slot := newTestSlot(t, 0, settings, opener, clock)
	slot.Bind(cam0)

	for i := 0; i < 3; i++ {
		waitForState(t, slot, clock, StateCoolingDown)
		clock.Advance(time.Second)
		if got := slot.Evaluate(clock.Now()); got != "" {
			t.Fatalf("restart %d returned kill target %q", i+1, got)
		}
		if state, _ := slot.State(); state != StateOpening {
			t.Fatalf("restart %d: state = %s, want OPENING", i+1, state)
		}
	}

	waitForState(t, slot, clock, StateCoolingDown)
	clock.Advance(time.Second)
	if got := slot.Evaluate(clock.Now()); got != cam0 {
		t.Fatalf("kill target = %q, want %q", got, cam0)
	}
	status := slot.Status(clock.Now())
	if status.State != string(StateFailedPermanent) {
		t.Fatalf("state = %s, want FAILED_PERMANENT", status.State)
	}
	if status.FailureReason != string(ReasonRestartLimit) {
		t.Fatalf("failure reason = %q", status.FailureReason)
	}
	if status.RestartsTotal != 3 {
		t.Fatalf("restarts total = %d, want 3", status.RestartsTotal)
	}
	if got := opener.openCount(cam0); got != 4 {
		t.Fatalf("opens = %d, want 4", got)
	}
	if got := slot.Evaluate(clock.Now()); got != "" {
		t.Fatalf("kill target returned twice: %q", got)
	}

	if err := slot.Reset(); err != nil {
		t.Fatalf("Reset: %v", err)
	}
	if state, id := slot.State(); state != StateEmpty || id != "" {
		t.Fatalf("after reset state = %s/%q", state, id)
	}
	if err := slot.Reset(); err == nil {
		t.Fatal("Reset on EMPTY slot succeeded")
	}
}

func TestSlotRestartAdmittedAfterWindowElapses(t *testing.T) {
	settings := testSettings()
	settings.FailedCameraCooldown = time.Second
	settings.RestartCooldown = time.Second
	settings.MaxRestarts = 1
	settings.RestartWindow = 10 * time.Second

	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	slot := newTestSlot(t, 0, settings, opener, clock)
	slot.Bind(cam0)

	waitForState(t, slot, clock, StateCoolingDown)
	clock.Advance(time.Second)
	slot.Evaluate(clock.Now())
	waitForState(t, slot, clock, StateCoolingDown)

	clock.Advance(11 * time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateOpening {
		t.Fatalf("state = %s, want OPENING once old attempts left the window", state)
	}
}

func TestSlotRebindKeepsHistoryForSameDevice(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	slot := newTestSlot(t, 0, testSettings(), opener, clock)

	slot.Bind(cam0)
	waitForState(t, slot, clock, StateCoolingDown)
	if _, ok := slot.Unbind(cam0, "test"); !ok {
		t.Fatal("Unbind failed")
	}

	slot.Bind(cam0)
	if got := slot.Status(clock.Now()).RestartsInWindow; got != 1 {
		t.Fatalf("same device restarts in window = %d, want 1", got)
	}
	slot.Unbind(cam0, "test")

	slot.Bind("/dev/video4")
	if got := slot.Status(clock.Now()).RestartsInWindow; got != 0 {
		t.Fatalf("new device restarts in window = %d, want 0", got)
	}
}

func TestSlotUnbindStopsWorker(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	slot := newTestSlot(t, 0, testSettings(), opener, clock)
	slot.Bind(cam0)
	waitFor(t, "open", func() bool { return opener.openCount(cam0) == 1 })

	if _, ok := slot.Unbind("/dev/video9", "test"); ok {
		t.Fatal("Unbind with a different device succeeded")
	}
	prev, ok := slot.Unbind(cam0, "test")
	if !ok || prev != StateOpening {
		t.Fatalf("Unbind = %s/%v, want OPENING/true", prev, ok)
	}
	waitFor(t, "source close", func() bool { return opener.closedCount() == 1 })
	if state, id := slot.State(); state != StateEmpty || id != "" {
		t.Fatalf("state = %s/%q, want EMPTY", state, id)
	}
}

func TestSlotCloseBoundedWhenReadIgnoresCancel(t *testing.T) {
	clock := newFakeClock()
	opener := newFakeOpener()
	opener.ignoreCtx = true
	slot := newTestSlot(t, 0, testSettings(), opener, clock)
	slot.Bind(cam0)
	waitFor(t, "open", func() bool { return opener.openCount(cam0) == 1 })

	start := time.Now()
	slot.Close()
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Fatalf("Close took %s", elapsed)
	}
	if opener.closedCount() != 1 {
		t.Fatal("source was not force-closed")
	}
}

func TestSlotReadFailuresCounted(t *testing.T) {
	clock := newFakeClock()
	slot := newTestSlot(t, 0, testSettings(), newFakeOpener(), clock)
	slot.Bind(cam0)

	slot.readFailed(1, errors.New("short read"))
	slot.readFailed(7, errors.New("old generation"))
	status := slot.Status(clock.Now())
	if status.ReadFailures != 1 {
		t.Fatalf("read failures = %d, want 1", status.ReadFailures)
	}
	if status.LastError != "short read" {
		t.Fatalf("last error = %q", status.LastError)
	}
}

func TestSlotFailureClearsSinkFrame(t *testing.T) {
	settings := testSettings()
	settings.MaxRestarts = 0
	settings.RestartWindow = time.Hour

	clock := newFakeClock()
	opener := newFakeOpener()
	hub := framebuffer.NewHub()
	slot := newSlot(0, settings, opener, fixedFPS(1000), hub, logging.NewNop(), clock.Now)
	t.Cleanup(slot.Close)
	slot.Bind(cam0)

	opener.feed <- device.Frame{Data: []byte{0xff, 0xd8, 0xff, 0xd9}}
	waitFor(t, "first frame", func() bool { return slot.Status(clock.Now()).Frames == 1 })
	slot.Evaluate(clock.Now())
	if _, err := hub.Latest(0); err != nil {
		t.Fatalf("Latest while ACTIVE: %v", err)
	}

	clock.Advance(2 * time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateCoolingDown {
		t.Fatalf("state = %s, want COOLING_DOWN", state)
	}
	if _, err := hub.Latest(0); !errors.Is(err, framebuffer.ErrNoFrame) {
		t.Fatalf("Latest while COOLING_DOWN = %v, want ErrNoFrame", err)
	}

	clock.Advance(settings.FailedCameraCooldown)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateFailedPermanent {
		t.Fatalf("state = %s, want FAILED_PERMANENT", state)
	}
	if _, err := hub.Latest(0); !errors.Is(err, framebuffer.ErrNoFrame) {
		t.Fatalf("Latest while FAILED_PERMANENT = %v, want ErrNoFrame", err)
	}
}
