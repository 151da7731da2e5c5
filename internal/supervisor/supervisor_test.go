package supervisor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/health"
	"camwatch/internal/logging"
	"camwatch/internal/perf"
)

type killRecorder struct {
	mu  sync.Mutex
	ids []device.ID
}

func (k *killRecorder) KillHolders(_ context.Context, id device.ID) error {
	k.mu.Lock()
	defer k.mu.Unlock()
	k.ids = append(k.ids, id)
	return nil
}

func (k *killRecorder) calls() []device.ID {
	k.mu.Lock()
	defer k.mu.Unlock()
	return append([]device.ID(nil), k.ids...)
}

type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []health.Snapshot
}

func (r *snapshotRecorder) Emit(_ context.Context, snap health.Snapshot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.snaps = append(r.snaps, snap)
	return nil
}

func (r *snapshotRecorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.snaps)
}

func testOptions() Options {
	return Options{
		SlotCount: 3,
		Slot: SlotSettings{
			StaleTimeout:         300 * time.Millisecond,
			FailedCameraCooldown: 10 * time.Second,
			RestartCooldown:      10 * time.Second,
			CooldownPolicy:       "max",
			RestartWindow:        30 * time.Second,
			MaxRestarts:          3,
			StopGrace:            50 * time.Millisecond,
		},
		RescanInterval:    time.Hour,
		SlotCheckInterval: 10 * time.Millisecond,
		HealthInterval:    20 * time.Millisecond,
		HealthTimeout:     time.Second,
		Perf: perf.Settings{
			Interval:          time.Hour,
			ProfileCaptureFPS: 100,
			ProfileUIFPS:      20,
			MinCaptureFPS:     10,
			MinUIFPS:          12,
			UIStep:            2,
			LoadThreshold:     0.85,
			TempThresholdC:    75,
			StressHold:        3,
			RecoverHold:       3,
		},
		RunID: "test-run",
	}
}

func TestNewRejectsMissingDeps(t *testing.T) {
	if _, err := New(Options{SlotCount: 0}, Deps{Opener: newFakeOpener(), Enumerator: &fakeEnumerator{}}); err == nil {
		t.Fatal("expected error for zero slots")
	}
	if _, err := New(testOptions(), Deps{Enumerator: &fakeEnumerator{}}); err == nil {
		t.Fatal("expected error without opener")
	}
	if _, err := New(testOptions(), Deps{Opener: newFakeOpener()}); err == nil {
		t.Fatal("expected error without enumerator")
	}
}

func TestSupervisorEndToEnd(t *testing.T) {
	opener := newFakeOpener()
	opener.stream = true
	opener.setFail("/dev/video1", true)
	enum := &fakeEnumerator{}
	enum.set("/dev/video1", "/dev/video0")
	sink := &recordingSink{}
	emitter := &snapshotRecorder{}

	sup, err := New(testOptions(), Deps{
		Opener:     opener,
		Enumerator: enum,
		Frames:     sink,
		Health:     emitter,
		Logger:     logging.NewNop(),
	})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := sup.Start(context.Background()); err == nil {
		t.Fatal("second Start succeeded")
	}

	waitFor(t, "slot states", func() bool {
		snap := sup.Snapshot()
		return snap.Slots[0].State == string(StateActive) &&
			snap.Slots[1].State == string(StateCoolingDown) &&
			snap.Slots[2].State == string(StateEmpty)
	})
	snap := sup.Snapshot()
	if snap.Slots[0].Device != "/dev/video0" || snap.Slots[1].Device != "/dev/video1" {
		t.Fatalf("bindings = %q, %q", snap.Slots[0].Device, snap.Slots[1].Device)
	}
	if snap.Slots[1].FailureReason != string(ReasonOpenFailed) {
		t.Fatalf("slot 1 failure reason = %q", snap.Slots[1].FailureReason)
	}
	if snap.RunID != "test-run" {
		t.Fatalf("run id = %q", snap.RunID)
	}
	if snap.Perf.CaptureFPS != 100 {
		t.Fatalf("capture fps = %v, want 100", snap.Perf.CaptureFPS)
	}
	waitFor(t, "health emission", func() bool { return emitter.count() > 0 })

	sink.mu.Lock()
	frames := sink.frames[0]
	sink.mu.Unlock()
	if frames == 0 {
		t.Fatal("no frames reached the sink for slot 0")
	}

	if n, err := sup.Rescan(context.Background()); err != nil || n != 0 {
		t.Fatalf("Rescan = %d, %v; want 0, nil", n, err)
	}

	done := make(chan struct{})
	go func() {
		sup.Stop()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(3 * time.Second):
		t.Fatal("Stop did not return")
	}
	if sup.Running() {
		t.Fatal("supervisor still running after Stop")
	}
	for _, slot := range sup.Slots() {
		if state, _ := slot.State(); state != StateEmpty {
			t.Fatalf("slot %d = %s after Stop", slot.Index(), state)
		}
	}
	sup.Stop()
}

func TestSupervisorKillsHoldersOnPermanentFailure(t *testing.T) {
	opts := testOptions()
	opts.SlotCount = 1
	opts.Slot.MaxRestarts = 0
	opts.Slot.FailedCameraCooldown = 20 * time.Millisecond
	opts.Slot.RestartCooldown = 20 * time.Millisecond
	opts.Slot.KillHolders = true
	opts.HealthInterval = 0

	opener := newFakeOpener()
	opener.setFail(cam0, true)
	enum := &fakeEnumerator{}
	enum.set(cam0)
	killer := &killRecorder{}

	sup, err := New(opts, Deps{Opener: opener, Enumerator: enum, Holders: killer})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	waitFor(t, "holder kill", func() bool { return len(killer.calls()) == 1 })
	snap := sup.Snapshot()
	if snap.Slots[0].State != string(StateFailedPermanent) {
		t.Fatalf("state = %s, want FAILED_PERMANENT", snap.Slots[0].State)
	}
	time.Sleep(50 * time.Millisecond)
	if got := killer.calls(); len(got) != 1 || got[0] != cam0 {
		t.Fatalf("kill calls = %v, want exactly one for %s", got, cam0)
	}

	if err := sup.ResetSlot(5); err == nil {
		t.Fatal("ResetSlot out of range succeeded")
	}
	if err := sup.ResetSlot(0); err != nil {
		t.Fatalf("ResetSlot: %v", err)
	}
}

func TestSupervisorRescanAfterStopBindsNothing(t *testing.T) {
	opts := testOptions()
	opts.HealthInterval = 0
	opener := newFakeOpener()
	opener.stream = true
	enum := &fakeEnumerator{}

	sup, err := New(opts, Deps{Opener: opener, Enumerator: enum, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	sup.Stop()

	enum.set(cam0)
	if _, err := sup.Rescan(context.Background()); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("Rescan after Stop = %v, want ErrNotRunning", err)
	}
	if err := sup.ResetSlot(0); !errors.Is(err, ErrNotRunning) {
		t.Fatalf("ResetSlot after Stop = %v, want ErrNotRunning", err)
	}
	sup.TriggerRescan()
	time.Sleep(20 * time.Millisecond)

	if state, id := sup.Slots()[0].State(); state != StateEmpty || id != "" {
		t.Fatalf("slot 0 = %s/%q after Stop, want EMPTY", state, id)
	}
	if got := opener.openCount(cam0); got != 0 {
		t.Fatalf("opens after Stop = %d, want 0", got)
	}
}

func TestSupervisorReadFailureCoolsDownThenReopens(t *testing.T) {
	const (
		staleTimeout = 150 * time.Millisecond
		cooldown     = 300 * time.Millisecond
	)
	opts := testOptions()
	opts.HealthInterval = 0
	opts.Slot.StaleTimeout = staleTimeout
	opts.Slot.FailedCameraCooldown = cooldown
	opts.Slot.RestartCooldown = cooldown

	const broken = device.ID("/dev/video1")
	opener := newFakeOpener()
	opener.stream = true
	opener.setReadFail(broken, true)
	enum := &fakeEnumerator{}
	enum.set(cam0, broken)

	sup, err := New(opts, Deps{Opener: opener, Enumerator: enum, Logger: logging.NewNop()})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	started := time.Now()
	if err := sup.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	defer sup.Stop()

	slot := sup.Slots()[1]
	waitFor(t, "slot 1 cooling down", func() bool {
		state, _ := slot.State()
		return state == StateCoolingDown
	})
	coolingAt := time.Now()
	if elapsed := coolingAt.Sub(started); elapsed > staleTimeout+250*time.Millisecond {
		t.Fatalf("slot 1 took %s to cool down, stale timeout is %s", elapsed, staleTimeout)
	}
	status := slot.Status(time.Now())
	if status.FailureReason != string(ReasonStale) {
		t.Fatalf("failure reason = %q, want %q", status.FailureReason, ReasonStale)
	}
	if status.ReadFailures == 0 || status.LastError == "" {
		t.Fatalf("read failures = %d, last error = %q", status.ReadFailures, status.LastError)
	}
	firstGen := status.Generation

	waitFor(t, "slot 1 reopening", func() bool {
		state, _ := slot.State()
		return state == StateOpening
	})
	if elapsed := time.Since(coolingAt); elapsed < cooldown-50*time.Millisecond {
		t.Fatalf("slot 1 reopened after %s, cooldown is %s", elapsed, cooldown)
	}
	if got := slot.Generation(); got <= firstGen {
		t.Fatalf("generation = %d after reopen, want > %d", got, firstGen)
	}
	waitFor(t, "second open", func() bool { return opener.openCount(broken) >= 2 })

	snap := sup.Snapshot()
	if snap.Slots[0].State != string(StateActive) || snap.Slots[0].Device != string(cam0) {
		t.Fatalf("slot 0 = %s/%s, want ACTIVE/%s", snap.Slots[0].State, snap.Slots[0].Device, cam0)
	}
	if snap.Slots[2].State != string(StateEmpty) {
		t.Fatalf("slot 2 = %s, want EMPTY", snap.Slots[2].State)
	}
}
