package supervisor

import (
	"context"
	"errors"
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/logging"
)

func newTestRescanner(t *testing.T, n int, opener *fakeOpener, enum *fakeEnumerator, clock *fakeClock) (*Rescanner, []*Slot) {
	t.Helper()
	slots := make([]*Slot, n)
	for i := range slots {
		slots[i] = newTestSlot(t, i, testSettings(), opener, clock)
	}
	return NewRescanner(enum, slots, 30*time.Second, logging.NewNop(), clock.Now), slots
}

func slotDevice(s *Slot) device.ID {
	_, id := s.State()
	return id
}

func TestReconcileBindsSortedDevicesToLowestSlots(t *testing.T) {
	clock := newFakeClock()
	enum := &fakeEnumerator{}
	enum.set("/dev/video10", "/dev/video2")
	r, slots := newTestRescanner(t, 3, newFakeOpener(), enum, clock)

	n, err := r.Reconcile(context.Background())
	if err != nil {
		t.Fatalf("Reconcile: %v", err)
	}
	if n != 2 {
		t.Fatalf("transitions = %d, want 2", n)
	}
	if got := slotDevice(slots[0]); got != "/dev/video2" {
		t.Fatalf("slot 0 = %q, want /dev/video2", got)
	}
	if got := slotDevice(slots[1]); got != "/dev/video10" {
		t.Fatalf("slot 1 = %q, want /dev/video10", got)
	}
	if state, _ := slots[2].State(); state != StateEmpty {
		t.Fatalf("slot 2 = %s, want EMPTY", state)
	}

	n, err = r.Reconcile(context.Background())
	if err != nil || n != 0 {
		t.Fatalf("second Reconcile = %d, %v; want 0, nil", n, err)
	}
}

func TestReconcileMoreDevicesThanSlots(t *testing.T) {
	clock := newFakeClock()
	enum := &fakeEnumerator{}
	enum.set("/dev/video0", "/dev/video1", "/dev/video2")
	r, slots := newTestRescanner(t, 2, newFakeOpener(), enum, clock)

	if n, _ := r.Reconcile(context.Background()); n != 2 {
		t.Fatalf("transitions = %d, want 2", n)
	}
	if slotDevice(slots[0]) != "/dev/video0" || slotDevice(slots[1]) != "/dev/video1" {
		t.Fatalf("bindings = %q, %q", slotDevice(slots[0]), slotDevice(slots[1]))
	}
}

func TestReconcileReleasesMissingDevice(t *testing.T) {
	clock := newFakeClock()
	enum := &fakeEnumerator{}
	enum.set("/dev/video0", "/dev/video1")
	opener := newFakeOpener()
	r, slots := newTestRescanner(t, 2, opener, enum, clock)
	r.Reconcile(context.Background())

	enum.set("/dev/video1")
	n, err := r.Reconcile(context.Background())
	if err != nil || n != 1 {
		t.Fatalf("Reconcile = %d, %v; want 1, nil", n, err)
	}
	if state, _ := slots[0].State(); state != StateEmpty {
		t.Fatalf("slot 0 = %s, want EMPTY", state)
	}
	if slotDevice(slots[1]) != "/dev/video1" {
		t.Fatal("slot 1 binding changed")
	}
	// Released from OPENING, so no suppression.
	if r.Suppressed("/dev/video0") {
		t.Fatal("device released from OPENING was suppressed")
	}
	enum.set("/dev/video0", "/dev/video1")
	if n, _ := r.Reconcile(context.Background()); n != 1 {
		t.Fatalf("rebind transitions = %d, want 1", n)
	}
	if slotDevice(slots[0]) != "/dev/video0" {
		t.Fatal("device not rebound to slot 0")
	}
}

func TestReconcileDisappearanceWinsOverCooldown(t *testing.T) {
	clock := newFakeClock()
	enum := &fakeEnumerator{}
	enum.set(cam0)
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	r, slots := newTestRescanner(t, 1, opener, enum, clock)
	r.Reconcile(context.Background())
	waitForState(t, slots[0], clock, StateCoolingDown)

	enum.set()
	if n, _ := r.Reconcile(context.Background()); n != 1 {
		t.Fatalf("transitions = %d, want 1", n)
	}
	if state, _ := slots[0].State(); state != StateEmpty {
		t.Fatalf("state = %s, want EMPTY", state)
	}
	if !r.Suppressed(cam0) {
		t.Fatal("device released from COOLING_DOWN not suppressed")
	}

	enum.set(cam0)
	if n, _ := r.Reconcile(context.Background()); n != 0 {
		t.Fatalf("suppressed device rebound; transitions = %d", n)
	}
	clock.Advance(30 * time.Second)
	if n, _ := r.Reconcile(context.Background()); n != 1 {
		t.Fatalf("transitions after suppression = %d, want 1", n)
	}
	if slotDevice(slots[0]) != cam0 {
		t.Fatal("device not rebound after suppression expired")
	}
}

func TestReconcileKeepsFailedSlotWhileDevicePresent(t *testing.T) {
	settings := testSettings()
	settings.MaxRestarts = 0
	settings.FailedCameraCooldown = time.Second
	settings.RestartCooldown = time.Second

	clock := newFakeClock()
	opener := newFakeOpener()
	opener.setFail(cam0, true)
	slot := newTestSlot(t, 0, settings, opener, clock)
	spare := newTestSlot(t, 1, settings, opener, clock)
	enum := &fakeEnumerator{}
	enum.set(cam0)
	r := NewRescanner(enum, []*Slot{slot, spare}, 30*time.Second, logging.NewNop(), clock.Now)

	r.Reconcile(context.Background())
	waitForState(t, slot, clock, StateCoolingDown)
	clock.Advance(time.Second)
	slot.Evaluate(clock.Now())
	if state, _ := slot.State(); state != StateFailedPermanent {
		t.Fatalf("state = %s, want FAILED_PERMANENT", state)
	}

	if n, _ := r.Reconcile(context.Background()); n != 0 {
		t.Fatalf("transitions = %d, want 0", n)
	}
	if state, _ := spare.State(); state != StateEmpty {
		t.Fatal("failed device was bound a second time")
	}
}

func TestReconcileEnumerationFailureTouchesNothing(t *testing.T) {
	clock := newFakeClock()
	enum := &fakeEnumerator{}
	enum.set(cam0)
	r, slots := newTestRescanner(t, 1, newFakeOpener(), enum, clock)
	r.Reconcile(context.Background())

	enum.fail(errors.Join(device.ErrEnumerate, errors.New("permission denied")))
	n, err := r.Reconcile(context.Background())
	if !errors.Is(err, device.ErrEnumerate) {
		t.Fatalf("err = %v, want ErrEnumerate", err)
	}
	if n != 0 {
		t.Fatalf("transitions = %d, want 0", n)
	}
	if slotDevice(slots[0]) != cam0 {
		t.Fatal("binding changed after enumeration failure")
	}
}

func TestRescannerTriggerCoalesces(t *testing.T) {
	r := NewRescanner(&fakeEnumerator{}, nil, time.Second, logging.NewNop(), nil)
	r.Trigger()
	r.Trigger()
	if got := len(r.trigger); got != 1 {
		t.Fatalf("pending triggers = %d, want 1", got)
	}
}
