package supervisor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/logging"
)

type fakeClock struct {
	mu sync.Mutex
	t  time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{t: time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// fakeOpener hands out sources that read from a shared feed channel. Ids in
// fail refuse to open; ids in readFail open but every Read errors.
type fakeOpener struct {
	feed chan device.Frame

	mu        sync.Mutex
	fail      map[device.ID]bool
	readFail  map[device.ID]bool
	stream    bool
	ignoreCtx bool
	opens     map[device.ID]int
	sources   []*fakeSource
}

func newFakeOpener() *fakeOpener {
	return &fakeOpener{
		feed:     make(chan device.Frame),
		fail:     make(map[device.ID]bool),
		readFail: make(map[device.ID]bool),
		opens:    make(map[device.ID]int),
	}
}

func (o *fakeOpener) setReadFail(id device.ID, fail bool) {
	o.mu.Lock()
	o.readFail[id] = fail
	o.mu.Unlock()
}

func (o *fakeOpener) setFail(id device.ID, fail bool) {
	o.mu.Lock()
	o.fail[id] = fail
	o.mu.Unlock()
}

func (o *fakeOpener) openCount(id device.ID) int {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.opens[id]
}

func (o *fakeOpener) closedCount() int {
	o.mu.Lock()
	defer o.mu.Unlock()
	n := 0
	for _, src := range o.sources {
		select {
		case <-src.closed:
			n++
		default:
		}
	}
	return n
}

func (o *fakeOpener) Open(_ context.Context, id device.ID) (device.Source, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.opens[id]++
	if o.fail[id] {
		return nil, fmt.Errorf("%w: %s: no such device", device.ErrOpen, id)
	}
	src := &fakeSource{
		feed:      o.feed,
		stream:    o.stream,
		ignoreCtx: o.ignoreCtx,
		closed:    make(chan struct{}),
	}
	if o.readFail[id] {
		src.readErr = fmt.Errorf("read %s: input/output error", id)
	}
	o.sources = append(o.sources, src)
	return src, nil
}

type fakeSource struct {
	feed      chan device.Frame
	stream    bool
	ignoreCtx bool
	readErr   error
	closed    chan struct{}
	closeOnce sync.Once
}

func (s *fakeSource) Read(ctx context.Context) (device.Frame, error) {
	if s.readErr != nil {
		return device.Frame{}, s.readErr
	}
	if s.stream {
		select {
		case <-s.closed:
			return device.Frame{}, errors.New("closed")
		default:
			return device.Frame{Data: []byte{0xff, 0xd8}, CapturedAt: time.Now()}, nil
		}
	}
	var done <-chan struct{}
	if !s.ignoreCtx {
		done = ctx.Done()
	}
	select {
	case frame := <-s.feed:
		return frame, nil
	case <-done:
		return device.Frame{}, ctx.Err()
	case <-s.closed:
		return device.Frame{}, errors.New("closed")
	}
}

func (s *fakeSource) Close() error {
	s.closeOnce.Do(func() { close(s.closed) })
	return nil
}

type fakeEnumerator struct {
	mu  sync.Mutex
	ids []device.ID
	err error
}

func (e *fakeEnumerator) set(ids ...device.ID) {
	e.mu.Lock()
	e.ids = ids
	e.err = nil
	e.mu.Unlock()
}

func (e *fakeEnumerator) fail(err error) {
	e.mu.Lock()
	e.err = err
	e.mu.Unlock()
}

func (e *fakeEnumerator) Enumerate(context.Context) ([]device.ID, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return nil, e.err
	}
	return append([]device.ID(nil), e.ids...), nil
}

type recordingSink struct {
	mu     sync.Mutex
	frames map[int]int
}

func (r *recordingSink) EmitFrame(slot int, _ uint64, _ device.Frame) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.frames == nil {
		r.frames = make(map[int]int)
	}
	r.frames[slot]++
}

func testSettings() SlotSettings {
	return SlotSettings{
		StaleTimeout:         1500 * time.Millisecond,
		FailedCameraCooldown: 30 * time.Second,
		RestartCooldown:      5 * time.Second,
		CooldownPolicy:       "max",
		RestartWindow:        30 * time.Second,
		MaxRestarts:          3,
		StopGrace:            50 * time.Millisecond,
	}
}

func newTestSlot(t *testing.T, index int, settings SlotSettings, opener device.Opener, clock *fakeClock) *Slot {
	t.Helper()
	slot := newSlot(index, settings, opener, fixedFPS(1000), &recordingSink{}, logging.NewNop(), clock.Now)
	t.Cleanup(slot.Close)
	return slot
}

// waitForState evaluates the slot at the fake clock's current time until it
// reaches want.
func waitForState(t *testing.T, slot *Slot, clock *fakeClock, want State) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		slot.Evaluate(clock.Now())
		if state, _ := slot.State(); state == want {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	state, _ := slot.State()
	t.Fatalf("slot %d state = %s, want %s", slot.Index(), state, want)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}
