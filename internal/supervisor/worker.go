package supervisor

import (
	"context"
	"errors"
	"sync"
	"time"

	"camwatch/internal/device"
)

// frameTarget is the slot side of a worker. The worker only reports; it never
// changes slot state.
type frameTarget interface {
	deliver(generation uint64, frame device.Frame) bool
	readFailed(generation uint64, err error)
}

// worker opens one device and reads frames from it until stopped. A worker
// belongs to exactly one slot generation.
type worker struct {
	id         device.ID
	generation uint64
	opener     device.Opener
	fps        FPSSource
	target     frameTarget

	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	source    device.Source
	openErr   error
	closeOnce sync.Once
}

func newWorker(id device.ID, generation uint64, opener device.Opener, fps FPSSource, target frameTarget) *worker {
	return &worker{
		id:         id,
		generation: generation,
		opener:     opener,
		fps:        fps,
		target:     target,
		done:       make(chan struct{}),
	}
}

func (w *worker) start() {
	ctx, cancel := context.WithCancel(context.Background())
	w.cancel = cancel
	go w.run(ctx)
}

func (w *worker) run(ctx context.Context) {
	defer close(w.done)

	src, err := w.opener.Open(ctx, w.id)
	if err != nil {
		if ctx.Err() == nil {
			if !errors.Is(err, device.ErrOpen) {
				err = errors.Join(device.ErrOpen, err)
			}
			w.mu.Lock()
			w.openErr = err
			w.mu.Unlock()
		}
		return
	}
	w.mu.Lock()
	w.source = src
	w.mu.Unlock()
	defer w.closeSource()

	var lastRead time.Time
	for {
		if !lastRead.IsZero() && !w.pace(ctx, lastRead) {
			return
		}
		if ctx.Err() != nil {
			return
		}
		lastRead = time.Now()
		frame, err := src.Read(ctx)
		if ctx.Err() != nil {
			return
		}
		if err != nil {
			w.target.readFailed(w.generation, err)
			continue
		}
		w.target.deliver(w.generation, frame)
	}
}

// pace waits until one frame interval has passed since the previous read
// started. It returns false when ctx ends first.
func (w *worker) pace(ctx context.Context, last time.Time) bool {
	fps := w.fps.CaptureFPS()
	if fps <= 0 {
		fps = 1
	}
	interval := time.Duration(float64(time.Second) / fps)
	wait := time.Until(last.Add(interval))
	if wait <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(wait)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// openFailure returns the open error once the worker has exited after a
// failed open, nil otherwise.
func (w *worker) openFailure() error {
	select {
	case <-w.done:
	default:
		return nil
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.openErr
}

func (w *worker) closeSource() {
	w.mu.Lock()
	src := w.source
	w.mu.Unlock()
	if src == nil {
		return
	}
	w.closeOnce.Do(func() { _ = src.Close() })
}

// stop cancels the worker and waits up to grace for it to exit. A worker
// still blocked in Read after grace has its source force-closed and gets one
// more grace period. It reports whether the worker exited.
func (w *worker) stop(grace time.Duration) bool {
	if w.cancel != nil {
		w.cancel()
	}
	if waitDone(w.done, grace) {
		return true
	}
	w.closeSource()
	return waitDone(w.done, grace)
}

func waitDone(done <-chan struct{}, d time.Duration) bool {
	if d <= 0 {
		select {
		case <-done:
			return true
		default:
			return false
		}
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-done:
		return true
	case <-timer.C:
		return false
	}
}
