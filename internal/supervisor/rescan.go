package supervisor

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"camwatch/internal/device"
	"camwatch/internal/logging"
)

// Rescanner reconciles enumerated devices with slot bindings.
type Rescanner struct {
	enumerator  device.Enumerator
	slots       []*Slot
	suppressFor time.Duration
	settle      time.Duration
	logger      *slog.Logger
	now         func() time.Time

	mu         sync.Mutex
	suppressed map[device.ID]time.Time
	trigger    chan struct{}
}

// NewRescanner reconciles slots in index order. Devices released from
// COOLING_DOWN or FAILED_PERMANENT are not rebound for suppressFor.
func NewRescanner(enumerator device.Enumerator, slots []*Slot, suppressFor time.Duration, logger *slog.Logger, now func() time.Time) *Rescanner {
	if now == nil {
		now = time.Now
	}
	return &Rescanner{
		enumerator:  enumerator,
		slots:       slots,
		suppressFor: suppressFor,
		settle:      500 * time.Millisecond,
		logger:      logging.NewComponentLogger(logger, "rescan"),
		now:         now,
		suppressed:  make(map[device.ID]time.Time),
		trigger:     make(chan struct{}, 1),
	}
}

// Reconcile enumerates once and applies the result. It returns the number of
// slot transitions it caused; an unchanged device set yields zero. On an
// enumeration failure no slot is touched.
func (r *Rescanner) Reconcile(ctx context.Context) (int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	ids, err := r.enumerator.Enumerate(ctx)
	if err != nil {
		logging.WarnWithContext(r.logger, "device enumeration failed; keeping current bindings", "rescan_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check the device glob and /dev permissions"),
		)
		return 0, err
	}
	now := r.now()
	present := make(map[device.ID]bool, len(ids))
	for _, id := range ids {
		present[id] = true
	}
	for id, until := range r.suppressed {
		if !now.Before(until) {
			delete(r.suppressed, id)
		}
	}

	transitions := 0
	bound := make(map[device.ID]bool, len(r.slots))
	for _, slot := range r.slots {
		state, id := slot.State()
		if state == StateEmpty || id == "" {
			continue
		}
		if present[id] {
			bound[id] = true
			continue
		}
		prev, changed := slot.Unbind(id, "device disappeared")
		if !changed {
			continue
		}
		transitions++
		if prev == StateCoolingDown || prev == StateFailedPermanent {
			r.suppressed[id] = now.Add(r.suppressFor)
		}
	}

	candidates := make([]device.ID, 0, len(ids))
	for _, id := range ids {
		if bound[id] {
			continue
		}
		if _, held := r.suppressed[id]; held {
			continue
		}
		candidates = append(candidates, id)
	}
	device.SortIDs(candidates)

	next := 0
	for _, id := range candidates {
		for next < len(r.slots) && !r.slots[next].Bind(id) {
			next++
		}
		if next >= len(r.slots) {
			r.logger.Debug("no free slot for camera",
				logging.Device(string(id)),
				logging.String(logging.FieldEventType, "rescan_no_slot"),
			)
			break
		}
		transitions++
		next++
	}

	if transitions > 0 {
		r.logger.Info("rescan applied",
			logging.String(logging.FieldEventType, "rescan_applied"),
			logging.Int("transitions", transitions),
			logging.Int("devices", len(ids)),
		)
	}
	return transitions, nil
}

// Suppressed reports whether id is currently held back from binding.
func (r *Rescanner) Suppressed(id device.ID) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	until, ok := r.suppressed[id]
	return ok && r.now().Before(until)
}

// Trigger requests an early reconcile. Requests coalesce.
func (r *Rescanner) Trigger() {
	select {
	case r.trigger <- struct{}{}:
	default:
	}
}

// Run reconciles immediately, then on every interval and after each trigger
// until ctx is cancelled.
func (r *Rescanner) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	r.reconcileLogged(ctx)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.reconcileLogged(ctx)
		case <-r.trigger:
			if !sleepCtx(ctx, r.settle) {
				return
			}
			r.reconcileLogged(ctx)
		}
	}
}

func (r *Rescanner) reconcileLogged(ctx context.Context) {
	if ctx.Err() != nil {
		return
	}
	// Errors are logged inside Reconcile.
	_, _ = r.Reconcile(ctx)
}

func sleepCtx(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
