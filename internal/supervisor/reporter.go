package supervisor

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"camwatch/internal/health"
	"camwatch/internal/logging"
)

// Reporter emits periodic health snapshots. At most one emission is in
// flight; a tick that arrives while one is running is dropped, and each
// emission is bounded by timeout.
type Reporter struct {
	snapshot func() health.Snapshot
	emitter  health.Emitter
	timeout  time.Duration
	logger   *slog.Logger

	inFlight atomic.Bool
	emitted  atomic.Uint64
	dropped  atomic.Uint64
	failed   atomic.Uint64
}

// NewReporter builds a reporter around a snapshot source.
func NewReporter(snapshot func() health.Snapshot, emitter health.Emitter, timeout time.Duration, logger *slog.Logger) *Reporter {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return &Reporter{
		snapshot: snapshot,
		emitter:  emitter,
		timeout:  timeout,
		logger:   logging.NewComponentLogger(logger, "health"),
	}
}

// Report runs one emission and waits at most the timeout for it. It returns
// false when the tick was dropped, the emission failed or it timed out.
func (r *Reporter) Report(ctx context.Context) bool {
	if !r.inFlight.CompareAndSwap(false, true) {
		r.dropped.Add(1)
		r.logger.Debug("health emission still running; tick dropped",
			logging.String(logging.FieldEventType, "health_tick_dropped"),
		)
		return false
	}

	emitCtx, cancel := context.WithTimeout(ctx, r.timeout)
	result := make(chan error, 1)
	go func() {
		defer r.inFlight.Store(false)
		defer cancel()
		result <- r.emitter.Emit(emitCtx, r.snapshot())
	}()

	timer := time.NewTimer(r.timeout)
	defer timer.Stop()
	select {
	case err := <-result:
		if err != nil {
			r.failed.Add(1)
			logging.WarnWithContext(r.logger, "health emission failed", "health_emit_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check the history database and MQTT broker"),
			)
			return false
		}
		r.emitted.Add(1)
		return true
	case <-timer.C:
		r.failed.Add(1)
		logging.WarnWithContext(r.logger, "health emission timed out", "health_emit_timeout",
			logging.Duration("timeout", r.timeout),
		)
		return false
	case <-ctx.Done():
		return false
	}
}

// Run reports on every interval until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.Report(ctx)
		}
	}
}

// Counters returns emitted, dropped and failed totals.
func (r *Reporter) Counters() (emitted, dropped, failed uint64) {
	return r.emitted.Load(), r.dropped.Load(), r.failed.Load()
}
