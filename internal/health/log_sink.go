package health

import (
	"context"
	"log/slog"

	"camwatch/internal/logging"
)

// LogSink writes each snapshot to the structured log: one summary line, and
// a warning for every slot that is stale, cooling down or failed.
type LogSink struct {
	logger *slog.Logger
}

// NewLogSink logs under the "health" component.
func NewLogSink(logger *slog.Logger) *LogSink {
	return &LogSink{logger: logging.NewComponentLogger(logger, "health")}
}

// Emit never fails.
func (l *LogSink) Emit(_ context.Context, snap Snapshot) error {
	l.logger.Info("camera health",
		logging.String(logging.FieldEventType, "health_snapshot"),
		logging.String("slots", snap.Summary()),
		logging.Float64("capture_fps", snap.Perf.CaptureFPS),
		logging.Float64("ui_fps", snap.Perf.UIFPS),
		logging.Bool("stressed", snap.Perf.Stressed),
	)
	for _, slot := range snap.Slots {
		switch slot.State {
		case "ACTIVE", "EMPTY", "OPENING":
			continue
		}
		attrs := []logging.Attr{
			logging.Slot(slot.Index),
			logging.Device(slot.Device),
			logging.String(logging.FieldState, slot.State),
			logging.Int("restarts_in_window", slot.RestartsInWindow),
		}
		if slot.FailureReason != "" {
			attrs = append(attrs, logging.String("reason", slot.FailureReason))
		}
		if slot.LastError != "" {
			attrs = append(attrs, logging.String("last_error", slot.LastError))
		}
		if slot.State == "FAILED_PERMANENT" {
			attrs = append(attrs, logging.String(logging.FieldImpact, "slot unavailable until the device is replugged"))
		}
		logging.WarnWithContext(l.logger, "camera slot degraded", "health_slot_degraded", attrs...)
	}
	return nil
}
