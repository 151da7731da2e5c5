package supervisor

import "time"

// RestartWindow is a sliding window of restart attempts for one slot. It is
// not safe for concurrent use; the owning slot's mutex guards it.
type RestartWindow struct {
	span    time.Duration
	max     int
	entries []time.Time
}

// NewRestartWindow admits restarts while at most max attempts fall within
// span.
func NewRestartWindow(span time.Duration, max int) *RestartWindow {
	return &RestartWindow{span: span, max: max}
}

// Record notes a restart attempt at now.
func (w *RestartWindow) Record(now time.Time) {
	w.entries = append(w.entries, now)
}

// Admit prunes attempts older than the window and reports whether another
// restart may proceed. The attempt that triggered the check is already
// recorded, so max recorded attempts still admit and max+1 refuse.
func (w *RestartWindow) Admit(now time.Time) bool {
	return !w.Full(now)
}

// Count returns the attempts inside the window as of now.
func (w *RestartWindow) Count(now time.Time) int {
	w.prune(now)
	return len(w.entries)
}

// Full reports whether the attempts inside the window exceed max.
func (w *RestartWindow) Full(now time.Time) bool {
	return w.Count(now) > w.max
}

// Reset clears all attempts.
func (w *RestartWindow) Reset() {
	w.entries = w.entries[:0]
}

func (w *RestartWindow) prune(now time.Time) {
	cutoff := now.Add(-w.span)
	keep := 0
	for keep < len(w.entries) && !w.entries[keep].After(cutoff) {
		keep++
	}
	if keep > 0 {
		w.entries = append(w.entries[:0], w.entries[keep:]...)
	}
}
