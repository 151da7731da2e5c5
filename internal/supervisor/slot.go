package supervisor

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/device"
	"camwatch/internal/health"
	"camwatch/internal/logging"
)

// SlotSettings configures failure handling for every slot.
type SlotSettings struct {
	StaleTimeout         time.Duration
	FailedCameraCooldown time.Duration
	RestartCooldown      time.Duration
	CooldownPolicy       string
	RestartWindow        time.Duration
	MaxRestarts          int
	StopGrace            time.Duration
	KillHolders          bool
}

// SlotSettingsFromConfig maps the [recovery] and [camera] sections.
func SlotSettingsFromConfig(cfg *config.Config) SlotSettings {
	return SlotSettings{
		StaleTimeout:         cfg.StaleFrameTimeout(),
		FailedCameraCooldown: cfg.FailedCameraCooldown(),
		RestartCooldown:      cfg.RestartCooldown(),
		CooldownPolicy:       cfg.Recovery.CooldownPolicy,
		RestartWindow:        cfg.RestartWindow(),
		MaxRestarts:          cfg.Recovery.MaxRestartsPerWindow,
		StopGrace:            cfg.StopGrace(),
		KillHolders:          cfg.Camera.KillDeviceHolders,
	}
}

// Slot is one display position. All state transitions happen under mu.
// Frame delivery only takes deliverMu, so a worker never waits on a
// transition except while its own generation is being retired.
type Slot struct {
	index    int
	settings SlotSettings
	opener   device.Opener
	fps      FPSSource
	sink     FrameSink
	logger   *slog.Logger
	now      func() time.Time

	mu            sync.Mutex
	state         State
	device        device.ID
	lastDevice    device.ID
	worker        *worker
	generation    uint64
	spawnedAt     time.Time
	cooldownUntil time.Time
	reason        FailureReason
	lastErr       string
	restarts      *RestartWindow
	restartsTotal uint64

	deliverMu sync.RWMutex
	acceptGen uint64

	lastFrame    atomic.Int64
	frames       atomic.Uint64
	discarded    atomic.Uint64
	readFailures atomic.Uint64
	lastReadErr  atomic.Value
}

func newSlot(index int, settings SlotSettings, opener device.Opener, fps FPSSource, sink FrameSink, logger *slog.Logger, now func() time.Time) *Slot {
	if fps == nil {
		fps = fixedFPS(1)
	}
	if sink == nil {
		sink = discardSink{}
	}
	if now == nil {
		now = time.Now
	}
	return &Slot{
		index:    index,
		settings: settings,
		opener:   opener,
		fps:      fps,
		sink:     sink,
		logger:   logger.With(logging.Slot(index)),
		now:      now,
		state:    StateEmpty,
		restarts: NewRestartWindow(settings.RestartWindow, settings.MaxRestarts),
	}
}

// Index returns the slot position.
func (s *Slot) Index() int { return s.index }

// State returns the current state and bound device.
func (s *Slot) State() (State, device.ID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state, s.device
}

// Generation returns the most recent worker generation.
func (s *Slot) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.generation
}

// Bind attaches id to an EMPTY slot and starts opening it. Binding a
// different device than last time clears the restart history.
func (s *Slot) Bind(id device.ID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateEmpty {
		return false
	}
	if id != s.lastDevice {
		s.restarts.Reset()
	}
	s.device = id
	s.lastDevice = id
	s.reason = ReasonNone
	s.lastErr = ""
	s.logger.Info("camera bound to slot",
		logging.String(logging.FieldEventType, "slot_bound"),
		logging.Device(string(id)),
	)
	s.spawnLocked(s.now())
	return true
}

// Unbind releases the slot if it is still bound to id. It returns the state
// the slot was in and whether anything changed.
func (s *Slot) Unbind(id device.ID, why string) (State, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	prev := s.state
	if prev == StateEmpty || s.device != id {
		return prev, false
	}
	s.retireLocked()
	s.clearSink()
	s.device = ""
	s.cooldownUntil = time.Time{}
	s.setStateLocked(StateEmpty, "slot released", "slot_released",
		logging.Device(string(id)),
		logging.String("reason", why),
		logging.String("previous_state", string(prev)),
	)
	return prev, true
}

// Reset releases a FAILED_PERMANENT slot and forgets its restart history so
// the next rescan may bind it again.
func (s *Slot) Reset() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateFailedPermanent {
		return fmt.Errorf("slot %d is %s, not %s", s.index, s.state, StateFailedPermanent)
	}
	id := s.device
	s.device = ""
	s.lastDevice = ""
	s.restarts.Reset()
	s.reason = ReasonNone
	s.setStateLocked(StateEmpty, "failed slot reset by operator", "slot_reset", logging.Device(string(id)))
	return nil
}

// Evaluate runs one check of the slot state machine at now. When the slot
// has just entered FAILED_PERMANENT and holder killing is enabled it returns
// the device whose holders should be killed.
func (s *Slot) Evaluate(now time.Time) device.ID {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateOpening:
		if err := s.worker.openFailure(); err != nil {
			s.failLocked(now, ReasonOpenFailed, err)
			return ""
		}
		if s.lastFrame.Load() != 0 {
			s.setStateLocked(StateActive, "camera delivering frames", "slot_active",
				logging.Device(string(s.device)),
				logging.Uint64(logging.FieldGeneration, s.generation),
			)
			return ""
		}
		if now.Sub(s.spawnedAt) > s.settings.StaleTimeout {
			s.staleLocked(now, s.spawnedAt)
		}
	case StateActive:
		last := time.Unix(0, s.lastFrame.Load())
		if now.Sub(last) > s.settings.StaleTimeout {
			s.staleLocked(now, last)
		}
	case StateCoolingDown:
		if now.Before(s.cooldownUntil) {
			return ""
		}
		if s.restarts.Admit(now) {
			s.restartsTotal++
			s.spawnLocked(now)
			return ""
		}
		s.reason = ReasonRestartLimit
		attrs := []logging.Attr{
			logging.String(logging.FieldEventType, "slot_failed_permanent"),
			logging.String(logging.FieldErrorHint, "check the camera connection, or reset the slot with 'camwatch reset'"),
			logging.String(logging.FieldImpact, "slot stays unavailable until the device is replugged"),
			logging.Device(string(s.device)),
			logging.Int("restarts_in_window", s.restarts.Count(now)),
			logging.Duration("restart_window", s.settings.RestartWindow),
		}
		s.state = StateFailedPermanent
		logging.ErrorWithContext(s.logger, "restart limit reached; giving up on camera", "slot_failed_permanent", attrs...)
		if s.settings.KillHolders {
			return s.device
		}
	}
	return ""
}

// Status reports the slot for health output.
func (s *Slot) Status(now time.Time) health.SlotStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	st := health.SlotStatus{
		Index:            s.index,
		State:            string(s.state),
		Device:           string(s.device),
		Generation:       s.generation,
		RestartsInWindow: s.restarts.Count(now),
		RestartsTotal:    s.restartsTotal,
		FailureReason:    string(s.reason),
		LastError:        s.lastErr,
		Frames:           s.frames.Load(),
		DiscardedFrames:  s.discarded.Load(),
		ReadFailures:     s.readFailures.Load(),
	}
	if nanos := s.lastFrame.Load(); nanos != 0 {
		t := time.Unix(0, nanos)
		st.LastFrameAt = &t
	}
	if s.state == StateCoolingDown && now.Before(s.cooldownUntil) {
		st.CooldownRemainingMS = s.cooldownUntil.Sub(now).Milliseconds()
	}
	if st.LastError == "" && s.state != StateEmpty {
		if v, ok := s.lastReadErr.Load().(string); ok {
			st.LastError = v
		}
	}
	return st
}

// Close stops the worker and leaves the slot EMPTY.
func (s *Slot) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retireLocked()
	s.clearSink()
	if s.state != StateEmpty {
		s.state = StateEmpty
		s.device = ""
	}
}

func (s *Slot) deliver(generation uint64, frame device.Frame) bool {
	s.deliverMu.RLock()
	defer s.deliverMu.RUnlock()
	if generation == 0 || generation != s.acceptGen {
		s.discarded.Add(1)
		return false
	}
	s.lastFrame.Store(s.now().UnixNano())
	s.frames.Add(1)
	s.sink.EmitFrame(s.index, generation, frame)
	return true
}

// clearSink drops any frame the sink kept for this slot.
func (s *Slot) clearSink() {
	if c, ok := s.sink.(interface{ Clear(slot int) }); ok {
		c.Clear(s.index)
	}
}

func (s *Slot) readFailed(generation uint64, err error) {
	s.deliverMu.RLock()
	current := generation == s.acceptGen
	s.deliverMu.RUnlock()
	if !current {
		return
	}
	s.readFailures.Add(1)
	s.lastReadErr.Store(err.Error())
	s.logger.Debug("frame read failed",
		logging.Error(err),
		logging.Uint64(logging.FieldGeneration, generation),
		logging.String(logging.FieldEventType, "frame_read_failed"),
	)
}

func (s *Slot) spawnLocked(now time.Time) {
	s.generation++
	gen := s.generation
	s.lastFrame.Store(0)
	s.lastReadErr.Store("")
	s.deliverMu.Lock()
	s.acceptGen = gen
	s.deliverMu.Unlock()

	w := newWorker(s.device, gen, s.opener, s.fps, s)
	s.worker = w
	s.spawnedAt = now
	s.cooldownUntil = time.Time{}
	s.setStateLocked(StateOpening, "opening camera", "slot_opening",
		logging.Device(string(s.device)),
		logging.Uint64(logging.FieldGeneration, gen),
	)
	w.start()
}

// retireLocked stops accepting frames from the current generation and stops
// its worker.
func (s *Slot) retireLocked() {
	s.deliverMu.Lock()
	s.acceptGen = 0
	s.deliverMu.Unlock()
	if s.worker == nil {
		return
	}
	if !s.worker.stop(s.settings.StopGrace) {
		logging.WarnWithContext(s.logger, "capture worker did not exit after close", "worker_stop_timeout",
			logging.Device(string(s.worker.id)),
			logging.Uint64(logging.FieldGeneration, s.worker.generation),
			logging.String(logging.FieldErrorHint, "the device read is hung; its frames are discarded"),
		)
	}
	s.worker = nil
}

func (s *Slot) staleLocked(now, last time.Time) {
	s.setStateLocked(StateStale, "camera stopped delivering frames", "slot_stale",
		logging.Device(string(s.device)),
		logging.Duration("since_last_frame", now.Sub(last)),
		logging.Duration("stale_timeout", s.settings.StaleTimeout),
	)
	s.failLocked(now, ReasonStale, nil)
}

func (s *Slot) failLocked(now time.Time, reason FailureReason, err error) {
	s.retireLocked()
	s.clearSink()
	s.restarts.Record(now)
	cooldown := s.cooldownFor(reason, now)
	s.cooldownUntil = now.Add(cooldown)
	s.reason = reason
	s.lastErr = ""
	if err != nil {
		s.lastErr = err.Error()
	} else if v, ok := s.lastReadErr.Load().(string); ok {
		s.lastErr = v
	}

	attrs := []logging.Attr{
		logging.String(logging.FieldEventType, "slot_cooling_down"),
		logging.Device(string(s.device)),
		logging.String("reason", string(reason)),
		logging.Duration("cooldown", cooldown),
		logging.Int("restarts_in_window", s.restarts.Count(now)),
	}
	if err != nil {
		attrs = append(attrs, logging.Error(err))
	}
	hint := "camera will be retried after the cooldown"
	if errors.Is(err, device.ErrOpen) {
		hint = "check that the device exists and is not held by another process"
	}
	attrs = append(attrs, logging.String(logging.FieldErrorHint, hint))
	s.state = StateCoolingDown
	logging.WarnWithContext(s.logger, "camera failed; cooling down", "slot_cooling_down", attrs...)
}

func (s *Slot) cooldownFor(reason FailureReason, now time.Time) time.Duration {
	failed, restart := s.settings.FailedCameraCooldown, s.settings.RestartCooldown
	if s.settings.CooldownPolicy != config.CooldownPolicyByCause {
		return max(failed, restart)
	}
	if reason == ReasonOpenFailed || s.restarts.Full(now) {
		return failed
	}
	return restart
}

func (s *Slot) setStateLocked(next State, msg, event string, attrs ...logging.Attr) {
	prev := s.state
	s.state = next
	args := logging.Args(append([]logging.Attr{
		logging.String(logging.FieldEventType, event),
		logging.String(logging.FieldState, string(next)),
		logging.String("previous_state", string(prev)),
	}, attrs...)...)
	if next == StateStale {
		s.logger.Warn(msg, args...)
		return
	}
	s.logger.Info(msg, args...)
}
