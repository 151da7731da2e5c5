package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/device"
	"camwatch/internal/health"
	"camwatch/internal/logging"
	"camwatch/internal/perf"
)

// Options configures a Supervisor.
type Options struct {
	SlotCount         int
	Slot              SlotSettings
	RescanInterval    time.Duration
	SlotCheckInterval time.Duration
	HealthInterval    time.Duration
	HealthTimeout     time.Duration
	KillTimeout       time.Duration
	Perf              perf.Settings
	RunID             string
}

// OptionsFromConfig maps a loaded configuration.
func OptionsFromConfig(cfg *config.Config) Options {
	return Options{
		SlotCount:         cfg.Camera.SlotCount,
		Slot:              SlotSettingsFromConfig(cfg),
		RescanInterval:    cfg.RescanInterval(),
		SlotCheckInterval: cfg.SlotCheckInterval(),
		HealthInterval:    cfg.HealthLogInterval(),
		HealthTimeout:     cfg.HealthEmitTimeout(),
		KillTimeout:       10 * time.Second,
		Perf:              perf.SettingsFromConfig(cfg),
	}
}

// Deps are the adapters the supervisor drives.
type Deps struct {
	Opener     device.Opener
	Enumerator device.Enumerator
	Sampler    perf.Sampler
	Holders    HolderKiller
	Frames     FrameSink
	Health     health.Emitter
	Logger     *slog.Logger
	Now        func() time.Time
}

// Supervisor owns the slots, the rescanner, the FPS controller and the
// health reporter.
type Supervisor struct {
	opts    Options
	deps    Deps
	logger  *slog.Logger
	now     func() time.Time
	slots   []*Slot
	perf    *perf.Controller
	rescan  *Rescanner
	report  *Reporter
	started time.Time

	mu      sync.Mutex
	running bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New validates deps and builds the slots. Nothing runs until Start.
func New(opts Options, deps Deps) (*Supervisor, error) {
	if opts.SlotCount < 1 {
		return nil, fmt.Errorf("slot count must be positive, got %d", opts.SlotCount)
	}
	if deps.Opener == nil {
		return nil, errors.New("supervisor requires a device opener")
	}
	if deps.Enumerator == nil {
		return nil, errors.New("supervisor requires a device enumerator")
	}
	if deps.Logger == nil {
		deps.Logger = logging.NewNop()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}
	if deps.Health == nil {
		deps.Health = health.Multi{}
	}
	if opts.SlotCheckInterval <= 0 {
		opts.SlotCheckInterval = 250 * time.Millisecond
	}
	if opts.KillTimeout <= 0 {
		opts.KillTimeout = 10 * time.Second
	}

	logger := logging.NewComponentLogger(deps.Logger, "supervisor")
	s := &Supervisor{
		opts:   opts,
		deps:   deps,
		logger: logger,
		now:    deps.Now,
	}
	s.perf = perf.NewController(opts.Perf, deps.Sampler, deps.Logger)
	slotLogger := logging.NewComponentLogger(deps.Logger, "slot")
	s.slots = make([]*Slot, opts.SlotCount)
	for i := range s.slots {
		s.slots[i] = newSlot(i, opts.Slot, deps.Opener, s.perf, deps.Frames, slotLogger, deps.Now)
	}
	s.rescan = NewRescanner(deps.Enumerator, s.slots, opts.Slot.FailedCameraCooldown, deps.Logger, deps.Now)
	s.report = NewReporter(s.Snapshot, deps.Health, opts.HealthTimeout, deps.Logger)
	return s, nil
}

// Start launches every loop. Each loop has its own goroutine so a stuck one
// cannot hold up the others.
func (s *Supervisor) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return errors.New("supervisor already running")
	}
	runCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.running = true
	s.started = s.now()

	s.spawn(func() { s.rescan.Run(runCtx, s.opts.RescanInterval) })
	if s.deps.Sampler != nil {
		s.spawn(func() { s.perf.Run(runCtx) })
	}
	if s.opts.HealthInterval > 0 {
		s.spawn(func() { s.report.Run(runCtx, s.opts.HealthInterval) })
	}
	for _, slot := range s.slots {
		s.spawn(func() { s.checkLoop(runCtx, slot) })
	}
	s.logger.Info("supervisor started",
		logging.String(logging.FieldEventType, "supervisor_started"),
		logging.Int("slots", len(s.slots)),
		logging.Float64("capture_fps", s.perf.CaptureFPS()),
	)
	return nil
}

func (s *Supervisor) spawn(fn func()) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		fn()
	}()
}

// Stop cancels every loop, waits for them, then stops all workers.
func (s *Supervisor) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()

	var wg sync.WaitGroup
	for _, slot := range s.slots {
		wg.Add(1)
		go func() {
			defer wg.Done()
			slot.Close()
		}()
	}
	wg.Wait()
	s.logger.Info("supervisor stopped", logging.String(logging.FieldEventType, "supervisor_stopped"))
}

func (s *Supervisor) checkLoop(ctx context.Context, slot *Slot) {
	ticker := time.NewTicker(s.opts.SlotCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if id := slot.Evaluate(s.now()); id != "" {
				s.killHolders(ctx, slot, id)
			}
		}
	}
}

func (s *Supervisor) killHolders(ctx context.Context, slot *Slot, id device.ID) {
	if s.deps.Holders == nil {
		return
	}
	killCtx, cancel := context.WithTimeout(ctx, s.opts.KillTimeout)
	defer cancel()
	if err := s.deps.Holders.KillHolders(killCtx, id); err != nil {
		logging.WarnWithContext(s.logger, "could not free camera device", "kill_holders_failed",
			logging.Error(err),
			logging.Slot(slot.Index()),
			logging.Device(string(id)),
			logging.String(logging.FieldErrorHint, "stop the process holding the device manually"),
		)
		return
	}
	s.logger.Info("released camera device holders",
		logging.String(logging.FieldEventType, "kill_holders_done"),
		logging.Slot(slot.Index()),
		logging.Device(string(id)),
	)
}

// Snapshot reports every slot and the FPS controller.
func (s *Supervisor) Snapshot() health.Snapshot {
	now := s.now()
	snap := health.Snapshot{
		TakenAt: now,
		RunID:   s.opts.RunID,
		Slots:   make([]health.SlotStatus, len(s.slots)),
		Perf:    s.perf.State(),
	}
	for i, slot := range s.slots {
		snap.Slots[i] = slot.Status(now)
	}
	return snap
}

// ErrNotRunning is returned by operations that need a started supervisor.
var ErrNotRunning = errors.New("supervisor is not running")

// Rescan reconciles devices immediately and returns the transition count.
// The supervisor lock is held throughout so Stop cannot close the slots
// while a manual pass is still binding them.
func (s *Supervisor) Rescan(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return 0, ErrNotRunning
	}
	return s.rescan.Reconcile(ctx)
}

// TriggerRescan asks the rescan loop for an early pass. It does nothing when
// the supervisor is stopped.
func (s *Supervisor) TriggerRescan() {
	if !s.Running() {
		return
	}
	s.rescan.Trigger()
}

// ResetSlot releases a FAILED_PERMANENT slot and triggers a rescan.
func (s *Supervisor) ResetSlot(index int) error {
	if index < 0 || index >= len(s.slots) {
		return fmt.Errorf("slot %d out of range [0, %d)", index, len(s.slots))
	}
	if !s.Running() {
		return ErrNotRunning
	}
	if err := s.slots[index].Reset(); err != nil {
		return err
	}
	s.rescan.Trigger()
	return nil
}

// Slots returns the slots in index order.
func (s *Supervisor) Slots() []*Slot { return s.slots }

// Perf returns the FPS controller.
func (s *Supervisor) Perf() *perf.Controller { return s.perf }

// Reporter returns the health reporter.
func (s *Supervisor) Reporter() *Reporter { return s.report }

// Running reports whether Start has been called without Stop.
func (s *Supervisor) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// StartedAt returns when the supervisor last started.
func (s *Supervisor) StartedAt() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.started
}
