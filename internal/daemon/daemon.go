package daemon

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofrs/flock"

	"camwatch/internal/api"
	"camwatch/internal/config"
	"camwatch/internal/device"
	"camwatch/internal/framebuffer"
	"camwatch/internal/health"
	"camwatch/internal/logging"
	"camwatch/internal/notifications"
	"camwatch/internal/perf"
	"camwatch/internal/supervisor"
)

// ErrAlreadyRunning is returned by Start on a running daemon or when another
// process holds the lock.
var ErrAlreadyRunning = errors.New("camwatch daemon already running")

// Deps overrides the hardware adapters. Nil fields get the production
// implementation built from the configuration.
type Deps struct {
	Opener     device.Opener
	Enumerator device.Enumerator
	Sampler    perf.Sampler
	Holders    supervisor.HolderKiller
	Store      *health.Store
	Notifier   notifications.Service
	Now        func() time.Time
}

// Daemon coordinates supervision and enforces single-instance execution.
type Daemon struct {
	cfg     *config.Config
	logger  *slog.Logger
	runID   string
	logPath string

	sup        *supervisor.Supervisor
	frames     *framebuffer.Hub
	enumerator device.Enumerator
	store      *health.Store
	logSink    *health.LogSink
	notifier   notifications.Service
	watcher    *notifications.SlotWatcher
	hotplug    *device.HotplugWatcher
	api        *apiServer

	lockPath string
	lock     *flock.Flock

	mu        sync.Mutex
	mqtt      *health.MQTTPublisher
	running   atomic.Bool
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	startedAt time.Time
}

// Status represents daemon runtime information.
type Status struct {
	Running       bool
	PID           int
	RunID         string
	StartedAt     time.Time
	LockFilePath  string
	HealthDBPath  string
	LogPath       string
	Hotplug       bool
	MQTT          bool
	Notifications bool
	Health        health.Snapshot
}

// New constructs a daemon with initialized dependencies. Nothing runs until
// Start.
func New(cfg *config.Config, logger *slog.Logger, runID, logPath string, deps Deps) (*Daemon, error) {
	if cfg == nil {
		return nil, errors.New("daemon requires config")
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, fmt.Errorf("ensure directories: %w", err)
	}

	if deps.Opener == nil {
		deps.Opener = &device.FFmpegOpener{
			Binary:      cfg.Camera.FFmpegBinary,
			InputFormat: cfg.Camera.InputFormat,
			Width:       cfg.Profile.CaptureWidth,
			Height:      cfg.Profile.CaptureHeight,
			FPS:         cfg.Profile.CaptureFPS,
		}
	}
	if deps.Enumerator == nil {
		deps.Enumerator = device.NewGlobEnumerator(cfg.Camera.DeviceGlob)
	}
	if deps.Sampler == nil {
		deps.Sampler = perf.NewSystemSampler()
	}
	if deps.Holders == nil {
		deps.Holders = device.NewHolderKiller(logger)
	}
	if deps.Notifier == nil {
		deps.Notifier = notifications.NewService(cfg)
	}
	if deps.Store == nil && cfg.Health.History {
		store, err := health.OpenStore(cfg.HealthDBPath())
		if err != nil {
			logging.WarnWithContext(logger, "health history unavailable", "health_history_unavailable",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "delete the history database or disable health.history"),
				logging.String(logging.FieldImpact, "snapshots are logged but not stored"),
			)
		} else {
			deps.Store = store
		}
	}

	d := &Daemon{
		cfg:        cfg,
		logger:     logger,
		runID:      runID,
		logPath:    logPath,
		frames:     framebuffer.NewHub(),
		enumerator: deps.Enumerator,
		store:      deps.Store,
		logSink:    health.NewLogSink(logger),
		notifier:   deps.Notifier,
		lockPath:   cfg.LockPath(),
		lock:       flock.New(cfg.LockPath()),
	}

	if notifications.Enabled(deps.Notifier) {
		d.watcher = notifications.NewSlotWatcher(deps.Notifier)
	}

	opts := supervisor.OptionsFromConfig(cfg)
	opts.RunID = runID
	sup, err := supervisor.New(opts, supervisor.Deps{
		Opener:     deps.Opener,
		Enumerator: deps.Enumerator,
		Sampler:    deps.Sampler,
		Holders:    deps.Holders,
		Frames:     d.frames,
		Health:     health.EmitterFunc(d.emitHealth),
		Logger:     logger,
		Now:        deps.Now,
	})
	if err != nil {
		return nil, fmt.Errorf("create supervisor: %w", err)
	}
	d.sup = sup

	if cfg.Camera.Hotplug {
		d.hotplug = device.NewHotplugWatcher(logger, d.onHotplug)
	}
	if cfg.API.Enabled {
		d.api = newAPIServer(cfg.API.Bind, cfg.API.Token, d, logger)
	}
	return d, nil
}

// Start acquires the daemon lock and launches supervision.
func (d *Daemon) Start(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.running.Load() {
		return ErrAlreadyRunning
	}

	ok, err := d.lock.TryLock()
	if err != nil {
		return fmt.Errorf("acquire lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: lock %s is held", ErrAlreadyRunning, d.lockPath)
	}

	runCtx, cancel := context.WithCancel(ctx)
	if err := d.sup.Start(runCtx); err != nil {
		cancel()
		_ = d.lock.Unlock()
		return fmt.Errorf("start supervisor: %w", err)
	}
	if err := d.api.start(runCtx); err != nil {
		logging.WarnWithContext(d.logger, "http api unavailable", "api_start_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "check api.bind for a free address"),
			logging.String(logging.FieldImpact, "status is only available over the CLI socket"),
		)
	}
	if d.hotplug != nil {
		d.hotplug.Start(runCtx)
	}
	if d.cfg.MQTT.Enabled {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.connectMQTT(runCtx)
		}()
	}
	if d.store != nil && d.cfg.Health.HistoryRetentionDays > 0 {
		d.wg.Add(1)
		go func() {
			defer d.wg.Done()
			d.retentionLoop(runCtx)
		}()
	}

	d.cancel = cancel
	d.startedAt = time.Now()
	d.running.Store(true)
	d.logger.Info("camwatch daemon started",
		logging.String(logging.FieldEventType, "daemon_started"),
		logging.String("lock", d.lockPath),
		logging.Int("slots", d.cfg.Camera.SlotCount),
		logging.String("device_glob", d.cfg.Camera.DeviceGlob),
	)
	return nil
}

// Stop stops supervision and releases the daemon lock.
func (d *Daemon) Stop() {
	d.mu.Lock()
	defer d.mu.Unlock()
	// Cleared first so Rescan and ResetSlot refuse work during shutdown.
	if !d.running.CompareAndSwap(true, false) {
		return
	}

	if d.hotplug != nil {
		d.hotplug.Stop()
	}
	d.api.stop()
	d.sup.Stop()
	if d.cancel != nil {
		d.cancel()
		d.cancel = nil
	}
	d.wg.Wait()
	if d.mqtt != nil {
		d.mqtt.Close()
		d.mqtt = nil
	}
	if err := d.lock.Unlock(); err != nil {
		logging.WarnWithContext(d.logger, "failed to release daemon lock", "daemon_lock_release_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "remove the lock file if the next start fails"),
		)
	}
	d.logger.Info("camwatch daemon stopped", logging.String(logging.FieldEventType, "daemon_stopped"))
}

// Close stops the daemon and releases the history store.
func (d *Daemon) Close() error {
	d.Stop()
	if d.store != nil {
		return d.store.Close()
	}
	return nil
}

// Running reports whether supervision is active.
func (d *Daemon) Running() bool {
	return d.running.Load()
}

// Status returns the daemon state and a fresh health snapshot.
func (d *Daemon) Status() Status {
	d.mu.Lock()
	startedAt := d.startedAt
	mqttUp := d.mqtt != nil
	d.mu.Unlock()

	st := Status{
		Running:       d.running.Load(),
		PID:           os.Getpid(),
		RunID:         d.runID,
		LockFilePath:  d.lockPath,
		LogPath:       d.logPath,
		Hotplug:       d.hotplug != nil && d.hotplug.Running(),
		MQTT:          mqttUp,
		Notifications: d.watcher != nil,
		Health:        d.sup.Snapshot(),
	}
	if st.Running {
		st.StartedAt = startedAt
	}
	if d.store != nil {
		st.HealthDBPath = d.store.Path()
	}
	return st
}

// StatusView converts Status for transport.
func (d *Daemon) StatusView() api.DaemonStatus {
	st := d.Status()
	view := api.DaemonStatus{
		Running:       st.Running,
		PID:           st.PID,
		RunID:         st.RunID,
		LockFilePath:  st.LockFilePath,
		HealthDBPath:  st.HealthDBPath,
		LogPath:       st.LogPath,
		Hotplug:       st.Hotplug,
		MQTT:          st.MQTT,
		Notifications: st.Notifications,
		Health:        api.FromSnapshot(st.Health),
	}
	if !st.StartedAt.IsZero() {
		view.StartedAt = st.StartedAt.UTC().Format(time.RFC3339)
	}
	return view
}

// Rescan reconciles devices now.
func (d *Daemon) Rescan(ctx context.Context) (int, error) {
	if !d.running.Load() {
		return 0, errors.New("daemon is not running")
	}
	return d.sup.Rescan(ctx)
}

// ResetSlot releases a slot that gave up on its camera.
func (d *Daemon) ResetSlot(index int) error {
	if !d.running.Load() {
		return errors.New("daemon is not running")
	}
	return d.sup.ResetSlot(index)
}

// Devices enumerates device nodes and marks which slot holds each.
func (d *Daemon) Devices(ctx context.Context) ([]api.DeviceView, error) {
	ids, err := d.enumerator.Enumerate(ctx)
	if err != nil {
		return nil, err
	}
	return api.FromDeviceInfo(device.Describe(ids), d.sup.Snapshot()), nil
}

// History returns stored snapshots, newest first.
func (d *Daemon) History(ctx context.Context, limit int) ([]health.Snapshot, error) {
	if d.store == nil {
		return nil, errors.New("health history is disabled")
	}
	return d.store.Recent(ctx, limit)
}

// TestNotification publishes a test event. It reports false when no ntfy
// topic is configured.
func (d *Daemon) TestNotification(ctx context.Context) (bool, error) {
	if !notifications.Enabled(d.notifier) {
		return false, nil
	}
	if err := d.notifier.Publish(ctx, notifications.EventTest, nil); err != nil {
		return false, err
	}
	return true, nil
}

// LogPath is the current run's log file, or "" when logging to stderr only.
func (d *Daemon) LogPath() string { return d.logPath }

// Frames exposes the latest-frame hub.
func (d *Daemon) Frames() *framebuffer.Hub { return d.frames }

// Supervisor exposes the supervisor for tests and the API.
func (d *Daemon) Supervisor() *supervisor.Supervisor { return d.sup }

func (d *Daemon) onHotplug(action string, id device.ID) {
	d.logger.Debug("camera hotplug event",
		logging.String(logging.FieldEventType, "hotplug_event"),
		logging.String("action", action),
		logging.Device(string(id)),
	)
	d.sup.TriggerRescan()
}

func (d *Daemon) emitHealth(ctx context.Context, snap health.Snapshot) error {
	emitters := health.Multi{d.logSink}
	if d.store != nil {
		emitters = append(emitters, d.store)
	}
	if d.watcher != nil {
		emitters = append(emitters, d.watcher)
	}
	d.mu.Lock()
	if d.mqtt != nil {
		emitters = append(emitters, d.mqtt)
	}
	d.mu.Unlock()
	return emitters.Emit(ctx, snap)
}

func (d *Daemon) connectMQTT(ctx context.Context) {
	pub, err := health.ConnectMQTT(ctx, d.cfg.MQTT, d.logger)
	if err != nil {
		if ctx.Err() == nil {
			logging.WarnWithContext(d.logger, "mqtt health publishing disabled", "mqtt_connect_failed",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check mqtt.broker and credentials"),
				logging.String(logging.FieldImpact, "health is still logged and stored locally"),
			)
		}
		return
	}
	d.mu.Lock()
	d.mqtt = pub
	d.mu.Unlock()
}

func (d *Daemon) retentionLoop(ctx context.Context) {
	retention := time.Duration(d.cfg.Health.HistoryRetentionDays) * 24 * time.Hour
	prune := func() {
		removed, err := d.store.Prune(ctx, time.Now().Add(-retention))
		if err != nil {
			if ctx.Err() == nil {
				logging.WarnWithContext(d.logger, "health history prune failed", "health_prune_failed",
					logging.Error(err),
				)
			}
			return
		}
		if removed > 0 {
			d.logger.Info("pruned health history",
				logging.String(logging.FieldEventType, "health_pruned"),
				logging.Int64("removed", removed),
			)
		}
	}

	prune()
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			prune()
		}
	}
}
