package device

import (
	"context"
	"log/slog"
	"strings"
	"sync"

	"github.com/pilebones/go-udev/netlink"

	"camwatch/internal/logging"
)

// HotplugWatcher listens for video4linux udev events and reports added or
// removed device nodes. Rescans stay periodic; the watcher only shortens the
// time until a replugged camera is noticed.
type HotplugWatcher struct {
	logger   *slog.Logger
	onChange func(action string, id ID)

	mu      sync.Mutex
	conn    *netlink.UEventConn
	quit    chan struct{}
	running bool
}

// NewHotplugWatcher creates a watcher invoking onChange for each matched event.
func NewHotplugWatcher(logger *slog.Logger, onChange func(action string, id ID)) *HotplugWatcher {
	return &HotplugWatcher{
		logger:   logging.NewComponentLogger(logger, "hotplug"),
		onChange: onChange,
	}
}

// Start connects to the udev netlink socket. Connection failures are logged
// and leave the watcher stopped; the periodic rescan still finds devices.
// Running reports whether the connection succeeded.
func (w *HotplugWatcher) Start(ctx context.Context) {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if w.running {
		return
	}

	conn := new(netlink.UEventConn)
	if err := conn.Connect(netlink.UdevEvent); err != nil {
		logging.WarnWithContext(w.logger, "failed to connect to netlink socket; relying on periodic rescan", "hotplug_connect_failed",
			logging.Error(err),
			logging.String(logging.FieldErrorHint, "ensure the daemon may open NETLINK_KOBJECT_UEVENT sockets"),
			logging.String(logging.FieldImpact, "new cameras are noticed on the next rescan interval"),
		)
		return
	}

	w.conn = conn
	w.quit = make(chan struct{})
	w.running = true

	go w.monitorLoop(ctx, conn, w.quit)

	w.logger.Info("hotplug watcher started",
		logging.String(logging.FieldEventType, "hotplug_started"),
	)
}

// Stop shuts down the watcher.
func (w *HotplugWatcher) Stop() {
	if w == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.running {
		return
	}
	close(w.quit)
	w.quit = nil
	if w.conn != nil {
		_ = w.conn.Close()
		w.conn = nil
	}
	w.running = false

	w.logger.Info("hotplug watcher stopped",
		logging.String(logging.FieldEventType, "hotplug_stopped"),
	)
}

// Running reports whether the watcher is connected.
func (w *HotplugWatcher) Running() bool {
	if w == nil {
		return false
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

func (w *HotplugWatcher) monitorLoop(ctx context.Context, conn *netlink.UEventConn, quit <-chan struct{}) {
	queue := make(chan netlink.UEvent)
	errs := make(chan error)
	monitorQuit := conn.Monitor(queue, errs, videoMatcher())

	for {
		select {
		case <-ctx.Done():
			close(monitorQuit)
			return
		case <-quit:
			close(monitorQuit)
			return
		case uevent := <-queue:
			w.handleEvent(uevent)
		case err := <-errs:
			logging.WarnWithContext(w.logger, "hotplug monitor error", "hotplug_monitor_error",
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "check kernel netlink subsystem"),
				logging.String(logging.FieldImpact, "hot-plug rescans may be missed"),
			)
		}
	}
}

// videoMatcher matches SUBSYSTEM=video4linux add/remove events.
func videoMatcher() netlink.Matcher {
	action := "add|remove"
	rules := &netlink.RuleDefinitions{}
	rules.AddRule(netlink.RuleDefinition{
		Action: &action,
		Env: map[string]string{
			"SUBSYSTEM": "video4linux",
		},
	})
	return rules
}

func (w *HotplugWatcher) handleEvent(uevent netlink.UEvent) {
	id := eventDevice(uevent)
	if id == "" {
		w.logger.Debug("ignoring event without device name",
			logging.String("action", string(uevent.Action)),
			logging.String("kobj", uevent.KObj),
		)
		return
	}
	action := string(uevent.Action)
	w.logger.Info("camera hot-plug event",
		logging.String(logging.FieldEventType, "hotplug_event"),
		logging.Device(string(id)),
		logging.String("action", action),
	)
	if w.onChange != nil {
		w.onChange(action, id)
	}
}

// eventDevice gets the device node from a uevent. udev reports DEVNAME either
// as a full path or relative to /dev.
func eventDevice(uevent netlink.UEvent) ID {
	devname := strings.TrimSpace(uevent.Env["DEVNAME"])
	if devname == "" {
		devpath := uevent.Env["DEVPATH"]
		if devpath == "" {
			return ""
		}
		parts := strings.Split(devpath, "/")
		devname = parts[len(parts)-1]
	}
	if devname == "" {
		return ""
	}
	if !strings.HasPrefix(devname, "/") {
		devname = "/dev/" + devname
	}
	return ID(devname)
}
