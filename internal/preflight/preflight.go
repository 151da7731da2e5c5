package preflight

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"golang.org/x/sys/unix"

	"camwatch/internal/config"
	"camwatch/internal/device"
	"camwatch/internal/perf"
)

// Result reports the outcome of a single check. Optional checks only warn.
type Result struct {
	Name     string
	Passed   bool
	Optional bool
	Detail   string
}

// Severity maps a result to ok, warn or error.
func (r Result) Severity() string {
	switch {
	case r.Passed:
		return "ok"
	case r.Optional:
		return "warn"
	default:
		return "error"
	}
}

// RunAll executes every check that applies to cfg.
func RunAll(ctx context.Context, cfg *config.Config) []Result {
	if cfg == nil {
		return nil
	}
	results := []Result{
		CheckBinary("FFmpeg", cfg.Camera.FFmpegBinary, false),
		CheckDirectoryAccess("State directory", cfg.Paths.StateDir),
		CheckDirectoryAccess("Log directory", cfg.Paths.LogDir),
		CheckDevices(ctx, cfg.Camera.DeviceGlob),
		CheckMetrics(ctx, perf.NewSystemSampler()),
	}
	if cfg.Camera.KillDeviceHolders {
		holders := Result{Name: "Holder lookup", Optional: true, Passed: true, Detail: "/proc scan"}
		switch {
		case CheckBinary("lsof", "lsof", true).Passed:
			holders.Detail += " + lsof"
		case CheckBinary("fuser", "fuser", true).Passed:
			holders.Detail += " + fuser"
		default:
			holders.Detail += " only (lsof and fuser not found)"
		}
		results = append(results, holders)
	}
	if cfg.MQTT.Enabled {
		results = append(results, Result{
			Name:     "MQTT",
			Optional: true,
			Passed:   strings.TrimSpace(cfg.MQTT.Broker) != "",
			Detail:   cfg.MQTT.Broker + " topic " + cfg.MQTT.Topic,
		})
	}
	return results
}

// CheckBinary verifies that command resolves on PATH.
func CheckBinary(name, command string, optional bool) Result {
	command = strings.TrimSpace(command)
	res := Result{Name: name, Optional: optional}
	if command == "" {
		res.Detail = "command not configured"
		return res
	}
	path, err := exec.LookPath(command)
	if err != nil {
		res.Detail = fmt.Sprintf("binary %q not found", command)
		return res
	}
	res.Passed = true
	res.Detail = path
	return res
}

// CheckDirectoryAccess verifies that the directory exists and is readable/writable.
func CheckDirectoryAccess(name, path string) Result {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return Result{Name: name, Detail: fmt.Sprintf("%s (error: does not exist)", path)}
		}
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: stat: %v)", path, err)}
	}
	if !info.IsDir() {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: is not a directory)", path)}
	}
	if err := unix.Access(path, unix.R_OK|unix.W_OK|unix.X_OK); err != nil {
		return Result{Name: name, Detail: fmt.Sprintf("%s (error: insufficient permissions: %v)", path, err)}
	}
	return Result{Name: name, Passed: true, Detail: fmt.Sprintf("%s (read/write ok)", path)}
}

// CheckDevices enumerates glob and reports how many nodes the current user
// can open. No devices is a warning: cameras may be plugged in later.
func CheckDevices(ctx context.Context, glob string) Result {
	res := Result{Name: "Cameras", Optional: true}
	ids, err := device.NewGlobEnumerator(glob).Enumerate(ctx)
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	if len(ids) == 0 {
		res.Detail = "no devices match " + glob
		return res
	}
	usable := 0
	var problems []string
	for _, info := range device.Describe(ids) {
		if info.Accessible {
			usable++
			continue
		}
		problems = append(problems, string(info.ID)+": "+info.Problem)
	}
	res.Passed = usable > 0
	res.Detail = fmt.Sprintf("%d/%d accessible", usable, len(ids))
	if len(problems) > 0 {
		res.Detail += " (" + strings.Join(problems, "; ") + ")"
	}
	return res
}

// CheckMetrics takes one sample to confirm load and temperature are readable.
func CheckMetrics(ctx context.Context, sampler perf.Sampler) Result {
	res := Result{Name: "System metrics", Optional: true}
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	sample, err := sampler.Sample(ctx)
	if err != nil {
		res.Detail = err.Error()
		return res
	}
	res.Passed = true
	res.Detail = fmt.Sprintf("load %.0f%%", sample.Load*100)
	if sample.HasTemp {
		res.Detail += fmt.Sprintf(", cpu %.1f°C", sample.TempC)
	} else {
		res.Detail += ", no temperature sensor"
	}
	return res
}
