package device

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/shirou/gopsutil/v3/process"
	"golang.org/x/sys/unix"

	"camwatch/internal/logging"
)

const defaultKillGrace = 400 * time.Millisecond

// HolderKiller terminates processes that hold a device node open: SIGTERM,
// a grace period, then SIGKILL for survivors.
type HolderKiller struct {
	Grace  time.Duration
	logger *slog.Logger

	lookup func(ctx context.Context, path string) []int
	signal func(pid int, sig syscall.Signal) error
	alive  func(ctx context.Context, pid int) bool
}

// NewHolderKiller returns a killer backed by gopsutil with lsof/fuser
// fallbacks.
func NewHolderKiller(logger *slog.Logger) *HolderKiller {
	return &HolderKiller{
		Grace:  defaultKillGrace,
		logger: logging.NewComponentLogger(logger, "holders"),
		lookup: lookupHolders,
		signal: unix.Kill,
		alive:  pidAlive,
	}
}

// KillHolders frees id. It returns nil when nothing held the device.
func (k *HolderKiller) KillHolders(ctx context.Context, id ID) error {
	path := string(id)
	pids := k.lookup(ctx, path)
	self := os.Getpid()
	targets := pids[:0]
	for _, pid := range pids {
		if pid != self && pid > 0 {
			targets = append(targets, pid)
		}
	}
	if len(targets) == 0 {
		return nil
	}
	sort.Ints(targets)

	k.logger.Info("terminating device holders",
		logging.Device(path),
		logging.Any("pids", targets),
		logging.String(logging.FieldEventType, "device_holders_kill"),
	)

	var errs []error
	for _, pid := range targets {
		if err := k.signal(pid, unix.SIGTERM); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("sigterm %d: %w", pid, err))
		}
	}

	grace := k.Grace
	if grace <= 0 {
		grace = defaultKillGrace
	}
	timer := time.NewTimer(grace)
	select {
	case <-ctx.Done():
		timer.Stop()
		return fmt.Errorf("%w: %s: %v", ErrKillHolders, path, ctx.Err())
	case <-timer.C:
	}

	for _, pid := range targets {
		if !k.alive(ctx, pid) {
			continue
		}
		if err := k.signal(pid, unix.SIGKILL); err != nil && !errors.Is(err, unix.ESRCH) {
			errs = append(errs, fmt.Errorf("sigkill %d: %w", pid, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %s: %w", ErrKillHolders, path, errors.Join(errs...))
	}
	return nil
}

func lookupHolders(ctx context.Context, path string) []int {
	if pids := holdersFromProc(ctx, path); len(pids) > 0 {
		return pids
	}
	if pids := parsePIDLines(runQuiet(ctx, "lsof", "-t", path)); len(pids) > 0 {
		return pids
	}
	return parseFuserOutput(runQuiet(ctx, "fuser", path))
}

// holdersFromProc walks every process's open files. Processes owned by other
// users are skipped silently when their fd table is unreadable.
func holdersFromProc(ctx context.Context, path string) []int {
	procs, err := process.ProcessesWithContext(ctx)
	if err != nil {
		return nil
	}
	var pids []int
	for _, p := range procs {
		files, err := p.OpenFilesWithContext(ctx)
		if err != nil {
			continue
		}
		for _, f := range files {
			if f.Path == path {
				pids = append(pids, int(p.Pid))
				break
			}
		}
	}
	return pids
}

func pidAlive(ctx context.Context, pid int) bool {
	ok, err := process.PidExistsWithContext(ctx, int32(pid))
	return err == nil && ok
}

func runQuiet(ctx context.Context, name string, args ...string) string {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	out, _ := exec.CommandContext(ctx, name, args...).Output()
	return string(out)
}

func parsePIDLines(out string) []int {
	var pids []int
	for _, line := range strings.Split(out, "\n") {
		if pid, err := strconv.Atoi(strings.TrimSpace(line)); err == nil && pid > 0 {
			pids = append(pids, pid)
		}
	}
	return pids
}

var digitsPattern = regexp.MustCompile(`\b(\d+)\b`)

// parseFuserOutput reads the pid list fuser prints on stdout.
func parseFuserOutput(out string) []int {
	seen := map[int]struct{}{}
	var pids []int
	for _, match := range digitsPattern.FindAllString(out, -1) {
		pid, err := strconv.Atoi(match)
		if err != nil || pid <= 0 {
			continue
		}
		if _, dup := seen[pid]; dup {
			continue
		}
		seen[pid] = struct{}{}
		pids = append(pids, pid)
	}
	return pids
}
