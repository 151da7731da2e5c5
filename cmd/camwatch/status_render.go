package main

import (
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/mattn/go-isatty"

	"camwatch/internal/api"
	"camwatch/internal/daemonctl"
)

type statusKind int

const (
	statusInfo statusKind = iota
	statusOK
	statusWarn
	statusError
)

const (
	ansiReset  = "\x1b[0m"
	ansiRed    = "\x1b[31m"
	ansiGreen  = "\x1b[32m"
	ansiYellow = "\x1b[33m"
	ansiBlue   = "\x1b[34m"
)

const (
	statusLabelWidth = 18
	statusIndent     = "  "
)

func renderStatusLine(label string, kind statusKind, message string, colorize bool) string {
	statusText := "[" + statusKindLabel(kind) + "]"
	if message != "" {
		statusText += " " + message
	}
	base := fmt.Sprintf("%s%-*s %s", statusIndent, statusLabelWidth, label+":", statusText)
	if colorize {
		if color := statusKindColor(kind); color != "" {
			return color + base + ansiReset
		}
	}
	return base
}

func statusKindLabel(kind statusKind) string {
	switch kind {
	case statusOK:
		return "OK"
	case statusWarn:
		return "WARN"
	case statusError:
		return "ERROR"
	default:
		return "INFO"
	}
}

func statusKindColor(kind statusKind) string {
	switch kind {
	case statusOK:
		return ansiGreen
	case statusWarn:
		return ansiYellow
	case statusError:
		return ansiRed
	case statusInfo:
		return ansiBlue
	default:
		return ""
	}
}

func statusKindFromSeverity(severity string) statusKind {
	switch severity {
	case "ok":
		return statusOK
	case "warn":
		return statusWarn
	case "error":
		return statusError
	default:
		return statusInfo
	}
}

// slotStateKind colors slot states: capturing is OK, recovering is WARN and
// given up is ERROR.
func slotStateKind(state string) statusKind {
	switch state {
	case "ACTIVE":
		return statusOK
	case "OPENING", "STALE", "COOLING_DOWN":
		return statusWarn
	case "FAILED_PERMANENT":
		return statusError
	default:
		return statusInfo
	}
}

func renderSectionHeader(title string, colorize bool) []string {
	line := fmt.Sprintf("== %s ==", strings.TrimSpace(title))
	rule := strings.Repeat("-", len(line))
	if colorize {
		line = ansiBlue + line + ansiReset
		rule = ansiBlue + rule + ansiReset
	}
	return []string{line, rule}
}

func shouldColorize(writer io.Writer) bool {
	file, ok := writer.(*os.File)
	if !ok {
		return false
	}
	fd := file.Fd()
	return isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd)
}

func renderStatus(snap daemonctl.StatusSnapshot, now time.Time, colorize bool) []string {
	var lines []string
	st := snap.Daemon

	lines = append(lines, renderSectionHeader("Daemon", colorize)...)
	switch {
	case st.Running:
		detail := "Running"
		if st.PID > 0 {
			detail += fmt.Sprintf(" (pid %d", st.PID)
			if started, ok := parseTime(st.StartedAt); ok {
				detail += ", up " + formatAge(now.Sub(started))
			}
			detail += ")"
		}
		lines = append(lines, renderStatusLine("Camwatch", statusOK, detail, colorize))
	case snap.Reachable:
		lines = append(lines, renderStatusLine("Camwatch", statusWarn, "Supervision stopped (run `camwatch start`)", colorize))
	default:
		lines = append(lines, renderStatusLine("Camwatch", statusWarn, "Not running (run `camwatch start`)", colorize))
	}
	if snap.Reachable {
		lines = append(lines,
			renderStatusLine("Hotplug", onOffKind(st.Hotplug), onOff(st.Hotplug), colorize),
			renderStatusLine("MQTT", onOffKind(st.MQTT), onOff(st.MQTT), colorize),
			renderStatusLine("Notifications", onOffKind(st.Notifications), onOff(st.Notifications), colorize),
		)
		if st.LogPath != "" {
			lines = append(lines, renderStatusLine("Log", statusInfo, st.LogPath, colorize))
		}
	}
	lines = append(lines, "")

	lines = append(lines, renderSectionHeader("Host Checks", colorize)...)
	for _, check := range snap.Checks {
		lines = append(lines, renderStatusLine(check.Name, statusKindFromSeverity(check.Severity()), check.Detail, colorize))
	}
	lines = append(lines, "")

	if len(st.Health.Slots) == 0 {
		return lines
	}

	lines = append(lines, renderSectionHeader("Performance", colorize)...)
	lines = append(lines, perfLines(st.Health.Perf, colorize)...)
	lines = append(lines, "")

	title := "Slots"
	if snap.FromHistory {
		title += " (last stored snapshot " + st.Health.TakenAt + ")"
	}
	lines = append(lines, renderSectionHeader(title, colorize)...)
	lines = append(lines, strings.Split(renderSlotTable(st.Health.Slots, now, colorize), "\n")...)
	return lines
}

func perfLines(p api.PerfView, colorize bool) []string {
	mode := "fixed"
	if p.Dynamic {
		mode = "dynamic"
	}
	kind := statusOK
	pressure := "normal"
	if p.Stressed {
		kind = statusWarn
		pressure = "reduced for load or heat"
	}
	lines := []string{
		renderStatusLine("Frame rate", kind,
			fmt.Sprintf("capture %s fps, display %s fps (%s, %s)", formatFPS(p.CaptureFPS), formatFPS(p.UIFPS), mode, pressure), colorize),
	}
	host := "no sample yet"
	if p.Load != nil {
		host = fmt.Sprintf("load %.0f%%", *p.Load*100)
		if p.TempC != nil {
			host += fmt.Sprintf(", cpu %.1f°C", *p.TempC)
		}
	}
	lines = append(lines, renderStatusLine("Host", statusInfo, host, colorize))
	return lines
}

func renderSlotTable(slots []api.SlotView, now time.Time, colorize bool) string {
	rows := make([][]string, 0, len(slots))
	for _, slot := range slots {
		state := slot.Label
		if colorize {
			if color := statusKindColor(slotStateKind(slot.State)); color != "" {
				state = color + state + ansiReset
			}
		}
		device := slot.Device
		if device == "" {
			device = "-"
		}
		lastFrame := "-"
		if at, ok := parseTime(slot.LastFrameAt); ok {
			lastFrame = formatAge(now.Sub(at)) + " ago"
		}
		detail := slotDetail(slot)
		rows = append(rows, []string{
			strconv.Itoa(slot.Index),
			state,
			device,
			fmt.Sprintf("%d/%d", slot.RestartsInWindow, slot.RestartsTotal),
			lastFrame,
			detail,
		})
	}
	return renderTable([]column{
		{header: "Slot", align: alignRight},
		{header: "State"},
		{header: "Device"},
		{header: "Restarts", align: alignRight},
		{header: "Last Frame", align: alignRight},
		{header: "Detail", maxWidth: 60},
	}, rows)
}

func slotDetail(slot api.SlotView) string {
	var parts []string
	if slot.CooldownRemainingMS > 0 {
		parts = append(parts, "retry in "+formatAge(time.Duration(slot.CooldownRemainingMS)*time.Millisecond))
	}
	if slot.FailureReason != "" {
		parts = append(parts, strings.ReplaceAll(slot.FailureReason, "_", " "))
	}
	if slot.LastError != "" {
		parts = append(parts, slot.LastError)
	}
	return strings.Join(parts, "; ")
}

func parseTime(value string) (time.Time, bool) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, value)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

func formatAge(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	switch {
	case d < time.Second:
		return fmt.Sprintf("%dms", d.Milliseconds())
	case d < time.Minute:
		return fmt.Sprintf("%.1fs", d.Seconds())
	case d < time.Hour:
		return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
	default:
		return fmt.Sprintf("%dh%02dm", int(d.Hours()), int(d.Minutes())%60)
	}
}

func formatFPS(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}

func onOff(v bool) string {
	if v {
		return "active"
	}
	return "inactive"
}

func onOffKind(v bool) statusKind {
	if v {
		return statusOK
	}
	return statusInfo
}
