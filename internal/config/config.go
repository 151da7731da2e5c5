package config

import (
	_ "embed"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

//go:embed sample_config.toml
var sampleConfig string

// Paths contains directory and bind address configuration.
type Paths struct {
	LogDir   string `toml:"log_dir"`
	StateDir string `toml:"state_dir"`
}

// Logging contains configuration for log output.
type Logging struct {
	Format        string `toml:"format"`
	Level         string `toml:"level"`
	RetentionDays int    `toml:"retention_days"`
}

// Camera contains slot, rescan and device access settings.
type Camera struct {
	SlotCount               int     `toml:"slot_count"`
	DeviceGlob              string  `toml:"device_glob"`
	RescanIntervalMS        int     `toml:"rescan_interval_ms"`
	FailedCameraCooldownSec float64 `toml:"failed_camera_cooldown_sec"`
	KillDeviceHolders       bool    `toml:"kill_device_holders"`
	Hotplug                 bool    `toml:"hotplug"`
	FFmpegBinary            string  `toml:"ffmpeg_binary"`
	InputFormat             string  `toml:"input_format"`
}

// Profile holds the nominal capture geometry and frame rates. Dynamic FPS
// never raises either rate above these values.
type Profile struct {
	CaptureWidth  int `toml:"capture_width"`
	CaptureHeight int `toml:"capture_height"`
	CaptureFPS    int `toml:"capture_fps"`
	UIFPS         int `toml:"ui_fps"`
}

// Performance configures the load/thermal driven FPS controller.
type Performance struct {
	DynamicFPS          bool    `toml:"dynamic_fps"`
	PerfCheckIntervalMS int     `toml:"perf_check_interval_ms"`
	MinDynamicFPS       int     `toml:"min_dynamic_fps"`
	MinDynamicUIFPS     int     `toml:"min_dynamic_ui_fps"`
	UIFPSStep           int     `toml:"ui_fps_step"`
	CPULoadThreshold    float64 `toml:"cpu_load_threshold"`
	CPUTempThresholdC   float64 `toml:"cpu_temp_threshold_c"`
	StressHoldCount     int     `toml:"stress_hold_count"`
	RecoverHoldCount    int     `toml:"recover_hold_count"`
}

// Recovery configures staleness detection and restart rate limiting.
type Recovery struct {
	StaleFrameTimeoutSec float64 `toml:"stale_frame_timeout_sec"`
	RestartCooldownSec   float64 `toml:"restart_cooldown_sec"`
	MaxRestartsPerWindow int     `toml:"max_restarts_per_window"`
	RestartWindowSec     float64 `toml:"restart_window_sec"`
	CooldownPolicy       string  `toml:"cooldown_policy"`
	SlotCheckIntervalMS  int     `toml:"slot_check_interval_ms"`
	StopGraceMS          int     `toml:"stop_grace_ms"`
}

// Health configures periodic health snapshots.
type Health struct {
	LogIntervalSec       float64 `toml:"log_interval_sec"`
	EmitTimeoutMS        int     `toml:"emit_timeout_ms"`
	History              bool    `toml:"history"`
	HistoryRetentionDays int     `toml:"history_retention_days"`
}

// MQTT configures the optional health publisher.
type MQTT struct {
	Enabled  bool   `toml:"enabled"`
	Broker   string `toml:"broker"`
	ClientID string `toml:"client_id"`
	Username string `toml:"username"`
	Password string `toml:"password"`
	Topic    string `toml:"topic"`
}

// Notifications configures ntfy alerts for slots that give up or recover.
type Notifications struct {
	NtfyTopic         string `toml:"ntfy_topic"`
	RequestTimeoutSec int    `toml:"request_timeout_sec"`
}

// API configures the HTTP status endpoint.
type API struct {
	Enabled bool   `toml:"enabled"`
	Bind    string `toml:"bind"`
	Token   string `toml:"token"`
}

// Config encapsulates all configuration values for camwatch.
//
// Configuration sections by subsystem:
//   - Paths: log and state directories
//   - Logging: log format, level, and retention
//   - Camera: slots, enumeration, rescans, device access
//   - Profile: nominal capture geometry and frame rates
//   - Performance: dynamic FPS controller
//   - Recovery: staleness, cooldown and restart limits
//   - Health: snapshot cadence and history
//   - MQTT: health publishing
//   - Notifications: ntfy slot alerts
//   - API: HTTP status endpoint
type Config struct {
	Paths         Paths         `toml:"paths"`
	Logging       Logging       `toml:"logging"`
	Camera        Camera        `toml:"camera"`
	Profile       Profile       `toml:"profile"`
	Performance   Performance   `toml:"performance"`
	Recovery      Recovery      `toml:"recovery"`
	Health        Health        `toml:"health"`
	MQTT          MQTT          `toml:"mqtt"`
	Notifications Notifications `toml:"notifications"`
	API           API           `toml:"api"`
}

// DefaultConfigPath returns the absolute path to the default configuration file location.
func DefaultConfigPath() (string, error) {
	return expandPath(defaultConfigPath)
}

// Load locates, parses, and validates a configuration file. The returned config has all
// path fields expanded and normalized.
func Load(path string) (*Config, string, bool, error) {
	cfg := Default()

	resolvedPath, exists, err := resolveConfigPath(path)
	if err != nil {
		return nil, "", false, err
	}

	if exists {
		file, err := os.Open(resolvedPath)
		if err != nil {
			return nil, "", false, fmt.Errorf("open config: %w", err)
		}
		defer file.Close()

		decoder := toml.NewDecoder(file)
		if err := decoder.Decode(&cfg); err != nil {
			return nil, "", false, fmt.Errorf("parse config: %w", err)
		}
	}

	if err := cfg.normalize(); err != nil {
		return nil, "", false, err
	}

	if err := cfg.Validate(); err != nil {
		return nil, "", false, err
	}

	return &cfg, resolvedPath, exists, nil
}

func resolveConfigPath(path string) (string, bool, error) {
	if strings.TrimSpace(path) == "" {
		path = strings.TrimSpace(os.Getenv("CAMWATCH_CONFIG"))
	}
	if path != "" {
		expanded, err := expandPath(path)
		if err != nil {
			return "", false, err
		}
		_, err = os.Stat(expanded)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return expanded, false, nil
			}
			return "", false, fmt.Errorf("stat config: %w", err)
		}
		return expanded, true, nil
	}

	defaultPath, err := expandPath(defaultConfigPath)
	if err != nil {
		return "", false, err
	}

	projectPath, err := filepath.Abs("camwatch.toml")
	if err != nil {
		return "", false, err
	}

	if info, err := os.Stat(defaultPath); err == nil && !info.IsDir() {
		return defaultPath, true, nil
	}
	if info, err := os.Stat(projectPath); err == nil && !info.IsDir() {
		return projectPath, true, nil
	}

	return defaultPath, false, nil
}

// EnsureDirectories creates required directories for daemon operation.
func (c *Config) EnsureDirectories() error {
	for _, dir := range []string{c.Paths.LogDir, c.Paths.StateDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create directory %q: %w", dir, err)
		}
	}
	return nil
}

// Encode renders the effective configuration as TOML.
func (c *Config) Encode() ([]byte, error) {
	data, err := toml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("encode config: %w", err)
	}
	return data, nil
}

// SocketPath returns the daemon's JSON-RPC socket location.
func (c *Config) SocketPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.sock")
}

// LockPath returns the single-instance lock file location.
func (c *Config) LockPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.lock")
}

// PIDPath returns the daemon pid file location.
func (c *Config) PIDPath() string {
	return filepath.Join(c.Paths.StateDir, "camwatch.pid")
}

// HealthDBPath returns the SQLite health history location.
func (c *Config) HealthDBPath() string {
	return filepath.Join(c.Paths.StateDir, "health.db")
}

// RescanInterval returns camera.rescan_interval_ms as a duration.
func (c *Config) RescanInterval() time.Duration {
	return millis(c.Camera.RescanIntervalMS)
}

// FailedCameraCooldown returns camera.failed_camera_cooldown_sec as a duration.
func (c *Config) FailedCameraCooldown() time.Duration {
	return seconds(c.Camera.FailedCameraCooldownSec)
}

// PerfCheckInterval returns performance.perf_check_interval_ms as a duration.
func (c *Config) PerfCheckInterval() time.Duration {
	return millis(c.Performance.PerfCheckIntervalMS)
}

// StaleFrameTimeout returns recovery.stale_frame_timeout_sec as a duration.
func (c *Config) StaleFrameTimeout() time.Duration {
	return seconds(c.Recovery.StaleFrameTimeoutSec)
}

// RestartCooldown returns recovery.restart_cooldown_sec as a duration.
func (c *Config) RestartCooldown() time.Duration {
	return seconds(c.Recovery.RestartCooldownSec)
}

// RestartWindow returns recovery.restart_window_sec as a duration.
func (c *Config) RestartWindow() time.Duration {
	return seconds(c.Recovery.RestartWindowSec)
}

// SlotCheckInterval returns recovery.slot_check_interval_ms as a duration.
func (c *Config) SlotCheckInterval() time.Duration {
	return millis(c.Recovery.SlotCheckIntervalMS)
}

// StopGrace returns recovery.stop_grace_ms as a duration.
func (c *Config) StopGrace() time.Duration {
	return millis(c.Recovery.StopGraceMS)
}

// HealthLogInterval returns health.log_interval_sec as a duration.
func (c *Config) HealthLogInterval() time.Duration {
	return seconds(c.Health.LogIntervalSec)
}

// HealthEmitTimeout returns health.emit_timeout_ms as a duration.
func (c *Config) HealthEmitTimeout() time.Duration {
	return millis(c.Health.EmitTimeoutMS)
}

func millis(v int) time.Duration {
	return time.Duration(v) * time.Millisecond
}

func seconds(v float64) time.Duration {
	return time.Duration(v * float64(time.Second))
}

func expandPath(pathValue string) (string, error) {
	if pathValue == "" {
		return pathValue, nil
	}
	if strings.HasPrefix(pathValue, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", fmt.Errorf("resolve home directory: %w", err)
		}
		if pathValue == "~" {
			pathValue = home
		} else if len(pathValue) > 1 && (pathValue[1] == '/' || pathValue[1] == '\\') {
			pathValue = filepath.Join(home, pathValue[2:])
		}
	}
	cleaned := filepath.Clean(pathValue)
	absolute, err := filepath.Abs(cleaned)
	if err != nil {
		return "", fmt.Errorf("resolve absolute path for %q: %w", cleaned, err)
	}
	return absolute, nil
}

// ExpandPath exposes the repository path expansion rules for other packages.
func ExpandPath(pathValue string) (string, error) {
	return expandPath(pathValue)
}

// CreateSample writes a sample configuration file to the specified location.
func CreateSample(path string) error {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config directory: %w", err)
		}
	}

	if err := os.WriteFile(path, []byte(sampleConfig), 0o644); err != nil {
		return fmt.Errorf("write sample config: %w", err)
	}
	return nil
}

// SampleConfig returns the embedded sample configuration text.
func SampleConfig() string {
	return sampleConfig
}
