package config

import (
	"errors"
	"fmt"
)

// Validate ensures the configuration is usable.
func (c *Config) Validate() error {
	if err := c.validateCamera(); err != nil {
		return err
	}
	if err := c.validateProfile(); err != nil {
		return err
	}
	if err := c.validatePerformance(); err != nil {
		return err
	}
	if err := c.validateRecovery(); err != nil {
		return err
	}
	if err := c.validateHealth(); err != nil {
		return err
	}
	if err := c.validateMQTT(); err != nil {
		return err
	}
	return nil
}

func (c *Config) validateCamera() error {
	if c.Camera.SlotCount < 1 || c.Camera.SlotCount > maxSlotCount {
		return fmt.Errorf("camera.slot_count must be between 1 and %d", maxSlotCount)
	}
	if c.Camera.RescanIntervalMS <= 0 {
		return errors.New("camera.rescan_interval_ms must be positive")
	}
	if c.Camera.FailedCameraCooldownSec < 0 {
		return errors.New("camera.failed_camera_cooldown_sec must be >= 0")
	}
	return nil
}

func (c *Config) validateProfile() error {
	if c.Profile.CaptureWidth <= 0 || c.Profile.CaptureHeight <= 0 {
		return errors.New("profile.capture_width and profile.capture_height must be positive")
	}
	if c.Profile.CaptureFPS <= 0 {
		return errors.New("profile.capture_fps must be positive")
	}
	if c.Profile.UIFPS <= 0 {
		return errors.New("profile.ui_fps must be positive")
	}
	return nil
}

func (c *Config) validatePerformance() error {
	p := c.Performance
	if p.PerfCheckIntervalMS <= 0 {
		return errors.New("performance.perf_check_interval_ms must be positive")
	}
	if p.MinDynamicFPS <= 0 || p.MinDynamicUIFPS <= 0 {
		return errors.New("performance.min_dynamic_fps and performance.min_dynamic_ui_fps must be positive")
	}
	if p.UIFPSStep <= 0 {
		return errors.New("performance.ui_fps_step must be positive")
	}
	if p.CPULoadThreshold <= 0 || p.CPULoadThreshold > 1 {
		return errors.New("performance.cpu_load_threshold must be a fraction in (0, 1]")
	}
	if p.CPUTempThresholdC <= 0 {
		return errors.New("performance.cpu_temp_threshold_c must be positive")
	}
	if p.StressHoldCount <= 0 || p.RecoverHoldCount <= 0 {
		return errors.New("performance.stress_hold_count and performance.recover_hold_count must be positive")
	}
	return nil
}

func (c *Config) validateRecovery() error {
	r := c.Recovery
	if r.StaleFrameTimeoutSec <= 0 {
		return errors.New("recovery.stale_frame_timeout_sec must be positive")
	}
	if r.RestartCooldownSec < 0 {
		return errors.New("recovery.restart_cooldown_sec must be >= 0")
	}
	if r.MaxRestartsPerWindow <= 0 {
		return errors.New("recovery.max_restarts_per_window must be positive")
	}
	if r.RestartWindowSec <= 0 {
		return errors.New("recovery.restart_window_sec must be positive")
	}
	switch r.CooldownPolicy {
	case CooldownPolicyMax, CooldownPolicyByCause:
	default:
		return fmt.Errorf("recovery.cooldown_policy: unsupported value %q (want %q or %q)", r.CooldownPolicy, CooldownPolicyMax, CooldownPolicyByCause)
	}
	return nil
}

func (c *Config) validateHealth() error {
	if c.Health.LogIntervalSec <= 0 {
		return errors.New("health.log_interval_sec must be positive")
	}
	return nil
}

func (c *Config) validateMQTT() error {
	if !c.MQTT.Enabled {
		return nil
	}
	if c.MQTT.Broker == "" {
		return errors.New("mqtt.broker must be set when mqtt.enabled is true")
	}
	return nil
}
