package config

import (
	"fmt"
	"os"
	"strings"
)

func (c *Config) normalize() error {
	if err := c.normalizePaths(); err != nil {
		return err
	}
	c.normalizeLogging()
	c.normalizeCamera()
	c.normalizePerformance()
	c.normalizeRecovery()
	c.normalizeMQTT()
	c.normalizeNotifications()
	c.API.Bind = strings.TrimSpace(c.API.Bind)
	if c.API.Bind == "" {
		c.API.Bind = defaultAPIBind
	}
	c.API.Token = strings.TrimSpace(c.API.Token)
	if value, ok := os.LookupEnv("CAMWATCH_API_TOKEN"); ok && c.API.Token == "" {
		c.API.Token = strings.TrimSpace(value)
	}
	return nil
}

func (c *Config) normalizePaths() error {
	var err error
	if strings.TrimSpace(c.Paths.LogDir) == "" {
		c.Paths.LogDir = defaultLogDir
	}
	if c.Paths.LogDir, err = expandPath(c.Paths.LogDir); err != nil {
		return fmt.Errorf("paths.log_dir: %w", err)
	}
	if strings.TrimSpace(c.Paths.StateDir) == "" {
		c.Paths.StateDir = defaultStateDir
	}
	if c.Paths.StateDir, err = expandPath(c.Paths.StateDir); err != nil {
		return fmt.Errorf("paths.state_dir: %w", err)
	}
	return nil
}

func (c *Config) normalizeLogging() {
	c.Logging.Format = strings.ToLower(strings.TrimSpace(c.Logging.Format))
	switch c.Logging.Format {
	case "", "console":
		c.Logging.Format = "console"
	case "json":
	default:
		c.Logging.Format = "console"
	}
	if value, ok := os.LookupEnv("CAMWATCH_LOG_LEVEL"); ok && strings.TrimSpace(value) != "" {
		c.Logging.Level = value
	}
	c.Logging.Level = strings.ToLower(strings.TrimSpace(c.Logging.Level))
	if c.Logging.Level == "" {
		c.Logging.Level = defaultLogLevel
	}
	if c.Logging.RetentionDays < 0 {
		c.Logging.RetentionDays = 0
	}
}

func (c *Config) normalizeCamera() {
	c.Camera.DeviceGlob = strings.TrimSpace(c.Camera.DeviceGlob)
	if c.Camera.DeviceGlob == "" {
		c.Camera.DeviceGlob = defaultDeviceGlob
	}
	c.Camera.FFmpegBinary = strings.TrimSpace(c.Camera.FFmpegBinary)
	if c.Camera.FFmpegBinary == "" {
		c.Camera.FFmpegBinary = defaultFFmpegBinary
	}
	c.Camera.InputFormat = strings.ToLower(strings.TrimSpace(c.Camera.InputFormat))
	if c.Camera.InputFormat == "" {
		c.Camera.InputFormat = defaultInputFormat
	}
}

// normalizePerformance clamps the dynamic minimums to the profile so the
// controller range is never inverted.
func (c *Config) normalizePerformance() {
	if c.Performance.MinDynamicFPS > c.Profile.CaptureFPS && c.Profile.CaptureFPS > 0 {
		c.Performance.MinDynamicFPS = c.Profile.CaptureFPS
	}
	if c.Performance.MinDynamicUIFPS > c.Profile.UIFPS && c.Profile.UIFPS > 0 {
		c.Performance.MinDynamicUIFPS = c.Profile.UIFPS
	}
}

func (c *Config) normalizeRecovery() {
	c.Recovery.CooldownPolicy = strings.ToLower(strings.TrimSpace(c.Recovery.CooldownPolicy))
	if c.Recovery.CooldownPolicy == "" {
		c.Recovery.CooldownPolicy = CooldownPolicyMax
	}
	if c.Recovery.SlotCheckIntervalMS <= 0 {
		c.Recovery.SlotCheckIntervalMS = defaultSlotCheckIntervalMS
	}
	if c.Recovery.StopGraceMS <= 0 {
		c.Recovery.StopGraceMS = defaultStopGraceMS
	}
	if c.Health.EmitTimeoutMS <= 0 {
		c.Health.EmitTimeoutMS = defaultHealthEmitTimeoutMS
	}
	if c.Health.HistoryRetentionDays < 0 {
		c.Health.HistoryRetentionDays = 0
	}
}

func (c *Config) normalizeNotifications() {
	c.Notifications.NtfyTopic = strings.TrimSpace(c.Notifications.NtfyTopic)
	if value, ok := os.LookupEnv("CAMWATCH_NTFY_TOPIC"); ok && c.Notifications.NtfyTopic == "" {
		c.Notifications.NtfyTopic = strings.TrimSpace(value)
	}
	if c.Notifications.RequestTimeoutSec <= 0 {
		c.Notifications.RequestTimeoutSec = defaultNtfyRequestTimeoutSec
	}
}

func (c *Config) normalizeMQTT() {
	c.MQTT.Broker = strings.TrimSpace(c.MQTT.Broker)
	c.MQTT.Username = strings.TrimSpace(c.MQTT.Username)
	if c.MQTT.Password == "" {
		if value, ok := os.LookupEnv("CAMWATCH_MQTT_PASSWORD"); ok {
			c.MQTT.Password = strings.TrimSpace(value)
		}
	}
	c.MQTT.ClientID = strings.TrimSpace(c.MQTT.ClientID)
	if c.MQTT.ClientID == "" {
		c.MQTT.ClientID = defaultMQTTClientID
	}
	c.MQTT.Topic = strings.Trim(strings.TrimSpace(c.MQTT.Topic), "/")
	if c.MQTT.Topic == "" {
		c.MQTT.Topic = defaultMQTTTopic
	}
}
