package config

const (
	defaultConfigPath              = "~/.config/camwatch/config.toml"
	defaultLogDir                  = "~/.local/share/camwatch/logs"
	defaultStateDir                = "~/.local/state/camwatch"
	defaultLogRetentionDays        = 14
	defaultLogFormat               = "console"
	defaultLogLevel                = "info"
	defaultSlotCount               = 3
	maxSlotCount                   = 8
	defaultDeviceGlob              = "/dev/video*"
	defaultRescanIntervalMS        = 15000
	defaultFailedCameraCooldownSec = 30
	defaultFFmpegBinary            = "ffmpeg"
	defaultInputFormat             = "mjpeg"
	defaultCaptureWidth            = 640
	defaultCaptureHeight           = 480
	defaultCaptureFPS              = 25
	defaultUIFPS                   = 20
	defaultPerfCheckIntervalMS     = 2000
	defaultMinDynamicFPS           = 10
	defaultMinDynamicUIFPS         = 12
	defaultUIFPSStep               = 2
	defaultCPULoadThreshold        = 0.85
	defaultCPUTempThresholdC       = 75
	defaultStressHoldCount         = 3
	defaultRecoverHoldCount        = 3
	defaultStaleFrameTimeoutSec    = 1.5
	defaultRestartCooldownSec      = 5
	defaultMaxRestartsPerWindow    = 3
	defaultRestartWindowSec        = 30
	defaultSlotCheckIntervalMS     = 250
	defaultStopGraceMS             = 1000
	defaultHealthLogIntervalSec    = 30
	defaultHealthEmitTimeoutMS     = 2000
	defaultHistoryRetentionDays    = 7
	defaultMQTTClientID            = "camwatch"
	defaultMQTTTopic               = "camwatch/health"
	defaultAPIBind                 = "127.0.0.1:7490"
	defaultNtfyRequestTimeoutSec   = 10

	// CooldownPolicyMax uses the larger of the failed-camera and restart delays.
	CooldownPolicyMax = "max"
	// CooldownPolicyByCause picks the delay matching the failure cause.
	CooldownPolicyByCause = "by_cause"
)

// Default returns a Config populated with repository defaults.
func Default() Config {
	return Config{
		Paths: Paths{
			LogDir:   defaultLogDir,
			StateDir: defaultStateDir,
		},
		Logging: Logging{
			Format:        defaultLogFormat,
			Level:         defaultLogLevel,
			RetentionDays: defaultLogRetentionDays,
		},
		Camera: Camera{
			SlotCount:               defaultSlotCount,
			DeviceGlob:              defaultDeviceGlob,
			RescanIntervalMS:        defaultRescanIntervalMS,
			FailedCameraCooldownSec: defaultFailedCameraCooldownSec,
			KillDeviceHolders:       true,
			Hotplug:                 true,
			FFmpegBinary:            defaultFFmpegBinary,
			InputFormat:             defaultInputFormat,
		},
		Profile: Profile{
			CaptureWidth:  defaultCaptureWidth,
			CaptureHeight: defaultCaptureHeight,
			CaptureFPS:    defaultCaptureFPS,
			UIFPS:         defaultUIFPS,
		},
		Performance: Performance{
			DynamicFPS:          true,
			PerfCheckIntervalMS: defaultPerfCheckIntervalMS,
			MinDynamicFPS:       defaultMinDynamicFPS,
			MinDynamicUIFPS:     defaultMinDynamicUIFPS,
			UIFPSStep:           defaultUIFPSStep,
			CPULoadThreshold:    defaultCPULoadThreshold,
			CPUTempThresholdC:   defaultCPUTempThresholdC,
			StressHoldCount:     defaultStressHoldCount,
			RecoverHoldCount:    defaultRecoverHoldCount,
		},
		Recovery: Recovery{
			StaleFrameTimeoutSec: defaultStaleFrameTimeoutSec,
			RestartCooldownSec:   defaultRestartCooldownSec,
			MaxRestartsPerWindow: defaultMaxRestartsPerWindow,
			RestartWindowSec:     defaultRestartWindowSec,
			CooldownPolicy:       CooldownPolicyMax,
			SlotCheckIntervalMS:  defaultSlotCheckIntervalMS,
			StopGraceMS:          defaultStopGraceMS,
		},
		Health: Health{
			LogIntervalSec:       defaultHealthLogIntervalSec,
			EmitTimeoutMS:        defaultHealthEmitTimeoutMS,
			History:              true,
			HistoryRetentionDays: defaultHistoryRetentionDays,
		},
		MQTT: MQTT{
			ClientID: defaultMQTTClientID,
			Topic:    defaultMQTTTopic,
		},
		Notifications: Notifications{
			RequestTimeoutSec: defaultNtfyRequestTimeoutSec,
		},
		API: API{
			Enabled: true,
			Bind:    defaultAPIBind,
		},
	}
}
