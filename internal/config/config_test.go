package config_test

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/pelletier/go-toml/v2"

	"camwatch/internal/config"
)

func TestLoadDefaultConfigExpandsPaths(t *testing.T) {
	tempHome := t.TempDir()
	t.Setenv("HOME", tempHome)
	t.Setenv("CAMWATCH_CONFIG", "")
	t.Setenv("CAMWATCH_LOG_LEVEL", "")

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if resolved == "" {
		t.Fatal("expected resolved path")
	}
	if exists {
		t.Fatal("expected config file to be absent in temp HOME")
	}

	wantLogDir := filepath.Join(tempHome, ".local", "share", "camwatch", "logs")
	if cfg.Paths.LogDir != wantLogDir {
		t.Fatalf("unexpected log dir: got %q want %q", cfg.Paths.LogDir, wantLogDir)
	}
	if cfg.Camera.SlotCount != 3 {
		t.Fatalf("expected 3 slots by default, got %d", cfg.Camera.SlotCount)
	}
	if cfg.Recovery.CooldownPolicy != config.CooldownPolicyMax {
		t.Fatalf("unexpected cooldown policy %q", cfg.Recovery.CooldownPolicy)
	}
	if cfg.StaleFrameTimeout() != 1500*time.Millisecond {
		t.Fatalf("unexpected stale timeout %s", cfg.StaleFrameTimeout())
	}
	if cfg.RescanInterval() != 15*time.Second {
		t.Fatalf("unexpected rescan interval %s", cfg.RescanInterval())
	}
	if cfg.MQTT.Enabled {
		t.Fatal("expected MQTT disabled by default")
	}
	if got := cfg.SocketPath(); got != filepath.Join(cfg.Paths.StateDir, "camwatch.sock") {
		t.Fatalf("unexpected socket path %q", got)
	}
}

func TestLoadCustomPath(t *testing.T) {
	tempDir := t.TempDir()
	configPath := filepath.Join(tempDir, "camwatch.toml")

	type payload struct {
		Camera struct {
			SlotCount        int `toml:"slot_count"`
			RescanIntervalMS int `toml:"rescan_interval_ms"`
		} `toml:"camera"`
		Profile struct {
			CaptureFPS int `toml:"capture_fps"`
			UIFPS      int `toml:"ui_fps"`
		} `toml:"profile"`
		Performance struct {
			MinDynamicFPS int `toml:"min_dynamic_fps"`
		} `toml:"performance"`
		Recovery struct {
			CooldownPolicy string `toml:"cooldown_policy"`
		} `toml:"recovery"`
	}
	custom := payload{}
	custom.Camera.SlotCount = 5
	custom.Camera.RescanIntervalMS = 5000
	custom.Profile.CaptureFPS = 8
	custom.Profile.UIFPS = 15
	custom.Performance.MinDynamicFPS = 12
	custom.Recovery.CooldownPolicy = " BY_CAUSE "
	data, err := toml.Marshal(custom)
	if err != nil {
		t.Fatalf("marshal custom config: %v", err)
	}
	if err := os.WriteFile(configPath, data, 0o644); err != nil {
		t.Fatalf("write custom config: %v", err)
	}

	cfg, resolved, exists, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists {
		t.Fatal("expected exists to be true")
	}
	if resolved != configPath {
		t.Fatalf("unexpected resolved path: got %q want %q", resolved, configPath)
	}
	if cfg.Camera.SlotCount != 5 {
		t.Fatalf("expected slot count 5, got %d", cfg.Camera.SlotCount)
	}
	if cfg.RescanInterval() != 5*time.Second {
		t.Fatalf("expected rescan interval 5s, got %s", cfg.RescanInterval())
	}
	if cfg.Performance.MinDynamicFPS != 8 {
		t.Fatalf("expected min fps clamped to profile, got %d", cfg.Performance.MinDynamicFPS)
	}
	if cfg.Recovery.CooldownPolicy != config.CooldownPolicyByCause {
		t.Fatalf("expected normalized cooldown policy, got %q", cfg.Recovery.CooldownPolicy)
	}
	if !cfg.Performance.DynamicFPS {
		t.Fatal("expected unspecified fields to keep defaults")
	}
}

func TestConfigPathFromEnvironment(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "env.toml")
	if err := os.WriteFile(configPath, []byte("[camera]\nslot_count = 2\n"), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CAMWATCH_CONFIG", configPath)

	cfg, resolved, exists, err := config.Load("")
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !exists || resolved != configPath {
		t.Fatalf("expected env config path, got %q exists=%v", resolved, exists)
	}
	if cfg.Camera.SlotCount != 2 {
		t.Fatalf("expected slot count 2, got %d", cfg.Camera.SlotCount)
	}
}

func TestEnvVarFillsMQTTPassword(t *testing.T) {
	configPath := filepath.Join(t.TempDir(), "camwatch.toml")
	body := "[mqtt]\nenabled = true\nbroker = \"tcp://broker:1883\"\ntopic = \"/site/health/\"\n"
	if err := os.WriteFile(configPath, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("CAMWATCH_MQTT_PASSWORD", "env-secret")
	t.Setenv("CAMWATCH_LOG_LEVEL", "DEBUG")

	cfg, _, _, err := config.Load(configPath)
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.MQTT.Password != "env-secret" {
		t.Errorf("expected MQTT password from env, got %q", cfg.MQTT.Password)
	}
	if cfg.MQTT.Topic != "site/health" {
		t.Errorf("expected trimmed topic, got %q", cfg.MQTT.Topic)
	}
	if cfg.Logging.Level != "debug" {
		t.Errorf("expected log level from env, got %q", cfg.Logging.Level)
	}
}

func TestCreateSample(t *testing.T) {
	path := filepath.Join(t.TempDir(), "sample.toml")
	if err := config.CreateSample(path); err != nil {
		t.Fatalf("CreateSample failed: %v", err)
	}

	contents, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read sample: %v", err)
	}
	if !strings.Contains(string(contents), "stale_frame_timeout_sec") {
		t.Fatalf("sample config missing recovery settings: %s", contents)
	}

	var cfg config.Config
	if err := toml.Unmarshal(contents, &cfg); err != nil {
		t.Fatalf("unmarshal sample: %v", err)
	}
	def := config.Default()
	if cfg.Camera != def.Camera {
		t.Fatalf("sample camera section drifted from defaults: %+v vs %+v", cfg.Camera, def.Camera)
	}
	if cfg.Performance != def.Performance {
		t.Fatalf("sample performance section drifted from defaults: %+v vs %+v", cfg.Performance, def.Performance)
	}
	if cfg.Recovery != def.Recovery {
		t.Fatalf("sample recovery section drifted from defaults: %+v vs %+v", cfg.Recovery, def.Recovery)
	}
}

func TestValidateDetectsInvalidValues(t *testing.T) {
	cases := []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"zero slots", func(c *config.Config) { c.Camera.SlotCount = 0 }},
		{"too many slots", func(c *config.Config) { c.Camera.SlotCount = 9 }},
		{"zero rescan", func(c *config.Config) { c.Camera.RescanIntervalMS = 0 }},
		{"zero capture fps", func(c *config.Config) { c.Profile.CaptureFPS = 0 }},
		{"load threshold above one", func(c *config.Config) { c.Performance.CPULoadThreshold = 3 }},
		{"zero step", func(c *config.Config) { c.Performance.UIFPSStep = 0 }},
		{"zero hold", func(c *config.Config) { c.Performance.StressHoldCount = 0 }},
		{"zero stale timeout", func(c *config.Config) { c.Recovery.StaleFrameTimeoutSec = 0 }},
		{"zero restarts", func(c *config.Config) { c.Recovery.MaxRestartsPerWindow = 0 }},
		{"unknown policy", func(c *config.Config) { c.Recovery.CooldownPolicy = "sum" }},
		{"mqtt without broker", func(c *config.Config) { c.MQTT.Enabled = true; c.MQTT.Broker = "" }},
		{"zero health interval", func(c *config.Config) { c.Health.LogIntervalSec = 0 }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(&cfg)
			if err := cfg.Validate(); err == nil {
				t.Fatal("expected validation error")
			}
		})
	}

	cfg := config.Default()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("defaults should validate: %v", err)
	}
}
