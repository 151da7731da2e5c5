package perf

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"camwatch/internal/config"
	"camwatch/internal/logging"
)

// ErrMetrics marks a failed system metrics sample.
var ErrMetrics = errors.New("system metrics unavailable")

// Sample is one reading of system pressure. Load is a fraction of total CPU
// capacity in [0, 1].
type Sample struct {
	Load    float64   `json:"load"`
	TempC   float64   `json:"temp_c"`
	HasTemp bool      `json:"has_temp"`
	TakenAt time.Time `json:"taken_at"`
}

// Sampler reads current system metrics.
type Sampler interface {
	Sample(ctx context.Context) (Sample, error)
}

// Settings configures the controller.
type Settings struct {
	Dynamic           bool
	Interval          time.Duration
	ProfileCaptureFPS float64
	ProfileUIFPS      float64
	MinCaptureFPS     float64
	MinUIFPS          float64
	UIStep            float64
	LoadThreshold     float64
	TempThresholdC    float64
	StressHold        int
	RecoverHold       int
}

// SettingsFromConfig maps the [performance] and [profile] sections.
func SettingsFromConfig(cfg *config.Config) Settings {
	return Settings{
		Dynamic:           cfg.Performance.DynamicFPS,
		Interval:          cfg.PerfCheckInterval(),
		ProfileCaptureFPS: float64(cfg.Profile.CaptureFPS),
		ProfileUIFPS:      float64(cfg.Profile.UIFPS),
		MinCaptureFPS:     float64(cfg.Performance.MinDynamicFPS),
		MinUIFPS:          float64(cfg.Performance.MinDynamicUIFPS),
		UIStep:            float64(cfg.Performance.UIFPSStep),
		LoadThreshold:     cfg.Performance.CPULoadThreshold,
		TempThresholdC:    cfg.Performance.CPUTempThresholdC,
		StressHold:        cfg.Performance.StressHoldCount,
		RecoverHold:       cfg.Performance.RecoverHoldCount,
	}
}

// captureStep scales the UI step to the capture range.
func (s Settings) captureStep() float64 {
	if s.ProfileUIFPS <= 0 {
		return s.UIStep
	}
	return s.UIStep * s.ProfileCaptureFPS / s.ProfileUIFPS
}

// State is a copy of the controller state for health output.
type State struct {
	CaptureFPS    float64 `json:"capture_fps"`
	UIFPS         float64 `json:"ui_fps"`
	StressStreak  int     `json:"stress_streak"`
	RecoverStreak int     `json:"recover_streak"`
	Dynamic       bool    `json:"dynamic"`
	Stressed      bool    `json:"stressed"`
	LastSample    *Sample `json:"last_sample,omitempty"`
	StepsDown     uint64  `json:"steps_down"`
	StepsUp       uint64  `json:"steps_up"`
}

// Controller is the debounced, symmetric FPS hysteresis controller.
type Controller struct {
	settings Settings
	sampler  Sampler
	logger   *slog.Logger

	captureBits atomic.Uint64
	uiBits      atomic.Uint64

	mu            sync.Mutex
	stressStreak  int
	recoverStreak int
	stressed      bool
	last          *Sample
	stepsDown     uint64
	stepsUp       uint64
}

// NewController starts at the profile rates. Minimums above the profile are
// clamped to it.
func NewController(settings Settings, sampler Sampler, logger *slog.Logger) *Controller {
	settings.MinCaptureFPS = math.Min(settings.MinCaptureFPS, settings.ProfileCaptureFPS)
	settings.MinUIFPS = math.Min(settings.MinUIFPS, settings.ProfileUIFPS)
	if settings.StressHold < 1 {
		settings.StressHold = 1
	}
	if settings.RecoverHold < 1 {
		settings.RecoverHold = 1
	}
	c := &Controller{
		settings: settings,
		sampler:  sampler,
		logger:   logging.NewComponentLogger(logger, "perf"),
	}
	c.captureBits.Store(math.Float64bits(settings.ProfileCaptureFPS))
	c.uiBits.Store(math.Float64bits(settings.ProfileUIFPS))
	return c
}

// CaptureFPS returns the current capture target.
func (c *Controller) CaptureFPS() float64 {
	return math.Float64frombits(c.captureBits.Load())
}

// UIFPS returns the current UI render target.
func (c *Controller) UIFPS() float64 {
	return math.Float64frombits(c.uiBits.Load())
}

// Observe feeds one sample through the hysteresis state machine and reports
// whether the FPS targets changed.
func (c *Controller) Observe(sample Sample) bool {
	s := c.settings
	stressed := sample.Load >= s.LoadThreshold || (sample.HasTemp && sample.TempC >= s.TempThresholdC)

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stressed = stressed
	copied := sample
	c.last = &copied
	if stressed {
		c.stressStreak++
		c.recoverStreak = 0
	} else {
		c.recoverStreak++
		c.stressStreak = 0
	}

	var direction float64
	switch {
	case c.stressStreak >= s.StressHold:
		c.stressStreak = 0
		direction = -1
	case c.recoverStreak >= s.RecoverHold:
		c.recoverStreak = 0
		direction = 1
	default:
		return false
	}
	if !s.Dynamic {
		return false
	}

	prevCapture, prevUI := c.CaptureFPS(), c.UIFPS()
	nextCapture := clamp(prevCapture+direction*s.captureStep(), s.MinCaptureFPS, s.ProfileCaptureFPS)
	nextUI := clamp(prevUI+direction*s.UIStep, s.MinUIFPS, s.ProfileUIFPS)
	if nextCapture == prevCapture && nextUI == prevUI {
		return false
	}
	c.captureBits.Store(math.Float64bits(nextCapture))
	c.uiBits.Store(math.Float64bits(nextUI))

	event, msg := "fps_step_up", "load recovered; raising frame rates"
	if direction < 0 {
		c.stepsDown++
		event, msg = "fps_step_down", "sustained system stress; lowering frame rates"
	} else {
		c.stepsUp++
	}
	c.logger.Info(msg,
		logging.String(logging.FieldEventType, event),
		logging.Float64("capture_fps", nextCapture),
		logging.Float64("ui_fps", nextUI),
		logging.Float64("load", sample.Load),
		logging.Float64("temp_c", sample.TempC),
	)
	return true
}

// Check samples once and applies the result. A failed sample leaves the
// streaks untouched.
func (c *Controller) Check(ctx context.Context) error {
	sample, err := c.sampler.Sample(ctx)
	if err != nil {
		return err
	}
	c.Observe(sample)
	return nil
}

// Run checks on every interval until ctx is cancelled.
func (c *Controller) Run(ctx context.Context) {
	interval := c.settings.Interval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.Check(ctx); err != nil && ctx.Err() == nil {
				c.logger.Debug("performance check skipped",
					logging.Error(err),
					logging.String(logging.FieldEventType, "perf_sample_failed"),
				)
			}
		}
	}
}

// State returns a copy of the controller state.
func (c *Controller) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	st := State{
		CaptureFPS:    c.CaptureFPS(),
		UIFPS:         c.UIFPS(),
		StressStreak:  c.stressStreak,
		RecoverStreak: c.recoverStreak,
		Dynamic:       c.settings.Dynamic,
		Stressed:      c.stressed,
		StepsDown:     c.stepsDown,
		StepsUp:       c.stepsUp,
	}
	if c.last != nil {
		sample := *c.last
		st.LastSample = &sample
	}
	return st
}

func clamp(v, lo, hi float64) float64 {
	return math.Max(lo, math.Min(hi, v))
}
