// Package config loads the fabd configuration from YAML files and
// environment overrides and translates it into per-session control-loop
// tunings.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/orbis/fab/internal/adaptive"
	"github.com/orbis/fab/internal/envelope"
	"github.com/orbis/fab/internal/fab"
	"github.com/orbis/fab/internal/selector"
	"github.com/orbis/fab/internal/window"
)

// Config is the full fabd configuration.
type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Tuning TuningConfig `yaml:"tuning"`
}

// ServerConfig configures the HTTP surface.
type ServerConfig struct {
	// Addr is the listen address.
	Addr string `yaml:"addr"`

	// ReadTimeout bounds request reads.
	ReadTimeout time.Duration `yaml:"read_timeout"`

	// WriteTimeout bounds response writes.
	WriteTimeout time.Duration `yaml:"write_timeout"`

	// ShutdownTimeout bounds graceful shutdown.
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`

	// BackpressureOK and BackpressureReject are the pending-request
	// thresholds for the slow and reject admission levels.
	BackpressureOK     int `yaml:"backpressure_ok"`
	BackpressureReject int `yaml:"backpressure_reject"`
}

// LogConfig configures structured logging.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// Format is text or json.
	Format string `yaml:"format"`

	// File enables rotated file output when non-empty; stderr otherwise.
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// TuningConfig is the per-session control-loop tuning. Every field maps
// onto one controller config; zero values fall back to that controller's
// defaults at session construction.
type TuningConfig struct {
	StreamCapacity int    `yaml:"stream_capacity"`
	Envelope       string `yaml:"envelope"`

	Hysteresis HysteresisConfig `yaml:"hysteresis"`
	AB         ABConfig         `yaml:"ab"`
	Breaker    BreakerConfig    `yaml:"breaker"`
	AIMD       AIMDConfig       `yaml:"aimd"`
	Meta       MetaConfig       `yaml:"meta"`
	Reward     RewardConfig     `yaml:"reward"`
	SelfLoop   SelfLoopConfig   `yaml:"selfloop"`
}

// HysteresisConfig mirrors the envelope hysteresis tuning.
type HysteresisConfig struct {
	DwellTicks     int     `yaml:"dwell_ticks"`
	RateLimitTicks int64   `yaml:"rate_limit_ticks"`
	DeadBand       float64 `yaml:"dead_band"`
	MinStreamSize  int     `yaml:"min_stream_size"`
}

// ABConfig mirrors the shadow routing tuning.
type ABConfig struct {
	Ratio    float64 `yaml:"ratio"`
	EMAAlpha float64 `yaml:"ema_alpha"`
}

// BreakerConfig mirrors the circuit breaker tuning.
type BreakerConfig struct {
	CooldownTicks int `yaml:"cooldown_ticks"`
}

// AIMDConfig mirrors the time-allowance controller tuning.
type AIMDConfig struct {
	InitialMS float64 `yaml:"initial_ms"`
	MinMS     float64 `yaml:"min_ms"`
	MaxMS     float64 `yaml:"max_ms"`
	StepMS    float64 `yaml:"step_ms"`
	MDFactor  float64 `yaml:"md_factor"`
}

// MetaConfig mirrors the meta-adaptation tuning.
type MetaConfig struct {
	Enabled         bool    `yaml:"enabled"`
	InitialTargetMS float64 `yaml:"initial_target_ms"`
	MinTargetMS     float64 `yaml:"min_target_ms"`
	MaxTargetMS     float64 `yaml:"max_target_ms"`
}

// RewardConfig mirrors the reward shaping tuning.
type RewardConfig struct {
	Enabled  bool    `yaml:"enabled"`
	EMAAlpha float64 `yaml:"ema_alpha"`
}

// SelfLoopConfig mirrors the presence-tracking tuning.
type SelfLoopConfig struct {
	Enabled       bool    `yaml:"enabled"`
	EMAAlpha      float64 `yaml:"ema_alpha"`
	HighThreshold float64 `yaml:"high_threshold"`
	LowThreshold  float64 `yaml:"low_threshold"`
}

// Default returns the full default configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:               ":8337",
			ReadTimeout:        10 * time.Second,
			WriteTimeout:       30 * time.Second,
			ShutdownTimeout:    15 * time.Second,
			BackpressureOK:     window.DefaultBackpressureOK,
			BackpressureReject: window.DefaultBackpressureReject,
		},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 14,
		},
		Tuning: TuningConfig{
			StreamCapacity: 16,
			Envelope:       string(fab.EnvelopeHysteresis),
			Hysteresis: HysteresisConfig{
				DwellTicks:     3,
				RateLimitTicks: 2,
				DeadBand:       0.05,
			},
			AB:      ABConfig{Ratio: 0, EMAAlpha: 0.2},
			Breaker: BreakerConfig{CooldownTicks: 5},
			AIMD: AIMDConfig{
				InitialMS: 25,
				MinMS:     5,
				MaxMS:     250,
				StepMS:    2,
				MDFactor:  0.5,
			},
			Meta: MetaConfig{
				Enabled:         true,
				InitialTargetMS: 20,
				MinTargetMS:     5,
				MaxTargetMS:     100,
			},
			Reward: RewardConfig{Enabled: true, EMAAlpha: 0.2},
			SelfLoop: SelfLoopConfig{
				Enabled:       true,
				EMAAlpha:      0.3,
				HighThreshold: 0.7,
				LowThreshold:  0.3,
			},
		},
	}
}

// Load reads the configuration, merging sources in precedence order:
// defaults, then the YAML file at path (skipped when path is empty or the
// file does not exist), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case os.IsNotExist(err):
			// Missing file falls through to defaults.
		case err != nil:
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		default:
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return Config{}, fmt.Errorf("parse config %s: %w", path, err)
			}
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overlays FAB_* environment variables.
func (c *Config) applyEnv() {
	if v := os.Getenv("FAB_ADDR"); v != "" {
		c.Server.Addr = v
	}
	if v := os.Getenv("FAB_LOG_LEVEL"); v != "" {
		c.Log.Level = v
	}
	if v := os.Getenv("FAB_LOG_FORMAT"); v != "" {
		c.Log.Format = v
	}
	if v := os.Getenv("FAB_LOG_FILE"); v != "" {
		c.Log.File = v
	}
	if v := os.Getenv("FAB_AB_RATIO"); v != "" {
		if ratio, err := strconv.ParseFloat(v, 64); err == nil {
			c.Tuning.AB.Ratio = ratio
		}
	}
	if v := os.Getenv("FAB_STREAM_CAPACITY"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Tuning.StreamCapacity = n
		}
	}
}

// Validate checks cross-field constraints the controllers cannot see.
func (c *Config) Validate() error {
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log level %q", c.Log.Level)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return fmt.Errorf("config: unknown log format %q", c.Log.Format)
	}
	if c.Server.BackpressureOK >= c.Server.BackpressureReject {
		return fmt.Errorf("config: backpressure_ok (%d) must be below backpressure_reject (%d)",
			c.Server.BackpressureOK, c.Server.BackpressureReject)
	}
	return nil
}

// SessionConfig builds a control-loop config for one session from the
// tuning block. Controller-level validation still runs at construction.
func (c *Config) SessionConfig(sessionID string, seed int64) fab.Config {
	t := c.Tuning

	out := fab.DefaultConfig(sessionID, seed)
	if t.StreamCapacity > 0 {
		out.StreamCapacity = t.StreamCapacity
	}
	if t.Envelope != "" {
		out.Envelope = fab.EnvelopeStrategy(t.Envelope)
	}

	out.Hysteresis = envelope.HysteresisConfig{
		DwellTicks:     t.Hysteresis.DwellTicks,
		RateLimitTicks: t.Hysteresis.RateLimitTicks,
		DeadBand:       t.Hysteresis.DeadBand,
		MinStreamSize:  t.Hysteresis.MinStreamSize,
		HistorySize:    envelope.DefaultHysteresisConfig().HistorySize,
	}
	out.Engine = selector.EngineConfig{
		Router:  selector.RouterConfig{Ratio: t.AB.Ratio, EMAAlpha: t.AB.EMAAlpha},
		Breaker: selector.BreakerConfig{CooldownTicks: t.Breaker.CooldownTicks},
	}
	out.AIMD = adaptive.AIMDConfig{
		InitialMS: t.AIMD.InitialMS,
		MinMS:     t.AIMD.MinMS,
		MaxMS:     t.AIMD.MaxMS,
		StepMS:    t.AIMD.StepMS,
		MDFactor:  t.AIMD.MDFactor,
	}

	meta := adaptive.DefaultMetaConfig()
	meta.Enabled = t.Meta.Enabled
	if t.Meta.InitialTargetMS > 0 {
		meta.InitialTargetMS = t.Meta.InitialTargetMS
	}
	if t.Meta.MinTargetMS > 0 {
		meta.MinTargetMS = t.Meta.MinTargetMS
	}
	if t.Meta.MaxTargetMS > 0 {
		meta.MaxTargetMS = t.Meta.MaxTargetMS
	}
	out.Meta = meta

	reward := adaptive.DefaultRewardConfig()
	reward.Enabled = t.Reward.Enabled
	if t.Reward.EMAAlpha > 0 {
		reward.EMAAlpha = t.Reward.EMAAlpha
	}
	out.Reward = reward

	out.SelfLoop = adaptive.SelfLoopConfig{
		Enabled:       t.SelfLoop.Enabled,
		EMAAlpha:      t.SelfLoop.EMAAlpha,
		HighThreshold: t.SelfLoop.HighThreshold,
		LowThreshold:  t.SelfLoop.LowThreshold,
	}

	return out
}
