// Package adaptive contains the controllers that retune the FAB loop at
// runtime: an AIMD time-budget controller, a meta-adapter that retunes the
// AIMD target, a reward shaper feeding pressure into both, and the
// self-loop presence controller.
package adaptive

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when controller tuning is unusable.
var ErrInvalidConfig = errors.New("invalid adaptive config")

// Adjustment labels the last AIMD decision.
type Adjustment string

const (
	AdjustNone     Adjustment = "none"
	AdjustIncrease Adjustment = "increase"
	AdjustDecrease Adjustment = "decrease"
	AdjustHold     Adjustment = "hold"
)

// AIMDConfig tunes the additive-increase/multiplicative-decrease
// controller for the shadow time allowance.
type AIMDConfig struct {
	// InitialMS is the starting allowance (default 25).
	InitialMS float64

	// MinMS and MaxMS clamp the allowance (defaults 5 and 250).
	MinMS float64
	MaxMS float64

	// StepMS is the additive increase per fast call (default 2).
	StepMS float64

	// MDFactor is the multiplicative decrease on timeout or breaker open
	// (default 0.5).
	MDFactor float64
}

// DefaultAIMDConfig returns the default tuning.
func DefaultAIMDConfig() AIMDConfig {
	return AIMDConfig{
		InitialMS: 25,
		MinMS:     5,
		MaxMS:     250,
		StepMS:    2,
		MDFactor:  0.5,
	}
}

// Validate rejects tunings that violate the clamp invariant.
func (c AIMDConfig) Validate() error {
	if c.MinMS <= 0 || c.MaxMS < c.MinMS {
		return fmt.Errorf("%w: aimd bounds must satisfy 0 < min <= max, got [%v, %v]", ErrInvalidConfig, c.MinMS, c.MaxMS)
	}
	if c.InitialMS < c.MinMS || c.InitialMS > c.MaxMS {
		return fmt.Errorf("%w: aimd initial %v outside [%v, %v]", ErrInvalidConfig, c.InitialMS, c.MinMS, c.MaxMS)
	}
	if c.StepMS <= 0 {
		return fmt.Errorf("%w: aimd step must be > 0, got %v", ErrInvalidConfig, c.StepMS)
	}
	if c.MDFactor <= 0 || c.MDFactor >= 1 {
		return fmt.Errorf("%w: aimd md_factor must be in (0,1), got %v", ErrInvalidConfig, c.MDFactor)
	}
	return nil
}

// AIMDState is a read-only snapshot.
type AIMDState struct {
	CurrentLimitMS float64    `json:"current_limit_ms"`
	MinMS          float64    `json:"min_ms"`
	MaxMS          float64    `json:"max_ms"`
	StepMS         float64    `json:"ai_step_ms"`
	MDFactor       float64    `json:"md_factor"`
	LastAdjust     Adjustment `json:"last_adjust"`
}

// AIMD adapts the shadow selector's per-tick time allowance the way a
// congestion controller adapts a window: grow linearly while calls come
// back under target, halve on timeout or breaker open. The limit never
// leaves [MinMS, MaxMS].
type AIMD struct {
	cfg        AIMDConfig
	limitMS    float64
	lastAdjust Adjustment
}

// NewAIMD creates a controller at the configured initial limit.
func NewAIMD(cfg AIMDConfig) (*AIMD, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &AIMD{cfg: cfg, limitMS: cfg.InitialMS, lastAdjust: AdjustNone}, nil
}

// LimitMS returns the current allowance in milliseconds.
func (a *AIMD) LimitMS() float64 { return a.limitMS }

// RecordSuccess applies one non-timed-out shadow observation. stepBonus is
// the bounded reward pressure on the additive step; it can be negative but
// the effective step never drops below zero.
func (a *AIMD) RecordSuccess(latencyMS, targetMS, stepBonus float64) {
	if latencyMS > targetMS {
		a.lastAdjust = AdjustHold
		return
	}
	step := a.cfg.StepMS + stepBonus
	if step < 0 {
		step = 0
	}
	a.limitMS = clamp(a.limitMS+step, a.cfg.MinMS, a.cfg.MaxMS)
	a.lastAdjust = AdjustIncrease
}

// RecordFailure applies a timeout or breaker-open observation.
func (a *AIMD) RecordFailure() {
	a.limitMS = clamp(a.limitMS*a.cfg.MDFactor, a.cfg.MinMS, a.cfg.MaxMS)
	a.lastAdjust = AdjustDecrease
}

// State returns a snapshot.
func (a *AIMD) State() AIMDState {
	return AIMDState{
		CurrentLimitMS: a.limitMS,
		MinMS:          a.cfg.MinMS,
		MaxMS:          a.cfg.MaxMS,
		StepMS:         a.cfg.StepMS,
		MDFactor:       a.cfg.MDFactor,
		LastAdjust:     a.lastAdjust,
	}
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
