package adaptive

import (
	"fmt"
)

// Bias is the policy aggressiveness hint the self-loop controller emits.
type Bias string

const (
	BiasNeutral      Bias = "neutral"
	BiasAggressive   Bias = "aggressive"
	BiasConservative Bias = "conservative"
)

// SelfLoopConfig tunes the presence-EMA controller.
type SelfLoopConfig struct {
	// Enabled turns the controller on. Disabled it stays neutral.
	Enabled bool

	// EMAAlpha smooths the presence signal (default 0.3).
	EMAAlpha float64

	// HighThreshold flips the bias aggressive when the EMA crosses above
	// it (default 0.7); LowThreshold flips it conservative below
	// (default 0.3). Between the two the bias holds.
	HighThreshold float64
	LowThreshold  float64
}

// DefaultSelfLoopConfig returns the default tuning.
func DefaultSelfLoopConfig() SelfLoopConfig {
	return SelfLoopConfig{
		Enabled:       true,
		EMAAlpha:      0.3,
		HighThreshold: 0.7,
		LowThreshold:  0.3,
	}
}

// Validate rejects unusable tunings.
func (c SelfLoopConfig) Validate() error {
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("%w: selfloop ema_alpha must be in (0,1], got %v", ErrInvalidConfig, c.EMAAlpha)
	}
	if c.LowThreshold < 0 || c.HighThreshold > 1 || c.LowThreshold >= c.HighThreshold {
		return fmt.Errorf("%w: selfloop thresholds must satisfy 0 <= low < high <= 1", ErrInvalidConfig)
	}
	return nil
}

// SelfLoopState is a read-only snapshot.
type SelfLoopState struct {
	Enabled     bool    `json:"enabled"`
	PresenceEMA float64 `json:"presence_ema"`
	Bias        Bias    `json:"bias"`
}

// SelfLoop tracks an external presence signal through an EMA and biases
// policy aggressiveness when the EMA crosses its thresholds. Values
// between the thresholds leave the bias unchanged, so the controller has
// its own built-in hysteresis.
type SelfLoop struct {
	cfg    SelfLoopConfig
	ema    float64
	seeded bool
	bias   Bias
}

// NewSelfLoop creates a neutral controller.
func NewSelfLoop(cfg SelfLoopConfig) (*SelfLoop, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &SelfLoop{cfg: cfg, bias: BiasNeutral}, nil
}

// Observe folds one presence sample and returns the current bias.
func (s *SelfLoop) Observe(presence float64) Bias {
	if !s.seeded {
		s.ema = presence
		s.seeded = true
	} else {
		s.ema = (1-s.cfg.EMAAlpha)*s.ema + s.cfg.EMAAlpha*presence
	}

	if !s.cfg.Enabled {
		return s.bias
	}
	if s.ema >= s.cfg.HighThreshold {
		s.bias = BiasAggressive
	} else if s.ema <= s.cfg.LowThreshold {
		s.bias = BiasConservative
	}
	return s.bias
}

// Bias returns the current bias without observing anything.
func (s *SelfLoop) Bias() Bias { return s.bias }

// State returns a snapshot.
func (s *SelfLoop) State() SelfLoopState {
	return SelfLoopState{
		Enabled:     s.cfg.Enabled,
		PresenceEMA: s.ema,
		Bias:        s.bias,
	}
}
