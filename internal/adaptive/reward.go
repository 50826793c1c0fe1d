package adaptive

import (
	"fmt"
)

// RewardWeights are the signed contributions of each signal to the raw
// reward. Latency, breaker, and error-rate weights are normally negative.
type RewardWeights struct {
	DiversityGain float64 `json:"diversity_gain"`
	LatencyMS     float64 `json:"latency_ms"`
	BreakerOpen   float64 `json:"breaker_open"`
	ErrorRate     float64 `json:"error_rate"`
}

// RewardConfig tunes reward shaping.
type RewardConfig struct {
	// Enabled turns shaping on. Disabled, pressure is always zero.
	Enabled bool

	// Weights for the raw reward.
	Weights RewardWeights

	// EMAAlpha smooths the reward (default 0.2).
	EMAAlpha float64

	// WindowSize bounds the raw-reward window for diagnostics (default 32).
	WindowSize int

	// GoodThreshold and BadThreshold are the EMA levels beyond which
	// pressure is emitted (defaults 0.5 and -0.5).
	GoodThreshold float64
	BadThreshold  float64

	// MaxStepPressureMS bounds the pressure on the AIMD additive step
	// (default 1).
	MaxStepPressureMS float64

	// MaxTargetPressureMS bounds the pressure on the meta target
	// (default 1).
	MaxTargetPressureMS float64
}

// DefaultRewardConfig returns reward shaping enabled with conventional
// signs: diversity rewards, latency and faults penalize.
func DefaultRewardConfig() RewardConfig {
	return RewardConfig{
		Enabled: true,
		Weights: RewardWeights{
			DiversityGain: 4.0,
			LatencyMS:     -0.01,
			BreakerOpen:   -1.0,
			ErrorRate:     -2.0,
		},
		EMAAlpha:            0.2,
		WindowSize:          32,
		GoodThreshold:       0.5,
		BadThreshold:        -0.5,
		MaxStepPressureMS:   1,
		MaxTargetPressureMS: 1,
	}
}

// Validate rejects unusable tunings.
func (c RewardConfig) Validate() error {
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("%w: reward ema_alpha must be in (0,1], got %v", ErrInvalidConfig, c.EMAAlpha)
	}
	if c.WindowSize < 1 {
		return fmt.Errorf("%w: reward window_size must be >= 1, got %d", ErrInvalidConfig, c.WindowSize)
	}
	if c.BadThreshold >= c.GoodThreshold {
		return fmt.Errorf("%w: reward thresholds must satisfy bad < good", ErrInvalidConfig)
	}
	if c.MaxStepPressureMS < 0 || c.MaxTargetPressureMS < 0 {
		return fmt.Errorf("%w: reward pressure bounds must be >= 0", ErrInvalidConfig)
	}
	return nil
}

// RewardState is a read-only snapshot.
type RewardState struct {
	Enabled   bool    `json:"enabled"`
	Last      float64 `json:"last"`
	EMA       float64 `json:"ema"`
	WindowAvg float64 `json:"window_avg"`
}

// Pressure is the bounded influence the shaper exerts on the AIMD step and
// the meta target. StepMS adds to the additive increase; TargetMS adds to
// the meta target (negative tightens).
type Pressure struct {
	StepMS   float64
	TargetMS float64
}

// RewardSignals are one tick's inputs to the shaper.
type RewardSignals struct {
	DiversityGain float64
	LatencyMS     float64
	BreakerOpen   bool
	ErrorRate     float64
}

// Reward folds per-tick outcome signals into an EMA reward and converts it
// into bounded pressure on the AIMD and meta controllers. The pressure can
// never push either controller past its own clamps; those are enforced by
// the controllers themselves.
type Reward struct {
	cfg RewardConfig

	last   float64
	ema    float64
	seeded bool
	window []float64
}

// NewReward creates a shaper with zeroed state.
func NewReward(cfg RewardConfig) (*Reward, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Reward{cfg: cfg, window: make([]float64, 0, cfg.WindowSize)}, nil
}

// Observe records one tick's signals and returns the updated EMA.
func (r *Reward) Observe(sig RewardSignals) float64 {
	breaker := 0.0
	if sig.BreakerOpen {
		breaker = 1.0
	}
	reward := r.cfg.Weights.DiversityGain*sig.DiversityGain +
		r.cfg.Weights.LatencyMS*sig.LatencyMS +
		r.cfg.Weights.BreakerOpen*breaker +
		r.cfg.Weights.ErrorRate*sig.ErrorRate

	r.last = reward
	if !r.seeded {
		r.ema = reward
		r.seeded = true
	} else {
		r.ema = (1-r.cfg.EMAAlpha)*r.ema + r.cfg.EMAAlpha*reward
	}

	if len(r.window) == r.cfg.WindowSize {
		copy(r.window, r.window[1:])
		r.window = r.window[:r.cfg.WindowSize-1]
	}
	r.window = append(r.window, reward)

	return r.ema
}

// Pressure derives the current bounded pressure from the EMA. Above the
// good threshold the AIMD step grows and the meta target tightens;
// symmetric below the bad threshold; zero in between or when disabled.
func (r *Reward) Pressure() Pressure {
	if !r.cfg.Enabled || !r.seeded {
		return Pressure{}
	}
	switch {
	case r.ema > r.cfg.GoodThreshold:
		return Pressure{StepMS: r.cfg.MaxStepPressureMS, TargetMS: -r.cfg.MaxTargetPressureMS}
	case r.ema < r.cfg.BadThreshold:
		return Pressure{StepMS: -r.cfg.MaxStepPressureMS, TargetMS: r.cfg.MaxTargetPressureMS}
	default:
		return Pressure{}
	}
}

// State returns a snapshot.
func (r *Reward) State() RewardState {
	var avg float64
	if len(r.window) > 0 {
		for _, v := range r.window {
			avg += v
		}
		avg /= float64(len(r.window))
	}
	return RewardState{
		Enabled:   r.cfg.Enabled,
		Last:      r.last,
		EMA:       r.ema,
		WindowAvg: avg,
	}
}
