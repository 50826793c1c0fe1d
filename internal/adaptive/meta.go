package adaptive

import (
	"fmt"
	"math"
)

// MetaDecision labels the meta-adapter's last move.
type MetaDecision string

const (
	MetaTighten MetaDecision = "tighten"
	MetaHold    MetaDecision = "hold"
	MetaLoosen  MetaDecision = "loosen"
)

// MetaConfig tunes target-latency meta-adaptation.
type MetaConfig struct {
	// Enabled turns the adapter on. Disabled it only holds.
	Enabled bool

	// InitialTargetMS is the starting AIMD target latency (default 20).
	InitialTargetMS float64

	// MinTargetMS and MaxTargetMS bound the target (defaults 5 and 100).
	MinTargetMS float64
	MaxTargetMS float64

	// StepMS is how far one decision moves the target (default 1).
	StepMS float64

	// WindowSize bounds the AIMD limit history (default 32).
	WindowSize int

	// MinSamples is the history size before any adaptation (default 8).
	MinSamples int

	// VolatilityLoosen is the normalized-dispersion level above which the
	// target loosens (default 0.25).
	VolatilityLoosen float64

	// VolatilityTighten is the level below which a non-positive trend
	// tightens the target (default 0.08).
	VolatilityTighten float64
}

// DefaultMetaConfig returns meta-adaptation enabled with default bounds.
func DefaultMetaConfig() MetaConfig {
	return MetaConfig{
		Enabled:           true,
		InitialTargetMS:   20,
		MinTargetMS:       5,
		MaxTargetMS:       100,
		StepMS:            1,
		WindowSize:        32,
		MinSamples:        8,
		VolatilityLoosen:  0.25,
		VolatilityTighten: 0.08,
	}
}

// Validate rejects tunings that violate the bounds invariant.
func (c MetaConfig) Validate() error {
	if c.MinTargetMS <= 0 || c.MaxTargetMS < c.MinTargetMS {
		return fmt.Errorf("%w: meta bounds must satisfy 0 < min <= max, got [%v, %v]", ErrInvalidConfig, c.MinTargetMS, c.MaxTargetMS)
	}
	if c.InitialTargetMS < c.MinTargetMS || c.InitialTargetMS > c.MaxTargetMS {
		return fmt.Errorf("%w: meta initial target %v outside [%v, %v]", ErrInvalidConfig, c.InitialTargetMS, c.MinTargetMS, c.MaxTargetMS)
	}
	if c.StepMS <= 0 {
		return fmt.Errorf("%w: meta step must be > 0, got %v", ErrInvalidConfig, c.StepMS)
	}
	if c.WindowSize < 2 || c.MinSamples < 2 || c.MinSamples > c.WindowSize {
		return fmt.Errorf("%w: meta window must satisfy 2 <= min_samples <= window_size", ErrInvalidConfig)
	}
	if c.VolatilityTighten < 0 || c.VolatilityLoosen <= c.VolatilityTighten {
		return fmt.Errorf("%w: meta volatility thresholds must satisfy 0 <= tighten < loosen", ErrInvalidConfig)
	}
	return nil
}

// MetaState is a read-only snapshot.
type MetaState struct {
	Enabled        bool         `json:"enabled"`
	TargetMS       float64      `json:"target_latency_ms"`
	MinTargetMS    float64      `json:"min_target_ms"`
	MaxTargetMS    float64      `json:"max_target_ms"`
	LastDecision   MetaDecision `json:"last_decision"`
	Volatility     float64      `json:"volatility"`
	Trend          float64      `json:"trend"`
	HistorySamples int          `json:"history_samples"`
}

// Meta retunes the AIMD target latency from the volatility and trend of
// the AIMD limit history. A stable, non-growing limit means the target can
// be tightened; a thrashing limit means the target is too ambitious.
type Meta struct {
	cfg MetaConfig

	targetMS     float64
	history      []float64
	lastDecision MetaDecision
	volatility   float64
	trend        float64
}

// NewMeta creates an adapter at the configured initial target.
func NewMeta(cfg MetaConfig) (*Meta, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Meta{
		cfg:          cfg,
		targetMS:     cfg.InitialTargetMS,
		history:      make([]float64, 0, cfg.WindowSize),
		lastDecision: MetaHold,
	}, nil
}

// TargetMS returns the current target latency.
func (m *Meta) TargetMS() float64 { return m.targetMS }

// ObserveLimit appends one AIMD limit sample to the bounded history.
func (m *Meta) ObserveLimit(limitMS float64) {
	if len(m.history) == m.cfg.WindowSize {
		copy(m.history, m.history[1:])
		m.history = m.history[:m.cfg.WindowSize-1]
	}
	m.history = append(m.history, limitMS)
}

// Adapt makes one decision from the current history. targetBonus is the
// bounded reward pressure on the target (negative tightens); it applies
// whatever the decision, and the result always stays within bounds.
func (m *Meta) Adapt(targetBonus float64) MetaDecision {
	if !m.cfg.Enabled || len(m.history) < m.cfg.MinSamples {
		m.lastDecision = MetaHold
		m.applyBonus(targetBonus)
		return m.lastDecision
	}

	m.volatility = normalizedDispersion(m.history)
	m.trend = recentTrend(m.history)

	switch {
	case m.volatility > m.cfg.VolatilityLoosen:
		m.targetMS += m.cfg.StepMS
		m.lastDecision = MetaLoosen
	case m.volatility < m.cfg.VolatilityTighten && m.trend <= 0:
		m.targetMS -= m.cfg.StepMS
		m.lastDecision = MetaTighten
	default:
		m.lastDecision = MetaHold
	}

	m.applyBonus(targetBonus)
	return m.lastDecision
}

func (m *Meta) applyBonus(targetBonus float64) {
	m.targetMS = clamp(m.targetMS+targetBonus, m.cfg.MinTargetMS, m.cfg.MaxTargetMS)
}

// State returns a snapshot.
func (m *Meta) State() MetaState {
	return MetaState{
		Enabled:        m.cfg.Enabled,
		TargetMS:       m.targetMS,
		MinTargetMS:    m.cfg.MinTargetMS,
		MaxTargetMS:    m.cfg.MaxTargetMS,
		LastDecision:   m.lastDecision,
		Volatility:     m.volatility,
		Trend:          m.trend,
		HistorySamples: len(m.history),
	}
}

// normalizedDispersion is the coefficient of variation: stddev over mean.
func normalizedDispersion(samples []float64) float64 {
	var mean float64
	for _, s := range samples {
		mean += s
	}
	mean /= float64(len(samples))
	if mean == 0 {
		return 0
	}

	var variance float64
	for _, s := range samples {
		d := s - mean
		variance += d * d
	}
	variance /= float64(len(samples))
	return math.Sqrt(variance) / mean
}

// recentTrend is the signed difference between the means of the newer and
// older halves of the history.
func recentTrend(samples []float64) float64 {
	half := len(samples) / 2
	older, newer := samples[:half], samples[half:]

	var oldMean, newMean float64
	for _, s := range older {
		oldMean += s
	}
	oldMean /= float64(len(older))
	for _, s := range newer {
		newMean += s
	}
	newMean /= float64(len(newer))

	return newMean - oldMean
}
