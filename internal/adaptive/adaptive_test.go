package adaptive

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newAIMD(t *testing.T, mutate func(*AIMDConfig)) *AIMD {
	t.Helper()
	cfg := DefaultAIMDConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	a, err := NewAIMD(cfg)
	require.NoError(t, err)
	return a
}

func TestAIMDAdditiveIncrease(t *testing.T) {
	a := newAIMD(t, nil) // initial 25, step 2

	for i := 1; i <= 5; i++ {
		a.RecordSuccess(1, 20, 0)
		assert.InDelta(t, 25+float64(i)*2, a.LimitMS(), 1e-9)
		assert.Equal(t, AdjustIncrease, a.State().LastAdjust)
	}
}

func TestAIMDClampsAtMax(t *testing.T) {
	a := newAIMD(t, func(c *AIMDConfig) { c.InitialMS = 248; c.MaxMS = 250 })

	a.RecordSuccess(1, 20, 0)
	assert.Equal(t, 250.0, a.LimitMS())
	a.RecordSuccess(1, 20, 0)
	assert.Equal(t, 250.0, a.LimitMS())
}

func TestAIMDMultiplicativeDecrease(t *testing.T) {
	a := newAIMD(t, nil)

	a.RecordFailure()
	assert.InDelta(t, 12.5, a.LimitMS(), 1e-9)
	assert.Equal(t, AdjustDecrease, a.State().LastAdjust)

	a.RecordFailure()
	a.RecordFailure()
	// 12.5 -> 6.25 -> clamped at min 5.
	assert.Equal(t, 5.0, a.LimitMS())
}

func TestAIMDSlowButNotTimedOutHolds(t *testing.T) {
	a := newAIMD(t, nil)

	a.RecordSuccess(30, 20, 0)
	assert.Equal(t, 25.0, a.LimitMS())
	assert.Equal(t, AdjustHold, a.State().LastAdjust)
}

func TestAIMDStepBonusBounded(t *testing.T) {
	a := newAIMD(t, nil)

	a.RecordSuccess(1, 20, 1.5)
	assert.InDelta(t, 28.5, a.LimitMS(), 1e-9)

	// A negative bonus larger than the step never shrinks the limit.
	a.RecordSuccess(1, 20, -10)
	assert.InDelta(t, 28.5, a.LimitMS(), 1e-9)
}

func TestAIMDConfigValidate(t *testing.T) {
	bad := DefaultAIMDConfig()
	bad.MDFactor = 1.0
	_, err := NewAIMD(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)

	bad = DefaultAIMDConfig()
	bad.InitialMS = 1000
	_, err = NewAIMD(bad)
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func newMeta(t *testing.T, mutate func(*MetaConfig)) *Meta {
	t.Helper()
	cfg := DefaultMetaConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := NewMeta(cfg)
	require.NoError(t, err)
	return m
}

func TestMetaHoldsBelowMinSamples(t *testing.T) {
	m := newMeta(t, nil)

	for i := 0; i < 7; i++ {
		m.ObserveLimit(25)
	}
	assert.Equal(t, MetaHold, m.Adapt(0))
	assert.Equal(t, 20.0, m.TargetMS())
}

func TestMetaTightensOnStableHistory(t *testing.T) {
	m := newMeta(t, nil)

	// Flat history: zero volatility, zero trend.
	for i := 0; i < 16; i++ {
		m.ObserveLimit(25)
	}
	assert.Equal(t, MetaTighten, m.Adapt(0))
	assert.Equal(t, 19.0, m.TargetMS())

	st := m.State()
	assert.Equal(t, MetaTighten, st.LastDecision)
	assert.InDelta(t, 0, st.Volatility, 1e-9)
}

func TestMetaLoosensOnVolatileHistory(t *testing.T) {
	m := newMeta(t, nil)

	// Alternating limits: high dispersion.
	for i := 0; i < 16; i++ {
		if i%2 == 0 {
			m.ObserveLimit(5)
		} else {
			m.ObserveLimit(50)
		}
	}
	assert.Equal(t, MetaLoosen, m.Adapt(0))
	assert.Equal(t, 21.0, m.TargetMS())
}

func TestMetaHoldsOnStableGrowth(t *testing.T) {
	m := newMeta(t, nil)

	// Gentle upward trend, low volatility: neither tighten nor loosen.
	for i := 0; i < 16; i++ {
		m.ObserveLimit(25 + float64(i)*0.2)
	}
	assert.Equal(t, MetaHold, m.Adapt(0))
	assert.Equal(t, 20.0, m.TargetMS())
	assert.Positive(t, m.State().Trend)
}

func TestMetaTargetStaysWithinBounds(t *testing.T) {
	m := newMeta(t, func(c *MetaConfig) { c.InitialTargetMS = 5.5; c.StepMS = 1 })

	for i := 0; i < 16; i++ {
		m.ObserveLimit(25)
	}
	// Repeated tightening clamps at the lower bound.
	for i := 0; i < 10; i++ {
		m.Adapt(0)
	}
	assert.Equal(t, 5.0, m.TargetMS())
}

func TestMetaDisabledOnlyHolds(t *testing.T) {
	m := newMeta(t, func(c *MetaConfig) { c.Enabled = false })

	for i := 0; i < 16; i++ {
		m.ObserveLimit(25)
	}
	assert.Equal(t, MetaHold, m.Adapt(0))
	assert.Equal(t, 20.0, m.TargetMS())
}

func TestMetaBonusRespectsClamps(t *testing.T) {
	m := newMeta(t, func(c *MetaConfig) { c.InitialTargetMS = 99.5 })

	// Loosening pressure cannot push the target past the upper bound.
	assert.Equal(t, MetaHold, m.Adapt(5))
	assert.Equal(t, 100.0, m.TargetMS())
}

func newReward(t *testing.T, mutate func(*RewardConfig)) *Reward {
	t.Helper()
	cfg := DefaultRewardConfig()
	if mutate != nil {
		mutate(&cfg)
	}
	r, err := NewReward(cfg)
	require.NoError(t, err)
	return r
}

func TestRewardWeightedSum(t *testing.T) {
	r := newReward(t, func(c *RewardConfig) {
		c.Weights = RewardWeights{DiversityGain: 2, LatencyMS: -0.1, BreakerOpen: -1, ErrorRate: -5}
	})

	ema := r.Observe(RewardSignals{DiversityGain: 0.5, LatencyMS: 10, BreakerOpen: true, ErrorRate: 0.1})
	// 2*0.5 - 0.1*10 - 1 - 5*0.1 = -1.5; first sample seeds the EMA.
	assert.InDelta(t, -1.5, ema, 1e-9)
	assert.InDelta(t, -1.5, r.State().Last, 1e-9)
	assert.InDelta(t, -1.5, r.State().WindowAvg, 1e-9)
}

func TestRewardEMASmoothing(t *testing.T) {
	r := newReward(t, func(c *RewardConfig) {
		c.Weights = RewardWeights{DiversityGain: 1}
		c.EMAAlpha = 0.5
	})

	r.Observe(RewardSignals{DiversityGain: 1})
	ema := r.Observe(RewardSignals{DiversityGain: 0})
	assert.InDelta(t, 0.5, ema, 1e-9)
}

func TestRewardPressureBands(t *testing.T) {
	r := newReward(t, func(c *RewardConfig) {
		c.Weights = RewardWeights{DiversityGain: 1}
		c.EMAAlpha = 1 // EMA follows the last sample exactly
	})

	// Neutral band: no pressure.
	r.Observe(RewardSignals{DiversityGain: 0.1})
	assert.Equal(t, Pressure{}, r.Pressure())

	// Good: step grows, target tightens.
	r.Observe(RewardSignals{DiversityGain: 0.9})
	p := r.Pressure()
	assert.Equal(t, 1.0, p.StepMS)
	assert.Equal(t, -1.0, p.TargetMS)

	// Bad: symmetric.
	r.Observe(RewardSignals{DiversityGain: -0.9})
	p = r.Pressure()
	assert.Equal(t, -1.0, p.StepMS)
	assert.Equal(t, 1.0, p.TargetMS)
}

func TestRewardDisabledEmitsNoPressure(t *testing.T) {
	r := newReward(t, func(c *RewardConfig) { c.Enabled = false; c.EMAAlpha = 1 })

	r.Observe(RewardSignals{DiversityGain: 10})
	assert.Equal(t, Pressure{}, r.Pressure())
}

func TestRewardWindowBounded(t *testing.T) {
	r := newReward(t, func(c *RewardConfig) {
		c.Weights = RewardWeights{DiversityGain: 1}
		c.WindowSize = 4
	})

	for i := 0; i < 10; i++ {
		r.Observe(RewardSignals{DiversityGain: float64(i)})
	}
	// Window holds {6,7,8,9}.
	assert.InDelta(t, 7.5, r.State().WindowAvg, 1e-9)
}

func TestSelfLoopBiasTransitions(t *testing.T) {
	cfg := DefaultSelfLoopConfig()
	cfg.EMAAlpha = 1 // track the raw signal
	s, err := NewSelfLoop(cfg)
	require.NoError(t, err)

	assert.Equal(t, BiasNeutral, s.Bias())

	assert.Equal(t, BiasAggressive, s.Observe(0.9))
	// Between thresholds: bias holds.
	assert.Equal(t, BiasAggressive, s.Observe(0.5))
	assert.Equal(t, BiasConservative, s.Observe(0.1))
	assert.Equal(t, BiasConservative, s.Observe(0.5))
}

func TestSelfLoopEMA(t *testing.T) {
	cfg := DefaultSelfLoopConfig()
	cfg.EMAAlpha = 0.5
	s, err := NewSelfLoop(cfg)
	require.NoError(t, err)

	s.Observe(1.0)
	s.Observe(0.0)
	assert.InDelta(t, 0.5, s.State().PresenceEMA, 1e-9)
}

func TestSelfLoopDisabledStaysNeutral(t *testing.T) {
	cfg := DefaultSelfLoopConfig()
	cfg.Enabled = false
	s, err := NewSelfLoop(cfg)
	require.NoError(t, err)

	assert.Equal(t, BiasNeutral, s.Observe(1.0))
	assert.Equal(t, BiasNeutral, s.Observe(1.0))
}
