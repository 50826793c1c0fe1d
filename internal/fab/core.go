package fab

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/orbis/fab/internal/adaptive"
	"github.com/orbis/fab/internal/envelope"
	"github.com/orbis/fab/internal/mode"
	"github.com/orbis/fab/internal/observability"
	"github.com/orbis/fab/internal/selector"
	"github.com/orbis/fab/internal/window"
)

// ErrTickNotStarted is returned when Fill or Step runs outside an
// initialized tick.
var ErrTickNotStarted = errors.New("tick not started: call InitTick first")

// Core runs the FAB control loop for one session. It is single-threaded:
// concurrent calls on one Core are undefined, sessions shard one Core
// each. All controllers are owned by the Core and mutated in place.
type Core struct {
	cfg    Config
	logger *slog.Logger

	machine   *mode.Machine
	streamEnv envelope.Strategy
	engine    *selector.Engine
	aimd      *adaptive.AIMD
	meta      *adaptive.Meta
	reward    *adaptive.Reward
	selfLoop  *adaptive.SelfLoop

	metrics *observability.Registry
	sink    observability.Sink

	// Tick-cycle state.
	tick          int64
	tickActive    bool
	filledTick    bool
	mixedTick     bool
	stream        window.Window
	global        window.Window
	streamTier    envelope.Tier
	lastOutcome   selector.Outcome
	lastErrorRate float64

	counters Counters
}

// New builds a Core from the config. shim may be nil, which disables the
// shadow arm. Construction fails fast with a ConfigurationError on any
// invalid tuning.
func New(cfg Config, shim selector.Shim) (*Core, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("session", cfg.SessionID)

	var streamEnv envelope.Strategy
	if cfg.Envelope == EnvelopeLegacy {
		streamEnv = envelope.NewLegacy()
	} else {
		h, err := envelope.NewHysteresis(cfg.Hysteresis)
		if err != nil {
			return nil, ConfigurationError{Component: "envelope", Err: err}
		}
		streamEnv = h
	}

	cfg.Engine.Logger = logger
	engine, err := selector.NewEngine(cfg.Engine, shim)
	if err != nil {
		return nil, ConfigurationError{Component: "selector", Err: err}
	}
	aimd, err := adaptive.NewAIMD(cfg.AIMD)
	if err != nil {
		return nil, ConfigurationError{Component: "aimd", Err: err}
	}
	meta, err := adaptive.NewMeta(cfg.Meta)
	if err != nil {
		return nil, ConfigurationError{Component: "meta", Err: err}
	}
	reward, err := adaptive.NewReward(cfg.Reward)
	if err != nil {
		return nil, ConfigurationError{Component: "reward", Err: err}
	}
	selfLoop, err := adaptive.NewSelfLoop(cfg.SelfLoop)
	if err != nil {
		return nil, ConfigurationError{Component: "selfloop", Err: err}
	}

	metrics := cfg.Metrics
	if metrics == nil {
		metrics = observability.NewRegistry(cfg.SessionID)
	}

	return &Core{
		cfg:        cfg,
		logger:     logger,
		machine:    mode.NewMachine(),
		streamEnv:  streamEnv,
		engine:     engine,
		aimd:       aimd,
		meta:       meta,
		reward:     reward,
		selfLoop:   selfLoop,
		metrics:    metrics,
		sink:       cfg.Sink,
		streamTier: envelope.TierCold,
	}, nil
}

// SessionID returns the session label.
func (c *Core) SessionID() string { return c.cfg.SessionID }

// Tick returns the current tick number, 0 before the first InitTick.
func (c *Core) Tick() int64 { return c.tick }

// Mode returns the current operating mode.
func (c *Core) Mode() string { return string(c.machine.Mode()) }

// Metrics exposes the session metric registry.
func (c *Core) Metrics() *observability.Registry { return c.metrics }

// InitTick opens the next tick, binding the operating mode. A non-empty
// externalMode forces the mode; an unrecognized value returns an
// InvalidModeError and leaves all state untouched.
func (c *Core) InitTick(externalMode string) error {
	if externalMode != "" {
		if err := c.machine.Force(externalMode); err != nil {
			return err
		}
	}

	c.tick++
	c.tickActive = true
	c.filledTick = false
	c.mixedTick = false
	c.counters.Ticks++
	c.metrics.Counter(observability.MetricCoreTicks).Inc()

	c.emit(observability.EventTickStart, map[string]any{"tick": c.tick, "mode": string(c.machine.Mode())})
	return nil
}

// Fill partitions the slice into the stream and global windows and runs
// every per-tick adaptation that depends on the selection outcome. At most
// one Fill is effective per tick; repeats are ignored. Budget violations
// and base-selector failures are fatal; shadow faults are absorbed by the
// breaker and visible only in diagnostics.
func (c *Core) Fill(ctx context.Context, slice *window.ZSlice) error {
	if !c.tickActive {
		return ErrTickNotStarted
	}
	if c.filledTick {
		c.logger.Warn("duplicate fill ignored", "tick", c.tick)
		return nil
	}
	if err := slice.Validate(); err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	if slice.Seed == 0 {
		// Slices without their own seed draw from the session seed.
		s := *slice
		s.Seed = c.cfg.Seed
		slice = &s
	}

	streamK := c.cfg.StreamCapacity
	if slice.Quotas.Nodes < streamK {
		streamK = slice.Quotas.Nodes
	}

	allowance := time.Duration(c.aimd.LimitMS() * float64(time.Millisecond))
	outcome, err := c.engine.Run(ctx, c.tick, slice, streamK, nil, allowance)
	if err != nil {
		return fmt.Errorf("fill: %w", err)
	}
	c.lastOutcome = outcome

	c.stream = window.New(streamK)
	c.stream.SetCandidates(outcome.Candidates)

	globalK := slice.Quotas.Nodes - c.stream.Len()
	c.global = window.New(globalK)
	c.global.SetCandidates(c.remainder(slice))

	c.adapt(outcome)

	prevTier := c.streamTier
	c.streamTier = c.streamEnv.Observe(c.tick, c.stream.AvgScore(), c.stream.Len())
	if c.streamTier != prevTier {
		c.counters.EnvelopeChanges++
		c.metrics.Counter(observability.MetricCoreEnvelopeChanges).Inc()
		c.emit(observability.EventEnvelopeChange, map[string]any{
			"from": prevTier.String(), "to": c.streamTier.String(),
		})
	}

	c.filledTick = true
	c.counters.Fills++
	c.metrics.Counter(observability.MetricCoreFills).Inc()
	c.metrics.Gauge(observability.MetricStreamSize).Set(float64(c.stream.Len()))
	c.metrics.Gauge(observability.MetricGlobalSize).Set(float64(c.global.Len()))
	c.metrics.Gauge(observability.MetricLimitCurrentMS).Set(c.aimd.LimitMS())
	c.metrics.Gauge(observability.MetricMetaTargetMS).Set(c.meta.TargetMS())

	c.emit(observability.EventFill, map[string]any{
		"tick":        c.tick,
		"stream_size": c.stream.Len(),
		"global_size": c.global.Len(),
		"arm":         string(outcome.Arm),
	})
	return nil
}

// remainder returns the ranked candidates not admitted to the stream.
func (c *Core) remainder(slice *window.ZSlice) []window.Candidate {
	inStream := make(map[string]struct{}, c.stream.Len())
	for _, cand := range c.stream.Candidates() {
		inStream[cand.ID] = struct{}{}
	}

	ranked := window.RankCandidates(slice.Candidates)
	rest := make([]window.Candidate, 0, len(ranked)-c.stream.Len())
	for _, cand := range ranked {
		if _, ok := inStream[cand.ID]; !ok {
			rest = append(rest, cand)
		}
	}
	return rest
}

// adapt feeds the selection outcome through the AIMD, meta, and reward
// controllers. Pressure derives from the reward EMA of previous ticks and
// is applied before this tick's observation.
func (c *Core) adapt(outcome selector.Outcome) {
	pressure := c.reward.Pressure()

	if outcome.Arm == selector.ArmShadow {
		if outcome.Fault != nil {
			c.aimd.RecordFailure()
			c.metrics.Counter(observability.MetricBreakerOpenTotal).Inc()
			c.metrics.Counter(observability.MetricSelectorFallback).Inc()
			c.emit(observability.EventBreakerOpen, map[string]any{"reason": string(outcome.Fault.Reason)})
		} else {
			c.aimd.RecordSuccess(outcome.LatencyMS, c.meta.TargetMS(), pressure.StepMS)
			c.metrics.Counter(observability.MetricSelectorShadow).Inc()
		}
	}

	c.meta.ObserveLimit(c.aimd.LimitMS())
	c.meta.Adapt(pressure.TargetMS)

	c.reward.Observe(adaptive.RewardSignals{
		DiversityGain: outcome.DiversityGain,
		LatencyMS:     outcome.LatencyMS,
		BreakerOpen:   c.engine.Breaker().Open,
		ErrorRate:     c.lastErrorRate,
	})
	c.metrics.Gauge(observability.MetricRewardEMA).Set(c.reward.State().EMA)
}

// Mix returns the current windows and a freshly computed diagnostics
// projection. Mix is idempotent within a tick: repeated calls return the
// same result and advance no counters.
func (c *Core) Mix() (*MixResult, error) {
	if c.tick == 0 {
		return nil, ErrTickNotStarted
	}

	if !c.mixedTick {
		c.mixedTick = true
		c.counters.Mixes++
		c.metrics.Counter(observability.MetricCoreMixes).Inc()
	}

	return &MixResult{
		Mode:            string(c.machine.Mode()),
		StreamSize:      c.stream.Len(),
		GlobalSize:      c.global.Len(),
		StreamPrecision: c.streamTier.String(),
		GlobalPrecision: envelope.TierCold.String(),
		Diagnostics:     c.diagnostics(),
	}, nil
}

// Step closes the tick by applying the mode-machine signals. Signals are
// clamped to [0,1]. The error rate feeds the next tick's reward.
func (c *Core) Step(stress, selfPresence, errorRate float64) (*StepResult, error) {
	if !c.tickActive {
		return nil, ErrTickNotStarted
	}

	sig := mode.Signals{
		Stress:       clamp01(stress),
		SelfPresence: clamp01(selfPresence),
		ErrorRate:    clamp01(errorRate),
	}
	c.selfLoop.Observe(sig.SelfPresence)
	c.lastErrorRate = sig.ErrorRate

	before := c.machine.Mode()
	st := c.machine.Step(sig)
	if st.Mode != before {
		c.counters.ModeTransitions++
		c.metrics.Counter(observability.MetricCoreModeTransitions).Inc()
		c.logger.Info("mode transition",
			"from", string(before),
			"to", string(st.Mode),
			"stress", sig.Stress,
			"error_rate", sig.ErrorRate,
		)
		c.emit(observability.EventModeTransition, map[string]any{
			"from": string(before), "to": string(st.Mode),
		})
	}

	c.tickActive = false
	c.emit(observability.EventStep, map[string]any{"tick": c.tick, "mode": string(st.Mode)})
	return &StepResult{Mode: string(st.Mode), StableTicks: st.StableTicks}, nil
}

// StreamIDs returns the stream window's candidate ids in rank order.
func (c *Core) StreamIDs() []string { return c.stream.IDs() }

// GlobalIDs returns the global window's candidate ids in rank order.
func (c *Core) GlobalIDs() []string { return c.global.IDs() }

// diagnostics assembles the read-only projection from controller state.
func (c *Core) diagnostics() Diagnostics {
	cb := c.engine.Breaker()
	ab := c.engine.Router()
	aimd := c.aimd.State()
	meta := c.meta.State()
	reward := c.reward.State()
	self := c.selfLoop.State()
	modeSt := c.machine.State()

	counts := make(map[string]int64, len(ab.Arms))
	latAvg := make(map[string]float64, len(ab.Arms))
	divAvg := make(map[string]float64, len(ab.Arms))
	for arm, stats := range ab.Arms {
		counts[string(arm)] = stats.Count
		latAvg[string(arm)] = stats.LatencyAvgMS
		divAvg[string(arm)] = stats.DiversityAvg
	}

	reasonCounts := make(map[string]int64, len(cb.ReasonCounts))
	for reason, n := range cb.ReasonCounts {
		reasonCounts[string(reason)] = n
	}

	c.metrics.Gauge(observability.MetricBreakerCooldown).Set(float64(cb.CooldownRemaining))

	return Diagnostics{
		Counters: c.counters,
		Gauges: Gauges{
			Mode:              string(modeSt.Mode),
			GlobalPrecision:   envelope.TierCold.String(),
			StreamPrecision:   c.streamTier.String(),
			StableTicks:       modeSt.StableTicks,
			CooldownRemaining: cb.CooldownRemaining,
		},
		Derived: Derived{
			ZSelectorUsed:  string(c.lastOutcome.Used),
			ZDiversityGain: c.lastOutcome.DiversityGain,
			ZLatencyMS:     c.lastOutcome.LatencyMS,

			ABArm:              string(c.lastOutcome.Arm),
			ABCounts:           counts,
			ABLatencyAvg:       latAvg,
			ABDiversityGainAvg: divAvg,

			ZSpaceCBOpen:              cb.Open,
			ZSpaceCBReason:            string(cb.Reason),
			ZSpaceCBOpenCount:         cb.OpenCount,
			ZSpaceCBReasonCounts:      reasonCounts,
			ZSpaceCBCooldownRemaining: cb.CooldownRemaining,

			ZLimitCurrentMS:  aimd.CurrentLimitMS,
			ZLimitLastAdjust: string(aimd.LastAdjust),

			ZMetaEnabled:      meta.Enabled,
			ZMetaLastDecision: string(meta.LastDecision),
			ZMetaVolatility:   meta.Volatility,
			ZMetaTrend:        meta.Trend,
			ZMetaTargetBounds: [2]float64{meta.MinTargetMS, meta.MaxTargetMS},

			RewardEnabled:   reward.Enabled,
			RewardLast:      reward.Last,
			RewardEMA:       reward.EMA,
			RewardWindowAvg: reward.WindowAvg,

			SelfloopEnabled: self.Enabled,
			SelfPresenceEMA: self.PresenceEMA,
		},
	}
}

func (c *Core) emit(eventType string, fields map[string]any) {
	if c.sink == nil {
		return
	}
	observability.EmitIgnored(c.sink, c.logger, observability.Event{
		Timestamp: time.Now(),
		Session:   c.cfg.SessionID,
		Type:      eventType,
		Fields:    fields,
	})
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
