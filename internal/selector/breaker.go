package selector

import (
	"fmt"
	"log/slog"
)

// BreakerConfig configures the shadow-path circuit breaker.
type BreakerConfig struct {
	// CooldownTicks is how many ticks the base selector is forced after
	// the breaker opens (default 5).
	CooldownTicks int

	// Logger for state changes. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultBreakerConfig returns the default tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{CooldownTicks: 5}
}

// Validate rejects unusable tunings.
func (c BreakerConfig) Validate() error {
	if c.CooldownTicks < 1 {
		return fmt.Errorf("breaker: cooldown_ticks must be >= 1, got %d", c.CooldownTicks)
	}
	return nil
}

// BreakerState is a read-only snapshot for diagnostics.
type BreakerState struct {
	Open              bool                  `json:"open"`
	CooldownRemaining int                   `json:"cooldown_remaining"`
	OpenCount         int                   `json:"open_count"`
	Reason            FaultReason           `json:"reason,omitempty"`
	ReasonCounts      map[FaultReason]int64 `json:"reason_counts"`
}

// Breaker isolates shadow faults. While open, the AB draw is overridden
// and the base selector serves every tick; the cooldown decrements once
// per tick regardless of how often diagnostics are read.
type Breaker struct {
	cfg    BreakerConfig
	logger *slog.Logger

	cooldownRemaining int
	openCount         int
	lastReason        FaultReason
	reasonCounts      map[FaultReason]int64
}

// NewBreaker creates a closed breaker.
func NewBreaker(cfg BreakerConfig) (*Breaker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Breaker{
		cfg:          cfg,
		logger:       logger,
		reasonCounts: make(map[FaultReason]int64),
	}, nil
}

// IsOpen reports whether the breaker is currently forcing the base arm.
func (b *Breaker) IsOpen() bool { return b.cooldownRemaining > 0 }

// Open trips the breaker for the configured cooldown, recording the fault
// reason. Re-opening while already open restarts the cooldown.
func (b *Breaker) Open(reason FaultReason) {
	b.cooldownRemaining = b.cfg.CooldownTicks
	b.openCount++
	b.lastReason = reason
	b.reasonCounts[reason]++

	b.logger.Warn("shadow circuit breaker opened",
		"reason", string(reason),
		"cooldown_ticks", b.cfg.CooldownTicks,
		"open_count", b.openCount,
	)
}

// Tick consumes one cooldown tick. Callers invoke it exactly once per tick
// while the breaker is open.
func (b *Breaker) Tick() {
	if b.cooldownRemaining == 0 {
		return
	}
	b.cooldownRemaining--
	if b.cooldownRemaining == 0 {
		b.logger.Info("shadow circuit breaker closed", "open_count", b.openCount)
	}
}

// State returns a snapshot. The reason-count map is copied.
func (b *Breaker) State() BreakerState {
	counts := make(map[FaultReason]int64, len(b.reasonCounts))
	for k, v := range b.reasonCounts {
		counts[k] = v
	}
	return BreakerState{
		Open:              b.IsOpen(),
		CooldownRemaining: b.cooldownRemaining,
		OpenCount:         b.openCount,
		Reason:            b.lastReason,
		ReasonCounts:      counts,
	}
}
