package envelope

import (
	"errors"
	"fmt"
)

// ErrInvalidConfig is returned when hysteresis tuning is unusable.
var ErrInvalidConfig = errors.New("invalid envelope config")

// HysteresisConfig tunes the stateful anti-chatter strategy.
type HysteresisConfig struct {
	// DwellTicks is how many consecutive ticks an upgrade must be
	// requested before it commits (default 3).
	DwellTicks int

	// RateLimitTicks is the minimum tick distance between two committed
	// changes in either direction (default 2).
	RateLimitTicks int64

	// DeadBand is subtracted from each upgrade threshold to form the
	// matching downgrade threshold (default 0.05). Scores between the two
	// hold the current tier without resetting stability.
	DeadBand float64

	// MinStreamSize suppresses upgrades while the stream window is
	// smaller than this floor. Downgrades are never suppressed.
	// Zero disables the guard.
	MinStreamSize int

	// HistorySize bounds the switch-history ring (default 8).
	HistorySize int
}

// DefaultHysteresisConfig returns the default tuning.
func DefaultHysteresisConfig() HysteresisConfig {
	return HysteresisConfig{
		DwellTicks:     3,
		RateLimitTicks: 2,
		DeadBand:       0.05,
		MinStreamSize:  0,
		HistorySize:    8,
	}
}

// Validate rejects tunings that would wedge the controller.
func (c HysteresisConfig) Validate() error {
	if c.DwellTicks < 1 {
		return fmt.Errorf("%w: dwell_ticks must be >= 1, got %d", ErrInvalidConfig, c.DwellTicks)
	}
	if c.RateLimitTicks < 0 {
		return fmt.Errorf("%w: rate_limit_ticks must be >= 0, got %d", ErrInvalidConfig, c.RateLimitTicks)
	}
	if c.DeadBand < 0 || c.DeadBand >= ThresholdWarmLow {
		return fmt.Errorf("%w: dead_band must be in [0, %.2f), got %.3f", ErrInvalidConfig, ThresholdWarmLow, c.DeadBand)
	}
	if c.MinStreamSize < 0 {
		return fmt.Errorf("%w: min_stream_size must be >= 0, got %d", ErrInvalidConfig, c.MinStreamSize)
	}
	if c.HistorySize < 1 {
		return fmt.Errorf("%w: history_size must be >= 1, got %d", ErrInvalidConfig, c.HistorySize)
	}
	return nil
}

// HysteresisState is a read-only snapshot of one controlled quantity.
type HysteresisState struct {
	Current          Tier  `json:"current"`
	Target           Tier  `json:"target"`
	DwellCounter     int   `json:"dwell_counter"`
	LastChangeTick   int64 `json:"last_change_tick"`
	ChangeCount      int   `json:"change_count"`
	OscillationCount int   `json:"oscillation_count"`
}

// Hysteresis is the stateful dead-band/dwell/rate-limit strategy. One
// instance controls exactly one quantity; the FAB core owns one for the
// stream window.
type Hysteresis struct {
	cfg HysteresisConfig

	current        Tier
	target         Tier
	dwellCounter   int
	lastChangeTick int64
	hasChanged     bool

	history          []int64 // commit ticks, bounded ring
	changeCount      int
	oscillationCount int
	lastDirection    int
}

// NewHysteresis creates a hysteresis envelope starting at cold.
func NewHysteresis(cfg HysteresisConfig) (*Hysteresis, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Hysteresis{
		cfg:     cfg,
		current: TierCold,
		target:  TierCold,
		history: make([]int64, 0, cfg.HistorySize),
	}, nil
}

// Current returns the tier in effect.
func (h *Hysteresis) Current() Tier { return h.current }

// State returns a snapshot for diagnostics.
func (h *Hysteresis) State() HysteresisState {
	return HysteresisState{
		Current:          h.current,
		Target:           h.target,
		DwellCounter:     h.dwellCounter,
		LastChangeTick:   h.lastChangeTick,
		ChangeCount:      h.changeCount,
		OscillationCount: h.oscillationCount,
	}
}

// Observe feeds one tick's aggregate score and returns the tier in effect
// after applying dwell, dead-band, rate-limit, and min-stream rules.
func (h *Hysteresis) Observe(tick int64, avgScore float64, streamSize int) Tier {
	desired := h.desiredTier(avgScore)

	if desired == h.current {
		// Stable: any pending dwell is abandoned.
		h.dwellCounter = 0
		h.target = h.current
		return h.current
	}

	if desired < h.current {
		// Downgrades commit immediately, gated only by the rate limiter.
		h.target = desired
		h.dwellCounter = 0
		if h.rateLimitSatisfied(tick) {
			h.commit(tick, desired)
		}
		return h.current
	}

	// Upgrade path: accumulate dwell toward the requested target.
	if h.target != desired {
		h.target = desired
		h.dwellCounter = 1
	} else {
		h.dwellCounter++
	}

	if h.dwellCounter >= h.cfg.DwellTicks &&
		h.rateLimitSatisfied(tick) &&
		h.streamFloorSatisfied(streamSize) {
		h.commit(tick, desired)
	}
	return h.current
}

// desiredTier resolves the tier implied by the score relative to the
// current tier. Upgrades use the full thresholds; downgrades only trigger
// below the dead-banded thresholds.
func (h *Hysteresis) desiredTier(avgScore float64) Tier {
	implied := assign(avgScore)
	if implied > h.current {
		return implied
	}

	down := h.current
	for down > TierCold && avgScore < h.downThreshold(down) {
		down--
	}
	return down
}

// downThreshold returns the score below which tier t is abandoned.
func (h *Hysteresis) downThreshold(t Tier) float64 {
	switch t {
	case TierHot:
		return ThresholdHot - h.cfg.DeadBand
	case TierWarmHigh:
		return ThresholdWarmHigh - h.cfg.DeadBand
	case TierWarmLow:
		return ThresholdWarmLow - h.cfg.DeadBand
	default:
		return 0
	}
}

func (h *Hysteresis) rateLimitSatisfied(tick int64) bool {
	if !h.hasChanged {
		return true
	}
	return tick-h.lastChangeTick >= h.cfg.RateLimitTicks
}

func (h *Hysteresis) streamFloorSatisfied(streamSize int) bool {
	return h.cfg.MinStreamSize == 0 || streamSize >= h.cfg.MinStreamSize
}

func (h *Hysteresis) commit(tick int64, to Tier) {
	direction := 1
	if to < h.current {
		direction = -1
	}
	if h.lastDirection != 0 && direction != h.lastDirection {
		h.oscillationCount++
	}
	h.lastDirection = direction

	if len(h.history) == h.cfg.HistorySize {
		copy(h.history, h.history[1:])
		h.history = h.history[:h.cfg.HistorySize-1]
	}
	h.history = append(h.history, tick)

	h.current = to
	h.target = to
	h.dwellCounter = 0
	h.lastChangeTick = tick
	h.hasChanged = true
	h.changeCount++
}
