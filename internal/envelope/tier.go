// Package envelope assigns numeric precision tiers to admission windows
// and stabilizes tier changes against oscillation.
package envelope

// Tier is a numeric-format budget level. Tiers are ordered: comparisons
// with < and > express downgrades and upgrades.
type Tier int

const (
	// TierCold is the coldest precision; the global window is frozen here.
	TierCold Tier = iota

	// TierWarmLow is reduced precision for mid-scoring streams.
	TierWarmLow

	// TierWarmHigh is near-full precision.
	TierWarmHigh

	// TierHot is full precision for top-scoring streams.
	TierHot
)

func (t Tier) String() string {
	switch t {
	case TierCold:
		return "cold"
	case TierWarmLow:
		return "warm-low"
	case TierWarmHigh:
		return "warm-high"
	case TierHot:
		return "hot"
	default:
		return "unknown"
	}
}

// Legacy step-function thresholds on the aggregate window score.
const (
	ThresholdWarmLow  = 0.40
	ThresholdWarmHigh = 0.60
	ThresholdHot      = 0.80
)

// Strategy maps an observed aggregate score to a precision tier. Observe is
// called once per tick; stateful strategies use tick for rate limiting and
// streamSize for the minimum-stream upgrade guard.
type Strategy interface {
	// Observe feeds one tick's aggregate score and returns the tier the
	// controlled window should use for this tick.
	Observe(tick int64, avgScore float64, streamSize int) Tier

	// Current returns the tier in effect without observing anything.
	Current() Tier
}

// Legacy is the stateless step-function strategy. It is exact and
// monotonic in the score, with no anti-chatter protection.
type Legacy struct {
	current Tier
}

// NewLegacy creates a legacy envelope starting at cold.
func NewLegacy() *Legacy { return &Legacy{current: TierCold} }

// Observe assigns the tier implied by avgScore alone.
func (l *Legacy) Observe(_ int64, avgScore float64, _ int) Tier {
	l.current = assign(avgScore)
	return l.current
}

// Current returns the last assigned tier.
func (l *Legacy) Current() Tier { return l.current }

// assign is the shared step function.
func assign(avgScore float64) Tier {
	switch {
	case avgScore >= ThresholdHot:
		return TierHot
	case avgScore >= ThresholdWarmHigh:
		return TierWarmHigh
	case avgScore >= ThresholdWarmLow:
		return TierWarmLow
	default:
		return TierCold
	}
}
