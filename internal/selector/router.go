package selector

import (
	"encoding/binary"
	"fmt"

	"github.com/zeebo/xxh3"
)

// RouterConfig configures AB shadow routing.
type RouterConfig struct {
	// Ratio is the fraction of ticks routed to the shadow arm. 0 always
	// selects base, 1 always selects shadow.
	Ratio float64

	// EMAAlpha is the smoothing factor for per-arm latency and
	// diversity-gain averages (default 0.2).
	EMAAlpha float64
}

// DefaultRouterConfig returns shadow routing disabled.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{Ratio: 0, EMAAlpha: 0.2}
}

// Validate rejects out-of-range tunings.
func (c RouterConfig) Validate() error {
	if c.Ratio < 0 || c.Ratio > 1 {
		return fmt.Errorf("router: ratio must be in [0,1], got %v", c.Ratio)
	}
	if c.EMAAlpha <= 0 || c.EMAAlpha > 1 {
		return fmt.Errorf("router: ema_alpha must be in (0,1], got %v", c.EMAAlpha)
	}
	return nil
}

// ArmStats holds one arm's running statistics.
type ArmStats struct {
	Count        int64   `json:"count"`
	LatencyAvgMS float64 `json:"latency_avg_ms"`
	DiversityAvg float64 `json:"diversity_avg"`
}

// ABState is a read-only snapshot of both arms.
type ABState struct {
	Ratio float64           `json:"ratio"`
	Arms  map[Arm]ArmStats  `json:"arms"`
}

// Router assigns each tick to an arm deterministically from
// (session seed, tick, ratio) and keeps per-arm running statistics.
// Counters advance at most once per tick no matter how often the snapshot
// is read.
type Router struct {
	cfg RouterConfig

	stats            map[Arm]*ArmStats
	lastRecordedTick int64
	recordedAny      bool
}

// NewRouter creates a router with zeroed statistics.
func NewRouter(cfg RouterConfig) (*Router, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Router{
		cfg: cfg,
		stats: map[Arm]*ArmStats{
			ArmBase:   {},
			ArmShadow: {},
		},
	}, nil
}

// Draw returns the arm for a tick. Pure: the same (seed, tick, ratio)
// always yields the same arm.
func (r *Router) Draw(seed, tick int64) Arm {
	if r.cfg.Ratio <= 0 {
		return ArmBase
	}
	if r.cfg.Ratio >= 1 {
		return ArmShadow
	}

	var buf [16]byte
	binary.LittleEndian.PutUint64(buf[0:8], uint64(seed))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(tick))
	h := xxh3.Hash(buf[:])

	// Top 53 bits give a uniform draw in [0,1).
	draw := float64(h>>11) / float64(1<<53)
	if draw < r.cfg.Ratio {
		return ArmShadow
	}
	return ArmBase
}

// Record folds one tick's outcome into the arm's statistics. Repeated
// calls for the same tick are ignored.
func (r *Router) Record(tick int64, arm Arm, latencyMS, diversityGain float64) {
	if r.recordedAny && tick == r.lastRecordedTick {
		return
	}
	r.recordedAny = true
	r.lastRecordedTick = tick

	s := r.stats[arm]
	s.Count++
	if s.Count == 1 {
		s.LatencyAvgMS = latencyMS
		s.DiversityAvg = diversityGain
		return
	}
	a := r.cfg.EMAAlpha
	s.LatencyAvgMS = (1-a)*s.LatencyAvgMS + a*latencyMS
	s.DiversityAvg = (1-a)*s.DiversityAvg + a*diversityGain
}

// State returns a snapshot with copied arm statistics.
func (r *Router) State() ABState {
	arms := make(map[Arm]ArmStats, len(r.stats))
	for arm, s := range r.stats {
		arms[arm] = *s
	}
	return ABState{Ratio: r.cfg.Ratio, Arms: arms}
}
