package fab

// Counters are the monotonic per-session counts.
type Counters struct {
	Ticks           int64 `json:"ticks"`
	Fills           int64 `json:"fills"`
	Mixes           int64 `json:"mixes"`
	ModeTransitions int64 `json:"mode_transitions"`
	EnvelopeChanges int64 `json:"envelope_changes"`
}

// Gauges are the current-state readings.
type Gauges struct {
	Mode              string `json:"mode"`
	GlobalPrecision   string `json:"global_precision"`
	StreamPrecision   string `json:"stream_precision"`
	StableTicks       int    `json:"stable_ticks"`
	CooldownRemaining int    `json:"cooldown_remaining"`
}

// Derived are the projections recomputed from controller state on every
// Mix; nothing here is stored between reads.
type Derived struct {
	ZSelectorUsed  string  `json:"z_selector_used"`
	ZDiversityGain float64 `json:"z_diversity_gain"`
	ZLatencyMS     float64 `json:"z_latency_ms"`

	ABArm              string             `json:"ab_arm"`
	ABCounts           map[string]int64   `json:"ab_counts"`
	ABLatencyAvg       map[string]float64 `json:"ab_latency_avg"`
	ABDiversityGainAvg map[string]float64 `json:"ab_diversity_gain_avg"`

	ZSpaceCBOpen              bool             `json:"zspace_cb_open"`
	ZSpaceCBReason            string           `json:"zspace_cb_reason"`
	ZSpaceCBOpenCount         int              `json:"zspace_cb_open_count"`
	ZSpaceCBReasonCounts      map[string]int64 `json:"zspace_cb_reason_counts"`
	ZSpaceCBCooldownRemaining int              `json:"zspace_cb_cooldown_remaining"`

	ZLimitCurrentMS float64 `json:"z_limit_current_ms"`
	ZLimitLastAdjust string `json:"z_limit_last_adjust"`

	ZMetaEnabled      bool       `json:"z_meta_enabled"`
	ZMetaLastDecision string     `json:"z_meta_last_decision"`
	ZMetaVolatility   float64    `json:"z_meta_volatility"`
	ZMetaTrend        float64    `json:"z_meta_trend"`
	ZMetaTargetBounds [2]float64 `json:"z_meta_target_bounds"`

	RewardEnabled   bool    `json:"reward_enabled"`
	RewardLast      float64 `json:"reward_last"`
	RewardEMA       float64 `json:"reward_ema"`
	RewardWindowAvg float64 `json:"reward_window_avg"`

	SelfloopEnabled bool    `json:"selfloop_enabled"`
	SelfPresenceEMA float64 `json:"self_presence_ema"`
}

// Diagnostics is the read-only projection returned by Mix.
type Diagnostics struct {
	Counters Counters `json:"counters"`
	Gauges   Gauges   `json:"gauges"`
	Derived  Derived  `json:"derived"`
}

// MixResult is the caller-facing output of one Mix read.
type MixResult struct {
	Mode            string      `json:"mode"`
	StreamSize      int         `json:"stream_size"`
	GlobalSize      int         `json:"global_size"`
	StreamPrecision string      `json:"stream_precision"`
	GlobalPrecision string      `json:"global_precision"`
	Diagnostics     Diagnostics `json:"diagnostics"`
}

// StepResult is the caller-facing output of one Step.
type StepResult struct {
	Mode        string `json:"mode"`
	StableTicks int    `json:"stable_ticks"`
}
