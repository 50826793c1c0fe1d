// Package fab implements the Flex Adaptive Budget admission-and-precision
// control loop. A Core owns one session's controllers and runs the strict
// per-tick cycle InitTick -> Fill -> Mix -> Step.
package fab

import (
	"fmt"
	"log/slog"

	"github.com/orbis/fab/internal/adaptive"
	"github.com/orbis/fab/internal/envelope"
	"github.com/orbis/fab/internal/observability"
	"github.com/orbis/fab/internal/selector"
)

// EnvelopeStrategy selects the precision-envelope implementation.
type EnvelopeStrategy string

const (
	// EnvelopeHysteresis is the stateful anti-chatter strategy.
	EnvelopeHysteresis EnvelopeStrategy = "hysteresis"

	// EnvelopeLegacy is the stateless step function.
	EnvelopeLegacy EnvelopeStrategy = "legacy"
)

// Config assembles one session's controller tunings. Zero values are
// filled from the defaults; invalid tunings fail construction with a
// ConfigurationError.
type Config struct {
	// SessionID labels logs, metrics, and diagnostics.
	SessionID string

	// Seed drives every deterministic draw for the session.
	Seed int64

	// StreamCapacity is the stream window's maximum size before budget
	// bounds apply (default 16).
	StreamCapacity int

	// Envelope picks the stream precision strategy (default hysteresis).
	Envelope EnvelopeStrategy

	Hysteresis envelope.HysteresisConfig
	Engine     selector.EngineConfig
	AIMD       adaptive.AIMDConfig
	Meta       adaptive.MetaConfig
	Reward     adaptive.RewardConfig
	SelfLoop   adaptive.SelfLoopConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger

	// Sink receives best-effort diagnostics events; nil disables emission.
	Sink observability.Sink

	// Metrics is the session metric registry; nil creates one.
	Metrics *observability.Registry
}

// DefaultConfig returns a complete default tuning for a session.
func DefaultConfig(sessionID string, seed int64) Config {
	return Config{
		SessionID:      sessionID,
		Seed:           seed,
		StreamCapacity: 16,
		Envelope:       EnvelopeHysteresis,
		Hysteresis:     envelope.DefaultHysteresisConfig(),
		Engine:         selector.DefaultEngineConfig(),
		AIMD:           adaptive.DefaultAIMDConfig(),
		Meta:           adaptive.DefaultMetaConfig(),
		Reward:         adaptive.DefaultRewardConfig(),
		SelfLoop:       adaptive.DefaultSelfLoopConfig(),
	}
}

// ConfigurationError reports an invalid tuning at construction. It is
// fatal: a core is never built from a bad config.
type ConfigurationError struct {
	Component string
	Err       error
}

func (e ConfigurationError) Error() string {
	return fmt.Sprintf("fab configuration (%s): %v", e.Component, e.Err)
}

func (e ConfigurationError) Unwrap() error { return e.Err }

func (c *Config) validate() error {
	if c.SessionID == "" {
		return ConfigurationError{Component: "core", Err: fmt.Errorf("session id must not be empty")}
	}
	if c.StreamCapacity == 0 {
		c.StreamCapacity = 16
	}
	if c.StreamCapacity < 1 {
		return ConfigurationError{Component: "core", Err: fmt.Errorf("stream capacity must be >= 1, got %d", c.StreamCapacity)}
	}
	switch c.Envelope {
	case "":
		c.Envelope = EnvelopeHysteresis
	case EnvelopeHysteresis, EnvelopeLegacy:
	default:
		return ConfigurationError{Component: "envelope", Err: fmt.Errorf("unknown strategy %q", c.Envelope)}
	}
	return nil
}
