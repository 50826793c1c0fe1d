package fab

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/orbis/fab/internal/mode"
	"github.com/orbis/fab/internal/window"
)

type scriptShim struct {
	err         error
	unavailable bool
}

func (s *scriptShim) Available() bool { return !s.unavailable }

func (s *scriptShim) SelectIDs(_ context.Context, slice *window.ZSlice, k int) ([]string, error) {
	if s.err != nil {
		return nil, s.err
	}
	ranked := window.RankCandidates(slice.Candidates)
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	ids := make([]string, len(ranked))
	for i, c := range ranked {
		ids[i] = c.ID
	}
	return ids, nil
}

func newCore(t *testing.T, mutate func(*Config)) *Core {
	t.Helper()
	cfg := DefaultConfig("test-session", 42)
	if mutate != nil {
		mutate(&cfg)
	}
	c, err := New(cfg, nil)
	require.NoError(t, err)
	return c
}

func testSlice(n, nodes int) *window.ZSlice {
	cands := make([]window.Candidate, n)
	for i := range cands {
		cands[i] = window.Candidate{
			ID:    fmt.Sprintf("c%03d", i),
			Score: float64(n-i) / float64(n),
		}
	}
	return &window.ZSlice{
		Candidates: cands,
		Quotas:     window.BudgetModel{Tokens: 1000, Nodes: nodes, Edges: 50, TimeMS: 100},
	}
}

func TestLifecycleRequiresInitTick(t *testing.T) {
	c := newCore(t, nil)

	err := c.Fill(context.Background(), testSlice(4, 8))
	assert.ErrorIs(t, err, ErrTickNotStarted)

	_, err = c.Step(0.1, 0.9, 0)
	assert.ErrorIs(t, err, ErrTickNotStarted)

	_, err = c.Mix()
	assert.ErrorIs(t, err, ErrTickNotStarted)
}

func TestFillPartitionsWindows(t *testing.T) {
	c := newCore(t, func(cfg *Config) { cfg.StreamCapacity = 4 })

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(20, 10)))

	stream := c.StreamIDs()
	global := c.GlobalIDs()
	assert.Len(t, stream, 4)
	assert.Len(t, global, 6, "global takes the node quota remainder")

	// Stream holds the top scores, global the next ranked block.
	assert.Equal(t, []string{"c000", "c001", "c002", "c003"}, stream)
	assert.Equal(t, "c004", global[0])

	seen := make(map[string]struct{})
	for _, id := range append(stream, global...) {
		_, dup := seen[id]
		assert.False(t, dup, "windows must be disjoint, %s repeated", id)
		seen[id] = struct{}{}
	}
}

func TestFillNodeQuotaBoundsStream(t *testing.T) {
	c := newCore(t, func(cfg *Config) { cfg.StreamCapacity = 16 })

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(20, 3)))

	assert.Len(t, c.StreamIDs(), 3)
	assert.Empty(t, c.GlobalIDs())
}

func TestDuplicateFillIgnored(t *testing.T) {
	c := newCore(t, func(cfg *Config) { cfg.StreamCapacity = 2 })

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(8, 4)))
	first := c.StreamIDs()

	require.NoError(t, c.Fill(context.Background(), testSlice(2, 1)))
	assert.Equal(t, first, c.StreamIDs())

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, int64(1), res.Diagnostics.Counters.Fills)
}

func TestBudgetViolationIsFatal(t *testing.T) {
	c := newCore(t, nil)
	require.NoError(t, c.InitTick(""))

	slice := testSlice(4, 4)
	slice.Quotas.Nodes = -1
	err := c.Fill(context.Background(), slice)
	require.Error(t, err)

	var violation window.Violation
	assert.ErrorAs(t, err, &violation)
	assert.Equal(t, "nodes", violation.Field)
}

func TestMixIdempotentWithinTick(t *testing.T) {
	c := newCore(t, nil)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(8, 6)))

	first, err := c.Mix()
	require.NoError(t, err)
	second, err := c.Mix()
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.Equal(t, int64(1), second.Diagnostics.Counters.Mixes)
}

func TestMixReportsPrecisionTiers(t *testing.T) {
	c := newCore(t, func(cfg *Config) { cfg.Envelope = EnvelopeLegacy })

	require.NoError(t, c.InitTick(""))
	// All scores at 1.0, average 1.0, legacy assigns hot immediately.
	slice := testSlice(4, 4)
	for i := range slice.Candidates {
		slice.Candidates[i].Score = 1.0
	}
	require.NoError(t, c.Fill(context.Background(), slice))

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, "hot", res.StreamPrecision)
	assert.Equal(t, "cold", res.GlobalPrecision, "global window never leaves cold")
}

func TestInvalidExternalModeLeavesStateUntouched(t *testing.T) {
	c := newCore(t, nil)
	require.NoError(t, c.InitTick(""))
	_, err := c.Step(0.1, 0.9, 0)
	require.NoError(t, err)

	err = c.InitTick("FAB9")
	require.Error(t, err)

	var invalid mode.InvalidModeError
	assert.ErrorAs(t, err, &invalid)
	assert.Equal(t, int64(1), c.Tick(), "failed init must not advance the tick")
}

func TestExternalModeForced(t *testing.T) {
	c := newCore(t, nil)
	require.NoError(t, c.InitTick("FAB2"))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, "FAB2", res.Mode)
}

func TestStepDrivesModeTransitions(t *testing.T) {
	c := newCore(t, nil)

	// High presence, low stress promotes FAB0 -> FAB1.
	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))
	res, err := c.Step(0.1, 0.9, 0)
	require.NoError(t, err)
	assert.Equal(t, "FAB1", res.Mode)
	assert.Equal(t, 0, res.StableTicks)

	// Three calm ticks promote FAB1 -> FAB2.
	for i := 0; i < 3; i++ {
		require.NoError(t, c.InitTick(""))
		require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))
		res, err = c.Step(0.1, 0.9, 0)
		require.NoError(t, err)
	}
	assert.Equal(t, "FAB2", res.Mode)

	mix, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, int64(2), mix.Diagnostics.Counters.ModeTransitions)
}

func TestStepClampsSignals(t *testing.T) {
	c := newCore(t, nil)

	require.NoError(t, c.InitTick(""))
	res, err := c.Step(-3.0, 7.5, -1)
	require.NoError(t, err)

	// Presence clamps to 1.0, which satisfies the FAB1 promotion gate.
	assert.Equal(t, "FAB1", res.Mode)

	mix, err := c.Mix()
	require.NoError(t, err)
	ema := mix.Diagnostics.Derived.SelfPresenceEMA
	assert.GreaterOrEqual(t, ema, 0.0)
	assert.LessOrEqual(t, ema, 1.0)
}

func TestShadowFaultAbsorbedAndVisible(t *testing.T) {
	shim := &scriptShim{err: errors.New("shim exploded")}
	cfg := DefaultConfig("test-session", 42)
	cfg.Engine.Router.Ratio = 1.0
	cfg.Engine.Breaker.CooldownTicks = 2
	c, err := New(cfg, shim)
	require.NoError(t, err)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(8, 4)), "shadow faults never fail the fill")

	assert.NotEmpty(t, c.StreamIDs(), "base fallback still fills the stream")

	res, err := c.Mix()
	require.NoError(t, err)
	d := res.Diagnostics.Derived
	assert.Equal(t, "zspace", d.ABArm)
	assert.Equal(t, "fab", d.ZSelectorUsed)
	assert.True(t, d.ZSpaceCBOpen)
	assert.Equal(t, "exception", d.ZSpaceCBReason)
	assert.Equal(t, int64(1), d.ZSpaceCBReasonCounts["exception"])
	assert.Equal(t, 2, res.Diagnostics.Gauges.CooldownRemaining)
}

func TestShadowUnavailableOpensBreaker(t *testing.T) {
	shim := &scriptShim{unavailable: true}
	cfg := DefaultConfig("test-session", 42)
	cfg.Engine.Router.Ratio = 1.0
	c, err := New(cfg, shim)
	require.NoError(t, err)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, "unavailable", res.Diagnostics.Derived.ZSpaceCBReason)
}

func TestCleanShadowTickFeedsAIMD(t *testing.T) {
	cfg := DefaultConfig("test-session", 42)
	cfg.Engine.Router.Ratio = 1.0
	c, err := New(cfg, &scriptShim{})
	require.NoError(t, err)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(8, 4)))

	res, err := c.Mix()
	require.NoError(t, err)
	d := res.Diagnostics.Derived
	assert.Equal(t, "zspace", d.ZSelectorUsed)
	assert.False(t, d.ZSpaceCBOpen)
	// Instant shim stays under target: additive increase applied.
	assert.Equal(t, "increase", d.ZLimitLastAdjust)
	assert.Equal(t, 27.0, d.ZLimitCurrentMS)
}

func TestBaseOnlyTickHoldsAIMD(t *testing.T) {
	c := newCore(t, nil)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(8, 4)))

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, 25.0, res.Diagnostics.Derived.ZLimitCurrentMS,
		"base ticks leave the shadow allowance alone")
}

func TestConfigValidation(t *testing.T) {
	_, err := New(Config{}, nil)
	require.Error(t, err)

	var cfgErr ConfigurationError
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "core", cfgErr.Component)

	cfg := DefaultConfig("s", 1)
	cfg.Envelope = "banana"
	_, err = New(cfg, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "envelope", cfgErr.Component)

	cfg = DefaultConfig("s", 1)
	cfg.AIMD.MinMS = -1
	_, err = New(cfg, nil)
	require.ErrorAs(t, err, &cfgErr)
	assert.Equal(t, "aimd", cfgErr.Component)
}

func TestDiagnosticsCountersAccumulate(t *testing.T) {
	c := newCore(t, nil)

	for i := 0; i < 3; i++ {
		require.NoError(t, c.InitTick(""))
		require.NoError(t, c.Fill(context.Background(), testSlice(8, 4)))
		_, err := c.Mix()
		require.NoError(t, err)
		_, err = c.Step(0.9, 0.1, 0)
		require.NoError(t, err)
	}

	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, int64(3), res.Diagnostics.Counters.Ticks)
	assert.Equal(t, int64(3), res.Diagnostics.Counters.Fills)
	assert.Equal(t, int64(3), res.Diagnostics.Counters.Mixes)
	assert.Equal(t, int64(3), c.Metrics().Counter("core_ticks").Value())
}

func TestSessionSeedDrivesRouting(t *testing.T) {
	// Ratio 0.5 with a nil slice seed must draw identically across cores
	// built with the same session seed.
	run := func(seed int64) string {
		cfg := DefaultConfig("test-session", seed)
		cfg.Engine.Router.Ratio = 0.5
		c, err := New(cfg, &scriptShim{})
		require.NoError(t, err)
		require.NoError(t, c.InitTick(""))
		require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))
		res, err := c.Mix()
		require.NoError(t, err)
		return res.Diagnostics.Derived.ABArm
	}

	assert.Equal(t, run(7), run(7))
}

func TestShadowFaultKeepsEngineDeterministic(t *testing.T) {
	// After the cooldown expires the shadow arm is attempted again.
	shim := &scriptShim{err: errors.New("boom")}
	cfg := DefaultConfig("test-session", 42)
	cfg.Engine.Router.Ratio = 1.0
	cfg.Engine.Breaker.CooldownTicks = 1
	c, err := New(cfg, shim)
	require.NoError(t, err)

	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))

	// Tick 2 burns the cooldown on base.
	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))
	res, err := c.Mix()
	require.NoError(t, err)
	assert.Equal(t, "fab", res.Diagnostics.Derived.ABArm)

	// Tick 3 retries the shadow and trips the breaker again.
	require.NoError(t, c.InitTick(""))
	require.NoError(t, c.Fill(context.Background(), testSlice(4, 4)))
	res, err = c.Mix()
	require.NoError(t, err)
	assert.Equal(t, "zspace", res.Diagnostics.Derived.ABArm)
	assert.Equal(t, 2, res.Diagnostics.Derived.ZSpaceCBOpenCount)
}
