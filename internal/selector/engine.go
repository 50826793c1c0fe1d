package selector

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/orbis/fab/internal/window"
)

// EngineConfig configures the selection engine.
type EngineConfig struct {
	Router  RouterConfig
	Breaker BreakerConfig

	// Logger defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultEngineConfig returns base-only selection with default breaker
// tuning.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		Router:  DefaultRouterConfig(),
		Breaker: DefaultBreakerConfig(),
	}
}

// Outcome describes one tick's selection.
type Outcome struct {
	// Arm is the effective arm after breaker forcing: the arm that was
	// attempted this tick.
	Arm Arm

	// Used is the selector that actually produced the candidates; it
	// differs from Arm only when a shadow fault fell back to base.
	Used Arm

	// Candidates are the selected stream candidates in rank order.
	Candidates []window.Candidate

	// LatencyMS is the wall-clock time of the attempted selection.
	LatencyMS float64

	// DiversityGain is the variance of the selected scores.
	DiversityGain float64

	// Fault is the recovered shadow fault, nil on clean ticks.
	Fault *Fault
}

// Engine runs one arm per tick: it draws the arm, applies the breaker,
// invokes the selector, absorbs shadow faults into base fallback, and
// records per-arm statistics. Base-path errors propagate; they indicate a
// broken invariant, not an operational fault.
type Engine struct {
	base    *Base
	shadow  *Shadow
	breaker *Breaker
	router  *Router
	logger  *slog.Logger
	now     func() time.Time
}

// NewEngine creates an engine. shim may be nil, which disables the shadow
// arm regardless of the routing ratio.
func NewEngine(cfg EngineConfig, shim Shim) (*Engine, error) {
	router, err := NewRouter(cfg.Router)
	if err != nil {
		return nil, err
	}
	cfg.Breaker.Logger = cfg.Logger
	breaker, err := NewBreaker(cfg.Breaker)
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	e := &Engine{
		base:    NewBase(),
		breaker: breaker,
		router:  router,
		logger:  logger,
		now:     time.Now,
	}
	if shim != nil {
		e.shadow = NewShadow(shim)
	}
	return e, nil
}

// Breaker exposes breaker state for diagnostics.
func (e *Engine) Breaker() BreakerState { return e.breaker.State() }

// Router exposes AB state for diagnostics.
func (e *Engine) Router() ABState { return e.router.State() }

// Run performs the tick's selection under the given soft time allowance.
// The allowance bounds only how the shadow result is judged; a hung shim
// must be cancelled through ctx by the host.
func (e *Engine) Run(ctx context.Context, tick int64, slice *window.ZSlice, k int, exclude map[string]struct{}, allowance time.Duration) (Outcome, error) {
	arm := ArmBase
	if e.shadow != nil {
		arm = e.router.Draw(slice.Seed, tick)
	}
	if e.breaker.IsOpen() {
		arm = ArmBase
		e.breaker.Tick()
	}

	var out Outcome
	if arm == ArmShadow {
		out = e.runShadow(ctx, slice, k, exclude, allowance)
	} else {
		start := e.now()
		cands, err := e.base.Select(ctx, slice, k, exclude)
		if err != nil {
			return Outcome{}, err
		}
		out = Outcome{
			Arm:        ArmBase,
			Used:       ArmBase,
			Candidates: cands,
			LatencyMS:  float64(e.now().Sub(start)) / float64(time.Millisecond),
		}
	}

	out.DiversityGain = DiversityGain(out.Candidates)
	e.router.Record(tick, out.Arm, out.LatencyMS, out.DiversityGain)
	return out, nil
}

// runShadow attempts the shadow arm, converting every failure mode into a
// breaker-opening fault with base fallback.
func (e *Engine) runShadow(ctx context.Context, slice *window.ZSlice, k int, exclude map[string]struct{}, allowance time.Duration) Outcome {
	start := e.now()
	cands, err := e.shadow.Select(ctx, slice, k, exclude)
	elapsed := e.now().Sub(start)
	latencyMS := float64(elapsed) / float64(time.Millisecond)

	if err == nil && allowance > 0 && elapsed > allowance {
		err = &Fault{Reason: ReasonTimeout, Err: context.DeadlineExceeded}
	}

	if err == nil {
		return Outcome{
			Arm:        ArmShadow,
			Used:       ArmShadow,
			Candidates: cands,
			LatencyMS:  latencyMS,
		}
	}

	var fault *Fault
	if !errors.As(err, &fault) {
		fault = &Fault{Reason: ReasonException, Err: err}
	}
	e.breaker.Open(fault.Reason)
	e.logger.Warn("shadow selection failed, falling back to base",
		"reason", string(fault.Reason),
		"latency_ms", latencyMS,
	)

	// Base never fails on a valid slice.
	fallback, _ := e.base.Select(ctx, slice, k, exclude)
	return Outcome{
		Arm:        ArmShadow,
		Used:       ArmBase,
		Candidates: fallback,
		LatencyMS:  latencyMS,
		Fault:      fault,
	}
}
