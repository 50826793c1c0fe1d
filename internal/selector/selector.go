// Package selector chooses the stream window's candidates. Two variants
// exist: the in-process base selector, which never fails, and the shadow
// selector, which delegates to an external shim and is isolated behind a
// circuit breaker. An AB router splits traffic between them
// deterministically per tick.
package selector

import (
	"context"
	"errors"
	"fmt"

	"github.com/orbis/fab/internal/window"
)

// Arm identifies which selector variant served a tick.
type Arm string

const (
	// ArmBase is the in-process greedy selector.
	ArmBase Arm = "fab"

	// ArmShadow is the external shim-backed selector.
	ArmShadow Arm = "zspace"
)

// FaultReason classifies why a shadow invocation failed.
type FaultReason string

const (
	ReasonTimeout     FaultReason = "timeout"
	ReasonException   FaultReason = "exception"
	ReasonUnavailable FaultReason = "unavailable"
)

// Fault is a recovered shadow-path failure. It never propagates to the
// caller; it opens the breaker and surfaces only in diagnostics.
type Fault struct {
	Reason FaultReason
	Err    error
}

func (f *Fault) Error() string {
	if f.Err != nil {
		return fmt.Sprintf("shadow selector fault (%s): %v", f.Reason, f.Err)
	}
	return fmt.Sprintf("shadow selector fault (%s)", f.Reason)
}

func (f *Fault) Unwrap() error { return f.Err }

// ErrShimUnavailable is the error carried by unavailability faults.
var ErrShimUnavailable = errors.New("shadow shim unavailable")

// Selector picks up to k candidates from a slice. Only the shadow variant
// may fail.
type Selector interface {
	// Name identifies the variant for diagnostics.
	Name() Arm

	// Select returns up to k candidates from the slice, skipping any id
	// present in exclude. The slice is never mutated.
	Select(ctx context.Context, slice *window.ZSlice, k int, exclude map[string]struct{}) ([]window.Candidate, error)
}

// Base is the in-process greedy selector: rank by descending score, ties
// broken by ascending id, take the top k. Deterministic for any seed and
// infallible; a base failure is a programming error and would propagate.
type Base struct{}

// NewBase creates the base selector.
func NewBase() *Base { return &Base{} }

// Name returns the base arm name.
func (b *Base) Name() Arm { return ArmBase }

// Select implements Selector.
func (b *Base) Select(_ context.Context, slice *window.ZSlice, k int, exclude map[string]struct{}) ([]window.Candidate, error) {
	if k <= 0 {
		return nil, nil
	}

	ranked := window.RankCandidates(slice.Candidates)
	selected := make([]window.Candidate, 0, k)
	for _, c := range ranked {
		if _, skip := exclude[c.ID]; skip {
			continue
		}
		selected = append(selected, c)
		if len(selected) == k {
			break
		}
	}
	return selected, nil
}

// DiversityGain is the variance of the selected scores, the per-tick
// quality metric both arms are compared on. Zero for one or fewer
// candidates.
func DiversityGain(cands []window.Candidate) float64 {
	if len(cands) <= 1 {
		return 0
	}
	var mean float64
	for _, c := range cands {
		mean += c.Score
	}
	mean /= float64(len(cands))

	var variance float64
	for _, c := range cands {
		d := c.Score - mean
		variance += d * d
	}
	return variance / float64(len(cands))
}
