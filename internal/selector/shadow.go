package selector

import (
	"context"
	"fmt"

	"github.com/orbis/fab/internal/window"
)

// Shim is the external deterministic selection collaborator the shadow
// selector delegates to. Implementations live outside this module (the
// semantic-space service); tests use fakes.
//
// SelectIDs must be deterministic given the slice's seed. A genuinely hung
// implementation must honor ctx cancellation; the control loop only
// measures a soft wall-clock budget around the call.
type Shim interface {
	SelectIDs(ctx context.Context, slice *window.ZSlice, k int) ([]string, error)
	Available() bool
}

// Shadow delegates selection to an external shim and translates its ids
// back into candidates. All failure modes become Faults for the breaker.
type Shadow struct {
	shim Shim
}

// NewShadow creates a shadow selector over the given shim.
func NewShadow(shim Shim) *Shadow { return &Shadow{shim: shim} }

// Name returns the shadow arm name.
func (s *Shadow) Name() Arm { return ArmShadow }

// Select implements Selector. Returned errors are always *Fault.
func (s *Shadow) Select(ctx context.Context, slice *window.ZSlice, k int, exclude map[string]struct{}) ([]window.Candidate, error) {
	if !s.shim.Available() {
		return nil, &Fault{Reason: ReasonUnavailable, Err: ErrShimUnavailable}
	}

	ids, err := s.shim.SelectIDs(ctx, slice, k+len(exclude))
	if err != nil {
		return nil, &Fault{Reason: ReasonException, Err: err}
	}

	byID := make(map[string]window.Candidate, len(slice.Candidates))
	for _, c := range slice.Candidates {
		byID[c.ID] = c
	}

	selected := make([]window.Candidate, 0, k)
	for _, id := range ids {
		if _, skip := exclude[id]; skip {
			continue
		}
		c, ok := byID[id]
		if !ok {
			// The shim returned an id outside the slice: its determinism
			// contract is broken, which is an exception-class fault.
			return nil, &Fault{
				Reason: ReasonException,
				Err:    fmt.Errorf("shim returned unknown candidate id %q", id),
			}
		}
		selected = append(selected, c)
		if len(selected) == k {
			break
		}
	}
	return selected, nil
}
