// Package window provides the admission primitives for the FAB control
// loop: candidates, per-tick resource envelopes, capacity-bounded windows,
// and backpressure classification.
package window

import (
	"fmt"
)

// BudgetModel is the immutable per-tick resource envelope. All fields are
// quotas, not measurements; a zero field means "nothing admitted", not
// "unlimited".
type BudgetModel struct {
	// Tokens is the token quota for the tick.
	Tokens int64 `json:"tokens"`

	// Nodes bounds the combined size of the stream and global windows.
	Nodes int `json:"nodes"`

	// Edges is the edge quota for downstream tree encoding.
	Edges int `json:"edges"`

	// TimeMS is the wall-clock allowance for the tick in milliseconds.
	TimeMS int64 `json:"time_ms"`
}

// Violation reports an invalid budget field. It is a fatal, caller-facing
// error: budgets arrive from the upstream ranker and a negative quota means
// the input contract is broken.
type Violation struct {
	Field string
	Value int64
}

func (v Violation) Error() string {
	return fmt.Sprintf("budget violation: %s = %d (must be >= 0)", v.Field, v.Value)
}

// Validate checks that every quota is non-negative. It returns the first
// Violation found.
func (b BudgetModel) Validate() error {
	if b.Tokens < 0 {
		return Violation{Field: "tokens", Value: b.Tokens}
	}
	if b.Nodes < 0 {
		return Violation{Field: "nodes", Value: int64(b.Nodes)}
	}
	if b.Edges < 0 {
		return Violation{Field: "edges", Value: int64(b.Edges)}
	}
	if b.TimeMS < 0 {
		return Violation{Field: "time_ms", Value: b.TimeMS}
	}
	return nil
}
