package window

import (
	"fmt"
	"sort"
)

// Candidate is one ranked admission candidate from the upstream ranker.
type Candidate struct {
	// ID uniquely identifies the candidate within its slice.
	ID string `json:"id"`

	// Score is the upstream ranking score, higher is better.
	Score float64 `json:"score"`

	// Vector is an optional embedding carried through for downstream
	// consumers; the control loop never reads it.
	Vector []float32 `json:"vector,omitempty"`

	// Metadata is optional opaque annotation.
	Metadata map[string]string `json:"metadata,omitempty"`
}

// ZSlice is the per-tick input from the upstream ranking collaborator.
// The control loop treats it as immutable: candidates are copied before
// any reordering.
type ZSlice struct {
	Candidates []Candidate `json:"candidates"`
	Quotas     BudgetModel `json:"quotas"`
	Seed       int64       `json:"seed"`
}

// Validate checks the slice's quotas. Candidate scores are accepted as-is;
// ranking quality is the upstream ranker's problem.
func (z *ZSlice) Validate() error {
	if err := z.Quotas.Validate(); err != nil {
		return fmt.Errorf("zslice: %w", err)
	}
	return nil
}

// Window is a capacity-bounded, rank-ordered candidate list.
type Window struct {
	capacity   int
	candidates []Candidate
}

// New creates an empty window with the given capacity. Capacity below zero
// is treated as zero.
func New(capacity int) Window {
	if capacity < 0 {
		capacity = 0
	}
	return Window{capacity: capacity}
}

// Capacity returns the maximum number of candidates the window admits.
func (w *Window) Capacity() int { return w.capacity }

// Len returns the number of admitted candidates.
func (w *Window) Len() int { return len(w.candidates) }

// Candidates returns the admitted candidates in rank order. The returned
// slice is the window's own storage; callers must not mutate it.
func (w *Window) Candidates() []Candidate { return w.candidates }

// IDs returns the admitted candidate ids in rank order.
func (w *Window) IDs() []string {
	ids := make([]string, len(w.candidates))
	for i, c := range w.candidates {
		ids[i] = c.ID
	}
	return ids
}

// SetCandidates replaces the window contents, truncating to capacity.
// Input order is preserved; ranking happens before admission.
func (w *Window) SetCandidates(cands []Candidate) {
	if len(cands) > w.capacity {
		cands = cands[:w.capacity]
	}
	w.candidates = cands
}

// AvgScore returns the mean score of admitted candidates, 0 when empty.
func (w *Window) AvgScore() float64 {
	if len(w.candidates) == 0 {
		return 0
	}
	var sum float64
	for _, c := range w.candidates {
		sum += c.Score
	}
	return sum / float64(len(w.candidates))
}

// RankCandidates returns a copy of cands sorted by descending score with
// ties broken by ascending id. The input is never mutated.
func RankCandidates(cands []Candidate) []Candidate {
	ranked := make([]Candidate, len(cands))
	copy(ranked, cands)
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].Score != ranked[j].Score {
			return ranked[i].Score > ranked[j].Score
		}
		return ranked[i].ID < ranked[j].ID
	})
	return ranked
}
