package window

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestBudgetModelValidate(t *testing.T) {
	tests := []struct {
		name    string
		budget  BudgetModel
		wantErr string
	}{
		{"all zero", BudgetModel{}, ""},
		{"positive", BudgetModel{Tokens: 4096, Nodes: 64, Edges: 128, TimeMS: 50}, ""},
		{"negative tokens", BudgetModel{Tokens: -1}, "tokens"},
		{"negative nodes", BudgetModel{Nodes: -5}, "nodes"},
		{"negative edges", BudgetModel{Edges: -1}, "edges"},
		{"negative time", BudgetModel{TimeMS: -10}, "time_ms"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.budget.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			var v Violation
			require.ErrorAs(t, err, &v)
			assert.Equal(t, tt.wantErr, v.Field)
		})
	}
}

func TestClassifyBackpressureBoundaries(t *testing.T) {
	tests := []struct {
		pending int64
		want    BackpressureLevel
	}{
		{0, BackpressureOK},
		{1999, BackpressureOK},
		{2000, BackpressureSlow},
		{4999, BackpressureSlow},
		{5000, BackpressureReject},
		{100000, BackpressureReject},
	}

	for _, tt := range tests {
		got := ClassifyBackpressure(tt.pending, DefaultBackpressureOK, DefaultBackpressureReject)
		assert.Equal(t, tt.want, got, "pending=%d", tt.pending)
	}
}

func TestClassifyBackpressureProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		pending := rapid.Int64Range(0, 1_000_000).Draw(t, "pending")
		got := ClassifyBackpressure(pending, DefaultBackpressureOK, DefaultBackpressureReject)

		switch {
		case pending < DefaultBackpressureOK:
			assert.Equal(t, BackpressureOK, got)
		case pending < DefaultBackpressureReject:
			assert.Equal(t, BackpressureSlow, got)
		default:
			assert.Equal(t, BackpressureReject, got)
		}
	})
}

func TestRankCandidatesTiesByID(t *testing.T) {
	cands := []Candidate{
		{ID: "c", Score: 0.5},
		{ID: "a", Score: 0.9},
		{ID: "b", Score: 0.5},
		{ID: "d", Score: 0.5},
	}

	ranked := RankCandidates(cands)

	require.Len(t, ranked, 4)
	assert.Equal(t, "a", ranked[0].ID)
	assert.Equal(t, "b", ranked[1].ID)
	assert.Equal(t, "c", ranked[2].ID)
	assert.Equal(t, "d", ranked[3].ID)

	// Input must be untouched.
	assert.Equal(t, "c", cands[0].ID)
}

func TestWindowCapacityBound(t *testing.T) {
	w := New(2)
	w.SetCandidates([]Candidate{{ID: "a", Score: 1}, {ID: "b", Score: 0.8}, {ID: "c", Score: 0.6}})

	assert.Equal(t, 2, w.Len())
	assert.Equal(t, []string{"a", "b"}, w.IDs())
}

func TestWindowAvgScore(t *testing.T) {
	w := New(8)
	assert.Equal(t, 0.0, w.AvgScore())

	w.SetCandidates([]Candidate{{ID: "a", Score: 0.4}, {ID: "b", Score: 0.8}})
	assert.InDelta(t, 0.6, w.AvgScore(), 1e-9)
}
