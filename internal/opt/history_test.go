package opt

import (
	"math"
	"testing"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHistory_EmptySummary(t *testing.T) {
	s := newHistory(false).Summary()
	assert.Equal(t, 0, s.Evaluations)
	assert.True(t, math.IsInf(s.MaxQueryValue, -1))
}

func TestHistory_Summary(t *testing.T) {
	tr := NewTracker(mfCaller(t), TrackerOptions{})
	require.NoError(t, tr.Seed([]eval.Record{mfRec(9, 1, "high")}))
	for i, r := range []eval.Record{
		mfRec(0, 2, "low"),
		mfRec(1, 4, "high"),
		mfRec(2, 3, "high"),
		mfRec(3, 7, "high"),
	} {
		require.NoError(t, tr.Update(r), "record %d", i)
	}

	s := tr.History().Summary()
	assert.Equal(t, 4, s.Evaluations)
	assert.Equal(t, 1, s.PriorEvals)
	assert.InDelta(t, 4.0, s.MeanValue, 1e-12)
	assert.Equal(t, 7.0, s.MaxQueryValue)
	assert.Equal(t, 3, s.TargetFidelity)
	assert.InDelta(t, 0.75, s.TargetFraction, 1e-12)
	// Running optimum: 1 (seeded), 4, 4, 7.
	assert.Equal(t, 3, s.ImprovingSteps)
}

func TestHistory_AccessorsReturnCopies(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(rec(0, 1, 1)))

	vals := tr.History().QueryValues()
	vals[0] = 100
	assert.Equal(t, []float64{1}, tr.History().QueryValues())

	optima := tr.History().RunningOptima()
	optima[0].Point[0] = 100
	assert.Equal(t, eval.Point{0}, tr.History().RunningOptima()[0].Point)
}
