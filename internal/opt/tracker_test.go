package opt

import (
	"math"
	"math/rand"
	"testing"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func constObjective(x []float64) float64 { return 0 }

func sfCaller() eval.Caller {
	return eval.NewFuncCaller("const", constObjective, []float64{0}, []float64{1})
}

func mfCaller(t *testing.T) *eval.MFFuncCaller {
	t.Helper()
	c, err := eval.NewMFFuncCaller("const-mf",
		func(eval.Fidelity, []float64) (float64, float64) { return 0, 0 },
		[]float64{0}, []float64{1},
		[]eval.Fidelity{"low", "high"}, "high")
	require.NoError(t, err)
	return c
}

func rec(x, val, trueVal float64) eval.Record {
	return eval.Record{Point: eval.Point{x}, Value: val, TrueValue: trueVal}
}

func mfRec(x, val float64, f eval.Fidelity) eval.Record {
	return eval.Record{Point: eval.Point{x}, Value: val, TrueValue: val, Fidelity: f}
}

func TestTracker_SingleFidelityScenario(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	values := []float64{3.0, 7.0, 5.0, 9.0}
	trueValues := []float64{3.0, 6.0, 5.0, 9.5}
	for i := range values {
		require.NoError(t, tr.Update(rec(float64(i), values[i], trueValues[i])))
	}

	assert.Equal(t, 9.0, tr.Optimum().Value)
	assert.Equal(t, eval.Point{3}, tr.Optimum().Point)
	assert.Equal(t, 9.5, tr.TrueOptimum().Value)
	assert.Equal(t, []float64{3.0, 7.0, 7.0, 9.0}, tr.History().RunningOptimalValues())
	assert.Equal(t, []float64{3.0, 6.0, 6.0, 9.5}, tr.History().RunningTrueOptimalValues())
	assert.Equal(t, values, tr.History().QueryValues())
	assert.Equal(t, trueValues, tr.History().QueryTrueValues())
	assert.Nil(t, tr.History().QueryAtTargetFidelity())
}

func TestTracker_MultiFidelityScenario(t *testing.T) {
	tr := NewTracker(mfCaller(t), TrackerOptions{})
	require.NoError(t, tr.Update(mfRec(0, 10, "low")))
	require.NoError(t, tr.Update(mfRec(1, 4, "high")))
	require.NoError(t, tr.Update(mfRec(2, 8, "high")))

	assert.Equal(t, 8.0, tr.Optimum().Value)
	assert.Equal(t, eval.Point{2}, tr.Optimum().Point)
	assert.Equal(t, 2, tr.TargetFidelityCalls())
	assert.Equal(t, []bool{false, true, true}, tr.History().QueryAtTargetFidelity())
	assert.Equal(t, []float64{10, 4, 8}, tr.History().QueryValues())

	optima := tr.History().RunningOptima()
	assert.False(t, optima[0].Found, "low-fidelity record must not set the optimum")
	assert.Equal(t, math.Inf(-1), tr.History().RunningOptimalValues()[0])
	assert.Nil(t, tr.History().RunningOptimalPoints()[0])
}

func TestTracker_IndependentTrueOptimum(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(rec(0, 5, 1)))
	require.NoError(t, tr.Update(rec(1, 2, 8)))

	assert.Equal(t, eval.Point{0}, tr.Optimum().Point)
	assert.Equal(t, eval.Point{1}, tr.TrueOptimum().Point)
}

func TestTracker_TiesKeepFirstPoint(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(rec(0, 4, 4)))
	require.NoError(t, tr.Update(rec(1, 4, 4)))

	assert.Equal(t, eval.Point{0}, tr.Optimum().Point)
	assert.Equal(t, eval.Point{0}, tr.TrueOptimum().Point)
}

func TestTracker_VeryNegativeValuesStillSetOptimum(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(rec(0, math.Inf(-1), -1e308)))

	assert.True(t, tr.Optimum().Found)
	assert.Equal(t, eval.Point{0}, tr.Optimum().Point)
	assert.Equal(t, -1e308, tr.TrueOptimum().Value)
}

func TestTracker_MatchesRunningMax(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	tr := NewTracker(sfCaller(), TrackerOptions{})
	maxVal, maxTrue := math.Inf(-1), math.Inf(-1)
	prevVal, prevTrue := math.Inf(-1), math.Inf(-1)

	for i := 0; i < 200; i++ {
		v, tv := rng.NormFloat64()*10, rng.NormFloat64()*10
		require.NoError(t, tr.Update(rec(float64(i), v, tv)))
		maxVal, maxTrue = math.Max(maxVal, v), math.Max(maxTrue, tv)

		st := tr.State()
		require.Equal(t, maxVal, st.Optimum.Value)
		require.Equal(t, maxTrue, st.TrueOptimum.Value)
		require.GreaterOrEqual(t, st.Optimum.Value, prevVal)
		require.GreaterOrEqual(t, st.TrueOptimum.Value, prevTrue)
		prevVal, prevTrue = st.Optimum.Value, st.TrueOptimum.Value
	}
}

func TestTracker_MultiFidelityCountsAndGating(t *testing.T) {
	rng := rand.New(rand.NewSource(11))
	tr := NewTracker(mfCaller(t), TrackerOptions{})
	wantCount := 0
	bestHigh := math.Inf(-1)

	for i := 0; i < 100; i++ {
		f := eval.Fidelity("low")
		if rng.Intn(3) == 0 {
			f = "high"
			wantCount++
		}
		v := rng.Float64() * 100
		if f == "high" {
			bestHigh = math.Max(bestHigh, v)
		}
		require.NoError(t, tr.Update(mfRec(float64(i), v, f)))

		assert.Equal(t, wantCount, tr.TargetFidelityCalls())
		if wantCount > 0 {
			assert.Equal(t, bestHigh, tr.Optimum().Value)
		} else {
			assert.False(t, tr.Optimum().Found)
		}
	}
}

func TestTracker_ParallelSequencesStayAligned(t *testing.T) {
	tr := NewTracker(mfCaller(t), TrackerOptions{})
	for i := 1; i <= 25; i++ {
		f := eval.Fidelity("high")
		if i%2 == 0 {
			f = "low"
		}
		require.NoError(t, tr.Update(mfRec(float64(i), float64(i), f)))

		h := tr.History()
		assert.Equal(t, i, h.Len())
		for _, n := range []int{
			len(h.QueryValues()),
			len(h.QueryTrueValues()),
			len(h.RunningOptimalValues()),
			len(h.RunningOptimalPoints()),
			len(h.RunningTrueOptimalValues()),
			len(h.RunningTrueOptimalPoints()),
			len(h.QueryAtTargetFidelity()),
		} {
			assert.Equal(t, i, n)
		}
	}
}

func TestTracker_UntaggedRecordDefaultsToTarget(t *testing.T) {
	tr := NewTracker(mfCaller(t), TrackerOptions{})
	require.NoError(t, tr.Update(rec(0, 3, 3)))

	assert.Equal(t, 1, tr.TargetFidelityCalls())
	assert.Equal(t, 3.0, tr.Optimum().Value)
}

func TestTracker_StrictFidelityRejectsUntagged(t *testing.T) {
	tr := NewTracker(mfCaller(t), TrackerOptions{StrictFidelity: true})
	err := tr.Update(rec(0, 3, 3))

	var pe *PreconditionError
	require.ErrorAs(t, err, &pe)
	assert.ErrorIs(t, err, ErrMissingFidelity)
	assert.Equal(t, 0, tr.History().Len())
	assert.Equal(t, 0, tr.TargetFidelityCalls())
}

func TestTracker_MissingValuesRejected(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})

	var mv *eval.MissingValueError
	err := tr.Update(rec(0, math.NaN(), 1))
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, "value", mv.Field)

	err = tr.Update(rec(0, 1, math.NaN()))
	require.ErrorAs(t, err, &mv)
	assert.Equal(t, "true value", mv.Field)

	assert.Equal(t, 0, tr.History().Len())
	assert.False(t, tr.Optimum().Found)
}

func TestTracker_SingleFidelityIgnoresFidelityTag(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(mfRec(0, 2, "low")))

	assert.Equal(t, 2.0, tr.Optimum().Value)
	assert.Equal(t, 0, tr.TargetFidelityCalls())
}

func TestTracker_OptimumIsACopy(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	require.NoError(t, tr.Update(rec(1, 1, 1)))

	o := tr.Optimum()
	o.Point[0] = 99
	assert.Equal(t, eval.Point{1}, tr.Optimum().Point)
	assert.Equal(t, eval.Point{1}, tr.History().RunningOptimalPoints()[0])
}

func TestTracker_Result(t *testing.T) {
	tr := NewTracker(sfCaller(), TrackerOptions{})
	best, history := tr.Result()
	assert.False(t, best.Found)
	assert.Equal(t, 0, history.Len())

	require.NoError(t, tr.Update(rec(0, 2, 2)))
	require.NoError(t, tr.Update(rec(1, 5, 5)))
	require.NoError(t, tr.Update(rec(2, 4, 4)))

	best, history = tr.Result()
	assert.Equal(t, Optimum{Value: 5, Point: eval.Point{1}, Found: true}, best)
	assert.Equal(t, []float64{2, 5, 4}, history.QueryValues())
	assert.Equal(t, []float64{2, 5, 5}, history.RunningOptimalValues())

	best.Point[0] = 42
	assert.Equal(t, eval.Point{1}, tr.Optimum().Point, "result must not alias tracker state")
}

func TestOptimum_Negated(t *testing.T) {
	assert.Equal(t, Optimum{}, Optimum{}.Negated())

	o := Optimum{Value: 2.5, Point: eval.Point{1}, Found: true}
	n := o.Negated()
	assert.Equal(t, Optimum{Value: -2.5, Point: eval.Point{1}, Found: true}, n)
	n.Point[0] = 7
	assert.Equal(t, eval.Point{1}, o.Point)
}
