package bench

import (
	"context"
	"math"
	"testing"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKnownOptima(t *testing.T) {
	tests := []struct {
		name string
		fn   eval.Objective
		x    []float64
		want float64
	}{
		{"branin pi", Branin, []float64{math.Pi, 2.275}, -0.397887},
		{"branin -pi", Branin, []float64{-math.Pi, 12.275}, -0.397887},
		{"hartmann3", Hartmann3, []float64{0.114614, 0.555649, 0.852547}, 3.86278},
		{"sphere", Sphere, []float64{0, 0, 0}, 0},
		{"currin", Currin, []float64{0.2165, 0}, 13.7987},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.fn(tt.x), 1e-4)
		})
	}
}

func TestLookup(t *testing.T) {
	assert.Equal(t, []string{"branin", "currin-mf", "hartmann3", "sphere"}, Names())

	p, err := Lookup("hartmann3")
	require.NoError(t, err)
	lower, upper := p.NewCaller(0, 1).Bounds()
	assert.Len(t, lower, 3)
	assert.Len(t, upper, 3)

	_, err = Lookup("rosenbrock")
	assert.ErrorContains(t, err, "rosenbrock")
}

func TestNoisyCallerKeepsTrueValue(t *testing.T) {
	p, err := Lookup("sphere")
	require.NoError(t, err)
	c := p.NewCaller(0.5, 7)

	rec, err := c.Evaluate(context.Background(), eval.Query{Point: eval.Point{0.1, 0.2, 0.3}})
	require.NoError(t, err)
	assert.InDelta(t, -0.14, rec.TrueValue, 1e-12)
	assert.NotEqual(t, rec.TrueValue, rec.Value)
}

func TestCurrinMF(t *testing.T) {
	c, err := NewCurrinMF()
	require.NoError(t, err)
	assert.Equal(t, FidelityHigh, c.TargetFidelity())
	assert.Equal(t, []eval.Fidelity{FidelityLow, FidelityMedium, FidelityHigh}, c.Fidelities())

	x := eval.Point{0.5, 0.5}
	high, err := c.Evaluate(context.Background(), eval.Query{Point: x, Fidelity: FidelityHigh})
	require.NoError(t, err)
	low, err := c.Evaluate(context.Background(), eval.Query{Point: x, Fidelity: FidelityLow})
	require.NoError(t, err)

	assert.Equal(t, high.Value, high.TrueValue)
	assert.Equal(t, high.TrueValue, low.TrueValue)
	assert.Greater(t, low.Value, high.Value)
	assert.InDelta(t, 7.40512, high.Value, 1e-4)
}
