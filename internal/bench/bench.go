// Package bench provides synthetic objectives for exercising the optimisers.
//
// All objectives are to be maximised. Functions that are conventionally
// minimised are negated.
package bench

import (
	"fmt"
	"math"
	"sort"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"gonum.org/v1/gonum/floats"
)

// Problem describes a named benchmark.
type Problem struct {
	Name string

	// Optimum is the known maximum value.
	Optimum float64

	// NewCaller builds a fresh caller. noise is the standard deviation of
	// Gaussian observation noise (0 disables it); seed drives that noise.
	NewCaller func(noise float64, seed int64) eval.Caller
}

var registry = map[string]Problem{}

func register(p Problem) {
	registry[p.Name] = p
}

// Lookup returns the problem registered under name.
func Lookup(name string) (Problem, error) {
	p, ok := registry[name]
	if !ok {
		return Problem{}, fmt.Errorf("unknown objective %q; valid: %v", name, Names())
	}
	return p, nil
}

// Names lists registered problems in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for n := range registry {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

func init() {
	register(Problem{
		Name:      "branin",
		Optimum:   -0.397887,
		NewCaller: singleFidelity("branin", Branin, []float64{-5, 0}, []float64{10, 15}),
	})
	register(Problem{
		Name:      "hartmann3",
		Optimum:   3.86278,
		NewCaller: singleFidelity("hartmann3", Hartmann3, []float64{0, 0, 0}, []float64{1, 1, 1}),
	})
	register(Problem{
		Name:      "sphere",
		Optimum:   0,
		NewCaller: singleFidelity("sphere", Sphere, []float64{-1, -1, -1}, []float64{1, 1, 1}),
	})
	register(Problem{
		Name:    "currin-mf",
		Optimum: 13.7987,
		NewCaller: func(float64, int64) eval.Caller {
			c, err := NewCurrinMF()
			if err != nil {
				panic(err)
			}
			return c
		},
	})
}

func singleFidelity(name string, fn eval.Objective, lower, upper []float64) func(float64, int64) eval.Caller {
	return func(noise float64, seed int64) eval.Caller {
		c := eval.NewFuncCaller(name, fn, lower, upper)
		if noise > 0 {
			c.Noise = gaussianNoise(noise, seed)
		}
		return c
	}
}

// Branin is the negated Branin-Hoo function on [-5,10]x[0,15]. Its maximum
// -0.397887 is attained at three points.
func Branin(x []float64) float64 {
	const (
		a = 1.0
		b = 5.1 / (4 * math.Pi * math.Pi)
		c = 5 / math.Pi
		r = 6.0
		s = 10.0
		t = 1 / (8 * math.Pi)
	)
	x1, x2 := x[0], x[1]
	q := x2 - b*x1*x1 + c*x1 - r
	return -(a*q*q + s*(1-t)*math.Cos(x1) + s)
}

var (
	hartmann3Alpha = []float64{1.0, 1.2, 3.0, 3.2}
	hartmann3A     = [][]float64{
		{3.0, 10, 30},
		{0.1, 10, 35},
		{3.0, 10, 30},
		{0.1, 10, 35},
	}
	hartmann3P = [][]float64{
		{0.3689, 0.1170, 0.2673},
		{0.4699, 0.4387, 0.7470},
		{0.1091, 0.8732, 0.5547},
		{0.0381, 0.5743, 0.8828},
	}
)

// Hartmann3 is the three-dimensional Hartmann function on [0,1]^3 with the
// sign chosen for maximisation. Its maximum 3.86278 is near
// (0.1146, 0.5556, 0.8525).
func Hartmann3(x []float64) float64 {
	var sum float64
	for i, alpha := range hartmann3Alpha {
		var inner float64
		for j := range x {
			d := x[j] - hartmann3P[i][j]
			inner += hartmann3A[i][j] * d * d
		}
		sum += alpha * math.Exp(-inner)
	}
	return sum
}

// Sphere is the negated squared distance to the origin.
func Sphere(x []float64) float64 {
	return -floats.Dot(x, x)
}
