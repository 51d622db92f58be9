package bench

import (
	"math"
	"math/rand"
	"sync"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// Fidelity levels of the multi-fidelity Currin exponential function.
const (
	FidelityLow    eval.Fidelity = "low"
	FidelityMedium eval.Fidelity = "medium"
	FidelityHigh   eval.Fidelity = "high"
)

var currinLevels = map[eval.Fidelity]float64{
	FidelityLow:    0.2,
	FidelityMedium: 0.6,
	FidelityHigh:   1.0,
}

// Currin is the Currin exponential function on [0,1]^2.
func Currin(x []float64) float64 {
	return currinAt(1, x)
}

// currinAt evaluates the Currin exponential at fidelity level z in (0,1].
// Lower z shrinks the exponential term, so cheap fidelities overestimate.
func currinAt(z float64, x []float64) float64 {
	x1, x2 := x[0], x[1]
	alpha := 1 - 0.1*(1-z)
	factor := 1 - alpha*math.Exp(-1/(2*x2))
	num := 2300*x1*x1*x1 + 1900*x1*x1 + 2092*x1 + 60
	den := 100*x1*x1*x1 + 500*x1*x1 + 4*x1 + 20
	return factor * num / den
}

// NewCurrinMF returns a caller for the Currin exponential over the fidelity
// set low < medium < high, targeting high. The true value of every record is
// the high-fidelity value at the same point.
func NewCurrinMF() (*eval.MFFuncCaller, error) {
	fn := func(f eval.Fidelity, x []float64) (float64, float64) {
		return currinAt(currinLevels[f], x), Currin(x)
	}
	return eval.NewMFFuncCaller("currin-mf", fn,
		[]float64{0, 0}, []float64{1, 1},
		[]eval.Fidelity{FidelityLow, FidelityMedium, FidelityHigh}, FidelityHigh)
}

// gaussianNoise returns a goroutine-safe N(0, sigma^2) sampler.
func gaussianNoise(sigma float64, seed int64) func() float64 {
	var mu sync.Mutex
	rng := rand.New(rand.NewSource(seed))
	return func() float64 {
		mu.Lock()
		defer mu.Unlock()
		return sigma * rng.NormFloat64()
	}
}
