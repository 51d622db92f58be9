package opt

import (
	"fmt"
	"math/rand"

	"github.com/cwbudde/mayfly"
)

// Minimizer finds a low value of a cheap objective over a scalar box.
type Minimizer interface {
	// Minimize returns the best position found and its cost.
	Minimize(fn func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error)
}

// MayflyAdapter wraps the mayfly population optimizer.
type MayflyAdapter struct {
	maxIters int
	popSize  int
	seed     int64
}

// minMayflyPop is the smallest population mayfly accepts.
const minMayflyPop = 20

// NewMayfly creates a mayfly minimizer. popSize is raised to the library minimum.
func NewMayfly(maxIters, popSize int, seed int64) *MayflyAdapter {
	return &MayflyAdapter{
		maxIters: maxIters,
		popSize:  max(popSize, minMayflyPop),
		seed:     seed,
	}
}

// Minimize runs mayfly once. Identical seeds give identical results.
func (m *MayflyAdapter) Minimize(fn func([]float64) float64, lower, upper float64, dim int) ([]float64, float64, error) {
	config := mayfly.NewDefaultConfig()
	config.ObjectiveFunc = fn
	config.ProblemSize = dim
	config.MaxIterations = m.maxIters
	config.NPop = m.popSize
	config.LowerBound = lower
	config.UpperBound = upper
	config.Rand = rand.New(rand.NewSource(m.seed))

	result, err := mayfly.Optimize(config)
	if err != nil {
		return nil, 0, fmt.Errorf("mayfly optimize: %w", err)
	}
	return result.GlobalBest.Position, result.GlobalBest.Cost, nil
}
