package opt

import (
	"context"
	"fmt"
	"math/rand"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// FidelitySpace is implemented by callers with a discrete fidelity set.
type FidelitySpace interface {
	Fidelities() []eval.Fidelity
}

// RandomSearch samples the domain uniformly.
//
// In multi-fidelity mode each query goes to the target fidelity with
// probability TargetProbability and to a uniformly chosen lower fidelity
// otherwise.
type RandomSearch struct {
	NopHooks

	rng               *rand.Rand
	multiFidelity     bool
	asynchronous      bool
	TargetProbability float64

	lower, upper []float64
	fidelities   []eval.Fidelity
	target       eval.Fidelity
}

// NewRandomSearch creates a single-fidelity random search.
func NewRandomSearch(seed int64, asynchronous bool) *RandomSearch {
	return &RandomSearch{
		rng:          rand.New(rand.NewSource(seed)),
		asynchronous: asynchronous,
	}
}

// NewMFRandomSearch creates a multi-fidelity random search.
func NewMFRandomSearch(seed int64, asynchronous bool, targetProbability float64) *RandomSearch {
	r := NewRandomSearch(seed, asynchronous)
	r.multiFidelity = true
	r.TargetProbability = targetProbability
	return r
}

func (r *RandomSearch) Name() string {
	if r.multiFidelity {
		return "mf-random"
	}
	return "random"
}

func (r *RandomSearch) IsMultiFidelity() bool { return r.multiFidelity }
func (r *RandomSearch) IsAsynchronous() bool  { return r.asynchronous }

func (r *RandomSearch) SetUp(t *Tracker) error {
	r.lower, r.upper = t.Caller().Bounds()
	if len(r.lower) == 0 || len(r.lower) != len(r.upper) {
		return fmt.Errorf("%s: invalid bounds (lower=%d, upper=%d)", r.Name(), len(r.lower), len(r.upper))
	}
	if !r.multiFidelity {
		return nil
	}
	r.target = t.Caller().TargetFidelity()
	space, ok := t.Caller().(FidelitySpace)
	if !ok {
		return fmt.Errorf("%s: caller does not expose its fidelity set", r.Name())
	}
	for _, f := range space.Fidelities() {
		if f != r.target {
			r.fidelities = append(r.fidelities, f)
		}
	}
	return nil
}

func (r *RandomSearch) sample() eval.Query {
	p := make(eval.Point, len(r.lower))
	for i := range p {
		p[i] = r.lower[i] + r.rng.Float64()*(r.upper[i]-r.lower[i])
	}
	q := eval.Query{Point: p}
	if r.multiFidelity {
		q.Fidelity = r.target
		if len(r.fidelities) > 0 && r.rng.Float64() >= r.TargetProbability {
			q.Fidelity = r.fidelities[r.rng.Intn(len(r.fidelities))]
		}
	}
	return q
}

// InitialQueries samples n points. In multi-fidelity mode the initial
// points are spread across fidelities like every other query.
func (r *RandomSearch) InitialQueries(_ *Tracker, n int) ([]eval.Query, error) {
	return r.batch(n), nil
}

func (r *RandomSearch) NextQuery(context.Context, *Tracker) (eval.Query, error) {
	return r.sample(), nil
}

func (r *RandomSearch) NextBatch(_ context.Context, _ *Tracker, n int) ([]eval.Query, error) {
	return r.batch(n), nil
}

func (r *RandomSearch) batch(n int) []eval.Query {
	qs := make([]eval.Query, n)
	for i := range qs {
		qs[i] = r.sample()
	}
	return qs
}
