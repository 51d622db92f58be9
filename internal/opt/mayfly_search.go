package opt

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"math/rand"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// MayflySearch proposes points by maximising an inverse-distance-weighted
// interpolant of the evaluations so far, plus a distance bonus that pushes
// queries away from points already evaluated or pending. The inner
// maximisation runs mayfly over the unit cube.
//
// It is a single-fidelity, synchronous method.
type MayflySearch struct {
	NopHooks

	// Kappa scales the distance bonus.
	Kappa    float64
	MaxIters int
	PopSize  int

	seed  int64
	calls int64
	rng   *rand.Rand

	lower, upper []float64
	points       [][]float64 // normalised to [0,1]^d
	values       []float64
}

// NewMayflySearch creates the method with default settings.
func NewMayflySearch(seed int64) *MayflySearch {
	return &MayflySearch{
		Kappa:    1.0,
		MaxIters: 30,
		PopSize:  minMayflyPop,
		seed:     seed,
		rng:      rand.New(rand.NewSource(seed)),
	}
}

func (m *MayflySearch) Name() string          { return "mayfly" }
func (m *MayflySearch) IsMultiFidelity() bool { return false }
func (m *MayflySearch) IsAsynchronous() bool  { return false }

func (m *MayflySearch) SetUp(t *Tracker) error {
	m.lower, m.upper = t.Caller().Bounds()
	if len(m.lower) == 0 || len(m.lower) != len(m.upper) {
		return fmt.Errorf("mayfly: invalid bounds (lower=%d, upper=%d)", len(m.lower), len(m.upper))
	}
	for i := range m.lower {
		if !(m.upper[i] > m.lower[i]) {
			return fmt.Errorf("mayfly: empty range in dimension %d", i)
		}
	}
	return nil
}

// OptimiseInitialise loads seeded prior evaluations as interpolation data.
func (m *MayflySearch) OptimiseInitialise(t *Tracker) error {
	h := t.History()
	vals := h.PriorEvaluationValues()
	for i, p := range h.PriorEvaluationPoints() {
		m.add(p, vals[i])
	}
	if len(vals) > 0 {
		slog.Debug("Mayfly search loaded prior data", "count", len(vals))
	}
	return nil
}

// UpdateHistory adds a completed evaluation to the interpolation data.
func (m *MayflySearch) UpdateHistory(rec eval.Record) {
	m.add(rec.Point, rec.Value)
}

// StatusString reports how much data the interpolant uses.
func (m *MayflySearch) StatusString() string {
	return fmt.Sprintf(", data=%d", len(m.values))
}

func (m *MayflySearch) add(p eval.Point, v float64) {
	if len(p) != len(m.lower) {
		return
	}
	m.points = append(m.points, m.normalise(p))
	m.values = append(m.values, v)
}

func (m *MayflySearch) normalise(p eval.Point) []float64 {
	u := make([]float64, len(p))
	for i := range p {
		u[i] = (p[i] - m.lower[i]) / (m.upper[i] - m.lower[i])
	}
	return u
}

func (m *MayflySearch) denormalise(u []float64) eval.Point {
	p := make(eval.Point, len(u))
	for i := range u {
		x := math.Min(math.Max(u[i], 0), 1)
		p[i] = m.lower[i] + x*(m.upper[i]-m.lower[i])
	}
	return p
}

func (m *MayflySearch) randomPoint() eval.Point {
	u := make([]float64, len(m.lower))
	for i := range u {
		u[i] = m.rng.Float64()
	}
	return m.denormalise(u)
}

// InitialQueries samples uniformly.
func (m *MayflySearch) InitialQueries(_ *Tracker, n int) ([]eval.Query, error) {
	qs := make([]eval.Query, n)
	for i := range qs {
		qs[i] = eval.Query{Point: m.randomPoint()}
	}
	return qs, nil
}

func (m *MayflySearch) NextQuery(ctx context.Context, t *Tracker) (eval.Query, error) {
	qs, err := m.NextBatch(ctx, t, 1)
	if err != nil {
		return eval.Query{}, err
	}
	return qs[0], nil
}

// NextBatch runs one inner maximisation per query. Points chosen earlier in
// the batch count as evaluated for the distance bonus.
func (m *MayflySearch) NextBatch(ctx context.Context, _ *Tracker, n int) ([]eval.Query, error) {
	qs := make([]eval.Query, 0, n)
	if len(m.values) == 0 {
		for range n {
			qs = append(qs, eval.Query{Point: m.randomPoint()})
		}
		return qs, nil
	}

	pending := make([][]float64, 0, n)
	for range n {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		m.calls++
		inner := NewMayfly(m.MaxIters, m.PopSize, m.seed+m.calls)
		acq := m.acquisition(pending)
		u, _, err := inner.Minimize(func(x []float64) float64 { return -acq(x) }, 0, 1, len(m.lower))
		if err != nil {
			return nil, err
		}
		pending = append(pending, u)
		qs = append(qs, eval.Query{Point: m.denormalise(u)})
	}
	return qs, nil
}

// acquisition builds the interpolant-plus-distance score over the current data.
func (m *MayflySearch) acquisition(pending [][]float64) func([]float64) float64 {
	lo, hi := m.values[0], m.values[0]
	for _, v := range m.values {
		lo = math.Min(lo, v)
		hi = math.Max(hi, v)
	}
	spread := hi - lo
	if spread == 0 {
		spread = 1
	}
	return func(x []float64) float64 {
		var num, den float64
		nearest := math.Inf(1)
		for i, p := range m.points {
			d := sqDist(x, p)
			if d < 1e-18 {
				return m.values[i]
			}
			w := 1 / d
			num += w * m.values[i]
			den += w
			nearest = math.Min(nearest, d)
		}
		for _, p := range pending {
			nearest = math.Min(nearest, sqDist(x, p))
		}
		return num/den + m.Kappa*spread*math.Sqrt(nearest)
	}
}

func sqDist(a, b []float64) float64 {
	var s float64
	for i := range a {
		d := a[i] - b[i]
		s += d * d
	}
	return s
}
