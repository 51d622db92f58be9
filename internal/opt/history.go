package opt

import (
	"math"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Optimum is the incumbent best value and the point that produced it.
// Found is false until the first eligible evaluation has been processed.
type Optimum struct {
	Value float64    `json:"value"`
	Point eval.Point `json:"point,omitempty"`
	Found bool       `json:"found"`
}

// improvedBy reports whether v strictly beats the incumbent. An absent
// optimum is beaten by any value.
func (o Optimum) improvedBy(v float64) bool {
	return !o.Found || v > o.Value
}

// ValueOrNegInf returns the value, or -Inf when no optimum has been found.
func (o Optimum) ValueOrNegInf() float64 {
	if !o.Found {
		return math.Inf(-1)
	}
	return o.Value
}

// Negated returns the optimum with its value negated, for reporting a
// minimisation in the objective's own sign. An absent optimum is unchanged.
func (o Optimum) Negated() Optimum {
	if !o.Found {
		return o
	}
	return Optimum{Value: -o.Value, Point: o.Point.Clone(), Found: true}
}

// History is the append-only record of a run.
//
// Per-step sequences gain exactly one entry per Tracker.Update call and
// always have equal length. Seeded prior evaluations are kept apart and
// never appear in the per-step sequences. Storage is unexported; accessors
// return copies.
type History struct {
	multiFidelity bool

	queryValues     []float64
	queryTrueValues []float64
	runningOptima   []Optimum
	runningTrue     []Optimum
	queryAtTarget   []bool

	priorPoints     []eval.Point
	priorValues     []float64
	priorFidelities []eval.Fidelity
}

func newHistory(multiFidelity bool) *History {
	h := &History{
		multiFidelity:   multiFidelity,
		queryValues:     []float64{},
		queryTrueValues: []float64{},
		runningOptima:   []Optimum{},
		runningTrue:     []Optimum{},
		priorPoints:     []eval.Point{},
		priorValues:     []float64{},
	}
	if multiFidelity {
		h.queryAtTarget = []bool{}
		h.priorFidelities = []eval.Fidelity{}
	}
	return h
}

// appendStep adds one entry to every per-step sequence.
func (h *History) appendStep(rec eval.Record, atTarget bool, best, bestTrue Optimum) {
	h.queryValues = append(h.queryValues, rec.Value)
	h.queryTrueValues = append(h.queryTrueValues, rec.TrueValue)
	h.runningOptima = append(h.runningOptima, snapshot(best))
	h.runningTrue = append(h.runningTrue, snapshot(bestTrue))
	if h.multiFidelity {
		h.queryAtTarget = append(h.queryAtTarget, atTarget)
	}
}

func (h *History) appendPrior(rec eval.Record, fidelity eval.Fidelity) {
	h.priorPoints = append(h.priorPoints, rec.Point.Clone())
	h.priorValues = append(h.priorValues, rec.Value)
	if h.multiFidelity {
		h.priorFidelities = append(h.priorFidelities, fidelity)
	}
}

func snapshot(o Optimum) Optimum {
	o.Point = o.Point.Clone()
	return o
}

// MultiFidelity reports whether the fidelity flag sequence is maintained.
func (h *History) MultiFidelity() bool { return h.multiFidelity }

// Len is the number of processed (non-seeded) evaluations.
func (h *History) Len() int { return len(h.queryValues) }

// QueryValues returns the observed value of each processed evaluation.
func (h *History) QueryValues() []float64 { return append([]float64(nil), h.queryValues...) }

// QueryTrueValues returns the true value of each processed evaluation.
func (h *History) QueryTrueValues() []float64 { return append([]float64(nil), h.queryTrueValues...) }

// RunningOptima returns the observed-optimum snapshot after each evaluation.
func (h *History) RunningOptima() []Optimum { return cloneOptima(h.runningOptima) }

// RunningTrueOptima returns the true-optimum snapshot after each evaluation.
func (h *History) RunningTrueOptima() []Optimum { return cloneOptima(h.runningTrue) }

// RunningOptimalValues returns the running observed optimum, with -Inf for
// steps before any eligible evaluation. Intended for plotting and traces.
func (h *History) RunningOptimalValues() []float64 { return optimaValues(h.runningOptima) }

// RunningOptimalPoints returns the running observed optimal point; nil
// entries mean no optimum existed yet.
func (h *History) RunningOptimalPoints() []eval.Point { return optimaPoints(h.runningOptima) }

// RunningTrueOptimalValues is RunningOptimalValues for the true optimum.
func (h *History) RunningTrueOptimalValues() []float64 { return optimaValues(h.runningTrue) }

// RunningTrueOptimalPoints is RunningOptimalPoints for the true optimum.
func (h *History) RunningTrueOptimalPoints() []eval.Point { return optimaPoints(h.runningTrue) }

// QueryAtTargetFidelity returns, per processed evaluation, whether it was
// taken at the target fidelity. Nil in single-fidelity mode.
func (h *History) QueryAtTargetFidelity() []bool {
	if !h.multiFidelity {
		return nil
	}
	return append([]bool(nil), h.queryAtTarget...)
}

// PriorEvaluationPoints returns the seeded points in replay order.
func (h *History) PriorEvaluationPoints() []eval.Point {
	out := make([]eval.Point, len(h.priorPoints))
	for i, p := range h.priorPoints {
		out[i] = p.Clone()
	}
	return out
}

// PriorEvaluationValues returns the seeded observed values in replay order.
func (h *History) PriorEvaluationValues() []float64 { return append([]float64(nil), h.priorValues...) }

// PriorEvaluationFidelities returns the fidelity each seeded record was
// replayed at. Nil in single-fidelity mode.
func (h *History) PriorEvaluationFidelities() []eval.Fidelity {
	if !h.multiFidelity {
		return nil
	}
	return append([]eval.Fidelity(nil), h.priorFidelities...)
}

// targetCountInWindow counts target-fidelity evaluations among the last n
// processed ones.
func (h *History) targetCountInWindow(n int) (count int) {
	start := len(h.queryAtTarget) - n
	if start < 0 {
		start = 0
	}
	for _, at := range h.queryAtTarget[start:] {
		if at {
			count++
		}
	}
	return count
}

func cloneOptima(in []Optimum) []Optimum {
	out := make([]Optimum, len(in))
	for i, o := range in {
		out[i] = snapshot(o)
	}
	return out
}

func optimaValues(in []Optimum) []float64 {
	out := make([]float64, len(in))
	for i, o := range in {
		out[i] = o.ValueOrNegInf()
	}
	return out
}

func optimaPoints(in []Optimum) []eval.Point {
	out := make([]eval.Point, len(in))
	for i, o := range in {
		out[i] = o.Point.Clone()
	}
	return out
}

// Summary aggregates the per-step sequences. ImprovingSteps counts the
// steps at which the observed optimum was first set or raised.
type Summary struct {
	Evaluations    int
	PriorEvals     int
	MeanValue      float64
	StdDevValue    float64
	MaxQueryValue  float64
	TargetFidelity int
	TargetFraction float64
	ImprovingSteps int
}

// Summary computes aggregate statistics. Empty histories yield zero values
// with MaxQueryValue set to -Inf.
func (h *History) Summary() Summary {
	s := Summary{
		Evaluations:   len(h.queryValues),
		PriorEvals:    len(h.priorValues),
		MaxQueryValue: math.Inf(-1),
	}
	if s.Evaluations == 0 {
		return s
	}
	s.MeanValue, s.StdDevValue = stat.MeanStdDev(h.queryValues, nil)
	if s.Evaluations == 1 {
		s.StdDevValue = 0
	}
	s.MaxQueryValue = floats.Max(h.queryValues)
	for i, o := range h.runningOptima {
		if !o.Found {
			continue
		}
		if i == 0 || !h.runningOptima[i-1].Found || o.Value > h.runningOptima[i-1].Value {
			s.ImprovingSteps++
		}
	}
	if h.multiFidelity {
		for _, at := range h.queryAtTarget {
			if at {
				s.TargetFidelity++
			}
		}
		s.TargetFraction = float64(s.TargetFidelity) / float64(s.Evaluations)
	}
	return s
}
