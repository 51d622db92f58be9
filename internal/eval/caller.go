package eval

import (
	"context"
	"fmt"
	"slices"
)

// Caller knows the search domain and fidelity space and evaluates queries.
//
// Implementations must be safe for concurrent use: the experiment driver
// calls Evaluate from several workers at once.
type Caller interface {
	// IsMultiFidelity reports whether the caller exposes a fidelity dimension.
	IsMultiFidelity() bool

	// TargetFidelity is the fidelity whose value defines the objective.
	// Single-fidelity callers return NoFidelity.
	TargetFidelity() Fidelity

	// IsTargetFidelity reports whether f is the fidelity to optimise.
	IsTargetFidelity(f Fidelity) bool

	// Bounds returns the per-dimension lower and upper limits of the domain.
	Bounds() (lower, upper []float64)

	// Evaluate runs the function at the query and returns the processed record.
	Evaluate(ctx context.Context, q Query) (Record, error)
}

// Objective is a single-fidelity function to maximise.
type Objective func(x []float64) float64

// MFObjective is evaluated at a fidelity. The second return value is the
// ground-truth value reported alongside the observation.
type MFObjective func(f Fidelity, x []float64) (value, trueValue float64)

// FuncCaller wraps a single-fidelity objective.
type FuncCaller struct {
	name  string
	fn    Objective
	lower []float64
	upper []float64
	// Noise, when set, perturbs the observed value; the true value stays clean.
	Noise func() float64
}

// NewFuncCaller creates a single-fidelity caller over the box [lower, upper].
func NewFuncCaller(name string, fn Objective, lower, upper []float64) *FuncCaller {
	return &FuncCaller{name: name, fn: fn, lower: lower, upper: upper}
}

func (c *FuncCaller) IsMultiFidelity() bool          { return false }
func (c *FuncCaller) TargetFidelity() Fidelity       { return NoFidelity }
func (c *FuncCaller) IsTargetFidelity(Fidelity) bool { return true }
func (c *FuncCaller) Bounds() ([]float64, []float64) { return c.lower, c.upper }

// Evaluate computes the objective at q.Point. Any fidelity on the query is ignored.
func (c *FuncCaller) Evaluate(ctx context.Context, q Query) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if len(q.Point) != len(c.lower) {
		return Record{}, fmt.Errorf("%s: point has %d dims, domain has %d", c.name, len(q.Point), len(c.lower))
	}
	trueVal := c.fn(q.Point)
	val := trueVal
	if c.Noise != nil {
		val += c.Noise()
	}
	return Record{Point: q.Point.Clone(), Value: val, TrueValue: trueVal}, nil
}

func (c *FuncCaller) String() string {
	return fmt.Sprintf("FuncCaller(%s, dim=%d)", c.name, len(c.lower))
}

// MFFuncCaller wraps a multi-fidelity objective over a discrete fidelity set.
type MFFuncCaller struct {
	name       string
	fn         MFObjective
	lower      []float64
	upper      []float64
	fidelities []Fidelity
	target     Fidelity
}

// NewMFFuncCaller creates a multi-fidelity caller. target must be one of fidelities.
func NewMFFuncCaller(name string, fn MFObjective, lower, upper []float64, fidelities []Fidelity, target Fidelity) (*MFFuncCaller, error) {
	if !slices.Contains(fidelities, target) {
		return nil, fmt.Errorf("%s: target fidelity %q not in fidelity set %v", name, target, fidelities)
	}
	return &MFFuncCaller{
		name:       name,
		fn:         fn,
		lower:      lower,
		upper:      upper,
		fidelities: fidelities,
		target:     target,
	}, nil
}

func (c *MFFuncCaller) IsMultiFidelity() bool            { return true }
func (c *MFFuncCaller) TargetFidelity() Fidelity         { return c.target }
func (c *MFFuncCaller) IsTargetFidelity(f Fidelity) bool { return f == c.target }
func (c *MFFuncCaller) Bounds() ([]float64, []float64)   { return c.lower, c.upper }

// Fidelities returns the discrete fidelity set, lowest first.
func (c *MFFuncCaller) Fidelities() []Fidelity {
	return slices.Clone(c.fidelities)
}

// Evaluate computes the objective at the query's fidelity. An untagged query
// is evaluated at the target fidelity.
func (c *MFFuncCaller) Evaluate(ctx context.Context, q Query) (Record, error) {
	if err := ctx.Err(); err != nil {
		return Record{}, err
	}
	if len(q.Point) != len(c.lower) {
		return Record{}, fmt.Errorf("%s: point has %d dims, domain has %d", c.name, len(q.Point), len(c.lower))
	}
	f := q.Fidelity
	if f == NoFidelity {
		f = c.target
	}
	val, trueVal := c.fn(f, q.Point)
	return Record{Point: q.Point.Clone(), Value: val, TrueValue: trueVal, Fidelity: f}, nil
}

func (c *MFFuncCaller) String() string {
	return fmt.Sprintf("MFFuncCaller(%s, dim=%d, target=%s)", c.name, len(c.lower), c.target)
}

// NegatedCaller evaluates the negation of another caller's objective, which
// turns a function to minimise into one to maximise. Domain and fidelities
// are those of the wrapped caller.
type NegatedCaller struct {
	Caller
}

// negatedFidelityCaller keeps the fidelity set of the wrapped caller visible.
type negatedFidelityCaller struct {
	*NegatedCaller
	space interface{ Fidelities() []Fidelity }
}

func (c negatedFidelityCaller) Fidelities() []Fidelity { return c.space.Fidelities() }

// Negate wraps c so that every evaluation is negated.
func Negate(c Caller) Caller {
	n := &NegatedCaller{Caller: c}
	if space, ok := c.(interface{ Fidelities() []Fidelity }); ok {
		return negatedFidelityCaller{NegatedCaller: n, space: space}
	}
	return n
}

// Evaluate negates the value and true value of the wrapped evaluation.
func (c *NegatedCaller) Evaluate(ctx context.Context, q Query) (Record, error) {
	rec, err := c.Caller.Evaluate(ctx, q)
	if err != nil {
		return rec, err
	}
	return rec.Negated(), nil
}

func (c *NegatedCaller) String() string {
	return fmt.Sprintf("Negated(%v)", c.Caller)
}
