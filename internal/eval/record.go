package eval

import (
	"fmt"
	"math"
	"slices"
)

// Point is a queried input. The core treats it as opaque.
type Point []float64

// Clone returns an independent copy of the point.
func (p Point) Clone() Point {
	if p == nil {
		return nil
	}
	return slices.Clone(p)
}

// Fidelity identifies the approximation level an evaluation was taken at.
// The empty string means the record carries no fidelity tag.
type Fidelity string

// NoFidelity is the zero Fidelity, used by single-fidelity callers.
const NoFidelity Fidelity = ""

// Query is a point submitted for evaluation, optionally at a fidelity.
type Query struct {
	Point    Point    `json:"point"`
	Fidelity Fidelity `json:"fidelity,omitempty"`
}

// Record is one processed function evaluation.
type Record struct {
	Point     Point    `json:"point"`
	Value     float64  `json:"value"`
	TrueValue float64  `json:"trueValue"`
	Fidelity  Fidelity `json:"fidelity,omitempty"`
}

// NewRecord builds a record whose true value equals the observed value.
func NewRecord(point Point, value float64) Record {
	return Record{Point: point, Value: value, TrueValue: value}
}

// HasFidelity reports whether the record was tagged with a fidelity.
func (r Record) HasFidelity() bool {
	return r.Fidelity != NoFidelity
}

// Negated returns a copy of the record with both values negated.
func (r Record) Negated() Record {
	r.Point = r.Point.Clone()
	r.Value = -r.Value
	r.TrueValue = -r.TrueValue
	return r
}

// NegateRecords returns negated copies of recs.
func NegateRecords(recs []Record) []Record {
	if recs == nil {
		return nil
	}
	out := make([]Record, len(recs))
	for i, r := range recs {
		out[i] = r.Negated()
	}
	return out
}

// MissingValueError is returned when a record lacks a value. NaN is the
// in-memory marker for a value that was never filled in.
type MissingValueError struct {
	Field string
}

func (e *MissingValueError) Error() string {
	return "evaluation record missing " + e.Field
}

// Validate checks that both values are present.
func (r Record) Validate() error {
	if math.IsNaN(r.Value) {
		return &MissingValueError{Field: "value"}
	}
	if math.IsNaN(r.TrueValue) {
		return &MissingValueError{Field: "true value"}
	}
	return nil
}

func (r Record) String() string {
	if r.HasFidelity() {
		return fmt.Sprintf("record(val=%g, true=%g, fidel=%s)", r.Value, r.TrueValue, r.Fidelity)
	}
	return fmt.Sprintf("record(val=%g, true=%g)", r.Value, r.TrueValue)
}
