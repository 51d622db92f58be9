package store

import (
	"math"
	"time"

	"github.com/cwbudde/blackboxopt/internal/config"
	"github.com/cwbudde/blackboxopt/internal/opt"
)

// OptimumSnapshot is a found optimum as persisted in a checkpoint.
type OptimumSnapshot struct {
	Value float64   `json:"value"`
	Point []float64 `json:"point"`
}

// snapshotOf returns nil for an absent optimum; -Inf has no JSON encoding.
func snapshotOf(o opt.Optimum) *OptimumSnapshot {
	if !o.Found {
		return nil
	}
	return &OptimumSnapshot{Value: o.Value, Point: o.Point.Clone()}
}

// Checkpoint is the persisted outcome of a run.
//
// Only the optimum and evaluation counts are stored here. The evaluations
// themselves live in the run's trace, which is what a resumed run is
// warm-started from.
type Checkpoint struct {
	RunID string `json:"runId"`

	// Experiment is the name of the method or initialiser that ran.
	Experiment string `json:"experiment"`

	// ResumedFrom names the run whose trace seeded this one.
	ResumedFrom string `json:"resumedFrom,omitempty"`

	Optimum     *OptimumSnapshot `json:"optimum,omitempty"`
	TrueOptimum *OptimumSnapshot `json:"trueOptimum,omitempty"`

	Evaluations         int `json:"evaluations"`
	PriorEvaluations    int `json:"priorEvaluations"`
	TargetFidelityCalls int `json:"targetFidelityCalls"`

	// Status is the final status line of the run.
	Status string `json:"status"`

	// Completed is false for runs interrupted before the budget was spent.
	Completed bool `json:"completed"`

	Timestamp time.Time        `json:"timestamp"`
	Config    config.RunConfig `json:"config"`
}

// CheckpointInfo is the listing view of a checkpoint.
type CheckpointInfo struct {
	RunID       string    `json:"runId"`
	Objective   string    `json:"objective"`
	Method      string    `json:"method"`
	Evaluations int       `json:"evaluations"`
	BestValue   *float64  `json:"bestValue,omitempty"`
	Completed   bool      `json:"completed"`
	Timestamp   time.Time `json:"timestamp"`
}

// NewCheckpoint captures the tracker state of a run. For minimisation runs
// the optima are stored in the objective's own sign; Status keeps the
// optimiser's maximisation view.
func NewCheckpoint(runID, experiment string, tr *opt.Tracker, cfg config.RunConfig) *Checkpoint {
	state := tr.State()
	if cfg.Minimise {
		state.Optimum = state.Optimum.Negated()
		state.TrueOptimum = state.TrueOptimum.Negated()
	}
	return &Checkpoint{
		RunID:               runID,
		Experiment:          experiment,
		Optimum:             snapshotOf(state.Optimum),
		TrueOptimum:         snapshotOf(state.TrueOptimum),
		Evaluations:         tr.History().Len(),
		PriorEvaluations:    len(tr.History().PriorEvaluationValues()),
		TargetFidelityCalls: state.TargetFidelityCalls,
		Status:              tr.StatusLine(),
		Timestamp:           time.Now(),
		Config:              cfg,
	}
}

// BestValue returns the optimum value, or -Inf when none was found. For
// minimisation runs this is the smallest value in the objective's sign.
func (c *Checkpoint) BestValue() float64 {
	if c.Optimum == nil {
		return math.Inf(-1)
	}
	return c.Optimum.Value
}

// ToInfo converts a checkpoint to its listing view. BestValue stays nil
// until an optimum exists.
func (c *Checkpoint) ToInfo() CheckpointInfo {
	var best *float64
	if c.Optimum != nil {
		v := c.Optimum.Value
		best = &v
	}
	return CheckpointInfo{
		RunID:       c.RunID,
		Objective:   c.Config.Objective,
		Method:      c.Experiment,
		Evaluations: c.Evaluations,
		BestValue:   best,
		Completed:   c.Completed,
		Timestamp:   c.Timestamp,
	}
}

// Validate checks that the checkpoint is internally consistent.
func (c *Checkpoint) Validate() error {
	if c.RunID == "" {
		return &ValidationError{Field: "RunID", Reason: "cannot be empty"}
	}
	if c.Experiment == "" {
		return &ValidationError{Field: "Experiment", Reason: "cannot be empty"}
	}
	if c.Evaluations < 0 {
		return &ValidationError{Field: "Evaluations", Reason: "cannot be negative"}
	}
	if c.PriorEvaluations < 0 {
		return &ValidationError{Field: "PriorEvaluations", Reason: "cannot be negative"}
	}
	if c.TargetFidelityCalls < 0 || c.TargetFidelityCalls > c.Evaluations {
		return &ValidationError{Field: "TargetFidelityCalls", Reason: "must be between 0 and Evaluations"}
	}
	if c.Optimum != nil && len(c.Optimum.Point) == 0 {
		return &ValidationError{Field: "Optimum.Point", Reason: "cannot be empty"}
	}
	if c.TrueOptimum != nil && len(c.TrueOptimum.Point) == 0 {
		return &ValidationError{Field: "TrueOptimum.Point", Reason: "cannot be empty"}
	}
	if c.Timestamp.IsZero() {
		return &ValidationError{Field: "Timestamp", Reason: "cannot be zero"}
	}
	if err := c.Config.Validate(); err != nil {
		return &ValidationError{Field: "Config", Reason: err.Error()}
	}
	return nil
}

// ValidationError represents a checkpoint validation error.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return "validation error: " + e.Field + " " + e.Reason
}

// IsCompatible checks whether a run with cfg can be warm-started from this
// checkpoint. The objective must match; the method and budget may differ.
func (c *Checkpoint) IsCompatible(cfg config.RunConfig) error {
	if c.Config.Objective != cfg.Objective {
		return &CompatibilityError{
			Field:    "Objective",
			Expected: c.Config.Objective,
			Actual:   cfg.Objective,
		}
	}
	return nil
}

// CompatibilityError represents a checkpoint compatibility error.
type CompatibilityError struct {
	Field    string
	Expected string
	Actual   string
}

func (e *CompatibilityError) Error() string {
	return "compatibility error: " + e.Field + " mismatch (expected " + e.Expected + ", got " + e.Actual + ")"
}
