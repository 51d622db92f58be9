package opt

import (
	"context"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// Method is a pluggable strategy that chooses where to evaluate next.
type Method interface {
	Name() string
	IsMultiFidelity() bool
	IsAsynchronous() bool

	// SetUp prepares the method before any evaluation. The tracker is
	// read-only to the method.
	SetUp(t *Tracker) error

	// InitialQueries returns n points evaluated before the main loop.
	InitialQueries(t *Tracker, n int) ([]eval.Query, error)

	NextQuery(ctx context.Context, t *Tracker) (eval.Query, error)
	NextBatch(ctx context.Context, t *Tracker, n int) ([]eval.Query, error)
}

// HistoryHook receives every record after the tracker has processed it.
type HistoryHook interface {
	UpdateHistory(rec eval.Record)
}

// ReportHook appends method-specific text to the header and status line.
type ReportHook interface {
	HeaderString() string
	StatusString() string
}

// InitialiseHook runs once, after prior evaluations are seeded and before
// the initial queries are requested.
type InitialiseHook interface {
	OptimiseInitialise(t *Tracker) error
}

// NopHooks is the default for every optional hook. Methods embed it and
// override what they need.
type NopHooks struct{}

func (NopHooks) UpdateHistory(eval.Record)         {}
func (NopHooks) HeaderString() string              { return "" }
func (NopHooks) StatusString() string              { return "" }
func (NopHooks) OptimiseInitialise(*Tracker) error { return nil }

var (
	_ HistoryHook    = NopHooks{}
	_ ReportHook     = NopHooks{}
	_ InitialiseHook = NopHooks{}
)
