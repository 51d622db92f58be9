package opt

import (
	"context"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/exd"
)

// InitializerConfig lists the points an Initializer evaluates.
type InitializerConfig struct {
	Queries []eval.Query
}

// Initializer evaluates a fixed batch of queries and nothing else. Every
// optimisation path returns ErrUnsupportedInInitializer.
type Initializer struct {
	caller  eval.Caller
	queries []eval.Query
}

var _ exd.Experiment = (*Initializer)(nil)

// NewInitializer copies cfg so later changes to it have no effect.
func NewInitializer(caller eval.Caller, cfg InitializerConfig) *Initializer {
	queries := make([]eval.Query, len(cfg.Queries))
	for i, q := range cfg.Queries {
		queries[i] = eval.Query{Point: q.Point.Clone(), Fidelity: q.Fidelity}
	}
	return &Initializer{caller: caller, queries: queries}
}

func (i *Initializer) Name() string        { return "initialiser" }
func (i *Initializer) Caller() eval.Caller { return i.caller }

// IsAsynchronous is always true.
func (i *Initializer) IsAsynchronous() bool { return true }

// IsMultiFidelity mirrors the caller.
func (i *Initializer) IsMultiFidelity() bool { return i.caller.IsMultiFidelity() }

// TracksOptimum is false: the driver logs results without calling Update.
func (i *Initializer) TracksOptimum() bool { return false }

func (i *Initializer) SetUp() error { return nil }

func (i *Initializer) HandlePriorEvaluations([]eval.Record) error {
	return unsupported("handle prior evaluations")
}

// InitialQueries returns the configured batch regardless of n.
func (i *Initializer) InitialQueries(int) ([]eval.Query, error) {
	out := make([]eval.Query, len(i.queries))
	copy(out, i.queries)
	return out, nil
}

func (i *Initializer) NextQuery(context.Context) (eval.Query, error) {
	return eval.Query{}, unsupported("determine next query")
}

func (i *Initializer) NextBatch(context.Context, int) ([]eval.Query, error) {
	return nil, unsupported("determine next batch")
}

func (i *Initializer) Update(eval.Record) error {
	return unsupported("update optimum")
}

func (i *Initializer) Header() string { return "" }
func (i *Initializer) Status() string { return "" }

// Initialise evaluates the batch through d with a zero budget.
func (i *Initializer) Initialise(ctx context.Context, d *exd.Designer) (*exd.Result, error) {
	return d.Run(ctx, i, 0)
}
