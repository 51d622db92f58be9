package exd

import (
	"context"
	"time"

	"github.com/cwbudde/blackboxopt/internal/eval"
)

// Experiment is the per-run strategy the Designer drives. The Designer calls
// every method from a single goroutine.
type Experiment interface {
	// Name identifies the experiment in logs and errors.
	Name() string

	// Caller evaluates queries.
	Caller() eval.Caller

	// IsAsynchronous selects refill-on-completion dispatch instead of batches.
	IsAsynchronous() bool

	// TracksOptimum reports whether completed records are passed to Update.
	TracksOptimum() bool

	// SetUp is called once before anything else.
	SetUp() error

	// HandlePriorEvaluations receives previously collected evaluations. It is
	// only called when the Designer was configured with some.
	HandlePriorEvaluations(prior []eval.Record) error

	// InitialQueries returns the batch evaluated before the budgeted loop.
	InitialQueries(n int) ([]eval.Query, error)

	// NextQuery proposes one query (asynchronous mode).
	NextQuery(ctx context.Context) (eval.Query, error)

	// NextBatch proposes n queries (synchronous mode).
	NextBatch(ctx context.Context, n int) ([]eval.Query, error)

	// Update processes one completed evaluation.
	Update(rec eval.Record) error

	// Header and Status feed progress logging.
	Header() string
	Status() string
}

// OptimumReporter is implemented by experiments that track an optimum.
type OptimumReporter interface {
	CurrentOptimum() (value float64, found bool)
}

// QueryInfo is one completed evaluation as seen by the driver.
type QueryInfo struct {
	Step        int         `json:"step"`
	Query       eval.Query  `json:"query"`
	Record      eval.Record `json:"record"`
	Worker      int         `json:"worker"`
	SendTime    time.Time   `json:"sendTime"`
	ReceiveTime time.Time   `json:"receiveTime"`
}

// History is the driver's log of completed evaluations, in processing order.
type History struct {
	Queries []QueryInfo
}

// Len returns the number of processed evaluations.
func (h *History) Len() int { return len(h.Queries) }

// Records returns the evaluation records in processing order.
func (h *History) Records() []eval.Record {
	out := make([]eval.Record, len(h.Queries))
	for i, q := range h.Queries {
		out[i] = q.Record
	}
	return out
}

// Result is returned by Designer.Run.
type Result struct {
	Experiment  string
	Evaluations int
	Elapsed     time.Duration
	History     *History
}
