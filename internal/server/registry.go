package server

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

// RunState is the lifecycle state of a run in this process.
type RunState string

const (
	StateRunning   RunState = "running"
	StateCompleted RunState = "completed"
	StateFailed    RunState = "failed"
	StateCancelled RunState = "cancelled"
)

// LiveRun is the in-memory view of a run started by this process.
type LiveRun struct {
	ID          string     `json:"id"`
	Experiment  string     `json:"experiment"`
	State       RunState   `json:"state"`
	Header      string     `json:"header"`
	Status      string     `json:"status"`
	Evaluations int        `json:"evaluations"`
	StartTime   time.Time  `json:"startTime"`
	EndTime     *time.Time `json:"endTime,omitempty"`
	Error       string     `json:"error,omitempty"`
}

// RunRegistry holds the live runs of this process. Progress is pushed in by
// the driver, so readers never touch optimiser state directly.
type RunRegistry struct {
	mu   sync.RWMutex
	runs map[string]*LiveRun
}

// NewRunRegistry creates an empty registry.
func NewRunRegistry() *RunRegistry {
	return &RunRegistry{runs: make(map[string]*LiveRun)}
}

// Start registers a run as running. header is the experiment's column legend.
func (r *RunRegistry) Start(id, experiment, header string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.runs[id] = &LiveRun{
		ID:         id,
		Experiment: experiment,
		State:      StateRunning,
		Header:     header,
		StartTime:  time.Now(),
	}
}

// Progress returns a callback suitable for exd.Config.Progress that records
// the latest status of run id.
func (r *RunRegistry) Progress(id string) func(int, string) {
	return func(evaluations int, status string) {
		r.mu.Lock()
		defer r.mu.Unlock()
		if run, ok := r.runs[id]; ok {
			run.Evaluations = evaluations
			run.Status = status
		}
	}
}

// Finish records the outcome of run id. Cancellation is distinguished from
// failure.
func (r *RunRegistry) Finish(id string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.runs[id]
	if !ok {
		return
	}
	now := time.Now()
	run.EndTime = &now
	switch {
	case err == nil:
		run.State = StateCompleted
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		run.State = StateCancelled
		run.Error = err.Error()
	default:
		run.State = StateFailed
		run.Error = err.Error()
	}
}

// Get returns a copy of run id.
func (r *RunRegistry) Get(id string) (LiveRun, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	run, ok := r.runs[id]
	if !ok {
		return LiveRun{}, false
	}
	return copyRun(run), true
}

// List returns copies of all runs, oldest first.
func (r *RunRegistry) List() []LiveRun {
	r.mu.RLock()
	defer r.mu.RUnlock()

	runs := make([]LiveRun, 0, len(r.runs))
	for _, run := range r.runs {
		runs = append(runs, copyRun(run))
	}
	sort.Slice(runs, func(i, j int) bool {
		return runs[i].StartTime.Before(runs[j].StartTime)
	})
	return runs
}

func copyRun(run *LiveRun) LiveRun {
	c := *run
	if run.EndTime != nil {
		end := *run.EndTime
		c.EndTime = &end
	}
	return c
}
