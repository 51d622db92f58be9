package store

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/exd"
	"github.com/cwbudde/blackboxopt/internal/opt"
)

// TraceEntry is one processed evaluation, written as a JSON line in
// trace.jsonl. Values that are missing or not finite are stored as null.
type TraceEntry struct {
	Step      int           `json:"step"`
	Point     []float64     `json:"point"`
	Fidelity  eval.Fidelity `json:"fidelity,omitempty"`
	Value     *float64      `json:"value"`
	TrueValue *float64      `json:"trueValue"`

	// RunningMax is the best target-fidelity value after this step. It is
	// omitted until an optimum exists. Minimisation traces are written in the
	// objective's sign, so there it holds the running minimum.
	RunningMax *float64 `json:"runningMax,omitempty"`

	Worker    int       `json:"worker"`
	Timestamp time.Time `json:"timestamp"`
}

func finite(v float64) *float64 {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return nil
	}
	return &v
}

// NewTraceEntry builds an entry from a driver query log item and the running
// optimum after it was processed.
func NewTraceEntry(q exd.QueryInfo, running opt.Optimum) TraceEntry {
	e := TraceEntry{
		Step:      q.Step,
		Point:     q.Record.Point.Clone(),
		Fidelity:  q.Record.Fidelity,
		Value:     finite(q.Record.Value),
		TrueValue: finite(q.Record.TrueValue),
		Worker:    q.Worker,
		Timestamp: q.ReceiveTime,
	}
	if running.Found {
		e.RunningMax = finite(running.Value)
	}
	return e
}

// Record converts the entry back into an evaluation record.
func (e TraceEntry) Record() (eval.Record, error) {
	if e.Value == nil {
		return eval.Record{}, &eval.MissingValueError{Field: "value"}
	}
	if e.TrueValue == nil {
		return eval.Record{}, &eval.MissingValueError{Field: "true value"}
	}
	return eval.Record{
		Point:     eval.Point(e.Point).Clone(),
		Value:     *e.Value,
		TrueValue: *e.TrueValue,
		Fidelity:  e.Fidelity,
	}, nil
}

// TraceWriter writes trace entries to a JSONL file.
// It buffers output and is safe for concurrent use.
type TraceWriter struct {
	mu     sync.Mutex
	file   *os.File
	writer *bufio.Writer
	path   string
}

// NewTraceWriter opens path for writing, creating its directory. If append is
// true new entries are added after the existing ones.
func NewTraceWriter(path string, append bool) (*TraceWriter, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, fmt.Errorf("failed to create trace directory: %w", err)
	}

	flags := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	if append {
		flags = os.O_CREATE | os.O_WRONLY | os.O_APPEND
	}
	file, err := os.OpenFile(path, flags, 0644)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	return &TraceWriter{
		file:   file,
		writer: bufio.NewWriterSize(file, 64*1024),
		path:   path,
	}, nil
}

// Write appends one entry. It is buffered until Flush or Close.
func (tw *TraceWriter) Write(entry TraceEntry) error {
	tw.mu.Lock()
	defer tw.mu.Unlock()
	return tw.writeLocked(entry)
}

func (tw *TraceWriter) writeLocked(entry TraceEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to marshal trace entry: %w", err)
	}
	if _, err := tw.writer.Write(data); err != nil {
		return fmt.Errorf("failed to write trace entry: %w", err)
	}
	if err := tw.writer.WriteByte('\n'); err != nil {
		return fmt.Errorf("failed to write newline: %w", err)
	}
	return nil
}

// WriteRun writes every query of a driver run. running holds the optimum
// after each query in the same order, or is nil for runs that do not track
// one.
func (tw *TraceWriter) WriteRun(queries []exd.QueryInfo, running []opt.Optimum) error {
	if running != nil && len(running) != len(queries) {
		return fmt.Errorf("trace has %d queries but %d running optima", len(queries), len(running))
	}

	tw.mu.Lock()
	defer tw.mu.Unlock()
	for i, q := range queries {
		var best opt.Optimum
		if running != nil {
			best = running[i]
		}
		if err := tw.writeLocked(NewTraceEntry(q, best)); err != nil {
			return fmt.Errorf("step %d: %w", q.Step, err)
		}
	}
	return nil
}

// Flush writes buffered data and syncs the file.
func (tw *TraceWriter) Flush() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		return fmt.Errorf("failed to flush trace writer: %w", err)
	}
	if err := tw.file.Sync(); err != nil {
		return fmt.Errorf("failed to sync trace file: %w", err)
	}
	return nil
}

// Close flushes buffered data and closes the file.
func (tw *TraceWriter) Close() error {
	tw.mu.Lock()
	defer tw.mu.Unlock()

	if err := tw.writer.Flush(); err != nil {
		tw.file.Close()
		return fmt.Errorf("failed to flush on close: %w", err)
	}
	if err := tw.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// Path returns the filesystem path of the trace.
func (tw *TraceWriter) Path() string {
	return tw.path
}

// TraceReader reads trace entries from a JSONL file.
type TraceReader struct {
	file    *os.File
	scanner *bufio.Scanner
	line    int
}

// NewTraceReader opens the trace at path. A missing file yields an error
// matching os.ErrNotExist.
func NewTraceReader(path string) (*TraceReader, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open trace file: %w", err)
	}

	scanner := bufio.NewScanner(file)
	// Points of high-dimensional problems make long lines.
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	return &TraceReader{file: file, scanner: scanner}, nil
}

// Read returns the next entry, or io.EOF when the trace is exhausted.
func (tr *TraceReader) Read() (*TraceEntry, error) {
	for tr.scanner.Scan() {
		tr.line++
		line := tr.scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var entry TraceEntry
		if err := json.Unmarshal(line, &entry); err != nil {
			return nil, fmt.Errorf("failed to unmarshal trace line %d: %w", tr.line, err)
		}
		return &entry, nil
	}
	if err := tr.scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to scan trace line: %w", err)
	}
	return nil, io.EOF
}

// ReadAll reads all remaining entries.
func (tr *TraceReader) ReadAll() ([]TraceEntry, error) {
	var entries []TraceEntry
	for {
		entry, err := tr.Read()
		if err == io.EOF {
			return entries, nil
		}
		if err != nil {
			return nil, err
		}
		entries = append(entries, *entry)
	}
}

// Close closes the trace reader.
func (tr *TraceReader) Close() error {
	if err := tr.file.Close(); err != nil {
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	return nil
}

// LoadPriorEvaluations reads the trace at path as evaluation records. An
// entry without a value fails the whole load with a *eval.MissingValueError.
func LoadPriorEvaluations(path string) ([]eval.Record, error) {
	tr, err := NewTraceReader(path)
	if err != nil {
		return nil, err
	}
	defer tr.Close()

	entries, err := tr.ReadAll()
	if err != nil {
		return nil, err
	}
	records := make([]eval.Record, 0, len(entries))
	for i, e := range entries {
		rec, err := e.Record()
		if err != nil {
			return nil, fmt.Errorf("trace entry %d (step %d): %w", i, e.Step, err)
		}
		records = append(records, rec)
	}
	return records, nil
}
