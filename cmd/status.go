package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/blackboxopt/internal/eval"
	"github.com/cwbudde/blackboxopt/internal/opt"
	"github.com/cwbudde/blackboxopt/internal/server"
	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/spf13/cobra"
)

var serverURL string

var statusCmd = &cobra.Command{
	Use:   "status <run-id>",
	Short: "Show the status of a run",
	Long: `Shows a stored run: its optimum, status line and statistics recomputed from
the evaluation trace.

With --server, queries the monitoring endpoint of a running process instead
(see run --metrics-addr). Without a run ID, lists the live runs there.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVar(&serverURL, "server", "", "Monitoring server URL, e.g. http://localhost:9090")
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	w := cmd.OutOrStdout()
	if serverURL != "" {
		if len(args) == 0 {
			return listLiveRuns(w, serverURL)
		}
		return getLiveRun(w, serverURL, args[0])
	}
	if len(args) == 0 {
		return fmt.Errorf("a run ID is required without --server")
	}

	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	defer s.Close()
	return showStoredRun(w, s, args[0])
}

// replayTrace rebuilds the run history by feeding the trace through a fresh
// tracker for the run's objective.
// replayTrace rebuilds the history of a stored run. The trace is in the
// objective's own sign; the history is in the optimiser's maximisation sign.
func replayTrace(traces *store.FSStore, checkpoint *store.Checkpoint) (*opt.History, error) {
	caller, err := newCaller(checkpoint.Config)
	if err != nil {
		return nil, err
	}
	records, err := traces.LoadPriorEvaluations(checkpoint.RunID)
	if err != nil {
		return nil, err
	}
	if checkpoint.Config.Minimise {
		records = eval.NegateRecords(records)
	}
	tr := opt.NewTracker(caller, opt.TrackerOptions{
		StrictFidelity: checkpoint.Config.StrictFidelity,
	})
	for _, rec := range records {
		if err := tr.Update(rec); err != nil {
			return nil, err
		}
	}
	return tr.History(), nil
}

func showStoredRun(w io.Writer, s *stores, runID string) error {
	checkpoint, err := s.checkpoints.LoadCheckpoint(runID)
	if err != nil {
		return err
	}
	printCheckpoint(w, checkpoint)
	if checkpoint.ResumedFrom != "" {
		fmt.Fprintf(w, "  resumed from: %s\n", checkpoint.ResumedFrom)
	}
	fmt.Fprintf(w, "  completed: %t\n", checkpoint.Completed)

	history, err := replayTrace(s.traces, checkpoint)
	if err != nil {
		return fmt.Errorf("failed to replay trace: %w", err)
	}
	sum := history.Summary()
	mean, best, bestLabel := sum.MeanValue, sum.MaxQueryValue, "max value"
	if checkpoint.Config.Minimise {
		mean, best, bestLabel = -mean, -best, "min value"
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "\nTrace statistics:")
	fmt.Fprintf(tw, "  evaluations\t%d\n", sum.Evaluations)
	fmt.Fprintf(tw, "  mean value\t%.6g\n", mean)
	fmt.Fprintf(tw, "  std dev\t%.6g\n", sum.StdDevValue)
	fmt.Fprintf(tw, "  %s\t%.6g\n", bestLabel, best)
	fmt.Fprintf(tw, "  improving steps\t%d\n", sum.ImprovingSteps)
	if history.MultiFidelity() {
		fmt.Fprintf(tw, "  target fidelity\t%d (%.0f%%)\n", sum.TargetFidelity, sum.TargetFraction*100)
	}
	return tw.Flush()
}

func fetchJSON(url string, v any) error {
	client := &http.Client{Timeout: 10 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		return fmt.Errorf("failed to connect to server: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return &store.NotFoundError{}
	}
	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("server returned error: %s", string(body))
	}
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	return nil
}

func listLiveRuns(w io.Writer, baseURL string) error {
	var list struct {
		Live []server.LiveRun `json:"live"`
	}
	if err := fetchJSON(baseURL+"/api/v1/runs", &list); err != nil {
		return err
	}
	if len(list.Live) == 0 {
		fmt.Fprintln(w, "No live runs")
		return nil
	}

	fmt.Fprintf(w, "Found %d run(s):\n\n", len(list.Live))
	for _, run := range list.Live {
		printLiveRun(w, run)
		fmt.Fprintln(w)
	}
	return nil
}

func getLiveRun(w io.Writer, baseURL, runID string) error {
	var run server.LiveRun
	if err := fetchJSON(baseURL+"/api/v1/runs/"+runID, &run); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return &store.NotFoundError{RunID: runID}
		}
		return err
	}
	// Runs that finished before the server saw them come back as checkpoints.
	if run.ID == "" {
		return fmt.Errorf("run %s is not live; use status without --server", runID)
	}
	printLiveRun(w, run)
	return nil
}

func printLiveRun(w io.Writer, run server.LiveRun) {
	fmt.Fprintf(w, "Run: %s\n", run.ID)
	fmt.Fprintf(w, "  State:       %s\n", run.State)
	fmt.Fprintf(w, "  Experiment:  %s\n", run.Experiment)
	fmt.Fprintf(w, "  Evaluations: %d\n", run.Evaluations)
	if run.Header != "" {
		fmt.Fprintf(w, "  Columns:     %s\n", run.Header)
	}
	if run.Status != "" {
		fmt.Fprintf(w, "  Status:      %s\n", run.Status)
	}
	end := time.Now()
	if run.EndTime != nil {
		end = *run.EndTime
	}
	fmt.Fprintf(w, "  Elapsed:     %s\n", end.Sub(run.StartTime).Round(time.Millisecond))
	if run.Error != "" {
		fmt.Fprintf(w, "  Error:       %s\n", run.Error)
	}
}
