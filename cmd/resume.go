package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var resumeBudget int

var resumeCmd = &cobra.Command{
	Use:   "resume <run-id>",
	Short: "Continue a stored run as a new warm-started run",
	Long: `Starts a new run with the configuration of a stored run. Every evaluation in
the stored run's trace, and in the traces of the runs it was itself resumed
from, is passed to the new run as a prior evaluation, so the optimum carries
over without re-evaluating the objective.`,
	Args: cobra.ExactArgs(1),
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().IntVar(&resumeBudget, "budget", -1, "Evaluation budget (default: the stored run's budget)")
	resumeCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "Serve /metrics and run status on this address while running")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	runID := args[0]

	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	checkpoint, err := s.checkpoints.LoadCheckpoint(runID)
	// Released before startRun reopens it; badger locks its directory.
	s.Close()
	if err != nil {
		return err
	}

	cfg := checkpoint.Config
	if resumeBudget >= 0 {
		cfg.Budget = resumeBudget
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Resuming %s (%d evaluations)\n", runID, checkpoint.Evaluations)
	return startRun(cmd, cfg, "", runID)
}
