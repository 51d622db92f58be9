package main

import (
	"bufio"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/cwbudde/blackboxopt/internal/store"
	"github.com/spf13/cobra"
)

var (
	keepLast      int
	olderThanDays int
	forceClean    bool
)

var checkpointsCmd = &cobra.Command{
	Use:   "checkpoints",
	Short: "Manage stored runs",
	Long: `Manage stored runs, including listing and cleaning old ones.
Each run directory holds the run's checkpoint and evaluation trace.`,
}

var listCheckpointsCmd = &cobra.Command{
	Use:   "list",
	Short: "List all stored runs",
	Long:  `Display all stored runs with objective, method, evaluations, best value and directory size.`,
	RunE:  runListCheckpoints,
}

var cleanCheckpointsCmd = &cobra.Command{
	Use:   "clean",
	Short: "Clean old runs",
	Long: `Delete old runs based on a retention policy.
You can keep only the most recent N runs or delete runs older than N days.`,
	RunE: runCleanCheckpoints,
}

func init() {
	rootCmd.AddCommand(checkpointsCmd)

	checkpointsCmd.AddCommand(listCheckpointsCmd)
	checkpointsCmd.AddCommand(cleanCheckpointsCmd)

	cleanCheckpointsCmd.Flags().IntVar(&keepLast, "keep-last", 0, "Keep only the last N runs (0 = keep all)")
	cleanCheckpointsCmd.Flags().IntVar(&olderThanDays, "older-than", 0, "Delete runs older than N days (0 = no age limit)")
	cleanCheckpointsCmd.Flags().BoolVarP(&forceClean, "force", "f", false, "Skip confirmation prompt")
}

func shortID(id string) string {
	if len(id) > 12 {
		return id[:12] + "..."
	}
	return id
}

func formatBest(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.6g", *v)
}

func runListCheckpoints(cmd *cobra.Command, args []string) error {
	out := cmd.OutOrStdout()

	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.checkpoints.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs found.")
		return nil
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "RUN ID\tOBJECTIVE\tMETHOD\tEVALS\tBEST\tDONE\tTIMESTAMP\tSIZE")
	fmt.Fprintln(w, "------\t---------\t------\t-----\t----\t----\t---------\t----")

	for _, info := range infos {
		sizeStr := "unknown"
		if size, err := getDirSize(s.traces.RunDir(info.RunID)); err == nil {
			sizeStr = formatBytes(size)
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%t\t%s\t%s\n",
			shortID(info.RunID),
			info.Objective,
			info.Method,
			info.Evaluations,
			formatBest(info.BestValue),
			info.Completed,
			info.Timestamp.Format("2006-01-02 15:04:05"),
			sizeStr,
		)
	}
	w.Flush()

	fmt.Fprintf(out, "\nTotal runs: %d\n", len(infos))
	return nil
}

func runCleanCheckpoints(cmd *cobra.Command, args []string) error {
	if keepLast == 0 && olderThanDays == 0 {
		return fmt.Errorf("must specify either --keep-last or --older-than")
	}
	out := cmd.OutOrStdout()

	s, err := openStores(dataDir, backend)
	if err != nil {
		return err
	}
	defer s.Close()

	infos, err := s.checkpoints.ListCheckpoints()
	if err != nil {
		return fmt.Errorf("failed to list runs: %w", err)
	}
	if len(infos) == 0 {
		fmt.Fprintln(out, "No runs to clean.")
		return nil
	}

	toDelete := selectCheckpointsForDeletion(infos, keepLast, olderThanDays)
	if len(toDelete) == 0 {
		fmt.Fprintln(out, "No runs match deletion criteria.")
		return nil
	}

	fmt.Fprintf(out, "Found %d run(s) to delete:\n", len(toDelete))
	for _, info := range toDelete {
		fmt.Fprintf(out, "  - %s (%s, %d evaluations, %s)\n",
			shortID(info.RunID),
			info.Method,
			info.Evaluations,
			info.Timestamp.Format("2006-01-02 15:04:05"),
		)
	}

	if !forceClean {
		fmt.Fprint(out, "\nProceed with deletion? [y/N]: ")
		response, _ := bufio.NewReader(cmd.InOrStdin()).ReadString('\n')
		response = strings.TrimSpace(response)
		if response != "y" && response != "Y" {
			fmt.Fprintln(out, "Aborted.")
			return nil
		}
	}

	deleted := 0
	failed := 0
	for _, info := range toDelete {
		if err := s.deleteRun(info.RunID); err != nil {
			slog.Error("Failed to delete run", "run_id", info.RunID, "error", err)
			failed++
		} else {
			slog.Info("Deleted run", "run_id", info.RunID)
			deleted++
		}
	}

	fmt.Fprintf(out, "\nDeleted %d run(s), %d failed.\n", deleted, failed)
	return nil
}

// selectCheckpointsForDeletion applies the retention policy. A run matching
// both criteria is listed once.
func selectCheckpointsForDeletion(infos []store.CheckpointInfo, keepLast int, olderThanDays int) []store.CheckpointInfo {
	var toDelete []store.CheckpointInfo
	selected := make(map[string]bool)

	if olderThanDays > 0 {
		cutoff := time.Now().AddDate(0, 0, -olderThanDays)
		for _, info := range infos {
			if info.Timestamp.Before(cutoff) {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	if keepLast > 0 && len(infos) > keepLast {
		sorted := make([]store.CheckpointInfo, len(infos))
		copy(sorted, infos)
		sort.Slice(sorted, func(i, j int) bool {
			return sorted[i].Timestamp.Before(sorted[j].Timestamp)
		})

		for _, info := range sorted[:len(sorted)-keepLast] {
			if !selected[info.RunID] {
				toDelete = append(toDelete, info)
				selected[info.RunID] = true
			}
		}
	}

	return toDelete
}

// getDirSize calculates the total size of a directory
func getDirSize(path string) (int64, error) {
	var size int64
	err := filepath.Walk(path, func(_ string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if !info.IsDir() {
			size += info.Size()
		}
		return nil
	})
	return size, err
}

// formatBytes formats bytes as human-readable string
func formatBytes(bytes int64) string {
	const unit = 1024
	if bytes < unit {
		return fmt.Sprintf("%d B", bytes)
	}
	div, exp := int64(unit), 0
	for n := bytes / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(bytes)/float64(div), "KMGTPE"[exp])
}
