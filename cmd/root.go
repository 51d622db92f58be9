package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	logLevel string
	dataDir  string
	backend  string
	logger   *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "blackboxopt",
	Short: "Black-box optimisation runs with optimum tracking and warm starts",
	Long: `blackboxopt maximises expensive black-box functions, possibly across
several fidelities, on a pool of parallel workers. Each run is stored with its
evaluation trace so later runs can be warm-started from it.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		var level slog.Level
		switch logLevel {
		case "debug":
			level = slog.LevelDebug
		case "info":
			level = slog.LevelInfo
		case "warn":
			level = slog.LevelWarn
		case "error":
			level = slog.LevelError
		default:
			level = slog.LevelInfo
		}

		// Logs go to stderr; stdout carries command output.
		opts := &slog.HandlerOptions{Level: level}
		handler := slog.NewJSONHandler(os.Stderr, opts)
		logger = slog.New(handler)
		slog.SetDefault(logger)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "./data", "Base directory for run storage")
	rootCmd.PersistentFlags().StringVar(&backend, "backend", backendFS, "Checkpoint storage backend (fs, badger)")
}
