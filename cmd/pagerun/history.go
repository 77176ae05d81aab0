package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"pagerun/internal/report"
	"pagerun/internal/store"

	"github.com/spf13/cobra"
)

var historyLimit int

// historyCmd lists recorded runs
var historyCmd = &cobra.Command{
	Use:   "history [target]",
	Short: "Show recent runs from the history database",
	Long: `Lists recent runs recorded in the history database (history.path),
newest first. With a target, only runs of that target are shown.

History is recorded when history.enabled is true or PAGERUN_HISTORY_DB is set.`,
	Args: cobra.MaximumNArgs(1),
	RunE: showHistory,
}

func showHistory(cmd *cobra.Command, args []string) error {
	path := cfg.History.Path
	if _, err := os.Stat(path); os.IsNotExist(err) {
		fmt.Fprintf(cmd.OutOrStdout(), "No history database at %s\n", path)
		return nil
	}

	h, err := store.Open(path)
	if err != nil {
		return err
	}
	defer h.Close()

	target := ""
	if len(args) == 1 {
		target = args[0]
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), 10*time.Second)
	defer cancel()
	runs, err := h.Recent(ctx, target, historyLimit)
	if err != nil {
		return err
	}
	report.WriteHistory(cmd.OutOrStdout(), runs)
	return nil
}

// versionCmd prints the build version
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pagerun version",
	Args:  cobra.NoArgs,
	// No config or logger needed.
	PersistentPreRun: func(cmd *cobra.Command, args []string) {},
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Fprintf(cmd.OutOrStdout(), "pagerun %s\n", version)
	},
}
