package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var sweepWindow time.Duration

var sweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Purge synced entities older than the retention window",
	Args:  cobra.NoArgs,
	RunE:  runSweep,
}

func init() {
	sweepCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and FITFLOW_DB_PATH)")
	sweepCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	sweepCmd.Flags().DurationVar(&sweepWindow, "window", 0,
		"Retention window override (e.g. 168h); defaults to config")

	rootCmd.AddCommand(sweepCmd)
}

func runSweep(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	window := time.Duration(l.cfg.Retention.Window)
	if sweepWindow > 0 {
		window = sweepWindow
	}
	purged, err := l.buffer.PurgeSyncedBefore(time.Now().Add(-window))
	if err != nil {
		return fmt.Errorf("retention sweep: %w", err)
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		return printJSON(out, map[string]any{
			"purged": purged,
			"window": window.String(),
		})
	}

	fmt.Fprintf(out, "Purged %d synced entities older than %s.\n", purged, window)
	return nil
}
