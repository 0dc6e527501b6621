package main

import (
	"fmt"

	"github.com/fitflow/fitflow/internal/types"
	"github.com/spf13/cobra"
)

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Summarize the local offline state",
	Args:  cobra.NoArgs,
	RunE:  runStats,
}

func init() {
	statsCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and FITFLOW_DB_PATH)")
	statsCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	rootCmd.AddCommand(statsCmd)
}

func runStats(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	pending, err := l.queue.Len()
	if err != nil {
		return fmt.Errorf("queue length: %w", err)
	}
	letters, err := l.queue.DeadLetters()
	if err != nil {
		return fmt.Errorf("dead letters: %w", err)
	}
	entities, err := l.buffer.ListAll()
	if err != nil {
		return fmt.Errorf("entities: %w", err)
	}

	var synced, unsynced int
	for _, e := range entities {
		if e.SyncState == types.SyncSynced {
			synced++
		} else {
			unsynced++
		}
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		return printJSON(out, map[string]any{
			"pending_mutations": pending,
			"dead_letters":      len(letters),
			"entities_synced":   synced,
			"entities_unsynced": unsynced,
			"db_path":           l.cfg.Database.Path,
		})
	}

	fmt.Fprintf(out, "Database:           %s\n", l.cfg.Database.Path)
	fmt.Fprintf(out, "Pending mutations:  %d\n", pending)
	fmt.Fprintf(out, "Dead letters:       %d\n", len(letters))
	fmt.Fprintf(out, "Entities (synced):  %d\n", synced)
	fmt.Fprintf(out, "Entities (pending): %d\n", unsynced)
	return nil
}
