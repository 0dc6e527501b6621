package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var entitiesUnsyncedOnly bool

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List buffered offline entities",
	Args:  cobra.NoArgs,
	RunE:  runEntities,
}

func init() {
	entitiesCmd.Flags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and FITFLOW_DB_PATH)")
	entitiesCmd.Flags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")
	entitiesCmd.Flags().BoolVar(&entitiesUnsyncedOnly, "unsynced", false,
		"Show only entities still awaiting sync")

	rootCmd.AddCommand(entitiesCmd)
}

func runEntities(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	list := l.buffer.ListAll
	if entitiesUnsyncedOnly {
		list = l.buffer.ListUnsynced
	}
	entities, err := list()
	if err != nil {
		return fmt.Errorf("list entities: %w", err)
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		return printJSON(out, map[string]any{
			"entities": entities,
			"total":    len(entities),
		})
	}

	if len(entities) == 0 {
		fmt.Fprintln(out, "No buffered entities.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tKIND\tFOOD\tCALORIES\tCAPTURED\tSTATE")
	for _, e := range entities {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\t%s\n",
			e.ID,
			e.Kind,
			e.Meal.Food,
			e.Meal.Calories,
			e.CapturedAt.Format("2006-01-02 15:04:05"),
			e.SyncState,
		)
	}
	w.Flush()

	return nil
}
