package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "Inspect the pending mutation queue",
}

var queueListCmd = &cobra.Command{
	Use:   "list",
	Short: "List pending mutations in sync order",
	Args:  cobra.NoArgs,
	RunE:  runQueueList,
}

var queueDeadCmd = &cobra.Command{
	Use:   "deadletters",
	Short: "List mutations that will never be retried",
	Args:  cobra.NoArgs,
	RunE:  runQueueDead,
}

var queueAckCmd = &cobra.Command{
	Use:   "ack <item-id>",
	Short: "Acknowledge and discard a dead letter",
	Args:  cobra.ExactArgs(1),
	RunE:  runQueueAck,
}

func init() {
	queueCmd.PersistentFlags().StringVar(&dbPathOverride, "db", "",
		"Database path (overrides config and FITFLOW_DB_PATH)")
	queueCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false,
		"Output in JSON format")

	queueCmd.AddCommand(queueListCmd)
	queueCmd.AddCommand(queueDeadCmd)
	queueCmd.AddCommand(queueAckCmd)

	rootCmd.AddCommand(queueCmd)
}

func runQueueList(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	items, err := l.queue.Items()
	if err != nil {
		return fmt.Errorf("list queue: %w", err)
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		return printJSON(out, map[string]any{
			"items": items,
			"total": len(items),
		})
	}

	if len(items) == 0 {
		fmt.Fprintln(out, "Queue is empty.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tKIND\tRETRIES\tENQUEUED\tNEXT ATTEMPT")
	for _, item := range items {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			item.ID,
			item.Mutation.Kind,
			item.RetryCount,
			item.EnqueuedAt.Format("2006-01-02 15:04:05"),
			item.NextEligibleAt.Format("2006-01-02 15:04:05"),
		)
	}
	w.Flush()

	return nil
}

func runQueueDead(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	letters, err := l.queue.DeadLetters()
	if err != nil {
		return fmt.Errorf("list dead letters: %w", err)
	}

	out := cmd.OutOrStdout()

	if jsonOutput {
		return printJSON(out, map[string]any{
			"dead_letters": letters,
			"total":        len(letters),
		})
	}

	if len(letters) == 0 {
		fmt.Fprintln(out, "No dead letters.")
		return nil
	}

	w := newTabWriter(out)
	fmt.Fprintln(w, "ID\tKIND\tRETRIES\tDEAD SINCE\tREASON")
	for _, dl := range letters {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\n",
			dl.ID,
			dl.Mutation.Kind,
			dl.RetryCount,
			dl.DeadLetteredAt.Format("2006-01-02 15:04:05"),
			dl.Reason,
		)
	}
	w.Flush()

	return nil
}

func runQueueAck(cmd *cobra.Command, args []string) error {
	l, err := resolveLocal()
	if err != nil {
		return err
	}
	defer l.Close()

	if err := l.queue.AckDeadLetter(args[0]); err != nil {
		return fmt.Errorf("ack dead letter: %w", err)
	}

	fmt.Fprintf(cmd.OutOrStdout(), "Dead letter %q acknowledged.\n", args[0])
	return nil
}
