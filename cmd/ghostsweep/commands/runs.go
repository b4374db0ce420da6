package commands

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

func newRunsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect past cleanup runs",
	}
	cmd.AddCommand(newRunsListCommand())
	cmd.AddCommand(newRunsShowCommand())
	return cmd
}

func newRunsListCommand() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List recorded runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: "opening run history: " + err.Error()}
			}
			defer store.Close()

			runs, err := store.ListRuns(cmd.Context(), limit)
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(runs)
			}
			if len(runs) == 0 {
				fmt.Println("No runs recorded.")
				return nil
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tSTARTED\tSTATUS\tDRY-RUN\tBACKUP")
			for _, run := range runs {
				backupID := run.BackupID
				if backupID == "" {
					backupID = "-"
				}
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
					run.ID,
					run.StartedAt.Local().Format(time.RFC3339),
					run.Status,
					run.DryRun,
					backupID,
				)
			}
			return w.Flush()
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func newRunsShowCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show one run with all its task results",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := openHistory(cmd.Context())
			if err != nil {
				return &ExitError{Code: 1, Message: "opening run history: " + err.Error()}
			}
			defer store.Close()

			run, err := store.GetRun(cmd.Context(), args[0])
			if err != nil {
				return &ExitError{Code: 1, Message: err.Error()}
			}

			if jsonOutput {
				return json.NewEncoder(os.Stdout).Encode(run)
			}
			printRunReport(run)
			return nil
		},
	}
}
