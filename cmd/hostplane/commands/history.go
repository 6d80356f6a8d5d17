package commands

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/hostplane/hostplane/pkg/stores"
)

func newHistoryCommand() *cobra.Command {
	var dbPath string
	var limit int

	cmd := &cobra.Command{
		Use:   "history [run-id]",
		Short: "Show past runs",
		Long:  `History lists recorded runs, newest first. With a run ID it shows that run's task outcomes.`,
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := stores.NewHistoryStore(dbPath)
			if err != nil {
				return err
			}
			if err := store.Init(cmd.Context()); err != nil {
				return err
			}
			defer func() { _ = store.Close() }()

			if len(args) == 1 {
				return showRun(cmd, store, args[0])
			}
			return listRuns(cmd, store, limit)
		},
		SilenceUsage: true,
	}

	cmd.Flags().StringVar(&dbPath, "history-db", defaultHistoryDB(), "run history database path")
	cmd.Flags().IntVar(&limit, "limit", 20, "maximum number of runs to list")
	return cmd
}

func listRuns(cmd *cobra.Command, store *stores.HistoryStore, limit int) error {
	runs, err := store.ListRuns(cmd.Context(), limit)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		data, err := json.MarshalIndent(runs, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	for _, run := range runs {
		mode := ""
		if run.CheckMode {
			mode = " (check)"
		}
		fmt.Fprintf(out, "%s  %-10s %-20s%s ok=%d changed=%d failed=%d skipped=%d\n",
			run.StartedAt.Format(time.RFC3339), run.Status, run.Playbook, mode,
			run.Summary.OK, run.Summary.Changed, run.Summary.Failed, run.Summary.Skipped)
		fmt.Fprintf(out, "  id: %s\n", run.ID)
	}
	return nil
}

func showRun(cmd *cobra.Command, store *stores.HistoryStore, id string) error {
	run, tasks, err := store.GetRun(cmd.Context(), id)
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if jsonOutput {
		data, err := json.MarshalIndent(map[string]any{"run": run, "tasks": tasks}, "", "  ")
		if err != nil {
			return err
		}
		fmt.Fprintln(out, string(data))
		return nil
	}

	fmt.Fprintf(out, "run %s (%s) started %s status=%s\n",
		run.ID, run.Playbook, run.StartedAt.Format(time.RFC3339), run.Status)
	for _, task := range tasks {
		line := fmt.Sprintf("%-8s %s (%s)", task.Status, task.TaskName, task.Module)
		if task.Action != "" {
			line += " " + task.Action
		}
		fmt.Fprintln(out, line)
		if task.Error != "" {
			fmt.Fprintln(out, "  error:", task.Error)
		}
	}
	return nil
}
