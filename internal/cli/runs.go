package cli

import (
	"strconv"
	"time"

	"github.com/spf13/cobra"
)

// NewRunsCmd создаёт группу команд истории runs (через API daemon'а).
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect run history",
	}

	cmd.AddCommand(
		newRunsListCmd(clientFn, outputFn),
		newRunsShowCmd(clientFn, outputFn),
	)

	return cmd
}

var runHeaders = []string{"ID", "PROVIDER", "TRIGGER", "STATUS", "PROCESSED", "ERRORS", "BUDGET", "STARTED", "DURATION"}

func runRow(r RunResponse) []string {
	return []string{
		r.ID, r.Provider, r.Trigger, r.Status,
		strconv.Itoa(r.Result.Processed),
		strconv.Itoa(r.Result.ErrorCount),
		yesNo(r.Result.BudgetExceeded),
		r.StartedAt,
		(time.Duration(r.DurationMs) * time.Millisecond).String(),
	}
}

func newRunsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			runs, err := clientFn().ListRuns(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = runRow(r)
			}

			outputFn().Print(runHeaders, rows, runs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (RUNNING, SUCCEEDED, WARNING, FAILED)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newRunsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ID",
		Short: "Show run details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			run, err := clientFn().GetRun(args[0])
			if err != nil {
				return err
			}

			outputFn().Print(runHeaders, [][]string{runRow(*run)}, run)
			return nil
		},
	}
}
