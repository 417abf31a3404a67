package cli

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

// NewProvidersCmd создаёт команду списка provider'ов daemon'а.
func NewProvidersCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "providers",
		Short: "List providers of the daemon",
		RunE: func(cmd *cobra.Command, args []string) error {
			providers, err := clientFn().ListProviders()
			if err != nil {
				return err
			}

			rows := make([][]string, len(providers))
			for i, p := range providers {
				rows[i] = []string{p.Name, yesNo(p.Running), p.NextRun}
			}

			outputFn().Print([]string{"NAME", "RUNNING", "NEXT_RUN"}, rows, providers)
			return nil
		},
	}
}

// NewTriggerCmd создаёт команду запуска run на daemon'е.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var maxRuntime time.Duration
	var retryFailed bool

	cmd := &cobra.Command{
		Use:   "trigger PROVIDER",
		Short: "Start a run on the daemon",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			req := StartRunRequest{RetryFailed: retryFailed}
			if maxRuntime > 0 {
				req.MaxRuntime = maxRuntime.String()
			}

			res, err := clientFn().StartRun(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Run started: %s (budget %s)", res.Provider, res.MaxRuntime))
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "Runtime budget (default: provider configuration)")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Plan fresh tasks for checkpointed FAILED tasks")

	return cmd
}
