package cli

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/shaiso/Harvester/internal/bootstrap"
	"github.com/shaiso/Harvester/internal/domain"
	"github.com/shaiso/Harvester/internal/orchestrator"
)

// ProviderResult — итог run одного provider'а.
type ProviderResult struct {
	Provider string           `json:"provider"`
	Status   domain.RunStatus `json:"status"`
	Result   domain.RunResult `json:"result"`
	Error    string           `json:"error,omitempty"`
}

// NewRunCmd создаёт команду локального harvest run.
//
// Run идёт в текущем процессе и завершается по runtime budget.
// Код выхода ненулевой, если в run были ошибки.
func NewRunCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	var maxRuntime time.Duration
	var retryFailed bool

	cmd := &cobra.Command{
		Use:   "run [PROVIDER...]",
		Short: "Run harvest for providers (all configured if none given)",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			out := outputFn()

			local, err := localFn()
			if err != nil {
				return err
			}
			defer local.Close()

			ps, err := local.Providers()
			if err != nil {
				return err
			}
			names := args
			if len(names) == 0 {
				names = ps.Names()
			}

			db, err := local.Database(ctx)
			if err != nil {
				return err
			}
			stores, err := local.Stores(ctx)
			if err != nil {
				return err
			}

			deps := bootstrap.Deps{
				Queue:       db.Units,
				Active:      db.Units,
				Runs:        db.Runs,
				Checkpoints: stores.Checkpoints,
				Sink:        stores.Sink,
				Notifier:    local.Notifier(),
				Logger:      local.Logger,
			}

			var results []ProviderResult
			failed := 0
			for _, name := range names {
				p, ok := ps.Get(name)
				if !ok {
					return fmt.Errorf("%w: %s", orchestrator.ErrUnknownProvider, name)
				}

				engine, err := bootstrap.BuildEngine(p, deps)
				if err != nil {
					return err
				}

				budget := maxRuntime
				if budget <= 0 {
					budget = bootstrap.MaxRuntime(p, local.Env.DefaultMaxRuntime)
				}

				res, err := engine.RunWith(ctx, orchestrator.Options{
					MaxRuntime:  budget,
					Trigger:     "cli",
					RetryFailed: retryFailed,
				})
				pr := ProviderResult{Provider: name, Status: res.Status(), Result: res}
				if err != nil {
					pr.Status = domain.RunStatusFailed
					pr.Error = err.Error()
				}
				if pr.Status == domain.RunStatusFailed {
					failed++
				}
				results = append(results, pr)

				if ctx.Err() != nil {
					break
				}
			}

			out.Print(runResultHeaders, runResultRows(results), results)

			if failed > 0 {
				return fmt.Errorf("%d of %d provider run(s) failed", failed, len(results))
			}
			return nil
		},
	}

	cmd.Flags().DurationVar(&maxRuntime, "max-runtime", 0, "Runtime budget, e.g. 90m (default: provider or DEFAULT_MAX_RUNTIME)")
	cmd.Flags().BoolVar(&retryFailed, "retry-failed", false, "Plan fresh tasks for checkpointed FAILED tasks")

	return cmd
}

var runResultHeaders = []string{"PROVIDER", "STATUS", "PROCESSED", "COMPLETE", "PENDING", "FAILED", "SKIPPED", "ERRORS", "BUDGET", "DURATION", "ERROR"}

func runResultRows(results []ProviderResult) [][]string {
	rows := make([][]string, len(results))
	for i, r := range results {
		rows[i] = []string{
			r.Provider,
			string(r.Status),
			strconv.Itoa(r.Result.Processed),
			strconv.Itoa(r.Result.Complete),
			strconv.Itoa(r.Result.Pending),
			strconv.Itoa(r.Result.Failed),
			strconv.Itoa(r.Result.Skipped),
			strconv.Itoa(r.Result.ErrorCount),
			yesNo(r.Result.BudgetExceeded),
			r.Result.Duration.Round(time.Millisecond).String(),
			r.Error,
		}
	}
	return rows
}
