package cli

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/shaiso/Harvester/internal/domain"
)

// NewCheckpointCmd создаёт группу команд checkpoint store (локально, без daemon'а).
func NewCheckpointCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "checkpoint",
		Short: "Inspect and maintain checkpoints",
	}

	cmd.AddCommand(
		newCheckpointShowCmd(localFn, outputFn),
		newCheckpointDeleteCmd(localFn, outputFn),
		newCheckpointCleanupCmd(localFn, outputFn),
	)

	return cmd
}

// resolveProvider возвращает provider unit'а: из флага или из work queue.
func resolveProvider(ctx context.Context, local *Local, provider string, guid uuid.UUID) (string, error) {
	if provider != "" {
		return provider, nil
	}
	db, err := local.Database(ctx)
	if err != nil {
		return "", err
	}
	unit, err := db.Units.GetByGUID(ctx, guid)
	if err != nil {
		return "", fmt.Errorf("unit %s: %w", guid, err)
	}
	return unit.Provider, nil
}

var taskHeaders = []string{"DEFINITION", "SUB_ENTITY", "BATCH", "STATE", "TOKEN", "POLLS", "ERROR"}

func taskRows(tasks []domain.ReportTask) [][]string {
	rows := make([][]string, len(tasks))
	for i, t := range tasks {
		rows[i] = []string{
			t.DefinitionID,
			t.SubEntityID,
			strings.Join(t.BatchIDs, ","),
			string(t.State),
			t.Token,
			strconv.Itoa(t.Polls),
			t.Error,
		}
	}
	return rows
}

func newCheckpointShowCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "show UNIT_GUID",
		Short: "Show checkpointed tasks of a unit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			guid, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit guid %q", args[0])
			}

			local, err := localFn()
			if err != nil {
				return err
			}
			defer local.Close()

			provider, err := resolveProvider(ctx, local, provider, guid)
			if err != nil {
				return err
			}
			stores, err := local.Stores(ctx)
			if err != nil {
				return err
			}

			tasks, err := stores.Checkpoints.Load(ctx, provider, guid)
			if err != nil {
				return err
			}
			if tasks == nil {
				return fmt.Errorf("no checkpoint for unit %s", guid)
			}

			outputFn().Print(taskHeaders, taskRows(tasks), tasks)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider of the unit (looked up in the work queue if omitted)")

	return cmd
}

func newCheckpointDeleteCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "delete UNIT_GUID",
		Short: "Delete a unit's checkpoint (next run re-plans it from scratch)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			guid, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid unit guid %q", args[0])
			}

			local, err := localFn()
			if err != nil {
				return err
			}
			defer local.Close()

			provider, err := resolveProvider(ctx, local, provider, guid)
			if err != nil {
				return err
			}
			stores, err := local.Stores(ctx)
			if err != nil {
				return err
			}

			if err := stores.Checkpoints.Delete(ctx, provider, guid); err != nil {
				return err
			}

			outputFn().Success(fmt.Sprintf("Checkpoint deleted: %s", guid))
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider of the unit (looked up in the work queue if omitted)")

	return cmd
}

// CleanupResult — итог cleanup одного provider'а.
type CleanupResult struct {
	Provider   string `json:"provider"`
	Active     int    `json:"active"`
	Removed    int    `json:"removed"`
	Dimensions int    `json:"dimensions_removed"`
}

func newCheckpointCleanupCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cleanup [PROVIDER...]",
		Short: "Remove checkpoints of inactive units and old dimension markers",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			local, err := localFn()
			if err != nil {
				return err
			}
			defer local.Close()

			names := args
			if len(names) == 0 {
				ps, err := local.Providers()
				if err != nil {
					return err
				}
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

			today := time.Now().UTC().Truncate(24 * time.Hour)
			results := make([]CleanupResult, 0, len(names))
			for _, name := range names {
				active, err := db.Units.ListActiveGUIDs(ctx, name)
				if err != nil {
					return err
				}

				store := stores.Checkpoints.For(name)
				removed, err := store.Cleanup(ctx, active)
				if err != nil {
					return fmt.Errorf("provider %s: %w", name, err)
				}
				pruned, err := store.PruneDimensions(ctx, today)
				if err != nil {
					return fmt.Errorf("provider %s: %w", name, err)
				}

				results = append(results, CleanupResult{
					Provider:   name,
					Active:     len(active),
					Removed:    removed,
					Dimensions: pruned,
				})
			}

			rows := make([][]string, len(results))
			for i, r := range results {
				rows[i] = []string{r.Provider, strconv.Itoa(r.Active), strconv.Itoa(r.Removed), strconv.Itoa(r.Dimensions)}
			}
			outputFn().Print([]string{"PROVIDER", "ACTIVE", "REMOVED", "DIMENSIONS_REMOVED"}, rows, results)
			return nil
		},
	}
}
