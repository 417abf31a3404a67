package cli

import (
	"github.com/spf13/cobra"

	"github.com/shaiso/Harvester/internal/repo"
)

// NewMigrateCmd создаёт команду применения схемы БД.
func NewMigrateCmd(localFn func() (*Local, error), outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Create work queue and run history tables",
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			local, err := localFn()
			if err != nil {
				return err
			}
			defer local.Close()

			db, err := local.Database(ctx)
			if err != nil {
				return err
			}
			if err := repo.Migrate(ctx, db.Pool); err != nil {
				return err
			}

			outputFn().Success("Schema is up to date")
			return nil
		},
	}
}
