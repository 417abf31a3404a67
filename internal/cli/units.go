package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewUnitsCmd создаёт группу команд work queue (через API daemon'а).
func NewUnitsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "units",
		Short: "Inspect and enqueue units of work",
	}

	cmd.AddCommand(
		newUnitsListCmd(clientFn, outputFn),
		newUnitsAddCmd(clientFn, outputFn),
		newUnitsShowCmd(clientFn, outputFn),
	)

	return cmd
}

var unitHeaders = []string{"GUID", "PROVIDER", "ENTITY", "DATE", "STATUS", "ARTIFACTS", "SIZE", "ERROR"}

func unitRow(u UnitResponse) []string {
	return []string{
		u.GUID, u.Provider, u.EntityID, u.Date, u.Status,
		strconv.Itoa(len(u.Artifacts)), humanBytes(u.TotalBytes), u.Error,
	}
}

func newUnitsListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List units",
		RunE: func(cmd *cobra.Command, args []string) error {
			units, err := clientFn().ListUnits(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(units))
			for i, u := range units {
				rows[i] = unitRow(u)
			}

			outputFn().Print(unitHeaders, rows, units)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Provider, "provider", "", "Filter by provider")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETE, ERROR)")
	cmd.Flags().StringVar(&opts.EntityID, "entity", "", "Filter by entity ID")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")

	return cmd
}

func newUnitsAddCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var backfill bool

	cmd := &cobra.Command{
		Use:   "add PROVIDER ENTITY_ID DATE",
		Short: "Enqueue a unit of work (DATE as YYYY-MM-DD)",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			unit, err := clientFn().CreateUnit(CreateUnitRequest{
				Provider: args[0],
				EntityID: args[1],
				Date:     args[2],
				Backfill: backfill,
			})
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Unit enqueued: %s", unit.GUID))
			out.Print(unitHeaders, [][]string{unitRow(*unit)}, unit)
			return nil
		},
	}

	cmd.Flags().BoolVar(&backfill, "backfill", false, "Mark unit as history backfill")

	return cmd
}

func newUnitsShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show GUID",
		Short: "Show unit and its manifest",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			unit, err := clientFn().GetUnit(args[0])
			if err != nil {
				return err
			}

			if out.jsonMode {
				out.JSON(unit)
				return nil
			}

			out.Table(unitHeaders, [][]string{unitRow(*unit)})
			if len(unit.Artifacts) > 0 {
				rows := make([][]string, len(unit.Artifacts))
				for i, a := range unit.Artifacts {
					rows[i] = []string{a.Source, a.Path, humanBytes(a.Size), a.WrittenAt}
				}
				fmt.Fprintln(out.w)
				out.Table([]string{"SOURCE", "PATH", "SIZE", "WRITTEN"}, rows)
			}
			return nil
		},
	}
}
