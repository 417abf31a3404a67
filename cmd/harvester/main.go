// Harvester CLI — инструмент командной строки сбора отчётов.
//
// Использование:
//
//	harvester [--api-url URL] [--json] <command> [flags]
//
// Локальные команды (БД и object storage напрямую):
//
//	run         Harvest run provider'ов
//	checkpoint  Просмотр и очистка checkpoints
//	migrate     Создание таблиц
//
// Команды через API daemon'а:
//
//	units       Work queue
//	runs        История runs
//	providers   Provider'ы daemon'а
//	trigger     Запуск run на daemon'е
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/shaiso/Harvester/internal/cli"
	"github.com/shaiso/Harvester/internal/telemetry"
)

// version задаётся через ldflags при сборке.
var version = "dev"

func main() {
	var apiURL string
	var jsonOutput bool

	logger := telemetry.SetupLogger()

	rootCmd := &cobra.Command{
		Use:           "harvester",
		Short:         "Harvester CLI — resumable ad report harvesting",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	rootCmd.PersistentFlags().StringVar(&apiURL, "api-url", "http://localhost:8080", "Daemon API URL")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "Output in JSON format")

	clientFn := func() *cli.Client { return cli.NewClient(apiURL) }
	outputFn := func() *cli.Output { return cli.NewOutput(jsonOutput) }
	localFn := func() (*cli.Local, error) { return cli.OpenLocal(logger) }

	rootCmd.AddCommand(
		cli.NewRunCmd(localFn, outputFn),
		cli.NewCheckpointCmd(localFn, outputFn),
		cli.NewMigrateCmd(localFn, outputFn),
		cli.NewUnitsCmd(clientFn, outputFn),
		cli.NewRunsCmd(clientFn, outputFn),
		cli.NewProvidersCmd(clientFn, outputFn),
		cli.NewTriggerCmd(clientFn, outputFn),
	)

	// Ctrl-C прерывает run: незавершённые tasks остаются в checkpoint
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		cancel()
		os.Exit(1)
	}
}
