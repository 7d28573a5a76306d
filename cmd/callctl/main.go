package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"call-pipeline-go/internal/app"
	"call-pipeline-go/internal/config"
	"call-pipeline-go/internal/logger"
)

var rootCmd = &cobra.Command{
	Use:           "callctl",
	Short:         "Process and manage call recordings from the command line",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		if path, _ := cmd.Flags().GetString("config"); path != "" {
			return os.Setenv("CONFIG_PATH", path)
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().String("config", "", "path to config.yaml (default $CONFIG_PATH or ./config.yaml)")
	rootCmd.PersistentFlags().BoolVar(&noColor, "no-color", false, "disable colored output")

	rootCmd.AddCommand(processCmd, importCmd, exportCmd, transcribeBatchCmd, sweepCmd)
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		printError("%v", err)
		stop()
		os.Exit(1)
	}
}

// buildApp loads config and wires the pipeline against the local store.
func buildApp() (*app.App, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	a, err := app.Build(cfg, logger.NewWithOutput(os.Stderr))
	if err != nil {
		return nil, fmt.Errorf("building pipeline: %w", err)
	}
	return a, nil
}
