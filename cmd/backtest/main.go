package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

var (
	cfgPath string
	date    string
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "backtest",
		Short: "Intraday breakout strategy backtester",
		Long: `backtest replays historical tick and bar data through the breakout
confirmation state machine and position lifecycle manager, producing a fully
audited trade report for each session.`,
		SilenceUsage: true,
	}

	rootCmd.PersistentFlags().StringVarP(&cfgPath, "config", "c", "config.yaml", "Path to the session config")
	rootCmd.PersistentFlags().StringVarP(&date, "date", "d", "", "Session date (YYYY-MM-DD), required when reading from the cache")

	rootCmd.AddCommand(runCmd())
	rootCmd.AddCommand(fetchCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func newLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}
