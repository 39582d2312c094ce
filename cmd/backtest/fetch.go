package main

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/feed"
	"github.com/gamma-omg/breakout-backtest/internal/platform/alpaca"
	"github.com/spf13/cobra"
)

func fetchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "fetch",
		Short: "Download and cache historical session data for the armed symbols",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runFetch(cmd)
		},
	}
}

func runFetch(cmd *cobra.Command) error {
	cfg, err := config.ReadFromFile(cfgPath)
	if err != nil {
		return err
	}
	if date == "" {
		return errors.New("--date is required for fetch")
	}
	if cfg.Data.CacheDir == "" {
		return errors.New("data.cache_dir must be configured for fetch")
	}
	if cfg.Data.Alpaca.ApiKey == "" {
		return errors.New("data.alpaca credentials must be configured for fetch")
	}

	logger := newLogger()
	fetcher := alpaca.NewFetcher(logger, cfg.Data.Alpaca)
	sessions, err := fetcher.FetchSession(cmd.Context(), cfg.Symbols(), date)
	if err != nil {
		return fmt.Errorf("fetch failed: %w", err)
	}

	cache := feed.Cache{Dir: cfg.Data.CacheDir}
	for symbol, s := range sessions {
		if err := cache.Save(symbol, date, s.Bars, s.Ticks); err != nil {
			return err
		}
		logger.Info("session cached",
			slog.String("symbol", symbol),
			slog.String("date", date),
			slog.Int("bars", len(s.Bars)),
			slog.Int("ticks", len(s.Ticks)))
	}

	return nil
}
