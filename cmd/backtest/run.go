package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/cvd"
	"github.com/gamma-omg/breakout-backtest/internal/feed"
	"github.com/gamma-omg/breakout-backtest/internal/position"
	"github.com/gamma-omg/breakout-backtest/internal/report"
	"github.com/gamma-omg/breakout-backtest/internal/session"
	"github.com/spf13/cobra"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a backtest session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBacktest()
		},
	}
}

func runBacktest() error {
	cfg, err := config.ReadFromFile(cfgPath)
	if err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	logger := newLogger()
	data, err := loadData(cfg)
	if err != nil {
		return err
	}

	builder := report.NewJsonReportBuilder(logger)
	var recorder report.Recorder = report.NoopRecorder{}
	if cfg.Report.SQLitePath != "" {
		r, err := report.NewSQLiteRecorder(logger, cfg.Report.SQLitePath)
		if err != nil {
			return err
		}
		defer r.Close()
		recorder = r
	}

	engine, err := session.NewEngine(logger, cfg, data, report.NewTee(logger, builder, recorder))
	if err != nil {
		return err
	}

	res, err := engine.Run()
	if err != nil {
		return err
	}

	if err := writeReport(cfg, builder); err != nil {
		return err
	}

	if cfg.Report.PlotDir != "" {
		if err := writePlots(cfg, data, res); err != nil {
			return err
		}
	}

	return nil
}

// loadData materializes every armed symbol's session before the engine
// starts: CSV paths when configured, the fetch cache otherwise.
func loadData(cfg *config.Config) (map[string]*session.SymbolData, error) {
	cache := feed.Cache{Dir: cfg.Data.CacheDir}
	out := make(map[string]*session.SymbolData)

	for _, symbol := range cfg.Symbols() {
		if path, ok := cfg.Data.Bars[symbol]; ok {
			bars, err := feed.ReadBarsCSV(path)
			if err != nil {
				return nil, err
			}

			sd := &session.SymbolData{Bars: feed.Resample(bars, cfg.Session.BarInterval.Std())}
			if tickPath, ok := cfg.Data.Ticks[symbol]; ok {
				if sd.Ticks, err = feed.ReadTicksCSV(tickPath); err != nil {
					return nil, err
				}
			}
			out[symbol] = sd
			continue
		}

		if cfg.Data.CacheDir == "" {
			return nil, fmt.Errorf("no data source configured for %s", symbol)
		}
		if date == "" {
			return nil, errors.New("--date is required when reading from the cache")
		}

		bars, ticks, err := cache.Load(symbol, date)
		if err != nil {
			return nil, err
		}
		out[symbol] = &session.SymbolData{
			Bars:  feed.Resample(bars, cfg.Session.BarInterval.Std()),
			Ticks: ticks,
		}
	}

	return out, nil
}

func writeReport(cfg *config.Config, builder *report.JsonReportBuilder) error {
	if cfg.Report.Output == "" {
		return builder.Write(os.Stdout)
	}

	f, err := os.Create(cfg.Report.Output)
	if err != nil {
		return fmt.Errorf("failed to create report file: %w", err)
	}
	defer f.Close()

	return builder.Write(f)
}

func writePlots(cfg *config.Config, data map[string]*session.SymbolData, res *session.Result) error {
	if err := os.MkdirAll(cfg.Report.PlotDir, 0o755); err != nil {
		return fmt.Errorf("failed to create plot dir: %w", err)
	}

	for _, symbol := range cfg.Symbols() {
		sd := data[symbol]
		d := res.Diagnostics[symbol]

		readings := replayDelta(cfg, sd)
		plt := report.NewSessionPlot(1200, 800)
		if err := plt.AddPricePanel(d.Pivot, sd.Bars, tradesFor(res, symbol)); err != nil {
			return err
		}
		if err := plt.AddDeltaPanel(readings); err != nil {
			return err
		}
		if err := plt.Save(filepath.Join(cfg.Report.PlotDir, symbol+".png")); err != nil {
			return err
		}
	}

	return nil
}

func replayDelta(cfg *config.Config, sd *session.SymbolData) []cvd.Reading {
	agg := cvd.NewAggregator(cfg.Session.DeltaBucket.Std())
	var readings []cvd.Reading
	for _, t := range sd.Ticks {
		readings = append(readings, agg.Ingest(t)...)
	}
	if r, ok := agg.Flush(); ok {
		readings = append(readings, r)
	}
	return readings
}

func tradesFor(res *session.Result, symbol string) []*position.TradeRecord {
	var out []*position.TradeRecord
	for _, t := range res.Trades {
		if t.Symbol == symbol {
			out = append(out, t)
		}
	}
	return out
}
