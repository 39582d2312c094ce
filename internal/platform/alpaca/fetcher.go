// Package alpaca downloads historical session data for the fetch command.
// The backtest core never talks to it: fetched bars and ticks land in the
// feed cache and are fully materialized before a run starts.
package alpaca

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/alpacahq/alpaca-trade-api-go/v3/marketdata"
	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

type Fetcher struct {
	log    *slog.Logger
	client *marketdata.Client
}

func NewFetcher(log *slog.Logger, cfg config.Alpaca) *Fetcher {
	return &Fetcher{
		log: log,
		client: marketdata.NewClient(marketdata.ClientOpts{
			APIKey:    cfg.ApiKey,
			APISecret: cfg.Secret,
			BaseURL:   cfg.BaseUrl,
		}),
	}
}

// SessionWindow is the regular trading session for the given date in the
// exchange's timezone.
func SessionWindow(date string) (start, end time.Time, err error) {
	day, err := time.ParseInLocation("2006-01-02", date, market.ExchangeTZ)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("invalid session date %q: %w", date, err)
	}

	start = day.Add(9*time.Hour + 30*time.Minute)
	end = day.Add(16 * time.Hour)
	return start, end, nil
}

// FetchSession downloads bars and ticks for every symbol concurrently.
// Symbols are independent, so a per-symbol goroutine with a shared client is
// safe; the deterministic core only ever sees the merged result.
func (f *Fetcher) FetchSession(ctx context.Context, symbols []string, date string) (map[string]*Session, error) {
	start, end, err := SessionWindow(date)
	if err != nil {
		return nil, err
	}

	out := make(map[string]*Session, len(symbols))
	var mu sync.Mutex

	g, ctx := errgroup.WithContext(ctx)
	for _, symbol := range symbols {
		g.Go(func() error {
			s, err := f.fetchSymbol(ctx, symbol, start, end)
			if err != nil {
				return fmt.Errorf("failed to fetch %s: %w", symbol, err)
			}

			mu.Lock()
			out[symbol] = s
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	return out, nil
}

type Session struct {
	Bars  []market.Bar
	Ticks []market.Tick
}

func (f *Fetcher) fetchSymbol(ctx context.Context, symbol string, start, end time.Time) (*Session, error) {
	bars, err := f.client.GetBars(symbol, marketdata.GetBarsRequest{
		TimeFrame: marketdata.OneMin,
		Start:     start,
		End:       end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch bars: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}

	trades, err := f.client.GetTrades(symbol, marketdata.GetTradesRequest{
		Start: start,
		End:   end,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to fetch trades: %w", err)
	}

	s := &Session{
		Bars:  make([]market.Bar, len(bars)),
		Ticks: make([]market.Tick, len(trades)),
	}
	// Alpaca serves UTC timestamps; the session clock runs on exchange time.
	for i, b := range bars {
		s.Bars[i] = market.Bar{
			Time:   b.Timestamp.In(market.ExchangeTZ),
			Open:   decimal.NewFromFloat(b.Open),
			High:   decimal.NewFromFloat(b.High),
			Low:    decimal.NewFromFloat(b.Low),
			Close:  decimal.NewFromFloat(b.Close),
			Volume: decimal.NewFromInt(int64(b.Volume)),
		}
	}
	for i, t := range trades {
		s.Ticks[i] = market.Tick{
			Time:  t.Timestamp.In(market.ExchangeTZ),
			Price: decimal.NewFromFloat(t.Price),
			Size:  decimal.NewFromInt(int64(t.Size)),
		}
	}

	f.log.Info("session data fetched",
		slog.String("symbol", symbol),
		slog.Int("bars", len(s.Bars)),
		slog.Int("ticks", len(s.Ticks)))

	return s, nil
}
