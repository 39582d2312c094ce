package feed

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

// Cache is the on-disk JSON store the fetch command writes and the run
// command reads, one file per (symbol, session date).
type Cache struct {
	Dir string
}

type cachedBar struct {
	Time       time.Time       `json:"t"`
	Open       decimal.Decimal `json:"o"`
	High       decimal.Decimal `json:"h"`
	Low        decimal.Decimal `json:"l"`
	Close      decimal.Decimal `json:"c"`
	Volume     decimal.Decimal `json:"v"`
	BuyVolume  decimal.Decimal `json:"bv,omitempty"`
	SellVolume decimal.Decimal `json:"sv,omitempty"`
}

type cachedTick struct {
	Time  time.Time       `json:"t"`
	Price decimal.Decimal `json:"p"`
	Size  decimal.Decimal `json:"s"`
}

type cachedSession struct {
	Symbol string       `json:"symbol"`
	Date   string       `json:"date"`
	Bars   []cachedBar  `json:"bars"`
	Ticks  []cachedTick `json:"ticks"`
}

func (c *Cache) path(symbol, date string) string {
	return filepath.Join(c.Dir, fmt.Sprintf("%s_%s.json", symbol, date))
}

// Has reports whether a cached session exists for the symbol and date.
func (c *Cache) Has(symbol, date string) bool {
	_, err := os.Stat(c.path(symbol, date))
	return err == nil
}

func (c *Cache) Save(symbol, date string, bars []market.Bar, ticks []market.Tick) error {
	cs := cachedSession{Symbol: symbol, Date: date}
	for _, b := range bars {
		cs.Bars = append(cs.Bars, cachedBar{b.Time, b.Open, b.High, b.Low, b.Close, b.Volume, b.BuyVolume, b.SellVolume})
	}
	for _, t := range ticks {
		cs.Ticks = append(cs.Ticks, cachedTick{t.Time, t.Price, t.Size})
	}

	if err := os.MkdirAll(c.Dir, 0o755); err != nil {
		return fmt.Errorf("failed to create cache dir: %w", err)
	}

	data, err := json.Marshal(cs)
	if err != nil {
		return fmt.Errorf("failed to encode cached session: %w", err)
	}

	if err := os.WriteFile(c.path(symbol, date), data, 0o644); err != nil {
		return fmt.Errorf("failed to write cached session: %w", err)
	}

	return nil
}

func (c *Cache) Load(symbol, date string) ([]market.Bar, []market.Tick, error) {
	data, err := os.ReadFile(c.path(symbol, date))
	if err != nil {
		return nil, nil, fmt.Errorf("failed to read cached session: %w", err)
	}

	var cs cachedSession
	if err := json.Unmarshal(data, &cs); err != nil {
		return nil, nil, fmt.Errorf("failed to decode cached session: %w", err)
	}

	bars := make([]market.Bar, len(cs.Bars))
	for i, b := range cs.Bars {
		bars[i] = market.Bar{
			Time: b.Time, Open: b.Open, High: b.High, Low: b.Low,
			Close: b.Close, Volume: b.Volume,
			BuyVolume: b.BuyVolume, SellVolume: b.SellVolume,
		}
	}

	ticks := make([]market.Tick, len(cs.Ticks))
	for i, t := range cs.Ticks {
		ticks[i] = market.Tick{Time: t.Time, Price: t.Price, Size: t.Size}
	}

	return bars, ticks, nil
}
