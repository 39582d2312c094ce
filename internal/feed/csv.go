// Package feed materializes session data for the engine: CSV bar and tick
// files, and the JSON disk cache the fetch command fills. The core performs
// no I/O; everything here runs before the first simulated bar.
package feed

import (
	"bufio"
	"encoding/csv"
	"fmt"
	"io"
	"os"
	"strconv"
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/shopspring/decimal"
)

// ReadBarsCSV parses a bar file with header
// timestamp,open,high,low,close,volume[,buy_volume,sell_volume].
// The buy/sell split columns are optional. Timestamps are Unix seconds and
// come out in the exchange timezone, which the session-clock cutoffs assume.
func ReadBarsCSV(path string) ([]market.Bar, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open bars file: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(bufio.NewReader(f))
	rdr.FieldsPerRecord = -1
	if _, err := rdr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var bars []market.Bar
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read bar data: %w", err)
		}
		if len(rec) < 6 {
			return nil, fmt.Errorf("bar row has %d fields, want at least 6", len(rec))
		}

		b, err := parseBar(rec)
		if err != nil {
			return nil, err
		}
		bars = append(bars, b)
	}

	return bars, nil
}

func parseBar(rec []string) (market.Bar, error) {
	timestamp, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return market.Bar{}, fmt.Errorf("failed to parse bar time: %w", err)
	}

	fields := make([]decimal.Decimal, len(rec)-1)
	names := []string{"open", "high", "low", "close", "volume", "buy_volume", "sell_volume"}
	for i, s := range rec[1:] {
		if i >= len(names) {
			break
		}
		v, err := decimal.NewFromString(s)
		if err != nil {
			return market.Bar{}, fmt.Errorf("failed to read %s: %w", names[i], err)
		}
		fields[i] = v
	}

	b := market.Bar{
		Time:   time.Unix(timestamp, 0).In(market.ExchangeTZ),
		Open:   fields[0],
		High:   fields[1],
		Low:    fields[2],
		Close:  fields[3],
		Volume: fields[4],
	}
	if len(fields) >= 7 {
		b.BuyVolume = fields[5]
		b.SellVolume = fields[6]
	}

	return b, nil
}

// ReadTicksCSV parses a tick file with header timestamp,price,size, where
// timestamp carries fractional seconds as a float.
func ReadTicksCSV(path string) ([]market.Tick, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("unable to open ticks file: %w", err)
	}
	defer f.Close()

	rdr := csv.NewReader(bufio.NewReader(f))
	if _, err := rdr.Read(); err != nil {
		return nil, fmt.Errorf("failed to read csv header: %w", err)
	}

	var ticks []market.Tick
	for {
		rec, err := rdr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read tick data: %w", err)
		}

		ts, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("failed to parse tick time: %w", err)
		}
		price, err := decimal.NewFromString(rec[1])
		if err != nil {
			return nil, fmt.Errorf("failed to read tick price: %w", err)
		}
		size, err := decimal.NewFromString(rec[2])
		if err != nil {
			return nil, fmt.Errorf("failed to read tick size: %w", err)
		}

		sec := int64(ts)
		nsec := int64((ts - float64(sec)) * float64(time.Second))
		ticks = append(ticks, market.Tick{
			Time:  time.Unix(sec, nsec).In(market.ExchangeTZ),
			Price: price,
			Size:  size,
		})
	}

	return ticks, nil
}
