package feed

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/market"
)

func writeFixture(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestReadBarsCSV(t *testing.T) {
	path := writeFixture(t, "bars.csv", `timestamp,open,high,low,close,volume
1748858400,10.00,10.10,9.95,10.05,1200
1748858460,10.05,10.20,10.04,10.18,900
`)

	bars, err := ReadBarsCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 2)

	assert.True(t, bars[0].Time.Equal(time.Unix(1748858400, 0)))
	assert.True(t, bars[0].Open.Equal(decimal.NewFromFloat(10.00)))
	assert.True(t, bars[0].Close.Equal(decimal.NewFromFloat(10.05)))
	assert.True(t, bars[0].Volume.Equal(decimal.NewFromInt(1200)))
	assert.True(t, bars[0].BuyVolume.IsZero())
	assert.True(t, bars[1].High.Equal(decimal.NewFromFloat(10.20)))
}

func TestReadBarsCSV_volumeSplit(t *testing.T) {
	path := writeFixture(t, "bars.csv", `timestamp,open,high,low,close,volume,buy_volume,sell_volume
1748858400,10.00,10.10,9.95,10.05,1200,700,500
`)

	bars, err := ReadBarsCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 1)
	assert.True(t, bars[0].BuyVolume.Equal(decimal.NewFromInt(700)))
	assert.True(t, bars[0].SellVolume.Equal(decimal.NewFromInt(500)))
}

func TestReadBarsCSV_malformed(t *testing.T) {
	cases := []string{
		"timestamp,open,high,low,close,volume\nnot-a-time,10,10,10,10,100\n",
		"timestamp,open,high,low,close,volume\n1748858400,ten,10,10,10,100\n",
		"timestamp,open,high,low,close,volume\n1748858400,10,10\n",
	}

	for _, content := range cases {
		path := writeFixture(t, "bars.csv", content)
		_, err := ReadBarsCSV(path)
		assert.Error(t, err)
	}
}

func TestReadBarsCSV_missingFile(t *testing.T) {
	_, err := ReadBarsCSV(filepath.Join(t.TempDir(), "absent.csv"))
	assert.Error(t, err)
}

func TestReadTicksCSV(t *testing.T) {
	path := writeFixture(t, "ticks.csv", `timestamp,price,size
1748858400.25,10.01,100
1748858400.75,10.02,50
`)

	ticks, err := ReadTicksCSV(path)
	require.NoError(t, err)
	require.Len(t, ticks, 2)

	assert.True(t, ticks[0].Time.Equal(time.Unix(1748858400, 250000000)))
	assert.True(t, ticks[0].Price.Equal(decimal.NewFromFloat(10.01)))
	assert.True(t, ticks[1].Size.Equal(decimal.NewFromInt(50)))
}

func TestReadBarsCSV_exchangeTime(t *testing.T) {
	// 2025-06-02 19:55 UTC is 15:55 in New York
	path := writeFixture(t, "bars.csv", `timestamp,open,high,low,close,volume
1748894100,10.00,10.10,9.95,10.05,1200
`)

	bars, err := ReadBarsCSV(path)
	require.NoError(t, err)
	require.Len(t, bars, 1)

	h, m, _ := bars[0].Time.Clock()
	assert.Equal(t, 15, h)
	assert.Equal(t, 55, m)
	assert.True(t, config.ClockTime{Hour: 15, Minute: 55}.Reached(bars[0].Time))
	assert.False(t, config.ClockTime{Hour: 16, Minute: 0}.Reached(bars[0].Time))
}

func TestCache_roundtrip(t *testing.T) {
	cache := &Cache{Dir: filepath.Join(t.TempDir(), "cache")}

	assert.False(t, cache.Has("AAPL", "2025-06-02"))

	bars := []market.Bar{{
		Time:   time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC),
		Open:   decimal.NewFromFloat(10.00),
		High:   decimal.NewFromFloat(10.10),
		Low:    decimal.NewFromFloat(9.95),
		Close:  decimal.NewFromFloat(10.05),
		Volume: decimal.NewFromInt(1200),
	}}
	ticks := []market.Tick{{
		Time:  time.Date(2025, 6, 2, 13, 30, 0, 250000000, time.UTC),
		Price: decimal.NewFromFloat(10.01),
		Size:  decimal.NewFromInt(100),
	}}

	require.NoError(t, cache.Save("AAPL", "2025-06-02", bars, ticks))
	assert.True(t, cache.Has("AAPL", "2025-06-02"))

	gotBars, gotTicks, err := cache.Load("AAPL", "2025-06-02")
	require.NoError(t, err)
	require.Len(t, gotBars, 1)
	require.Len(t, gotTicks, 1)

	assert.True(t, gotBars[0].Close.Equal(bars[0].Close))
	assert.True(t, gotBars[0].Time.Equal(bars[0].Time))
	assert.True(t, gotTicks[0].Price.Equal(ticks[0].Price))
	assert.True(t, gotTicks[0].Time.Equal(ticks[0].Time))
}

func TestResample(t *testing.T) {
	start := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)
	mk := func(offset time.Duration, o, h, l, c, v float64) market.Bar {
		return market.Bar{
			Time:   start.Add(offset),
			Open:   decimal.NewFromFloat(o),
			High:   decimal.NewFromFloat(h),
			Low:    decimal.NewFromFloat(l),
			Close:  decimal.NewFromFloat(c),
			Volume: decimal.NewFromFloat(v),
		}
	}

	fine := []market.Bar{
		mk(0, 10.00, 10.05, 9.98, 10.02, 100),
		mk(20*time.Second, 10.02, 10.10, 10.01, 10.08, 150),
		mk(40*time.Second, 10.08, 10.09, 10.03, 10.04, 50),
		mk(time.Minute, 10.04, 10.06, 10.00, 10.01, 200),
	}

	out := Resample(fine, time.Minute)
	require.Len(t, out, 2)

	assert.Equal(t, start, out[0].Time)
	assert.True(t, out[0].Open.Equal(decimal.NewFromFloat(10.00)))
	assert.True(t, out[0].High.Equal(decimal.NewFromFloat(10.10)))
	assert.True(t, out[0].Low.Equal(decimal.NewFromFloat(9.98)))
	assert.True(t, out[0].Close.Equal(decimal.NewFromFloat(10.04)))
	assert.True(t, out[0].Volume.Equal(decimal.NewFromInt(300)))
	assert.True(t, out[1].Close.Equal(decimal.NewFromFloat(10.01)))
}

func TestResample_passThrough(t *testing.T) {
	start := time.Date(2025, 6, 2, 13, 30, 0, 0, time.UTC)
	coarse := []market.Bar{
		{Time: start, Close: decimal.NewFromFloat(10)},
		{Time: start.Add(time.Minute), Close: decimal.NewFromFloat(11)},
	}

	assert.Equal(t, coarse, Resample(coarse, time.Minute))
	assert.Len(t, Resample(coarse[:1], time.Minute), 1)
}

func TestCache_loadMissing(t *testing.T) {
	cache := &Cache{Dir: t.TempDir()}

	_, _, err := cache.Load("AAPL", "2025-06-02")
	assert.Error(t, err)
}
