package market

import (
	"errors"
	"fmt"
)

// Asset keeps a rolling window of received bars for one symbol. Indicators
// read trailing slices from it; the session engine is the only writer.
type Asset struct {
	Symbol string
	bars   []Bar
	head   int
	count  int
}

func NewAsset(symbol string, bufSize int) *Asset {
	return &Asset{
		Symbol: symbol,
		bars:   make([]Bar, bufSize),
		head:   -1,
	}
}

func NewAssetWithBars(symbol string, bars []Bar) *Asset {
	return &Asset{
		Symbol: symbol,
		bars:   bars,
		head:   len(bars) - 1,
		count:  len(bars),
	}
}

func (a *Asset) Receive(bar Bar) {
	a.head = (a.head + 1) % len(a.bars)
	a.bars[a.head] = bar
	if a.count < len(a.bars) {
		a.count++
	}
}

// GetBars returns the most recent count bars in chronological order.
func (a *Asset) GetBars(count int) ([]Bar, error) {
	if count <= 0 {
		return nil, fmt.Errorf("invalid argument: %d", count)
	}

	if count > len(a.bars) {
		return nil, errors.New("requested bars count is greater than asset buffer capacity")
	}

	if count > a.count {
		return nil, errors.New("insufficient data")
	}

	s := (a.head - count + 1 + len(a.bars)) % len(a.bars)
	if s <= a.head {
		out := make([]Bar, count)
		copy(out, a.bars[s:a.head+1])
		return out, nil
	}

	return append(append([]Bar{}, a.bars[s:]...), a.bars[:a.head+1]...), nil
}

func (a *Asset) GetLastBar() (Bar, error) {
	if a.count == 0 {
		return Bar{}, errors.New("insufficient data")
	}

	return a.bars[a.head], nil
}

func (a *Asset) HasBars(count int) bool {
	return a.count >= count
}
