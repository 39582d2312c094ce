package report

import (
	"errors"
	"fmt"
	"os"

	"github.com/gamma-omg/breakout-backtest/internal/cvd"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/gamma-omg/breakout-backtest/internal/position"
	"github.com/pplcc/plotext"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"
	"gonum.org/v1/plot/vg/vgimg"
)

// SessionPlot renders a two-panel diagnostic image: price with the pivot
// level and entry/exit markers on top, volume-delta ratio below.
type SessionPlot struct {
	plots   []*plot.Plot
	heights []float64
	w       int
	h       int
}

func NewSessionPlot(w, h int) *SessionPlot {
	return &SessionPlot{w: w, h: h}
}

func (s *SessionPlot) AddPricePanel(pivot market.PivotSpec, bars []market.Bar, trades []*position.TradeRecord) error {
	p := plot.New()
	p.Title.Text = pivot.Symbol
	p.Y.Label.Text = "price"

	closes := make(plotter.XYs, len(bars))
	for i, b := range bars {
		c, _ := b.Close.Float64()
		closes[i].X = float64(b.Time.Unix())
		closes[i].Y = c
	}

	line, err := plotter.NewLine(closes)
	if err != nil {
		return fmt.Errorf("failed to build price line: %w", err)
	}
	p.Add(line)

	level, _ := pivot.Level.Float64()
	p.Add(plotter.NewFunction(func(float64) float64 { return level }))

	var marks plotter.XYs
	for _, t := range trades {
		entry, _ := t.EntryPrice.Float64()
		exit, _ := t.ExitPrice.Float64()
		marks = append(marks,
			plotter.XY{X: float64(t.EntryTime.Unix()), Y: entry},
			plotter.XY{X: float64(t.ExitTime.Unix()), Y: exit})
	}
	if len(marks) > 0 {
		scatter, err := plotter.NewScatter(marks)
		if err != nil {
			return fmt.Errorf("failed to build trade markers: %w", err)
		}
		p.Add(scatter)
	}

	s.add(p, 0.7)
	return nil
}

func (s *SessionPlot) AddDeltaPanel(readings []cvd.Reading) error {
	p := plot.New()
	p.Y.Label.Text = "delta ratio"

	pts := make(plotter.XYs, len(readings))
	for i, r := range readings {
		pts[i].X = float64(r.Start.Unix())
		pts[i].Y = r.Ratio()
	}

	line, err := plotter.NewLine(pts)
	if err != nil {
		return fmt.Errorf("failed to build delta line: %w", err)
	}
	p.Add(line)

	s.add(p, 0.3)
	return nil
}

func (s *SessionPlot) add(p *plot.Plot, height float64) {
	s.plots = append(s.plots, p)
	s.heights = append(s.heights, height)
}

func (s *SessionPlot) Save(path string) (err error) {
	var axis []*plot.Axis
	for _, p := range s.plots {
		axis = append(axis, &p.X)
	}
	plotext.UniteAxisRanges(axis)

	tbl := plotext.Table{
		RowHeights: s.heights,
		ColWidths:  []float64{1},
	}

	var plots2d [][]*plot.Plot
	for _, p := range s.plots {
		plots2d = append(plots2d, []*plot.Plot{p})
	}

	h := 0.0
	for _, v := range s.heights {
		h += v * float64(s.h)
	}

	img := vgimg.New(vg.Points(float64(s.w)), vg.Points(h))
	dc := draw.New(img)

	canvases := tbl.Align(plots2d, dc)
	for i, p := range s.plots {
		p.Draw(canvases[i][0])
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create plot file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil {
			err = errors.Join(err, fmt.Errorf("failed to close plot file: %w", cerr))
		}
	}()

	png := vgimg.PngCanvas{Canvas: img}
	if _, err := png.WriteTo(f); err != nil {
		return fmt.Errorf("failed to write plot to file: %w", err)
	}

	return nil
}
