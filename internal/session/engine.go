// Package session runs the deterministic backtest: bars for every symbol
// advance bar-index-synchronously, so no symbol's exit logic ever reads
// another symbol's future data. All historical data is materialized before
// the engine starts; nothing in here blocks or retries.
package session

import (
	"fmt"
	"log/slog"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/config"
	"github.com/gamma-omg/breakout-backtest/internal/cvd"
	"github.com/gamma-omg/breakout-backtest/internal/indicator"
	"github.com/gamma-omg/breakout-backtest/internal/market"
	"github.com/gamma-omg/breakout-backtest/internal/position"
	"github.com/schollz/progressbar/v3"
	"github.com/shopspring/decimal"
)

// SymbolData is one symbol's fully materialized session: time-ordered,
// deduplicated bars and ticks from the data-acquisition collaborator.
type SymbolData struct {
	Bars  []market.Bar
	Ticks []market.Tick
}

type reportSink interface {
	SubmitTrade(rec *position.TradeRecord)
	SubmitDiagnostic(symbol string, d breakout.Diagnostic)
}

type symbolState struct {
	pivot   market.PivotSpec
	data    *SymbolData
	asset   *market.Asset
	delta   *cvd.Aggregator
	reading cvd.Reading
	pos     *position.Position
	tickIdx int
	prev    *market.Bar
}

type Engine struct {
	log    *slog.Logger
	cfg    *config.Config
	orch   *breakout.Orchestrator
	posman *position.Manager
	report reportSink
	states map[string]*symbolState
	order  []string
}

type Result struct {
	Trades      []*position.TradeRecord
	Diagnostics map[string]breakout.Diagnostic
}

func NewEngine(log *slog.Logger, cfg *config.Config, data map[string]*SymbolData, report reportSink) (*Engine, error) {
	e := &Engine{
		log:    log,
		cfg:    cfg,
		orch:   breakout.NewOrchestrator(log, cfg),
		posman: position.NewManager(log, cfg.Exits, cfg.Session.EODClose),
		report: report,
		states: make(map[string]*symbolState),
		order:  cfg.Symbols(),
	}

	for _, symbol := range e.order {
		sd, ok := data[symbol]
		if !ok || len(sd.Bars) == 0 {
			return nil, fmt.Errorf("no session data for armed symbol %s", symbol)
		}

		p := cfg.Pivots[symbol]
		side := market.SideLong
		if p.Side == "short" {
			side = market.SideShort
		}
		pivot := market.PivotSpec{
			Symbol: symbol,
			Level:  decimal.NewFromFloat(p.Level),
			Side:   side,
			Target: decimal.NewFromFloat(p.Target),
		}

		asset := market.NewAsset(symbol, cfg.Session.MarketBuffer)
		e.states[symbol] = &symbolState{
			pivot: pivot,
			data:  sd,
			asset: asset,
			delta: cvd.NewAggregator(cfg.Session.DeltaBucket.Std()),
		}
		e.orch.Arm(pivot, asset)
	}

	return e, nil
}

// Run processes the session and returns every finalized trade plus the final
// breakout state of each armed pivot that never produced one.
func (e *Engine) Run() (*Result, error) {
	maxBars := 0
	for _, st := range e.states {
		if n := len(st.data.Bars); n > maxBars {
			maxBars = n
		}
	}

	res := &Result{}
	bar := progressbar.Default(int64(maxBars), "simulating")

	for i := 0; i < maxBars; i++ {
		for _, symbol := range e.order {
			st := e.states[symbol]
			if i < len(st.data.Bars) {
				e.step(st, st.data.Bars[i], res)
			}
		}
		bar.Add(1)
	}

	e.finish(res)
	return res, nil
}

func (e *Engine) step(st *symbolState, b market.Bar, res *Result) {
	barEnd := b.Time.Add(e.cfg.Session.BarInterval.Std())
	for st.tickIdx < len(st.data.Ticks) && st.data.Ticks[st.tickIdx].Time.Before(barEnd) {
		st.delta.Ingest(st.data.Ticks[st.tickIdx])
		st.tickIdx++
	}

	// The open bucket now holds exactly the ticks up to this bar's close, so
	// the tracker sees the bar's own imbalance rather than the previous
	// bucket's.
	if r, ok := st.delta.Current(); ok {
		st.reading = r
	}

	// A missing bucket is not an error: the next bar is treated as
	// adjacent, but a gap under an open position goes on its audit trail.
	if st.prev != nil && b.Time.Sub(st.prev.Time) > e.cfg.Session.BarInterval.Std() {
		gap := fmt.Sprintf("data gap %s-%s",
			st.prev.Time.Format("15:04:05"), b.Time.Format("15:04:05"))
		if st.pos != nil {
			e.posman.Note(st.pos, gap)
		}
		e.log.Warn("bar gap", slog.String("symbol", st.pivot.Symbol), slog.String("gap", gap))
	}
	prev := b
	st.prev = &prev

	st.asset.Receive(b)

	if st.pos != nil {
		if rec := e.posman.OnBar(st.pos, b); rec != nil {
			st.pos = nil
			res.Trades = append(res.Trades, rec)
			e.report.SubmitTrade(rec)
		}
		return
	}

	v := e.orch.OnBar(st.pivot.Symbol, b, st.reading)
	if v.Decision != breakout.Enter {
		return
	}

	st.pos = e.posman.Open(st.pivot, v.Path, b, e.atr(st.asset), decimal.NewFromFloat(e.cfg.Session.Qty))
}

// finish liquidates positions the data stream ended on and collects the
// diagnostics for every pivot that never became a trade.
func (e *Engine) finish(res *Result) {
	for _, symbol := range e.order {
		st := e.states[symbol]
		if r, ok := st.delta.Flush(); ok {
			st.reading = r
		}

		if st.pos != nil {
			last := st.data.Bars[len(st.data.Bars)-1]
			rec := e.posman.ForceClose(st.pos, last, position.ReasonEOD)
			st.pos = nil
			res.Trades = append(res.Trades, rec)
			e.report.SubmitTrade(rec)
		}
	}

	res.Diagnostics = e.orch.Diagnostics()
	for symbol, d := range res.Diagnostics {
		e.report.SubmitDiagnostic(symbol, d)
	}
}

func (e *Engine) atr(asset *market.Asset) float64 {
	need := e.cfg.Tracker.ATRPeriod + 1
	if !asset.HasBars(need) {
		return 0
	}

	bars, err := asset.GetBars(need)
	if err != nil {
		return 0
	}

	return indicator.AverageTrueRange(bars, e.cfg.Tracker.ATRPeriod)
}
