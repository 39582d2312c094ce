package report

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/position"
	"github.com/shopspring/decimal"
)

type JsonReportBuilder struct {
	log    *slog.Logger
	report JsonReport
	pnl    decimal.Decimal
	totalR float64
	mu     sync.Mutex
}

type JsonReport struct {
	TotalPnL string                    `json:"total_pnl,omitempty"`
	TotalR   float64                   `json:"total_r,omitempty"`
	Wins     int                       `json:"wins"`
	Losses   int                       `json:"losses"`
	WinRate  float64                   `json:"win_rate"`
	Trades   map[string][]JsonTrade    `json:"trades,omitempty"`
	Rejected map[string]JsonDiagEntry  `json:"rejected,omitempty"`
}

type JsonTrade struct {
	Side      string        `json:"side"`
	Path      string        `json:"path"`
	EntryTime time.Time     `json:"entry_time,omitzero"`
	ExitTime  time.Time     `json:"exit_time,omitzero"`
	Entry     string        `json:"entry"`
	Exit      string        `json:"exit"`
	Stop      string        `json:"initial_stop"`
	Reason    string        `json:"exit_reason"`
	Partials  []JsonPartial `json:"partials,omitempty"`
	PnL       string        `json:"pnl"`
	R         float64       `json:"r"`
	Notes     []string      `json:"notes,omitempty"`
}

type JsonPartial struct {
	Fraction string    `json:"fraction"`
	Price    string    `json:"price"`
	Time     time.Time `json:"time,omitzero"`
	Reason   string    `json:"reason"`
}

type JsonDiagEntry struct {
	State    string `json:"state"`
	Reject   string `json:"reject,omitempty"`
	Attempts int    `json:"attempts"`
}

func NewJsonReportBuilder(log *slog.Logger) *JsonReportBuilder {
	return &JsonReportBuilder{
		log: log,
		report: JsonReport{
			Trades:   map[string][]JsonTrade{},
			Rejected: map[string]JsonDiagEntry{},
		},
	}
}

func (r *JsonReportBuilder) SubmitTrade(rec *position.TradeRecord) {
	r.mu.Lock()
	defer r.mu.Unlock()

	t := JsonTrade{
		Side:      rec.Side.String(),
		Path:      string(rec.Path),
		EntryTime: rec.EntryTime,
		ExitTime:  rec.ExitTime,
		Entry:     rec.EntryPrice.String(),
		Exit:      rec.ExitPrice.String(),
		Stop:      rec.InitialStop.String(),
		Reason:    string(rec.ExitReason),
		PnL:       rec.PnL.String(),
		R:         rec.RMultiple,
		Notes:     rec.Notes,
	}
	for _, p := range rec.Partials {
		t.Partials = append(t.Partials, JsonPartial{
			Fraction: p.Fraction.String(),
			Price:    p.Price.String(),
			Time:     p.Time,
			Reason:   p.Reason,
		})
	}
	r.report.Trades[rec.Symbol] = append(r.report.Trades[rec.Symbol], t)

	r.pnl = r.pnl.Add(rec.PnL)
	r.totalR += rec.RMultiple
	if rec.PnL.IsPositive() {
		r.report.Wins++
	} else {
		r.report.Losses++
	}

	r.log.Info("trade recorded",
		slog.String("symbol", rec.Symbol),
		slog.String("reason", string(rec.ExitReason)),
		slog.String("pnl", rec.PnL.String()),
		slog.Float64("r", rec.RMultiple),
		slog.Time("entry_time", rec.EntryTime),
		slog.Time("exit_time", rec.ExitTime))
}

func (r *JsonReportBuilder) SubmitDiagnostic(symbol string, d breakout.Diagnostic) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.report.Rejected[symbol] = JsonDiagEntry{
		State:    d.State.String(),
		Reject:   d.Reject,
		Attempts: d.Attempts,
	}
}

func (r *JsonReportBuilder) Write(w io.Writer) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.pnl.IsZero() {
		r.report.TotalPnL = r.pnl.String()
		r.report.TotalR = r.totalR
	}
	if n := r.report.Wins + r.report.Losses; n > 0 {
		r.report.WinRate = float64(r.report.Wins) / float64(n)
	}

	e := json.NewEncoder(w)
	e.SetIndent("", "  ")
	if err := e.Encode(r.report); err != nil {
		return fmt.Errorf("failed to write trading report: %w", err)
	}

	return nil
}
