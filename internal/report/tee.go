package report

import (
	"log/slog"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/position"
)

// Tee feeds the session engine's output to the JSON builder and, when
// configured, the persistent recorder. Recorder failures are logged, not
// fatal: losing a database row must not abort a deterministic run.
type Tee struct {
	log      *slog.Logger
	builder  *JsonReportBuilder
	recorder Recorder
}

func NewTee(log *slog.Logger, builder *JsonReportBuilder, recorder Recorder) *Tee {
	return &Tee{log: log, builder: builder, recorder: recorder}
}

func (t *Tee) SubmitTrade(rec *position.TradeRecord) {
	t.builder.SubmitTrade(rec)
	if err := t.recorder.RecordTrade(rec); err != nil {
		t.log.Error("failed to record trade", "symbol", rec.Symbol, "error", err)
	}
}

func (t *Tee) SubmitDiagnostic(symbol string, d breakout.Diagnostic) {
	t.builder.SubmitDiagnostic(symbol, d)
	if err := t.recorder.RecordDiagnostic(symbol, d); err != nil {
		t.log.Error("failed to record diagnostic", "symbol", symbol, "error", err)
	}
}
