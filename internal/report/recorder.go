package report

import (
	"database/sql"
	"fmt"
	"log/slog"
	"sync"

	"github.com/gamma-omg/breakout-backtest/internal/breakout"
	"github.com/gamma-omg/breakout-backtest/internal/position"
	_ "modernc.org/sqlite"
)

// Recorder persists session results for later analysis.
type Recorder interface {
	RecordTrade(rec *position.TradeRecord) error
	RecordDiagnostic(symbol string, d breakout.Diagnostic) error
	Close() error
}

// NoopRecorder is used when no database path is configured.
type NoopRecorder struct{}

func (NoopRecorder) RecordTrade(*position.TradeRecord) error            { return nil }
func (NoopRecorder) RecordDiagnostic(string, breakout.Diagnostic) error { return nil }
func (NoopRecorder) Close() error                                       { return nil }

// SQLiteRecorder writes trades and rejected-pivot diagnostics to a SQLite
// database.
type SQLiteRecorder struct {
	log *slog.Logger
	db  *sql.DB
	mu  sync.Mutex
}

func NewSQLiteRecorder(log *slog.Logger, dbPath string) (*SQLiteRecorder, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	r := &SQLiteRecorder{log: log, db: db}
	if err := r.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	log.Info("sqlite recorder opened", slog.String("path", dbPath))
	return r, nil
}

func (r *SQLiteRecorder) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS trades (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol        TEXT NOT NULL,
			side          TEXT NOT NULL,
			entry_path    TEXT NOT NULL,
			entry_time    INTEGER NOT NULL,
			exit_time     INTEGER NOT NULL,
			entry_price   TEXT NOT NULL,
			exit_price    TEXT NOT NULL,
			initial_stop  TEXT NOT NULL,
			qty           TEXT NOT NULL,
			exit_reason   TEXT NOT NULL,
			partials      INTEGER NOT NULL,
			pnl           TEXT NOT NULL,
			r_multiple    REAL NOT NULL,
			notes         TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS rejected_pivots (
			id        INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol    TEXT NOT NULL,
			state     TEXT NOT NULL,
			reject    TEXT,
			attempts  INTEGER NOT NULL
		)`,
	}

	for _, s := range stmts {
		if _, err := r.db.Exec(s); err != nil {
			return err
		}
	}

	return nil
}

func (r *SQLiteRecorder) RecordTrade(rec *position.TradeRecord) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	notes := ""
	for i, n := range rec.Notes {
		if i > 0 {
			notes += "; "
		}
		notes += n
	}

	_, err := r.db.Exec(`INSERT INTO trades
		(symbol, side, entry_path, entry_time, exit_time, entry_price, exit_price,
		 initial_stop, qty, exit_reason, partials, pnl, r_multiple, notes)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.Symbol, rec.Side.String(), string(rec.Path),
		rec.EntryTime.Unix(), rec.ExitTime.Unix(),
		rec.EntryPrice.String(), rec.ExitPrice.String(),
		rec.InitialStop.String(), rec.Qty.String(),
		string(rec.ExitReason), len(rec.Partials),
		rec.PnL.String(), rec.RMultiple, notes)
	if err != nil {
		return fmt.Errorf("insert trade: %w", err)
	}

	return nil
}

func (r *SQLiteRecorder) RecordDiagnostic(symbol string, d breakout.Diagnostic) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, err := r.db.Exec(`INSERT INTO rejected_pivots (symbol, state, reject, attempts)
		VALUES (?, ?, ?, ?)`,
		symbol, d.State.String(), d.Reject, d.Attempts)
	if err != nil {
		return fmt.Errorf("insert diagnostic: %w", err)
	}

	return nil
}

func (r *SQLiteRecorder) Close() error {
	return r.db.Close()
}
