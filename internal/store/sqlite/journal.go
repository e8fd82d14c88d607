package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	"github.com/estebanc28/crypto-trading-bot-binance/internal/model"

	_ "github.com/mattn/go-sqlite3"
)

// JournalConfig configures the SQLite trade journal.
type JournalConfig struct {
	DBPath string // path to SQLite database file, e.g. "data/trades.db"
}

// Journal persists closed trades to SQLite. It is the durable record of
// everything the bot has done; Redis publishing is best-effort on top.
// Implements model.TradeSink.
type Journal struct {
	db  *sql.DB
	log *slog.Logger
}

// DB returns the underlying sql.DB for health checks.
func (j *Journal) DB() *sql.DB { return j.db }

// NewJournal opens (or creates) the journal database with WAL mode and schema.
func NewJournal(cfg JournalConfig, log *slog.Logger) (*Journal, error) {
	db, err := sql.Open("sqlite3", cfg.DBPath+"?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("sqlite open: %w", err)
	}

	// Single writer: the position manager settles one trade at a time.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if err := createSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlite schema: %w", err)
	}

	log.Info("trade journal opened", "path", cfg.DBPath)
	return &Journal{db: db, log: log}, nil
}

func createSchema(db *sql.DB) error {
	_, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS trades (
			id             INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol         TEXT    NOT NULL,
			entry_price    REAL    NOT NULL,
			exit_price     REAL    NOT NULL,
			quantity       REAL    NOT NULL,
			entry_ts       INTEGER NOT NULL,
			exit_ts        INTEGER NOT NULL,
			pnl            REAL    NOT NULL,
			exit_reason    TEXT    NOT NULL,
			entry_order_id TEXT    NOT NULL,
			exit_order_id  TEXT    NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_trades_symbol_exit ON trades(symbol, exit_ts);
	`)
	return err
}

// Record inserts a closed trade.
func (j *Journal) Record(ctx context.Context, tr model.TradeRecord) error {
	_, err := j.db.ExecContext(ctx, `
		INSERT INTO trades
			(symbol, entry_price, exit_price, quantity, entry_ts, exit_ts, pnl, exit_reason, entry_order_id, exit_order_id)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		tr.Symbol, tr.EntryPrice, tr.ExitPrice, tr.Quantity,
		tr.EntryTime.UnixMilli(), tr.ExitTime.UnixMilli(),
		tr.PnL, tr.ExitReason, tr.EntryOrderID, tr.ExitOrderID,
	)
	if err != nil {
		return fmt.Errorf("sqlite insert trade: %w", err)
	}
	return nil
}

// Recent returns the n most recently closed trades for symbol, newest first.
func (j *Journal) Recent(ctx context.Context, symbol string, n int) ([]model.TradeRecord, error) {
	rows, err := j.db.QueryContext(ctx, `
		SELECT symbol, entry_price, exit_price, quantity, entry_ts, exit_ts, pnl, exit_reason, entry_order_id, exit_order_id
		FROM trades WHERE symbol = ? ORDER BY exit_ts DESC, id DESC LIMIT ?`, symbol, n)
	if err != nil {
		return nil, fmt.Errorf("sqlite query trades: %w", err)
	}
	defer rows.Close()

	var out []model.TradeRecord
	for rows.Next() {
		var tr model.TradeRecord
		var entryMs, exitMs int64
		if err := rows.Scan(&tr.Symbol, &tr.EntryPrice, &tr.ExitPrice, &tr.Quantity,
			&entryMs, &exitMs, &tr.PnL, &tr.ExitReason, &tr.EntryOrderID, &tr.ExitOrderID); err != nil {
			return nil, fmt.Errorf("sqlite scan trade: %w", err)
		}
		tr.EntryTime = msToTime(entryMs)
		tr.ExitTime = msToTime(exitMs)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// TotalPnL returns the realized PnL across all recorded trades for symbol.
func (j *Journal) TotalPnL(ctx context.Context, symbol string) (float64, error) {
	var total sql.NullFloat64
	err := j.db.QueryRowContext(ctx,
		`SELECT SUM(pnl) FROM trades WHERE symbol = ?`, symbol).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("sqlite sum pnl: %w", err)
	}
	return total.Float64, nil
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}

func msToTime(ms int64) time.Time {
	return time.UnixMilli(ms).UTC()
}
