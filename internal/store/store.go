// Package store implements the persistent market-data store.
//
// The store is a single sqlite database inside a data directory. Opening it
// creates the schema if absent; opening the same directory twice is safe and
// leaves existing rows untouched. Quote history is append-only.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"
)

// DBFileName is the database file created inside the store directory.
const DBFileName = "marketdata.db"

// SchemaVersion is recorded in data_metadata on every migrate.
const SchemaVersion = "1"

// Metadata keys written by the manager on lifecycle events.
const (
	MetaSchemaVersion = "schema_version"
	MetaLastIngestTS  = "last_ingest_ts"
	MetaSessionID     = "session_id"
	MetaLastStartTS   = "last_start_ts"
	MetaLastStopTS    = "last_stop_ts"
)

// QuoteRow is one persisted quote observation.
type QuoteRow struct {
	Symbol       string
	Timestamp    int64 // ms since epoch
	Last         float64
	Bid          float64
	Ask          float64
	High         float64
	Low          float64
	NetChange    float64
	NetChangePct float64
	Volume       int64
	CreatedAt    string
}

// Store wraps the sqlite handle. One Store per data directory; concurrent
// writers are serialized through the single *sql.DB plus sqlite busy_timeout.
type Store struct {
	db  *sql.DB
	dir string
}

// Open opens (creating if necessary) the store under dir and ensures the
// schema exists. Idempotent: a second Open against the same directory sees
// the same tables and data.
func Open(dir string) (*Store, error) {
	if dir == "" {
		dir = "data"
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create store dir: %w", err)
	}

	db, err := sql.Open("sqlite", filepath.Join(dir, DBFileName))
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode=WAL;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma wal: %w", err)
	}
	if _, err := db.Exec("PRAGMA busy_timeout=3000;"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("pragma busy_timeout: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	s := &Store{db: db, dir: dir}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// Dir returns the store's data directory.
func (s *Store) Dir() string {
	return s.dir
}

// Close releases the database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) migrate() error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS equity_quotes (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			symbol TEXT NOT NULL,
			ts INTEGER NOT NULL,
			last REAL,
			bid REAL,
			ask REAL,
			high REAL,
			low REAL,
			net_change REAL,
			net_change_pct REAL,
			volume INTEGER,
			created_at TEXT,
			UNIQUE(symbol, ts)
		);`,
		`CREATE INDEX IF NOT EXISTS idx_equity_quotes_symbol_ts ON equity_quotes(symbol, ts);`,
		`CREATE TABLE IF NOT EXISTS data_metadata (
			key TEXT PRIMARY KEY,
			value TEXT,
			updated_at TEXT
		);`,
		`CREATE TABLE IF NOT EXISTS watchlist (
			symbol TEXT PRIMARY KEY,
			added_at TEXT
		);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate: %w", err)
		}
	}
	if err := s.SetMetadata(context.Background(), MetaSchemaVersion, SchemaVersion); err != nil {
		return err
	}
	return nil
}

// InsertQuotes persists all rows in one transaction: either every row in the
// batch commits or none do. A duplicate (symbol, ts) replaces the earlier
// row (last write wins).
func (s *Store) InsertQuotes(ctx context.Context, rows []QuoteRow) error {
	if len(rows) == 0 {
		return nil
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	now := time.Now().Format(time.RFC3339)
	for _, r := range rows {
		createdAt := r.CreatedAt
		if createdAt == "" {
			createdAt = now
		}
		_, err := tx.ExecContext(ctx,
			`INSERT INTO equity_quotes (symbol, ts, last, bid, ask, high, low, net_change, net_change_pct, volume, created_at)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			 ON CONFLICT(symbol, ts) DO UPDATE SET
				last=excluded.last, bid=excluded.bid, ask=excluded.ask,
				high=excluded.high, low=excluded.low,
				net_change=excluded.net_change, net_change_pct=excluded.net_change_pct,
				volume=excluded.volume, created_at=excluded.created_at`,
			r.Symbol, r.Timestamp, r.Last, r.Bid, r.Ask, r.High, r.Low,
			r.NetChange, r.NetChangePct, r.Volume, createdAt,
		)
		if err != nil {
			return fmt.Errorf("insert quote %s@%d: %w", r.Symbol, r.Timestamp, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit quotes: %w", err)
	}
	return nil
}

// QueryQuotes returns up to limit rows for symbol, newest first.
func (s *Store) QueryQuotes(ctx context.Context, symbol string, limit int) ([]QuoteRow, error) {
	if limit <= 0 {
		limit = 200
	}
	if limit > 1000 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT symbol, ts, last, bid, ask, high, low, net_change, net_change_pct, volume, created_at
		 FROM equity_quotes WHERE symbol = ?
		 ORDER BY ts DESC LIMIT ?`,
		symbol, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query quotes: %w", err)
	}
	defer rows.Close()

	var out []QuoteRow
	for rows.Next() {
		var r QuoteRow
		if err := rows.Scan(&r.Symbol, &r.Timestamp, &r.Last, &r.Bid, &r.Ask, &r.High, &r.Low,
			&r.NetChange, &r.NetChangePct, &r.Volume, &r.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan quote: %w", err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows quotes: %w", err)
	}
	return out, nil
}

// LatestQuote returns the most recent row for symbol, or sql.ErrNoRows.
func (s *Store) LatestQuote(ctx context.Context, symbol string) (QuoteRow, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT symbol, ts, last, bid, ask, high, low, net_change, net_change_pct, volume, created_at
		 FROM equity_quotes WHERE symbol = ?
		 ORDER BY ts DESC LIMIT 1`,
		symbol,
	)
	var r QuoteRow
	err := row.Scan(&r.Symbol, &r.Timestamp, &r.Last, &r.Bid, &r.Ask, &r.High, &r.Low,
		&r.NetChange, &r.NetChangePct, &r.Volume, &r.CreatedAt)
	if err != nil {
		return QuoteRow{}, err
	}
	return r, nil
}

// CountQuotes returns the number of stored observations for symbol. A symbol
// of "" counts all rows.
func (s *Store) CountQuotes(ctx context.Context, symbol string) (int64, error) {
	var (
		row *sql.Row
	)
	if symbol == "" {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM equity_quotes`)
	} else {
		row = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM equity_quotes WHERE symbol = ?`, symbol)
	}
	var n int64
	if err := row.Scan(&n); err != nil {
		return 0, fmt.Errorf("count quotes: %w", err)
	}
	return n, nil
}

// AddWatchlistSymbol inserts symbol into the watchlist. Idempotent.
func (s *Store) AddWatchlistSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO watchlist (symbol, added_at) VALUES (?, ?)
		 ON CONFLICT(symbol) DO NOTHING`,
		symbol, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("add watchlist symbol: %w", err)
	}
	return nil
}

// RemoveWatchlistSymbol deletes symbol from the watchlist. Removing an
// absent symbol is a no-op.
func (s *Store) RemoveWatchlistSymbol(ctx context.Context, symbol string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM watchlist WHERE symbol = ?`, symbol)
	if err != nil {
		return fmt.Errorf("remove watchlist symbol: %w", err)
	}
	return nil
}

// Watchlist returns all watched symbols, sorted.
func (s *Store) Watchlist(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT symbol FROM watchlist ORDER BY symbol`)
	if err != nil {
		return nil, fmt.Errorf("query watchlist: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var sym string
		if err := rows.Scan(&sym); err != nil {
			return nil, fmt.Errorf("scan watchlist: %w", err)
		}
		out = append(out, sym)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows watchlist: %w", err)
	}
	return out, nil
}

// SetMetadata upserts one key/value pair in data_metadata.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO data_metadata (key, value, updated_at) VALUES (?, ?, ?)
		 ON CONFLICT(key) DO UPDATE SET value=excluded.value, updated_at=excluded.updated_at`,
		key, value, time.Now().Format(time.RFC3339),
	)
	if err != nil {
		return fmt.Errorf("set metadata %s: %w", key, err)
	}
	return nil
}

// GetMetadata returns the value for key, or "" if the key is absent.
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	row := s.db.QueryRowContext(ctx, `SELECT value FROM data_metadata WHERE key = ?`, key)
	var v string
	if err := row.Scan(&v); err != nil {
		if err == sql.ErrNoRows {
			return "", nil
		}
		return "", fmt.Errorf("get metadata %s: %w", key, err)
	}
	return v, nil
}

// TableExists reports whether a table is present in the schema.
func (s *Store) TableExists(ctx context.Context, name string) (bool, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name = ?`, name)
	var n int
	if err := row.Scan(&n); err != nil {
		return false, fmt.Errorf("table exists: %w", err)
	}
	return n > 0, nil
}
