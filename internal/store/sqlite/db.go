// Package sqlite implements the auction, ledger, user and audit stores on an
// embedded SQLite database through sqlx. It backs single-node deployments
// and tests; PostgreSQL is the production store.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "modernc.org/sqlite" // pure-Go SQLite driver
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/alanyoungcy/bookauction/internal/domain"
)

const schema = `
CREATE TABLE IF NOT EXISTS users (
  id           TEXT PRIMARY KEY,
  display_name TEXT NOT NULL,
  role         TEXT NOT NULL CHECK (role IN ('buyer','publisher','admin')),
  token_hash   BLOB NOT NULL,
  created_at   INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS auctions (
  id               TEXT PRIMARY KEY,
  publisher_id     TEXT NOT NULL,
  title            TEXT NOT NULL,
  author           TEXT NOT NULL DEFAULT '',
  description      TEXT NOT NULL DEFAULT '',
  genre            TEXT NOT NULL DEFAULT '',
  condition        TEXT NOT NULL DEFAULT '',
  image_urls       TEXT NOT NULL DEFAULT '[]',
  base_price       INTEGER NOT NULL CHECK (base_price > 0),
  current_price    INTEGER NOT NULL DEFAULT 0,
  bid_count        INTEGER NOT NULL DEFAULT 0,
  last_bid_time    INTEGER,
  auction_start    INTEGER NOT NULL,
  auction_end      INTEGER NOT NULL,
  status           TEXT NOT NULL DEFAULT 'pending' CHECK (status IN ('pending','approved','rejected')),
  rejection_reason TEXT NOT NULL DEFAULT '',
  reviewer_id      TEXT NOT NULL DEFAULT '',
  reviewed_at      INTEGER,
  archived_at      INTEGER,
  created_at       INTEGER NOT NULL,
  updated_at       INTEGER NOT NULL,
  CHECK (auction_end > auction_start)
);

CREATE INDEX IF NOT EXISTS auctions_listing_idx ON auctions (status, auction_start, auction_end);

CREATE TABLE IF NOT EXISTS bids (
  id         TEXT PRIMARY KEY,
  auction_id TEXT NOT NULL REFERENCES auctions (id),
  bidder_id  TEXT NOT NULL,
  amount     INTEGER NOT NULL CHECK (amount > 0),
  bid_time   INTEGER NOT NULL,
  UNIQUE (auction_id, bid_time)
);

CREATE TABLE IF NOT EXISTS audit_log (
  id         INTEGER PRIMARY KEY AUTOINCREMENT,
  event      TEXT NOT NULL,
  detail     TEXT,
  created_at INTEGER NOT NULL
);
`

// Open connects to the SQLite database at dsn (":memory:" for a private
// in-memory database) and creates the schema. The pool is pinned to one
// connection: SQLite has a single writer, and an in-memory database lives
// only as long as its connection.
func Open(ctx context.Context, dsn string) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: open %s: %w", dsn, err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: ping: %w", err)
	}
	for _, pragma := range []string{"PRAGMA foreign_keys = ON", "PRAGMA journal_mode = WAL", "PRAGMA busy_timeout = 5000"} {
		if _, err := db.ExecContext(ctx, pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("sqlite: %s: %w", pragma, err)
		}
	}
	if _, err := db.ExecContext(ctx, schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("sqlite: create schema: %w", err)
	}
	return db, nil
}

// errDBClosed is the text of the unexported error database/sql returns once
// the pool has been closed.
const errDBClosed = "sql: database is closed"

// wrapErr maps database/sql errors onto the domain taxonomy.
func wrapErr(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, domain.ErrNotFound)
	}
	if unavailable(err) {
		return domain.Unavailable(op, err)
	}
	return fmt.Errorf("%s: %w", op, err)
}

// unavailable reports whether err is transient: a dead connection, an
// expired deadline, or a database still busy or locked once busy_timeout ran
// out.
func unavailable(err error) bool {
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, context.DeadlineExceeded) || err.Error() == errDBClosed {
		return true
	}
	var coded interface{ Code() int }
	if errors.As(err, &coded) {
		// Extended result codes keep the primary code in the low byte.
		switch coded.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
	}
	return false
}

func toMicros(t time.Time) int64 { return t.UTC().UnixMicro() }

func fromMicros(us int64) time.Time { return time.UnixMicro(us).UTC() }

func nullMicros(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toMicros(*t), Valid: true}
}

func timePtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromMicros(n.Int64)
	return &t
}
