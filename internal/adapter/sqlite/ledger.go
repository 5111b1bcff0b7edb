// Package sqlite persists the heartbeat ledger so a restart on the same day
// does not resend heartbeats that already went out.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"
	_ "github.com/mattn/go-sqlite3"
)

// Ledger implements domain.HeartbeatLedger on a SQLite file.
type Ledger struct {
	db    *sql.DB
	clock clockwork.Clock
}

// Open opens (creating if needed) the database at path and applies the schema.
func Open(path string) (*Ledger, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("mkdir state dir: %w", err)
	}
	dsn := fmt.Sprintf("file:%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open state db: %w", err)
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping state db: %w", err)
	}
	if err := migrate(db); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Ledger{db: db, clock: clockwork.NewRealClock()}, nil
}

func migrate(db *sql.DB) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS heartbeats (
			day TEXT NOT NULL,
			scheduled TEXT NOT NULL,
			sent_at DATETIME NOT NULL,
			PRIMARY KEY(day, scheduled)
		);`,
	}
	for _, stmt := range stmts {
		if _, err := db.Exec(stmt); err != nil {
			return fmt.Errorf("migrate failed: %w", err)
		}
	}
	return nil
}

// Claim records (date, scheduled) and reports whether it was not recorded before.
func (l *Ledger) Claim(ctx context.Context, date, scheduled string) (bool, error) {
	res, err := l.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO heartbeats (day, scheduled, sent_at) VALUES (?,?,?)`,
		date, scheduled, l.clock.Now().UTC())
	if err != nil {
		return false, fmt.Errorf("claim heartbeat: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("claim heartbeat: %w", err)
	}
	return n == 1, nil
}

// Prune deletes ledger rows older than the retention window.
func (l *Ledger) Prune(ctx context.Context, retention time.Duration) (int64, error) {
	cutoff := l.clock.Now().UTC().Add(-retention)
	res, err := l.db.ExecContext(ctx, `DELETE FROM heartbeats WHERE sent_at < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("prune heartbeats: %w", err)
	}
	return res.RowsAffected()
}

// Ping reports whether the database is reachable.
func (l *Ledger) Ping(ctx context.Context) error { return l.db.PingContext(ctx) }

func (l *Ledger) Close() error { return l.db.Close() }
