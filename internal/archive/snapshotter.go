package archive

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/terminal-bench/timemarket/internal/exchange"
)

// Snapshotter periodically persists the exchange state to Postgres. The
// database is a durable mirror for restarts and reporting; the in-memory
// stores remain the source of truth while the service runs.
type Snapshotter struct {
	db       *sql.DB
	engine   *exchange.Engine
	interval time.Duration
}

// NewSnapshotter creates a snapshotter writing every interval.
func NewSnapshotter(db *sql.DB, engine *exchange.Engine, interval time.Duration) *Snapshotter {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Snapshotter{
		db:       db,
		engine:   engine,
		interval: interval,
	}
}

// CreateSchema creates the snapshot tables if they do not exist.
func (s *Snapshotter) CreateSchema(ctx context.Context) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS balances (
			account    TEXT PRIMARY KEY,
			units      BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS credits (
			account    TEXT PRIMARY KEY,
			amount     BIGINT NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS listings (
			account   TEXT PRIMARY KEY,
			intervals BIGINT NOT NULL,
			tariff    BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS sessions (
			account    TEXT PRIMARY KEY,
			started_at TIMESTAMPTZ NOT NULL,
			reserved   BIGINT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS allocation (
			id        INT PRIMARY KEY CHECK (id = 1),
			allocated BIGINT NOT NULL,
			taken_at  TIMESTAMPTZ NOT NULL
		)`,
	}

	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return nil
}

// Run snapshots on a ticker until ctx is cancelled.
func (s *Snapshotter) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := s.Write(ctx); err != nil {
				// Persistence failures must not stall the exchange;
				// the next tick retries with fresh state.
				continue
			}
		}
	}
}

// Write persists one snapshot in a single transaction.
func (s *Snapshotter) Write(ctx context.Context) error {
	snap := s.engine.Snapshot()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin snapshot tx: %w", err)
	}
	defer tx.Rollback()

	for account, units := range snap.Balances {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO balances (account, units, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (account) DO UPDATE SET units = $2, updated_at = $3`,
			account, int64(units), snap.TakenAt,
		)
		if err != nil {
			return fmt.Errorf("failed to write balance: %w", err)
		}
	}

	for account, amount := range snap.Credits {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO credits (account, amount, updated_at) VALUES ($1, $2, $3)
			 ON CONFLICT (account) DO UPDATE SET amount = $2, updated_at = $3`,
			account, int64(amount), snap.TakenAt,
		)
		if err != nil {
			return fmt.Errorf("failed to write credit: %w", err)
		}
	}

	// Listings and sessions disappear when consumed; rewrite both tables.
	if _, err = tx.ExecContext(ctx, `DELETE FROM listings`); err != nil {
		return fmt.Errorf("failed to clear listings: %w", err)
	}
	for account, l := range snap.Listings {
		_, err = tx.ExecContext(ctx,
			`INSERT INTO listings (account, intervals, tariff) VALUES ($1, $2, $3)`,
			account, int64(l.Intervals), int64(l.Tariff),
		)
		if err != nil {
			return fmt.Errorf("failed to write listing: %w", err)
		}
	}

	if _, err = tx.ExecContext(ctx, `DELETE FROM sessions`); err != nil {
		return fmt.Errorf("failed to clear sessions: %w", err)
	}
	for account, sess := range snap.Sessions {
		if !sess.Active {
			continue
		}
		_, err = tx.ExecContext(ctx,
			`INSERT INTO sessions (account, started_at, reserved) VALUES ($1, $2, $3)`,
			account, sess.StartedAt, int64(sess.Reserved),
		)
		if err != nil {
			return fmt.Errorf("failed to write session: %w", err)
		}
	}

	_, err = tx.ExecContext(ctx,
		`INSERT INTO allocation (id, allocated, taken_at) VALUES (1, $1, $2)
		 ON CONFLICT (id) DO UPDATE SET allocated = $1, taken_at = $2`,
		int64(snap.Allocated), snap.TakenAt,
	)
	if err != nil {
		return fmt.Errorf("failed to write allocation: %w", err)
	}

	return tx.Commit()
}
