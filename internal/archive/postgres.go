// Package archive persists settled auction outcomes outside the hot path:
// rows in Postgres for querying, and optional JSON documents in S3 for
// long-term retention. Both are best-effort side channels; the engine logs
// and continues when a write fails.
package archive

import (
	"context"
	"embed"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"

	"auction-ledger/internal/models"
)

//go:embed migrations/*.sql
var migrationFiles embed.FS

// Store wraps pgxpool for settlement persistence.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a pooled connection to Postgres.
func New(ctx context.Context, dsn string) (*Store, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	return &Store{pool: pool}, nil
}

func (s *Store) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// RunMigrations executes the embedded SQL migrations in order.
func (s *Store) RunMigrations(ctx context.Context) error {
	entries, err := migrationFiles.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations dir: %w", err)
	}
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		content, err := migrationFiles.ReadFile("migrations/" + e.Name())
		if err != nil {
			return fmt.Errorf("read migration %s: %w", e.Name(), err)
		}
		sql := strings.TrimSpace(string(content))
		if sql == "" {
			continue
		}
		if _, err := s.pool.Exec(ctx, sql); err != nil {
			return fmt.Errorf("exec migration %s: %w", e.Name(), err)
		}
	}
	return nil
}

// RecordSettlement inserts one settled outcome. Re-recording the same auction
// is a no-op so a retried stop cannot duplicate rows.
func (s *Store) RecordSettlement(ctx context.Context, o models.Outcome) error {
	winner := any(nil)
	if o.HasWinner() {
		winner = o.Winner
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO settlements (auction_id, winner, hammer_price, fee, participants, settled_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (auction_id) DO NOTHING
	`, int64(o.AuctionID), winner, o.HammerPrice.String(), o.Fee.String(), o.Participants, o.SettledAt)
	if err != nil {
		return fmt.Errorf("insert settlement %d: %w", o.AuctionID, err)
	}
	return nil
}

// SettledCount returns how many settlements have been archived.
func (s *Store) SettledCount(ctx context.Context) (int64, error) {
	var n int64
	if err := s.pool.QueryRow(ctx, `SELECT COUNT(*) FROM settlements`).Scan(&n); err != nil {
		return 0, fmt.Errorf("count settlements: %w", err)
	}
	return n, nil
}
