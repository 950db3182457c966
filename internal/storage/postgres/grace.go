package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/parleychat/parley/internal/chat/grace"
)

// GraceStore persists armed grace timers in the grace_periods table so
// restarts neither leak nor prematurely clear grace state. It implements
// grace.Store.
type GraceStore struct {
	db *pgxpool.Pool
}

// NewGraceStore creates a GraceStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewGraceStore(db *pgxpool.Pool) *GraceStore {
	return &GraceStore{db: db}
}

// Put records an armed timer. Re-arming an already recorded user is a no-op;
// the original countdown stays authoritative.
func (s *GraceStore) Put(ctx context.Context, rec grace.Record) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO grace_periods (user_id, room_id, username, started_at, expires_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (user_id) DO NOTHING`,
		rec.UserID, rec.RoomID, rec.Username, rec.StartedAt, rec.ExpiresAt,
	)
	if err != nil {
		return fmt.Errorf("inserting grace record: %w", err)
	}
	return nil
}

// Delete removes the record for userID. Unknown users are a no-op.
func (s *GraceStore) Delete(ctx context.Context, userID string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM grace_periods WHERE user_id = $1`,
		userID,
	)
	if err != nil {
		return fmt.Errorf("deleting grace record: %w", err)
	}
	return nil
}

// ExpiredBefore returns records whose expiry is at or before cutoff.
func (s *GraceStore) ExpiredBefore(ctx context.Context, cutoff time.Time) ([]grace.Record, error) {
	rows, err := s.db.Query(ctx,
		`SELECT user_id, room_id, username, started_at, expires_at
		 FROM grace_periods
		 WHERE expires_at <= $1
		 ORDER BY expires_at`,
		cutoff,
	)
	if err != nil {
		return nil, fmt.Errorf("querying expired grace records: %w", err)
	}
	defer rows.Close()

	var records []grace.Record
	for rows.Next() {
		var rec grace.Record
		if err := rows.Scan(&rec.UserID, &rec.RoomID, &rec.Username, &rec.StartedAt, &rec.ExpiresAt); err != nil {
			return nil, fmt.Errorf("scanning grace record: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating grace records: %w", err)
	}
	return records, nil
}
