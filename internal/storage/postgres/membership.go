package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// MembershipStore persists room membership in the room_members table. It
// implements presence.Store; the presence directory handles the
// log-and-degrade failure policy, so errors here propagate plainly.
type MembershipStore struct {
	db *pgxpool.Pool
}

// NewMembershipStore creates a MembershipStore backed by the given pool.
//
// Precondition: db must be a valid, open connection pool.
func NewMembershipStore(db *pgxpool.Pool) *MembershipStore {
	return &MembershipStore{db: db}
}

// AddMember records username as a member of roomID. Idempotent.
func (s *MembershipStore) AddMember(ctx context.Context, roomID, username string) error {
	_, err := s.db.Exec(ctx,
		`INSERT INTO room_members (room_id, username)
		 VALUES ($1, $2)
		 ON CONFLICT (room_id, username) DO NOTHING`,
		roomID, username,
	)
	if err != nil {
		return fmt.Errorf("inserting membership: %w", err)
	}
	return nil
}

// RemoveMember deletes the membership record. Unknown members are a no-op.
func (s *MembershipStore) RemoveMember(ctx context.Context, roomID, username string) error {
	_, err := s.db.Exec(ctx,
		`DELETE FROM room_members WHERE room_id = $1 AND username = $2`,
		roomID, username,
	)
	if err != nil {
		return fmt.Errorf("deleting membership: %w", err)
	}
	return nil
}

// IsMember reports whether username is recorded as a member of roomID.
func (s *MembershipStore) IsMember(ctx context.Context, roomID, username string) (bool, error) {
	var member bool
	err := s.db.QueryRow(ctx,
		`SELECT EXISTS (
		   SELECT 1 FROM room_members WHERE room_id = $1 AND username = $2
		 )`,
		roomID, username,
	).Scan(&member)
	if err != nil {
		return false, fmt.Errorf("querying membership: %w", err)
	}
	return member, nil
}

// MembersOf returns the recorded member usernames of roomID.
func (s *MembershipStore) MembersOf(ctx context.Context, roomID string) ([]string, error) {
	rows, err := s.db.Query(ctx,
		`SELECT username FROM room_members WHERE room_id = $1 ORDER BY username`,
		roomID,
	)
	if err != nil {
		return nil, fmt.Errorf("querying members: %w", err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scanning member: %w", err)
		}
		members = append(members, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating members: %w", err)
	}
	return members, nil
}
