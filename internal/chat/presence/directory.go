// Package presence provides the durable, cross-process record of room
// membership. It is the fallback source of truth when the connection registry
// is not ready, and the externally queryable membership list.
package presence

import (
	"context"
	"sort"
	"sync"

	"go.uber.org/zap"
)

// Store is the durable backend for room membership.
type Store interface {
	// AddMember records username as a member of roomID. Idempotent.
	AddMember(ctx context.Context, roomID, username string) error
	// RemoveMember deletes the membership record. Unknown members are a no-op.
	RemoveMember(ctx context.Context, roomID, username string) error
	// IsMember reports whether username is recorded as a member of roomID.
	IsMember(ctx context.Context, roomID, username string) (bool, error)
	// MembersOf returns the recorded member usernames of roomID.
	MembersOf(ctx context.Context, roomID string) ([]string, error)
}

// Directory exposes membership with the advisory failure policy: store errors
// are logged and degrade to empty/false results rather than propagating,
// since membership is advisory relative to the connection registry when the
// registry is ready.
type Directory struct {
	store  Store
	logger *zap.Logger
}

// NewDirectory creates a Directory over the given store.
//
// Precondition: store and logger must be non-nil.
func NewDirectory(store Store, logger *zap.Logger) *Directory {
	return &Directory{store: store, logger: logger}
}

// AddMember records username in roomID, logging and swallowing store errors.
func (d *Directory) AddMember(ctx context.Context, roomID, username string) {
	if err := d.store.AddMember(ctx, roomID, username); err != nil {
		d.logger.Warn("presence store add failed",
			zap.String("room", roomID),
			zap.String("username", username),
			zap.Error(err),
		)
	}
}

// RemoveMember deletes the membership record, logging and swallowing store errors.
func (d *Directory) RemoveMember(ctx context.Context, roomID, username string) {
	if err := d.store.RemoveMember(ctx, roomID, username); err != nil {
		d.logger.Warn("presence store remove failed",
			zap.String("room", roomID),
			zap.String("username", username),
			zap.Error(err),
		)
	}
}

// IsMember reports recorded membership; store errors degrade to false.
func (d *Directory) IsMember(ctx context.Context, roomID, username string) bool {
	member, err := d.store.IsMember(ctx, roomID, username)
	if err != nil {
		d.logger.Warn("presence store membership check failed",
			zap.String("room", roomID),
			zap.String("username", username),
			zap.Error(err),
		)
		return false
	}
	return member
}

// MembersOf returns the sorted member usernames of roomID; store errors
// degrade to an empty list.
func (d *Directory) MembersOf(ctx context.Context, roomID string) []string {
	members, err := d.store.MembersOf(ctx, roomID)
	if err != nil {
		d.logger.Warn("presence store member list failed",
			zap.String("room", roomID),
			zap.Error(err),
		)
		return nil
	}
	sort.Strings(members)
	return members
}

// MemoryStore is an in-process Store for tests and single-node deployments.
// All methods are safe for concurrent use and never fail.
type MemoryStore struct {
	mu    sync.RWMutex
	rooms map[string]map[string]bool // roomID → set of usernames
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{rooms: make(map[string]map[string]bool)}
}

// AddMember records username as a member of roomID.
func (m *MemoryStore) AddMember(_ context.Context, roomID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.rooms[roomID] == nil {
		m.rooms[roomID] = make(map[string]bool)
	}
	m.rooms[roomID][username] = true
	return nil
}

// RemoveMember deletes the membership record.
func (m *MemoryStore) RemoveMember(_ context.Context, roomID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if members, ok := m.rooms[roomID]; ok {
		delete(members, username)
		if len(members) == 0 {
			delete(m.rooms, roomID)
		}
	}
	return nil
}

// IsMember reports whether username is recorded in roomID.
func (m *MemoryStore) IsMember(_ context.Context, roomID, username string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.rooms[roomID][username], nil
}

// MembersOf returns the recorded member usernames of roomID.
func (m *MemoryStore) MembersOf(_ context.Context, roomID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	members := m.rooms[roomID]
	out := make([]string, 0, len(members))
	for name := range members {
		out = append(out, name)
	}
	return out, nil
}
