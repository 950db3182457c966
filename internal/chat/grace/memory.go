package grace

import (
	"context"
	"sync"
	"time"
)

// MemoryStore is an in-process Store for tests and single-node deployments.
// All methods are safe for concurrent use and never fail.
type MemoryStore struct {
	mu   sync.RWMutex
	recs map[string]Record // userID → record
}

// NewMemoryStore creates an empty MemoryStore.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{recs: make(map[string]Record)}
}

// Put records an armed timer. Re-arming an already recorded user is a no-op.
func (m *MemoryStore) Put(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, exists := m.recs[rec.UserID]; exists {
		return nil
	}
	m.recs[rec.UserID] = rec
	return nil
}

// Delete removes the record for userID.
func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.recs, userID)
	return nil
}

// ExpiredBefore returns records whose expiry is at or before cutoff.
func (m *MemoryStore) ExpiredBefore(_ context.Context, cutoff time.Time) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Record
	for _, rec := range m.recs {
		if !rec.ExpiresAt.After(cutoff) {
			out = append(out, rec)
		}
	}
	return out, nil
}

// Len returns the number of stored records.
func (m *MemoryStore) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.recs)
}
