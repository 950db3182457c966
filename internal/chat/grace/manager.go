// Package grace owns the per-user grace timers that keep a disconnected user
// counted as a room member until the grace period elapses. The timer map is
// the single piece of shared mutable timer state in the process; it is
// mutated only through Start, Cancel, and the internal expiry path.
package grace

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExpireFunc is invoked exactly once when a grace period elapses without
// being cancelled. It re-enters the room session protocol as a synthetic
// silent-leave event.
type ExpireFunc func(userID, roomID, username string)

// Record is the durable form of an armed grace timer, shared across
// processes so restarts neither leak nor prematurely clear grace state.
type Record struct {
	UserID    string
	RoomID    string
	Username  string
	StartedAt time.Time
	ExpiresAt time.Time
}

// Store persists armed timers. Implementations must tolerate concurrent use.
type Store interface {
	// Put records an armed timer. Re-arming an already recorded user is a no-op.
	Put(ctx context.Context, rec Record) error
	// Delete removes the record for userID. Unknown users are a no-op.
	Delete(ctx context.Context, userID string) error
	// ExpiredBefore returns records whose expiry is at or before cutoff.
	ExpiredBefore(ctx context.Context, cutoff time.Time) ([]Record, error)
}

type entry struct {
	roomID    string
	username  string
	startedAt time.Time
	timer     *time.Timer
}

// Manager owns at most one active grace timer per user.
// All methods are safe for concurrent use.
type Manager struct {
	mu       sync.Mutex
	timers   map[string]*entry // userID → armed timer
	duration time.Duration
	onExpire ExpireFunc
	store    Store // optional; nil disables durable records
	logger   *zap.Logger
}

// NewManager creates a Manager with the given fixed grace duration.
//
// Precondition: duration > 0; onExpire and logger must be non-nil.
// store may be nil for single-process deployments.
func NewManager(duration time.Duration, onExpire ExpireFunc, store Store, logger *zap.Logger) *Manager {
	return &Manager{
		timers:   make(map[string]*entry),
		duration: duration,
		onExpire: onExpire,
		store:    store,
		logger:   logger,
	}
}

// Duration returns the fixed grace period.
func (m *Manager) Duration() time.Duration {
	return m.duration
}

// Start arms a grace timer for the user. If a timer is already armed the call
// is an idempotent no-op: the original countdown stays authoritative.
//
// Postcondition: Returns true if a new timer was armed, false if one already
// existed.
func (m *Manager) Start(ctx context.Context, userID, roomID, username string) bool {
	m.mu.Lock()
	if _, exists := m.timers[userID]; exists {
		m.mu.Unlock()
		m.logger.Debug("grace timer already armed, keeping original countdown",
			zap.String("user", userID),
			zap.String("room", roomID),
		)
		return false
	}

	now := time.Now()
	e := &entry{
		roomID:    roomID,
		username:  username,
		startedAt: now,
	}
	e.timer = time.AfterFunc(m.duration, func() {
		m.fire(userID, e)
	})
	m.timers[userID] = e
	m.mu.Unlock()

	m.logger.Info("grace timer armed",
		zap.String("user", userID),
		zap.String("room", roomID),
		zap.Duration("duration", m.duration),
	)

	if m.store != nil {
		rec := Record{
			UserID:    userID,
			RoomID:    roomID,
			Username:  username,
			StartedAt: now,
			ExpiresAt: now.Add(m.duration),
		}
		if err := m.store.Put(ctx, rec); err != nil {
			m.logger.Warn("grace record write failed",
				zap.String("user", userID),
				zap.Error(err),
			)
		}
	}
	return true
}

// Cancel disarms and removes the user's timer if present.
// Cancellation and expiry are mutually exclusive: whichever removes the map
// entry first wins, and the loser is a no-op.
//
// Postcondition: Returns true if a timer was found and disarmed.
func (m *Manager) Cancel(ctx context.Context, userID string) bool {
	m.mu.Lock()
	e, exists := m.timers[userID]
	if exists {
		e.timer.Stop()
		delete(m.timers, userID)
	}
	m.mu.Unlock()

	if !exists {
		return false
	}

	m.logger.Info("grace timer cancelled",
		zap.String("user", userID),
		zap.String("room", e.roomID),
	)

	if m.store != nil {
		if err := m.store.Delete(ctx, userID); err != nil {
			m.logger.Warn("grace record delete failed",
				zap.String("user", userID),
				zap.Error(err),
			)
		}
	}
	return true
}

// fire runs when a timer elapses. The map entry is the liveness flag: if a
// concurrent Cancel (or a replacement timer) already removed it, expiry
// effects are skipped.
func (m *Manager) fire(userID string, armed *entry) {
	m.mu.Lock()
	cur, exists := m.timers[userID]
	if !exists || cur != armed {
		m.mu.Unlock()
		return
	}
	delete(m.timers, userID)
	m.mu.Unlock()

	m.logger.Info("grace period expired",
		zap.String("user", userID),
		zap.String("room", armed.roomID),
	)

	if m.store != nil {
		if err := m.store.Delete(context.Background(), userID); err != nil {
			m.logger.Warn("grace record delete failed",
				zap.String("user", userID),
				zap.Error(err),
			)
		}
	}
	m.onExpire(userID, armed.roomID, armed.username)
}

// Remaining returns how long until the user's timer fires.
// Diagnostic only.
//
// Postcondition: Returns (remaining, true) if a timer is armed, or (0, false).
func (m *Manager) Remaining(userID string) (time.Duration, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, exists := m.timers[userID]
	if !exists {
		return 0, false
	}
	remaining := m.duration - time.Since(e.startedAt)
	if remaining < 0 {
		remaining = 0
	}
	return remaining, true
}

// Active reports whether a grace timer is armed for the user.
func (m *Manager) Active(userID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, exists := m.timers[userID]
	return exists
}

// ActiveCount returns the number of armed timers.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.timers)
}

// StopAll disarms every timer without firing expiry effects. Durable records
// are kept so another process (or this one after restart) can reap them.
//
// Postcondition: No timer will fire after StopAll returns.
func (m *Manager) StopAll() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for userID, e := range m.timers {
		e.timer.Stop()
		delete(m.timers, userID)
	}
}
