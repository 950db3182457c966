package registry

import (
	"fmt"
	"sort"
	"sync"
)

// Registry tracks all live sessions and per-room occupancy for this process.
// All methods are safe for concurrent use.
//
// Until MarkReady is called, room queries return ok=false ("unknown"), which is
// distinct from an empty-but-ready result. Callers fall back to the durable
// presence directory only on "unknown", never on zero.
type Registry struct {
	mu       sync.RWMutex
	ready    bool
	sessions map[string]*Session            // connID → session
	rooms    map[string]map[string]*Session // roomID → connID → session
}

// NewRegistry creates an empty, not-yet-ready Registry.
func NewRegistry() *Registry {
	return &Registry{
		sessions: make(map[string]*Session),
		rooms:    make(map[string]map[string]*Session),
	}
}

// MarkReady flips the registry to ready. Called once the transport is
// accepting connections; from then on empty results mean "no one connected".
func (r *Registry) MarkReady() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.ready = true
}

// Ready reports whether the registry has been initialized for this process.
func (r *Registry) Ready() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.ready
}

// Register adds a new live session.
//
// Precondition: sess must be non-nil with a non-empty ConnID.
// Postcondition: Returns an error if the connection ID is already registered.
func (r *Registry) Register(sess *Session) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.sessions[sess.ConnID]; exists {
		return fmt.Errorf("connection %q already registered", sess.ConnID)
	}
	r.sessions[sess.ConnID] = sess
	return nil
}

// Deregister removes a session and its room occupancy.
//
// Postcondition: The session is gone from all bookkeeping. Returns the removed
// session, or an error if the connection ID is unknown.
func (r *Registry) Deregister(connID string) (*Session, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[connID]
	if !exists {
		return nil, fmt.Errorf("connection %q not found", connID)
	}

	if roomID := sess.Room(); roomID != "" {
		r.removeFromRoomLocked(roomID, connID)
	}
	delete(r.sessions, connID)
	return sess, nil
}

// AssignRoom places a session in a room, moving it out of any previous room.
//
// Precondition: the session must be registered; roomID must be non-empty.
// Postcondition: The session occupies roomID, or an error if not registered.
func (r *Registry) AssignRoom(connID, roomID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[connID]
	if !exists {
		return fmt.Errorf("connection %q not found", connID)
	}

	if prev := sess.Room(); prev != "" && prev != roomID {
		r.removeFromRoomLocked(prev, connID)
	}

	sess.setRoom(roomID)
	if r.rooms[roomID] == nil {
		r.rooms[roomID] = make(map[string]*Session)
	}
	r.rooms[roomID][connID] = sess
	return nil
}

// ClearRoom removes a session's room occupancy without deregistering it.
//
// Postcondition: The session occupies no room. Unknown connections are a no-op.
func (r *Registry) ClearRoom(connID string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	sess, exists := r.sessions[connID]
	if !exists {
		return
	}
	if roomID := sess.Room(); roomID != "" {
		r.removeFromRoomLocked(roomID, connID)
	}
	sess.setRoom("")
}

// Session returns the live session for the given connection ID.
//
// Postcondition: Returns (session, true) if found, or (nil, false) otherwise.
func (r *Registry) Session(connID string) (*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	sess, ok := r.sessions[connID]
	return sess, ok
}

// SessionsForUser returns all live sessions bound to the given user.
//
// Postcondition: Returns a slice of sessions (may be empty).
func (r *Registry) SessionsForUser(userID string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*Session
	for _, sess := range r.sessions {
		if sess.UserID() == userID {
			out = append(out, sess)
		}
	}
	return out
}

// CountInRoom returns the number of distinct users connected to the room.
// ok=false means the registry is not ready and the count is unknown.
func (r *Registry) CountInRoom(roomID string) (int, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return 0, false
	}
	users := make(map[string]bool)
	for _, sess := range r.rooms[roomID] {
		if uid := sess.UserID(); uid != "" {
			users[uid] = true
		}
	}
	return len(users), true
}

// MembersInRoom returns the live sessions occupying the room.
// ok=false means the registry is not ready and occupancy is unknown.
func (r *Registry) MembersInRoom(roomID string) ([]*Session, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil, false
	}
	conns := r.rooms[roomID]
	out := make([]*Session, 0, len(conns))
	for _, sess := range conns {
		out = append(out, sess)
	}
	return out, true
}

// UsernamesInRoom returns the sorted, distinct display names of users in the
// room. ok=false means the registry is not ready.
func (r *Registry) UsernamesInRoom(roomID string) ([]string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	if !r.ready {
		return nil, false
	}
	seen := make(map[string]bool)
	for _, sess := range r.rooms[roomID] {
		if name := sess.Username(); name != "" {
			seen[name] = true
		}
	}
	out := make([]string, 0, len(seen))
	for name := range seen {
		out = append(out, name)
	}
	sort.Strings(out)
	return out, true
}

// SessionCount returns the total number of live sessions.
func (r *Registry) SessionCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// removeFromRoomLocked drops connID from the room index. Caller holds r.mu.
func (r *Registry) removeFromRoomLocked(roomID, connID string) {
	if conns, ok := r.rooms[roomID]; ok {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.rooms, roomID)
		}
	}
}
