// Package registry provides the per-process connection registry: the
// authoritative map of live transport sessions and room occupancy while the
// process is up.
package registry

import (
	"fmt"
	"sync"
	"time"
)

// Session tracks one live transport connection. It is created when the
// transport connects and destroyed when it disconnects; nothing here is
// persisted.
type Session struct {
	// ConnID is the unique connection identifier.
	ConnID string

	mu sync.Mutex
	// userID and username are set on the first authenticated request.
	userID   string
	username string
	// roomID is the room this session currently occupies ("" = none).
	roomID string
	// announced is the set of rooms for which an "entered" notice has
	// already fired during this session's lifetime.
	announced map[string]bool
	// lastHeartbeat is when the client last sent a heartbeat.
	lastHeartbeat time.Time
	// appState is the client-reported state: "foreground" or "background".
	appState string

	events chan []byte
	closed bool
}

// NewSession creates a Session for the given connection ID.
//
// Precondition: connID must be non-empty.
// Postcondition: Returns a Session with an open outbound event channel.
func NewSession(connID string, bufferSize int) *Session {
	if bufferSize <= 0 {
		bufferSize = 64
	}
	return &Session{
		ConnID:    connID,
		announced: make(map[string]bool),
		events:    make(chan []byte, bufferSize),
	}
}

// Identify binds the session to a user on first authentication.
// A session identifies once; a different user on the same connection is rejected.
//
// Precondition: userID and username must be non-empty.
// Postcondition: Returns nil and the session is bound, or an error on mismatch.
func (s *Session) Identify(userID, username string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.userID != "" && s.userID != userID {
		return fmt.Errorf("session %s already bound to user %q", s.ConnID, s.userID)
	}
	s.userID = userID
	s.username = username
	return nil
}

// UserID returns the bound user identifier ("" if unauthenticated).
func (s *Session) UserID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID
}

// Username returns the bound display name ("" if unauthenticated).
func (s *Session) Username() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.username
}

// Authenticated reports whether the session has been bound to a user.
func (s *Session) Authenticated() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.userID != ""
}

// Room returns the room this session currently occupies ("" = none).
func (s *Session) Room() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.roomID
}

func (s *Session) setRoom(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.roomID = roomID
}

// MarkAnnounced records that an "entered" notice fired for roomID during this
// session's lifetime.
func (s *Session) MarkAnnounced(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.announced[roomID] = true
}

// HasAnnounced reports whether an "entered" notice already fired for roomID.
func (s *Session) HasAnnounced(roomID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.announced[roomID]
}

// ClearAnnounced forgets the first-join marker for roomID, so a later join
// announces again.
func (s *Session) ClearAnnounced(roomID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.announced, roomID)
}

// RecordHeartbeat stores the heartbeat time and client app state.
func (s *Session) RecordHeartbeat(at time.Time, appState string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.lastHeartbeat = at
	s.appState = appState
}

// LastHeartbeat returns the time of the most recent heartbeat and the
// client-reported app state.
func (s *Session) LastHeartbeat() (time.Time, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastHeartbeat, s.appState
}

// Push enqueues data on the session's outbound event channel.
//
// Postcondition: Data is enqueued, or an error if the session is closed or
// the buffer is full.
func (s *Session) Push(data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return fmt.Errorf("session %s is closed", s.ConnID)
	}
	select {
	case s.events <- data:
		return nil
	default:
		return fmt.Errorf("session %s event buffer full", s.ConnID)
	}
}

// Events returns the read-only outbound event channel.
// The transport write loop reads from this channel.
func (s *Session) Events() <-chan []byte {
	return s.events
}

// Close marks the session as closed and closes the event channel.
//
// Postcondition: The event channel is closed. Further Push calls return an error.
func (s *Session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.closed {
		s.closed = true
		close(s.events)
	}
	return nil
}

// IsClosed reports whether the session has been closed.
func (s *Session) IsClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}
