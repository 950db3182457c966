package protocol

import "fmt"

// JoinRequest is a deliberate, first-time entry into a room. It always
// produces an entered notice for the other occupants.
type JoinRequest struct {
	RoomID   string
	UserID   string
	Username string
}

// Validate checks the request's required fields.
func (r JoinRequest) Validate() error {
	return requireFields(r.RoomID, r.UserID, r.Username)
}

// RejoinRequest is a reconnection-driven re-entry. When the user is still a
// member (grace timer pending, or membership survived a process restart) the
// re-entry is silent unless Silent is false, which requests an explicit
// entered notice anyway.
type RejoinRequest struct {
	RoomID   string
	UserID   string
	Username string
	Silent   bool
}

// Validate checks the request's required fields.
func (r RejoinRequest) Validate() error {
	return requireFields(r.RoomID, r.UserID, r.Username)
}

// LeaveRequest is a deliberate exit from a room.
type LeaveRequest struct {
	RoomID   string
	UserID   string
	Username string
}

// Validate checks the request's required fields.
func (r LeaveRequest) Validate() error {
	return requireFields(r.RoomID, r.UserID, r.Username)
}

func requireFields(roomID, userID, username string) error {
	if roomID == "" {
		return fmt.Errorf("%w: missing roomId", ErrValidation)
	}
	if userID == "" {
		return fmt.Errorf("%w: missing userId", ErrValidation)
	}
	if username == "" {
		return fmt.Errorf("%w: missing username", ErrValidation)
	}
	return nil
}

// JoinResult describes the room as seen right after a successful join or
// rejoin.
type JoinResult struct {
	RoomID       string
	RoomName     string
	UserCount    int
	Participants []string
}
