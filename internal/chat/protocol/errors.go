package protocol

import "errors"

// Request failures fall into two buckets: malformed input and policy denial.
// Store failures never surface here; the presence layer degrades internally.
var (
	// ErrValidation marks a structurally invalid request.
	ErrValidation = errors.New("invalid request")
	// ErrRoomNotFound marks a request naming a room the catalog does not have.
	ErrRoomNotFound = errors.New("room not found")
	// ErrUnauthorized marks a request denied by the room access gate.
	ErrUnauthorized = errors.New("room access denied")
	// ErrRoomFull marks a join that would exceed the room's capacity.
	ErrRoomFull = errors.New("room full")
)
