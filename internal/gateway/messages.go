package gateway

import (
	"encoding/json"
	"fmt"

	"github.com/parleychat/parley/internal/chat/protocol"
)

// Inbound frame type tags.
const (
	frameJoin      = "join"
	frameRejoin    = "rejoin"
	frameLeave     = "leave"
	frameHeartbeat = "heartbeat"
)

// Outbound frame type tags. Room notifications (entered/left/listUpdate) are
// produced by the broadcast dispatcher; these are the direct replies.
const (
	frameJoined       = "joined"
	frameLeft         = "leaveAck"
	frameHeartbeatAck = "heartbeatAck"
	frameError        = "error"
)

// Client app lifecycle states reported with heartbeats.
const (
	appStateForeground = "foreground"
	appStateBackground = "background"
)

// normalizeAppState defaults an omitted app state to foreground and rejects
// anything outside the two known lifecycle states.
func normalizeAppState(raw string) (string, error) {
	switch raw {
	case "":
		return appStateForeground, nil
	case appStateForeground, appStateBackground:
		return raw, nil
	default:
		return "", fmt.Errorf("invalid appState %q", raw)
	}
}

// inboundFrame is the envelope for every client-issued frame. The type tag
// selects the variant; unused fields stay empty.
type inboundFrame struct {
	Type     string `json:"type"`
	RoomID   string `json:"roomId"`
	UserID   string `json:"userId"`
	Username string `json:"username"`
	// Silent applies to rejoin only and defaults to true when omitted.
	Silent *bool `json:"silent,omitempty"`
	// AppState applies to heartbeat only: "foreground" or "background".
	AppState string `json:"appState,omitempty"`
}

func parseFrame(data []byte) (inboundFrame, error) {
	var frame inboundFrame
	if err := json.Unmarshal(data, &frame); err != nil {
		return inboundFrame{}, fmt.Errorf("malformed frame: %w", err)
	}
	if frame.Type == "" {
		return inboundFrame{}, fmt.Errorf("frame missing type tag")
	}
	return frame, nil
}

func (f inboundFrame) joinRequest() protocol.JoinRequest {
	return protocol.JoinRequest{
		RoomID:   f.RoomID,
		UserID:   f.UserID,
		Username: f.Username,
	}
}

func (f inboundFrame) rejoinRequest() protocol.RejoinRequest {
	silent := true
	if f.Silent != nil {
		silent = *f.Silent
	}
	return protocol.RejoinRequest{
		RoomID:   f.RoomID,
		UserID:   f.UserID,
		Username: f.Username,
		Silent:   silent,
	}
}

func (f inboundFrame) leaveRequest() protocol.LeaveRequest {
	return protocol.LeaveRequest{
		RoomID:   f.RoomID,
		UserID:   f.UserID,
		Username: f.Username,
	}
}

// joinedReply answers a successful join or rejoin.
type joinedReply struct {
	Type         string   `json:"type"`
	RoomID       string   `json:"roomId"`
	Room         string   `json:"room"`
	UserCount    int      `json:"userCount"`
	Participants []string `json:"participants"`
}

func newJoinedReply(res protocol.JoinResult) joinedReply {
	participants := res.Participants
	if participants == nil {
		participants = []string{}
	}
	return joinedReply{
		Type:         frameJoined,
		RoomID:       res.RoomID,
		Room:         res.RoomName,
		UserCount:    res.UserCount,
		Participants: participants,
	}
}

// leaveReply answers a successful leave.
type leaveReply struct {
	Type   string `json:"type"`
	RoomID string `json:"roomId"`
}

// heartbeatReply acknowledges a heartbeat and reminds the client of the
// grace period it can rely on.
type heartbeatReply struct {
	Type          string `json:"type"`
	Timestamp     int64  `json:"timestamp"`
	GracePeriodMs int64  `json:"gracePeriodMs"`
}

// errorReply reports a rejected frame. The client remains in its prior
// logical state and may retry.
type errorReply struct {
	Type  string `json:"type"`
	Error string `json:"error"`
}
