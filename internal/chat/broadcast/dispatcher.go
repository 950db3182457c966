// Package broadcast delivers room notifications to live sessions. Delivery is
// multicast and best-effort per recipient: a session that disconnects
// mid-dispatch simply misses the event, with no retry or queueing. The caller
// (the room session protocol) guarantees at most one dispatch per logical
// transition.
package broadcast

import (
	"encoding/json"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/chat/registry"
)

// Event type tags on outbound frames.
const (
	TypeEntered    = "entered"
	TypeLeft       = "left"
	TypeListUpdate = "listUpdate"
)

// EnteredEvent announces a user's first entry into a room.
type EnteredEvent struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	UserCount int    `json:"userCount"`
	Timestamp int64  `json:"timestamp"`
}

// LeftEvent announces a user's departure from a room.
type LeftEvent struct {
	Type      string `json:"type"`
	Username  string `json:"username"`
	UserID    string `json:"userId"`
	Message   string `json:"message"`
	UserCount int    `json:"userCount"`
	Timestamp int64  `json:"timestamp"`
}

// ListUpdateEvent carries the current participant list of a room.
type ListUpdateEvent struct {
	Type         string   `json:"type"`
	UserCount    int      `json:"userCount"`
	Participants []string `json:"participants"`
}

// Dispatcher multicasts room notifications over the connection registry.
type Dispatcher struct {
	registry *registry.Registry
	logger   *zap.Logger
}

// NewDispatcher creates a Dispatcher.
//
// Precondition: reg and logger must be non-nil.
func NewDispatcher(reg *registry.Registry, logger *zap.Logger) *Dispatcher {
	return &Dispatcher{registry: reg, logger: logger}
}

// NotifyEntered announces actor's entry to every other session in the room.
//
// Precondition: actor must be non-nil.
func (d *Dispatcher) NotifyEntered(roomID string, actor *registry.Session, userCount int) {
	evt := EnteredEvent{
		Type:      TypeEntered,
		Username:  actor.Username(),
		UserID:    actor.UserID(),
		Message:   fmt.Sprintf("%s entered the room", actor.Username()),
		UserCount: userCount,
		Timestamp: time.Now().UnixMilli(),
	}
	d.multicast(roomID, actor.ConnID, evt)
}

// NotifyLeft announces actor's departure to every other session in the room.
//
// Precondition: actor must be non-nil.
func (d *Dispatcher) NotifyLeft(roomID string, actor *registry.Session, userCount int) {
	evt := LeftEvent{
		Type:      TypeLeft,
		Username:  actor.Username(),
		UserID:    actor.UserID(),
		Message:   fmt.Sprintf("%s left the room", actor.Username()),
		UserCount: userCount,
		Timestamp: time.Now().UnixMilli(),
	}
	d.multicast(roomID, actor.ConnID, evt)
}

// NotifyListUpdate sends the current participant list to every session in the
// room, including the acting one.
func (d *Dispatcher) NotifyListUpdate(roomID string, userCount int, participants []string) {
	if participants == nil {
		participants = []string{}
	}
	evt := ListUpdateEvent{
		Type:         TypeListUpdate,
		UserCount:    userCount,
		Participants: participants,
	}
	d.multicast(roomID, "", evt)
}

// multicast delivers evt to all sessions in roomID, skipping excludeConnID.
func (d *Dispatcher) multicast(roomID, excludeConnID string, evt any) {
	data, err := json.Marshal(evt)
	if err != nil {
		d.logger.Error("marshalling broadcast event", zap.Error(err))
		return
	}

	members, ok := d.registry.MembersInRoom(roomID)
	if !ok {
		// Registry not ready: no live sessions to deliver to yet.
		d.logger.Debug("broadcast skipped, registry not ready",
			zap.String("room", roomID),
		)
		return
	}

	delivered := 0
	for _, sess := range members {
		if sess.ConnID == excludeConnID {
			continue
		}
		if err := sess.Push(data); err != nil {
			// Best effort: the recipient is gone or backed up.
			d.logger.Debug("broadcast delivery skipped",
				zap.String("room", roomID),
				zap.String("conn", sess.ConnID),
				zap.Error(err),
			)
			continue
		}
		delivered++
	}
	d.logger.Debug("broadcast dispatched",
		zap.String("room", roomID),
		zap.Int("recipients", delivered),
	)
}
