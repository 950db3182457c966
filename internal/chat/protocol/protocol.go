// Package protocol implements the room session state machine. Every
// client-issued join/rejoin/leave request and every transport
// disconnect/reconnect event passes through one typed entry point per kind;
// the protocol reconciles the live connection registry, the durable presence
// directory, and the grace timers, and decides whether a notification fires.
package protocol

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/parleychat/parley/internal/catalog"
	"github.com/parleychat/parley/internal/chat/access"
	"github.com/parleychat/parley/internal/chat/broadcast"
	"github.com/parleychat/parley/internal/chat/grace"
	"github.com/parleychat/parley/internal/chat/presence"
	"github.com/parleychat/parley/internal/chat/registry"
)

// Protocol is the single decision point for room membership mutation.
// Operations for the same (user, room) pair are serialized; different pairs
// proceed concurrently.
type Protocol struct {
	registry   *registry.Registry
	directory  *presence.Directory
	dispatcher *broadcast.Dispatcher
	gate       access.Gate
	catalog    *catalog.Catalog
	grace      *grace.Manager
	locks      *pairLocks
	logger     *zap.Logger
}

// New creates a Protocol and the grace timer manager it drives. Expired grace
// periods re-enter the protocol as synthetic silent leaves.
//
// Precondition: all arguments except graceStore must be non-nil;
// gracePeriod > 0. graceStore may be nil for single-process deployments.
func New(
	reg *registry.Registry,
	dir *presence.Directory,
	disp *broadcast.Dispatcher,
	gate access.Gate,
	cat *catalog.Catalog,
	gracePeriod time.Duration,
	graceStore grace.Store,
	logger *zap.Logger,
) *Protocol {
	p := &Protocol{
		registry:   reg,
		directory:  dir,
		dispatcher: disp,
		gate:       gate,
		catalog:    cat,
		locks:      newPairLocks(),
		logger:     logger,
	}
	p.grace = grace.NewManager(gracePeriod, p.ExpireGrace, graceStore, logger)
	return p
}

// Grace returns the grace timer manager, for sweeper wiring and diagnostics.
func (p *Protocol) Grace() *grace.Manager {
	return p.grace
}

// GracePeriod returns the fixed grace duration.
func (p *Protocol) GracePeriod() time.Duration {
	return p.grace.Duration()
}

// Join handles a deliberate first entry into a room. A session that still
// occupies a different room implicitly leaves it first, with the usual
// departure notices.
//
// Postcondition: On success the session occupies the room, the user is a
// durable member of it and no other, and an entered notice has fired unless
// this session already announced for the room. On error no state was mutated.
func (p *Protocol) Join(ctx context.Context, sess *registry.Session, req JoinRequest) (JoinResult, error) {
	if err := req.Validate(); err != nil {
		return JoinResult{}, err
	}
	if err := sess.Identify(req.UserID, req.Username); err != nil {
		return JoinResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	room, ok := p.catalog.Room(req.RoomID)
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrRoomNotFound, req.RoomID)
	}

	prevRoom := sess.Room()
	unlock := p.lockRooms(req.UserID, req.RoomID, prevRoom)
	defer unlock()

	if err := p.authorize(ctx, room, req.UserID, req.Username); err != nil {
		return JoinResult{}, err
	}

	// The registry assignment is the only mutation that can fail; it goes
	// first so a concurrently dropped connection leaves no state behind.
	if err := p.registry.AssignRoom(sess.ConnID, req.RoomID); err != nil {
		return JoinResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	// A pending grace timer means this user reconnected through a plain join
	// instead of a rejoin; the reconnection still cancels the countdown.
	hadGrace := p.grace.Cancel(ctx, req.UserID)

	if prevRoom != "" && prevRoom != req.RoomID {
		p.departRoom(ctx, sess, prevRoom)
	}

	p.directory.AddMember(ctx, req.RoomID, req.Username)

	announce := !sess.HasAnnounced(req.RoomID)
	sess.MarkAnnounced(req.RoomID)

	count, participants := p.roomSnapshot(ctx, req.RoomID)
	if announce {
		p.dispatcher.NotifyEntered(req.RoomID, sess, count)
	}
	p.dispatcher.NotifyListUpdate(req.RoomID, count, participants)

	p.logger.Info("user joined room",
		zap.String("room", req.RoomID),
		zap.String("user", req.UserID),
		zap.Bool("announced", announce),
		zap.Bool("had_grace", hadGrace),
		zap.Int("count", count),
	)

	return JoinResult{
		RoomID:       req.RoomID,
		RoomName:     room.Name,
		UserCount:    count,
		Participants: participants,
	}, nil
}

// Rejoin handles a reconnection-driven re-entry by a new session resuming a
// prior logical membership. If the user is still a member — a grace timer was
// pending, or durable membership survived a restart — the re-entry is silent;
// otherwise it degrades to first-join semantics and announces. As with Join,
// a session still occupying a different room implicitly leaves it first.
//
// Postcondition: On success the session occupies the room and the user is a
// durable member. An entered notice fired only when the membership did not
// resume, or when req.Silent is false.
func (p *Protocol) Rejoin(ctx context.Context, sess *registry.Session, req RejoinRequest) (JoinResult, error) {
	if err := req.Validate(); err != nil {
		return JoinResult{}, err
	}
	if err := sess.Identify(req.UserID, req.Username); err != nil {
		return JoinResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}
	room, ok := p.catalog.Room(req.RoomID)
	if !ok {
		return JoinResult{}, fmt.Errorf("%w: %q", ErrRoomNotFound, req.RoomID)
	}

	prevRoom := sess.Room()
	unlock := p.lockRooms(req.UserID, req.RoomID, prevRoom)
	defer unlock()

	// A rejoin with no matching grace state is evaluated against current
	// access rules like any join.
	if err := p.authorize(ctx, room, req.UserID, req.Username); err != nil {
		return JoinResult{}, err
	}

	if err := p.registry.AssignRoom(sess.ConnID, req.RoomID); err != nil {
		return JoinResult{}, fmt.Errorf("%w: %v", ErrValidation, err)
	}

	hadGrace := p.grace.Cancel(ctx, req.UserID)
	wasMember := p.directory.IsMember(ctx, req.RoomID, req.Username)

	if prevRoom != "" && prevRoom != req.RoomID {
		p.departRoom(ctx, sess, prevRoom)
	}

	p.directory.AddMember(ctx, req.RoomID, req.Username)

	// Resumed memberships stay silent unless the caller explicitly asked for
	// the entered notice. A rejoin that arrives after grace expired (or with
	// no membership at all) announces with first-join semantics.
	resumed := hadGrace || wasMember
	announce := !resumed || !req.Silent
	sess.MarkAnnounced(req.RoomID)

	count, participants := p.roomSnapshot(ctx, req.RoomID)
	if announce {
		p.dispatcher.NotifyEntered(req.RoomID, sess, count)
	}
	p.dispatcher.NotifyListUpdate(req.RoomID, count, participants)

	p.logger.Info("user rejoined room",
		zap.String("room", req.RoomID),
		zap.String("user", req.UserID),
		zap.Bool("resumed", resumed),
		zap.Bool("announced", announce),
		zap.Int("count", count),
	)

	return JoinResult{
		RoomID:       req.RoomID,
		RoomName:     room.Name,
		UserCount:    count,
		Participants: participants,
	}, nil
}

// Leave handles a deliberate exit. The first-join marker is cleared so a
// later join announces again.
//
// Postcondition: The user is no longer a member and holds no grace timer. A
// left notice fired only if the user was actually present.
func (p *Protocol) Leave(ctx context.Context, sess *registry.Session, req LeaveRequest) error {
	if err := req.Validate(); err != nil {
		return err
	}
	if err := sess.Identify(req.UserID, req.Username); err != nil {
		return fmt.Errorf("%w: %v", ErrValidation, err)
	}

	unlock := p.locks.acquire(req.UserID, req.RoomID)
	defer unlock()

	p.grace.Cancel(ctx, req.UserID)
	wasMember := p.directory.IsMember(ctx, req.RoomID, req.Username)
	wasOccupying := sess.Room() == req.RoomID

	p.directory.RemoveMember(ctx, req.RoomID, req.Username)
	if wasOccupying {
		p.registry.ClearRoom(sess.ConnID)
	}
	sess.ClearAnnounced(req.RoomID)

	if !wasMember && !wasOccupying {
		// Leaving a room the user was never in succeeds without noise.
		p.logger.Debug("leave for non-member",
			zap.String("room", req.RoomID),
			zap.String("user", req.UserID),
		)
		return nil
	}

	count, participants := p.roomSnapshot(ctx, req.RoomID)
	p.dispatcher.NotifyLeft(req.RoomID, sess, count)
	p.dispatcher.NotifyListUpdate(req.RoomID, count, participants)

	p.logger.Info("user left room",
		zap.String("room", req.RoomID),
		zap.String("user", req.UserID),
		zap.Int("count", count),
	)
	return nil
}

// Disconnect handles a transport drop that is not an explicit leave. If the
// session occupied a room, a grace timer is armed (idempotently) and durable
// membership is left untouched; the user still counts as present.
func (p *Protocol) Disconnect(ctx context.Context, sess *registry.Session) {
	roomID := sess.Room()
	userID := sess.UserID()

	if roomID != "" && userID != "" {
		unlock := p.locks.acquire(userID, roomID)
		p.grace.Start(ctx, userID, roomID, sess.Username())
		unlock()
	}

	if _, err := p.registry.Deregister(sess.ConnID); err != nil {
		p.logger.Debug("deregister on disconnect", zap.Error(err))
	}
	sess.Close()

	p.logger.Info("session disconnected",
		zap.String("conn", sess.ConnID),
		zap.String("user", userID),
		zap.String("room", roomID),
	)
}

// ExpireGrace is the silent-leave path: it runs when a grace period elapses
// without a reconnection, locally or via the cross-process sweeper. Membership
// is removed and a list update fires, but no left notice — the departure is
// silent.
func (p *Protocol) ExpireGrace(userID, roomID, username string) {
	ctx := context.Background()

	unlock := p.locks.acquire(userID, roomID)
	defer unlock()

	// The world may have moved between the timer firing and this lock being
	// acquired: a rejoin that found the timer already removed has re-entered
	// the room. A live session in the room means the expiry lost the race.
	for _, sess := range p.registry.SessionsForUser(userID) {
		if sess.Room() == roomID {
			p.logger.Info("grace expiry superseded by reconnection",
				zap.String("user", userID),
				zap.String("room", roomID),
			)
			return
		}
	}

	p.directory.RemoveMember(ctx, roomID, username)

	count, participants := p.roomSnapshot(ctx, roomID)
	p.dispatcher.NotifyListUpdate(roomID, count, participants)

	p.logger.Info("grace period expired, membership removed",
		zap.String("user", userID),
		zap.String("room", roomID),
		zap.Int("count", count),
	)
}

// departRoom is the implicit leave of the room a session still occupied when
// it entered a different one. It mirrors an explicit leave: durable membership
// is removed, the announce marker cleared, and left plus listUpdate fire. The
// registry has already moved the session, so the snapshot excludes it.
func (p *Protocol) departRoom(ctx context.Context, sess *registry.Session, roomID string) {
	p.directory.RemoveMember(ctx, roomID, sess.Username())
	sess.ClearAnnounced(roomID)

	count, participants := p.roomSnapshot(ctx, roomID)
	p.dispatcher.NotifyLeft(roomID, sess, count)
	p.dispatcher.NotifyListUpdate(roomID, count, participants)

	p.logger.Info("user left room on switch",
		zap.String("room", roomID),
		zap.String("user", sess.UserID()),
		zap.Int("count", count),
	)
}

// lockRooms serializes an operation on (userID, roomID), additionally holding
// the room being vacated when a switch is in progress. Pairs are acquired in
// room-id order so concurrent switches by the same user cannot deadlock.
func (p *Protocol) lockRooms(userID, roomID, prevRoom string) func() {
	if prevRoom == "" || prevRoom == roomID {
		return p.locks.acquire(userID, roomID)
	}
	first, second := roomID, prevRoom
	if second < first {
		first, second = second, first
	}
	unlockFirst := p.locks.acquire(userID, first)
	unlockSecond := p.locks.acquire(userID, second)
	return func() {
		unlockSecond()
		unlockFirst()
	}
}

// authorize runs the access gate and the capacity check. No state is mutated
// before both pass.
func (p *Protocol) authorize(ctx context.Context, room *catalog.Room, userID, username string) error {
	if err := p.gate.Allow(ctx, room, userID, username); err != nil {
		return fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}
	if room.Capacity > 0 {
		count, participants := p.roomSnapshot(ctx, room.ID)
		if count >= room.Capacity && !contains(participants, username) {
			return fmt.Errorf("%w: %q at capacity %d", ErrRoomFull, room.ID, room.Capacity)
		}
	}
	return nil
}

// roomSnapshot returns the current participant count and names, preferring
// the live registry and falling back to the durable directory only when the
// registry is not ready.
func (p *Protocol) roomSnapshot(ctx context.Context, roomID string) (int, []string) {
	if names, ok := p.registry.UsernamesInRoom(roomID); ok {
		return len(names), names
	}
	members := p.directory.MembersOf(ctx, roomID)
	return len(members), members
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
