package grace

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Sweeper periodically reaps expired durable grace records left behind by
// processes that died before their in-memory timers fired, invoking the same
// silent-leave callback the in-memory expiry path uses.
type Sweeper struct {
	store    Store
	manager  *Manager
	onExpire ExpireFunc
	interval time.Duration
	logger   *zap.Logger
	done     chan struct{}
}

// NewSweeper creates a Sweeper over the given durable store.
//
// Precondition: store, manager, onExpire, and logger must be non-nil;
// interval > 0.
func NewSweeper(store Store, manager *Manager, onExpire ExpireFunc, interval time.Duration, logger *zap.Logger) *Sweeper {
	return &Sweeper{
		store:    store,
		manager:  manager,
		onExpire: onExpire,
		interval: interval,
		logger:   logger,
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until Stop is called.
// Implements the server.Service interface.
func (s *Sweeper) Start() error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			s.Sweep(context.Background())
		case <-s.done:
			return nil
		}
	}
}

// Stop terminates the sweep loop.
func (s *Sweeper) Stop() {
	close(s.done)
}

// Sweep reaps every durable record whose expiry has passed and that no local
// timer covers. Records with a live local timer are left for the in-memory
// expiry path, which fires imminently and owns the exactly-once guarantee.
//
// Postcondition: Returns the number of records reaped.
func (s *Sweeper) Sweep(ctx context.Context) int {
	recs, err := s.store.ExpiredBefore(ctx, time.Now())
	if err != nil {
		s.logger.Warn("grace sweep query failed", zap.Error(err))
		return 0
	}

	reaped := 0
	for _, rec := range recs {
		if s.manager.Active(rec.UserID) {
			continue
		}
		if err := s.store.Delete(ctx, rec.UserID); err != nil {
			s.logger.Warn("grace sweep delete failed",
				zap.String("user", rec.UserID),
				zap.Error(err),
			)
			continue
		}
		s.logger.Info("reaped stale grace record",
			zap.String("user", rec.UserID),
			zap.String("room", rec.RoomID),
			zap.Time("expired_at", rec.ExpiresAt),
		)
		s.onExpire(rec.UserID, rec.RoomID, rec.Username)
		reaped++
	}
	return reaped
}
