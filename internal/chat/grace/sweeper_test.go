package grace

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSweeper_ReapsExpiredRecords(t *testing.T) {
	ctx := context.Background()
	rec := &expiryRecorder{}
	store := NewMemoryStore()
	m := NewManager(time.Hour, rec.record, store, zaptest.NewLogger(t))
	defer m.StopAll()

	// A record left behind by a dead process: expired, no local timer.
	require.NoError(t, store.Put(ctx, Record{
		UserID:    "u1",
		RoomID:    "lobby",
		Username:  "alice",
		StartedAt: time.Now().Add(-31 * time.Minute),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	s := NewSweeper(store, m, rec.record, time.Minute, zaptest.NewLogger(t))
	reaped := s.Sweep(ctx)

	assert.Equal(t, 1, reaped)
	assert.Equal(t, 0, store.Len())
	require.Equal(t, 1, rec.count())
	assert.Equal(t, expiry{userID: "u1", roomID: "lobby", username: "alice"}, rec.all()[0])
}

func TestSweeper_SkipsUnexpiredRecords(t *testing.T) {
	ctx := context.Background()
	rec := &expiryRecorder{}
	store := NewMemoryStore()
	m := NewManager(time.Hour, rec.record, store, zaptest.NewLogger(t))
	defer m.StopAll()

	require.NoError(t, store.Put(ctx, Record{
		UserID:    "u1",
		RoomID:    "lobby",
		Username:  "alice",
		StartedAt: time.Now(),
		ExpiresAt: time.Now().Add(29 * time.Minute),
	}))

	s := NewSweeper(store, m, rec.record, time.Minute, zaptest.NewLogger(t))
	assert.Equal(t, 0, s.Sweep(ctx))
	assert.Equal(t, 1, store.Len())
	assert.Equal(t, 0, rec.count())
}

func TestSweeper_LeavesLocallyArmedTimers(t *testing.T) {
	ctx := context.Background()
	rec := &expiryRecorder{}
	store := NewMemoryStore()
	// Duration long enough that the local timer has not fired yet, with a
	// durable record already past expiry: the sweeper must defer to the
	// local timer instead of double-firing.
	m := NewManager(time.Hour, rec.record, store, zaptest.NewLogger(t))
	defer m.StopAll()

	m.Start(ctx, "u1", "lobby", "alice")
	// Simulate clock skew: overwrite with an already expired record.
	require.NoError(t, store.Delete(ctx, "u1"))
	require.NoError(t, store.Put(ctx, Record{
		UserID:    "u1",
		RoomID:    "lobby",
		Username:  "alice",
		StartedAt: time.Now().Add(-time.Hour),
		ExpiresAt: time.Now().Add(-time.Minute),
	}))

	s := NewSweeper(store, m, rec.record, time.Minute, zaptest.NewLogger(t))
	assert.Equal(t, 0, s.Sweep(ctx))
	assert.Equal(t, 1, store.Len(), "record stays for the local expiry path")
	assert.Equal(t, 0, rec.count())
}

func TestSweeper_StartStop(t *testing.T) {
	ctx := context.Background()
	rec := &expiryRecorder{}
	store := NewMemoryStore()
	m := NewManager(time.Hour, rec.record, store, zaptest.NewLogger(t))
	defer m.StopAll()

	require.NoError(t, store.Put(ctx, Record{
		UserID:    "u1",
		RoomID:    "lobby",
		Username:  "alice",
		ExpiresAt: time.Now().Add(-time.Second),
	}))

	s := NewSweeper(store, m, rec.record, 10*time.Millisecond, zaptest.NewLogger(t))
	done := make(chan error, 1)
	go func() { done <- s.Start() }()

	waitFor(t, time.Second, func() bool { return rec.count() == 1 })
	s.Stop()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("sweeper did not stop")
	}
}
