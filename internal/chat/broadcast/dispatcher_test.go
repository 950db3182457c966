package broadcast

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/parleychat/parley/internal/chat/registry"
)

func setupRoom(t *testing.T) (*registry.Registry, *Dispatcher, *registry.Session, *registry.Session) {
	t.Helper()
	reg := registry.NewRegistry()
	reg.MarkReady()

	alice := registry.NewSession("c1", 8)
	require.NoError(t, alice.Identify("u1", "alice"))
	bob := registry.NewSession("c2", 8)
	require.NoError(t, bob.Identify("u2", "bob"))

	require.NoError(t, reg.Register(alice))
	require.NoError(t, reg.Register(bob))
	require.NoError(t, reg.AssignRoom("c1", "lobby"))
	require.NoError(t, reg.AssignRoom("c2", "lobby"))

	return reg, NewDispatcher(reg, zaptest.NewLogger(t)), alice, bob
}

func drain(sess *registry.Session) [][]byte {
	var out [][]byte
	for {
		select {
		case data := <-sess.Events():
			out = append(out, data)
		default:
			return out
		}
	}
}

func TestNotifyEntered_ExcludesActor(t *testing.T) {
	_, d, alice, bob := setupRoom(t)

	d.NotifyEntered("lobby", alice, 2)

	assert.Empty(t, drain(alice), "actor must not receive its own entered notice")

	frames := drain(bob)
	require.Len(t, frames, 1)

	var evt EnteredEvent
	require.NoError(t, json.Unmarshal(frames[0], &evt))
	assert.Equal(t, TypeEntered, evt.Type)
	assert.Equal(t, "alice", evt.Username)
	assert.Equal(t, "u1", evt.UserID)
	assert.Equal(t, "alice entered the room", evt.Message)
	assert.Equal(t, 2, evt.UserCount)
	assert.NotZero(t, evt.Timestamp)
}

func TestNotifyLeft_ExcludesActor(t *testing.T) {
	_, d, alice, bob := setupRoom(t)

	d.NotifyLeft("lobby", bob, 1)

	assert.Empty(t, drain(bob))

	frames := drain(alice)
	require.Len(t, frames, 1)

	var evt LeftEvent
	require.NoError(t, json.Unmarshal(frames[0], &evt))
	assert.Equal(t, TypeLeft, evt.Type)
	assert.Equal(t, "bob left the room", evt.Message)
	assert.Equal(t, 1, evt.UserCount)
}

func TestNotifyListUpdate_IncludesEveryone(t *testing.T) {
	_, d, alice, bob := setupRoom(t)

	d.NotifyListUpdate("lobby", 2, []string{"alice", "bob"})

	for _, sess := range []*registry.Session{alice, bob} {
		frames := drain(sess)
		require.Len(t, frames, 1)
		var evt ListUpdateEvent
		require.NoError(t, json.Unmarshal(frames[0], &evt))
		assert.Equal(t, TypeListUpdate, evt.Type)
		assert.Equal(t, 2, evt.UserCount)
		assert.Equal(t, []string{"alice", "bob"}, evt.Participants)
	}
}

func TestNotifyListUpdate_NilParticipants(t *testing.T) {
	_, d, alice, _ := setupRoom(t)

	d.NotifyListUpdate("lobby", 0, nil)

	frames := drain(alice)
	require.Len(t, frames, 1)
	assert.Contains(t, string(frames[0]), `"participants":[]`)
}

func TestMulticast_BestEffortOnClosedSession(t *testing.T) {
	_, d, alice, bob := setupRoom(t)

	require.NoError(t, bob.Close())

	// Must not panic or block; alice is unaffected.
	d.NotifyEntered("lobby", bob, 2)

	frames := drain(alice)
	assert.Len(t, frames, 1)
}

func TestMulticast_RegistryNotReady(t *testing.T) {
	reg := registry.NewRegistry()
	d := NewDispatcher(reg, zaptest.NewLogger(t))

	actor := registry.NewSession("c1", 8)
	require.NoError(t, actor.Identify("u1", "alice"))

	// No panic when the registry cannot answer yet.
	d.NotifyEntered("lobby", actor, 1)
	d.NotifyListUpdate("lobby", 0, nil)
}

func TestMulticast_OnlyTargetRoom(t *testing.T) {
	reg, d, alice, _ := setupRoom(t)

	carol := registry.NewSession("c3", 8)
	require.NoError(t, carol.Identify("u3", "carol"))
	require.NoError(t, reg.Register(carol))
	require.NoError(t, reg.AssignRoom("c3", "dev"))

	d.NotifyEntered("lobby", alice, 2)

	assert.Empty(t, drain(carol), "sessions in other rooms must not receive the event")
}
