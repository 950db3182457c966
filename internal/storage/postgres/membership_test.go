package postgres_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/parleychat/parley/internal/storage/postgres"
	"github.com/parleychat/parley/internal/testutil"
)

func TestMembershipStore(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping container test in short mode")
	}
	ctx := context.Background()
	pc := testutil.NewPostgresContainer(t)
	pc.ApplyMigrations(t)

	store := postgres.NewMembershipStore(pc.RawPool)

	t.Run("add and query", func(t *testing.T) {
		require.NoError(t, store.AddMember(ctx, "lobby", "alice"))
		require.NoError(t, store.AddMember(ctx, "lobby", "bob"))
		require.NoError(t, store.AddMember(ctx, "dev", "alice"))

		member, err := store.IsMember(ctx, "lobby", "alice")
		require.NoError(t, err)
		assert.True(t, member)

		member, err = store.IsMember(ctx, "lobby", "carol")
		require.NoError(t, err)
		assert.False(t, member)

		members, err := store.MembersOf(ctx, "lobby")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, members)
	})

	t.Run("add is idempotent", func(t *testing.T) {
		require.NoError(t, store.AddMember(ctx, "lobby", "alice"))
		require.NoError(t, store.AddMember(ctx, "lobby", "alice"))

		members, err := store.MembersOf(ctx, "lobby")
		require.NoError(t, err)
		assert.Equal(t, []string{"alice", "bob"}, members)
	})

	t.Run("remove", func(t *testing.T) {
		require.NoError(t, store.RemoveMember(ctx, "lobby", "bob"))

		member, err := store.IsMember(ctx, "lobby", "bob")
		require.NoError(t, err)
		assert.False(t, member)

		// Removal is scoped to one room.
		member, err = store.IsMember(ctx, "dev", "alice")
		require.NoError(t, err)
		assert.True(t, member)
	})

	t.Run("remove unknown is a no-op", func(t *testing.T) {
		assert.NoError(t, store.RemoveMember(ctx, "lobby", "nobody"))
	})

	t.Run("empty room", func(t *testing.T) {
		members, err := store.MembersOf(ctx, "void")
		require.NoError(t, err)
		assert.Empty(t, members)
	})
}
