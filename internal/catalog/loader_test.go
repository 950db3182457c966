package catalog

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleRooms = `
rooms:
  - id: lobby
    name: The Lobby
    topic: General chatter
  - id: dev
    name: Dev Corner
    topic: Engineering talk
    capacity: 50
  - id: staff
    name: Staff Room
    private: true
    invited:
      - alice
      - bob
`

func TestLoadRoomsFromBytes(t *testing.T) {
	rooms, err := LoadRoomsFromBytes([]byte(sampleRooms))
	require.NoError(t, err)
	require.Len(t, rooms, 3)

	assert.Equal(t, "lobby", rooms[0].ID)
	assert.Equal(t, "The Lobby", rooms[0].Name)
	assert.False(t, rooms[0].Private)

	assert.Equal(t, 50, rooms[1].Capacity)

	assert.True(t, rooms[2].Private)
	assert.True(t, rooms[2].InvitedContains("alice"))
	assert.False(t, rooms[2].InvitedContains("mallory"))
}

func TestLoadRoomsFromBytes_MissingID(t *testing.T) {
	_, err := LoadRoomsFromBytes([]byte(`
rooms:
  - name: Nameless
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "id must not be empty")
}

func TestLoadRoomsFromBytes_MissingName(t *testing.T) {
	_, err := LoadRoomsFromBytes([]byte(`
rooms:
  - id: ghost
`))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "name must not be empty")
}

func TestLoadRoomsFromBytes_InvalidYAML(t *testing.T) {
	_, err := LoadRoomsFromBytes([]byte("rooms: [unclosed"))
	assert.Error(t, err)
}

func TestLoadCatalogFromDir(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "rooms.yaml"), []byte(sampleRooms), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "extra.yml"), []byte(`
rooms:
  - id: music
    name: Music Hall
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "ignored.txt"), []byte("not yaml"), 0644))

	cat, err := LoadCatalogFromDir(dir)
	require.NoError(t, err)
	assert.Equal(t, 4, cat.RoomCount())

	room, ok := cat.Room("music")
	require.True(t, ok)
	assert.Equal(t, "Music Hall", room.Name)

	_, ok = cat.Room("nope")
	assert.False(t, ok)
}

func TestLoadCatalogFromDir_DuplicateID(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.yaml"), []byte(`
rooms:
  - id: lobby
    name: Lobby A
`), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.yaml"), []byte(`
rooms:
  - id: lobby
    name: Lobby B
`), 0644))

	_, err := LoadCatalogFromDir(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "duplicate room id")
}

func TestLoadCatalogFromDir_MissingDir(t *testing.T) {
	_, err := LoadCatalogFromDir("/nonexistent/rooms")
	assert.Error(t, err)
}

func TestCatalog_RoomIDsOrder(t *testing.T) {
	cat, err := NewCatalog([]*Room{
		{ID: "a", Name: "A"},
		{ID: "b", Name: "B"},
		{ID: "c", Name: "C"},
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, cat.RoomIDs())
}
