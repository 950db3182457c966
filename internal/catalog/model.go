// Package catalog provides the room catalog: the set of chat rooms the server
// hosts, loaded from YAML definitions at startup.
package catalog

import "fmt"

// Room describes a single chat room.
type Room struct {
	// ID is the unique room identifier used on the wire.
	ID string
	// Name is the human-readable room name shown to clients.
	Name string
	// Topic is a short description of the room.
	Topic string
	// Private marks the room as invitation-only.
	Private bool
	// Capacity limits concurrent members; 0 means unlimited.
	Capacity int
	// Invited lists usernames allowed into a private room.
	Invited []string
}

// Validate checks room invariants.
//
// Postcondition: Returns nil if the room definition is valid.
func (r *Room) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("room id must not be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("room %q: name must not be empty", r.ID)
	}
	if r.Capacity < 0 {
		return fmt.Errorf("room %q: capacity must be >= 0, got %d", r.ID, r.Capacity)
	}
	return nil
}

// InvitedContains reports whether username is on the room's invitation list.
func (r *Room) InvitedContains(username string) bool {
	for _, name := range r.Invited {
		if name == username {
			return true
		}
	}
	return false
}

// Catalog is an immutable lookup of rooms by ID, built once at startup.
type Catalog struct {
	rooms map[string]*Room
	order []string
}

// NewCatalog builds a Catalog from the given rooms.
//
// Precondition: every room must pass Validate.
// Postcondition: Returns a Catalog or an error on duplicate or invalid rooms.
func NewCatalog(rooms []*Room) (*Catalog, error) {
	c := &Catalog{rooms: make(map[string]*Room, len(rooms))}
	for _, room := range rooms {
		if err := room.Validate(); err != nil {
			return nil, err
		}
		if _, exists := c.rooms[room.ID]; exists {
			return nil, fmt.Errorf("duplicate room id %q", room.ID)
		}
		c.rooms[room.ID] = room
		c.order = append(c.order, room.ID)
	}
	return c, nil
}

// Room returns the room with the given ID.
//
// Postcondition: Returns (room, true) if found, or (nil, false) otherwise.
func (c *Catalog) Room(id string) (*Room, bool) {
	room, ok := c.rooms[id]
	return room, ok
}

// RoomIDs returns all room IDs in definition order.
func (c *Catalog) RoomIDs() []string {
	out := make([]string, len(c.order))
	copy(out, c.order)
	return out
}

// RoomCount returns the number of rooms in the catalog.
func (c *Catalog) RoomCount() int {
	return len(c.rooms)
}
