// Package access provides the room access gate consulted before any
// membership mutation. Authorization policy itself lives outside the
// presence engine; the engine only consumes the yes/no answer.
package access

import (
	"context"
	"errors"
	"fmt"

	"github.com/parleychat/parley/internal/catalog"
)

// ErrNotInvited is returned when a user is not on a private room's
// invitation list.
var ErrNotInvited = errors.New("not invited")

// Gate decides whether a user may enter a room.
type Gate interface {
	// Allow returns nil if the user may enter, or an error describing the
	// denial. It must not mutate any state.
	Allow(ctx context.Context, room *catalog.Room, userID, username string) error
}

// CatalogGate enforces the catalog's room policy: private rooms admit only
// invited usernames.
type CatalogGate struct{}

// NewCatalogGate creates a CatalogGate.
func NewCatalogGate() *CatalogGate {
	return &CatalogGate{}
}

// Allow checks the room's invitation policy.
func (g *CatalogGate) Allow(_ context.Context, room *catalog.Room, _, username string) error {
	if room.Private && !room.InvitedContains(username) {
		return fmt.Errorf("room %q: %w", room.ID, ErrNotInvited)
	}
	return nil
}

// AllowAll admits everyone. Useful in tests.
type AllowAll struct{}

// Allow always returns nil.
func (AllowAll) Allow(context.Context, *catalog.Room, string, string) error { return nil }
