// Package world exposes the narrow persistence collaborators the AI core
// depends on, plus the SQLite-backed store that implements them. The core
// never touches storage directly; it reads and patches entities through
// these interfaces.
package world

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Entity kinds stored in the world.
const (
	KindRoom   = "room"
	KindObject = "object"
	KindPlayer = "player"
	KindNPC    = "npc"
	KindQuest  = "quest"
)

// Entity is one game entity: a room, object, player, NPC, or quest.
type Entity struct {
	ID         string
	Kind       string
	Name       string
	RoomID     string
	Attributes map[string]any
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// SpatialLink relates two entities spatially (on, in, under, adjacent...).
type SpatialLink struct {
	FromID   string
	ToID     string
	Relation string
}

// Reader is the read-side collaborator interface.
type Reader interface {
	GetEntity(ctx context.Context, id string) (Entity, error)
	GetObject(ctx context.Context, id string) (Entity, error)
	GetPlayer(ctx context.Context, id string) (Entity, error)
	ObjectsInRoom(ctx context.Context, roomID string) ([]Entity, error)
	PlayersInRoom(ctx context.Context, roomID string) ([]Entity, error)
	SpatialRelationships(ctx context.Context, objectID string) ([]SpatialLink, error)
}

// Writer is the write-side collaborator interface. Patches merge into the
// entity's attributes; the reserved keys "name" and "room_id" update the
// corresponding columns.
type Writer interface {
	CreateEntity(ctx context.Context, e Entity) (string, error)
	UpdateEntity(ctx context.Context, id string, patch map[string]any) error
	UpdateObject(ctx context.Context, id string, patch map[string]any) error
	UpdatePlayer(ctx context.Context, id string, patch map[string]any) error
	LinkSpatial(ctx context.Context, link SpatialLink) error
}

// ReadWriter combines both collaborator sides.
type ReadWriter interface {
	Reader
	Writer
}
