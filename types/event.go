package types

import "strings"

// Push channel event tags.
const (
	EventRoomCreated = "room_created"
	EventRoomDeleted = "room_deleted"
	EventRoomUpdated = "room_updated"
	EventRoomJoined  = "room_joined"
	EventRoomLeft    = "room_left"
)

// NormalizeEventType maps the tag spellings used by the backend ("room-created", "room.created", "ROOM_CREATED")
// to the Event* constants. Unknown tags are returned lower-cased.
func NormalizeEventType(t string) string {
	t = strings.ToLower(strings.TrimSpace(t))
	return strings.NewReplacer("-", "_", ".", "_", " ", "_").Replace(t)
}

// IsKnownEventType reports whether t (already normalized) is one of the Event* constants.
func IsKnownEventType(t string) bool {
	switch t {
	case EventRoomCreated, EventRoomDeleted, EventRoomUpdated, EventRoomJoined, EventRoomLeft:
		return true
	}
	return false
}
