package persistence

import "errors"

// Slots of the durable store.
const (
	SlotRooms       = "rooms"       // JSON array of raw room records
	SlotJoinedRooms = "joinedRooms" // JSON array of room ids
	SlotUser        = "user"        // raw record of the locally known user
	SlotCurrentRoom = "currentRoom" // id of the room the chat view is bound to
)

var (
	ErrNotFound = errors.New("slot not found")
	ErrLocked   = errors.New("cache is locked by another process")
)

// Store is a durable string store with named slots, the equivalent of the browser's local storage.
type Store interface {
	Get(slot string) (string, error) // ErrNotFound if the slot was never set
	Set(slot, value string) error
	Delete(slot string) error
	Close() error
}
