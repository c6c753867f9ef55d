package persistence

import (
	"encoding/json"

	"github.com/hashicorp/go-hclog"
	"github.com/tcriess/walkingbuddy/globals"
	"github.com/tcriess/walkingbuddy/normalize"
	"github.com/tcriess/walkingbuddy/types"
)

// LocalCache is the durable mirror of the room collection and the joined room ids. It never returns errors:
// unreadable slots are treated as empty and failed writes are only logged, the cache is best-effort.
type LocalCache struct {
	store  Store
	logger hclog.Logger
}

func NewLocalCache(store Store, logger hclog.Logger) *LocalCache {
	if logger == nil {
		logger = globals.AppLogger.Named("cache")
	}
	return &LocalCache{store: store, logger: logger}
}

// Load returns the raw room records and the joined room ids (deduplicated, in stored order).
func (c *LocalCache) Load() ([]types.Record, []string) {
	rooms := make([]types.Record, 0)
	var rawRooms []interface{}
	if c.read(SlotRooms, &rawRooms) {
		for _, r := range rawRooms {
			if m, ok := r.(map[string]interface{}); ok {
				rooms = append(rooms, types.Record(m))
			}
		}
	}
	joined := make([]string, 0)
	var rawJoined []interface{}
	if c.read(SlotJoinedRooms, &rawJoined) {
		seen := make(map[string]struct{}, len(rawJoined))
		for _, v := range rawJoined {
			id, ok := normalize.AsString(v)
			if !ok {
				continue
			}
			if _, dup := seen[id]; dup {
				continue
			}
			seen[id] = struct{}{}
			joined = append(joined, id)
		}
	}
	return rooms, joined
}

// Save writes the raw payload of every room plus the joined ids.
func (c *LocalCache) Save(rooms []types.Room, joined []string) {
	raws := make([]types.Record, 0, len(rooms))
	for _, room := range rooms {
		if room.Raw != nil {
			raws = append(raws, room.Raw)
			continue
		}
		raws = append(raws, types.Record{
			"id":             room.Id,
			"name":           room.Name,
			"member_count":   room.MemberCount,
			"start_location": room.StartLocation,
			"destination":    room.Destination,
		})
	}
	if joined == nil {
		joined = []string{}
	}
	c.write(SlotRooms, raws)
	c.write(SlotJoinedRooms, joined)
}

// LoadUser returns the raw record of the locally stored user.
func (c *LocalCache) LoadUser() (types.Record, bool) {
	var user map[string]interface{}
	if !c.read(SlotUser, &user) || user == nil {
		return nil, false
	}
	return types.Record(user), true
}

func (c *LocalCache) SaveUser(user types.Record) {
	c.write(SlotUser, user)
}

func (c *LocalCache) ClearUser() {
	if err := c.store.Delete(SlotUser); err != nil {
		c.logger.Error("could not delete slot", "slot", SlotUser, "error", err)
	}
}

// CurrentRoom returns the id of the room the chat view is bound to, "" if none.
func (c *LocalCache) CurrentRoom() string {
	var id interface{}
	if !c.read(SlotCurrentRoom, &id) {
		return ""
	}
	s, _ := normalize.AsString(id)
	return s
}

func (c *LocalCache) SetCurrentRoom(id string) {
	c.write(SlotCurrentRoom, id)
}

func (c *LocalCache) read(slot string, v interface{}) bool {
	raw, err := c.store.Get(slot)
	if err == ErrNotFound {
		return false
	}
	if err != nil {
		c.logger.Error("could not read slot", "slot", slot, "error", err)
		return false
	}
	if err := json.Unmarshal([]byte(raw), v); err != nil {
		c.logger.Warn("malformed slot treated as empty", "slot", slot, "error", err)
		return false
	}
	return true
}

func (c *LocalCache) write(slot string, v interface{}) {
	raw, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("could not marshal slot", "slot", slot, "error", err)
		return
	}
	if err := c.store.Set(slot, string(raw)); err != nil {
		c.logger.Error("could not write slot", "slot", slot, "error", err)
	}
}
