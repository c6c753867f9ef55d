package rooms

import (
	"fmt"

	"github.com/tcriess/walkingbuddy/types"
)

// State is what the presentation layer gets to render: a copy of the room collection and the joined room ids.
type State struct {
	Rooms  []types.Room
	Joined []string
}

func (s State) IsJoined(id string) bool {
	for _, j := range s.Joined {
		if j == id {
			return true
		}
	}
	return false
}

func (s State) Room(id string) (types.Room, bool) {
	for _, room := range s.Rooms {
		if room.Id == id {
			return room, true
		}
	}
	return types.Room{}, false
}

type Op string

const (
	OpCreate Op = "create"
	OpJoin   Op = "join"
	OpLeave  Op = "leave"
	OpDelete Op = "delete"
)

// Advisory is a transient user-visible message about a failed user action. The local state it refers to has
// already settled (kept or rolled back) when it is delivered.
type Advisory struct {
	Op         Op
	RoomId     string
	Message    string
	RolledBack bool
	Err        error
}

func (a *Advisory) Error() string {
	return a.Message
}

func (a *Advisory) Unwrap() error {
	return a.Err
}

func newAdvisory(op Op, roomId string, err error) *Advisory {
	msg := fmt.Sprintf("could not %s room", op)
	if roomId != "" {
		msg += " " + roomId
	}
	if err != nil {
		msg += ": " + err.Error()
	}
	return &Advisory{Op: op, RoomId: roomId, Message: msg, Err: err}
}

// View is the presentation layer. Render is called after every mutation with the resulting state, Notify for
// every failed user action. Both may call back into the reconciler's read-only methods.
type View interface {
	Render(state State)
	Notify(advisory Advisory)
}

type nopView struct{}

func (nopView) Render(State)     {}
func (nopView) Notify(Advisory) {}

// dedupRooms keeps one room per id at the position of its first occurrence, holding the value of its last.
func dedupRooms(rooms []types.Room) []types.Room {
	index := make(map[string]int, len(rooms))
	out := make([]types.Room, 0, len(rooms))
	for _, room := range rooms {
		if i, ok := index[room.Id]; ok {
			out[i] = room
			continue
		}
		index[room.Id] = len(out)
		out = append(out, room)
	}
	return out
}

func dedupIds(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}

func removeId(ids []string, id string) []string {
	out := ids[:0]
	for _, j := range ids {
		if j != id {
			out = append(out, j)
		}
	}
	return out
}

func containsId(ids []string, id string) bool {
	for _, j := range ids {
		if j == id {
			return true
		}
	}
	return false
}
