// Package normalize turns the heterogeneous records sent by the backend, the push channel and the local cache into
// the canonical types. Every attribute is resolved from an ordered list of candidate keys, the first non-empty
// value wins. Normalization never fails: missing or malformed fields become defaults.
package normalize

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/tcriess/walkingbuddy/types"
)

// LocalIdKey is written into records without any id so that repeated normalization of the same record (and of
// its cached copy) yields the same placeholder id.
const LocalIdKey = "_local_id"

// Candidate keys per attribute, in priority order.
var (
	RoomIdKeys        = []string{"room_id", "roomId", "id", "_id", "uuid", LocalIdKey}
	RoomNameKeys      = []string{"name", "room_name", "title", "destination"}
	MemberCountKeys   = []string{"member_count", "memberCount", "members_count"}
	MembersKeys       = []string{"members"}
	MaxMembersKeys    = []string{"max_members", "maxMembers"}
	MeetTimeKeys      = []string{"meet_time", "meetTime", "meeting_time", "start_time", "time"}
	StartLocationKeys = []string{"start_location", "startLocation", "start", "origin"}
	StartCoordKeys    = []string{"start_coord", "startCoord"}
	DestinationKeys   = []string{"destination", "dest", "destination_name"}
	DestCoordKeys     = []string{"dest_coord", "destCoord"}
	StatusKeys        = []string{"status"}
	CreatorIdKeys     = []string{"creator_id", "creatorId", "owner_id", "created_by", "user_id"}
	CreatorNameKeys   = []string{"creator_name", "creatorName", "owner_name", "created_by_name"}

	UserIdKeys    = []string{"user_id", "id", "userId", "email"}
	UserNameKeys  = []string{"name", "full_name", "displayName", "email"}
	UserEmailKeys = []string{"email"}

	MessageContentKeys = []string{"content", "text", "message"}
	MessageUserKeys    = []string{"user_id", "userId", "user"}
	MessageAuthorKeys  = []string{"user_name", "name", "author"}
	MessageEmailKeys   = []string{"user_email", "email"}
	MessageTimeKeys    = []string{"ts", "timestamp", "created_at", "time"}
)

const (
	defaultUserName   = "You"
	unknownAuthorName = "Unknown"
)

var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
}

// Normalizer normalizes records. The local user (may be nil) is consulted to fill in the creator name of rooms
// owned by the local user and the author of own chat messages.
type Normalizer struct {
	self func() *types.User
	now  func() time.Time

	mu          sync.Mutex
	lastLocalId int64
}

func New(self func() *types.User) *Normalizer {
	return NewWithClock(self, time.Now)
}

// NewWithClock is New with an explicit clock for the placeholder ids.
func NewWithClock(self func() *types.User, now func() time.Time) *Normalizer {
	if self == nil {
		self = func() *types.User { return nil }
	}
	return &Normalizer{self: self, now: now}
}

// RoomId returns the canonical id of raw, assigning a placeholder id if raw has none.
func (n *Normalizer) RoomId(raw types.Record) string {
	if id, ok := firstString(raw, RoomIdKeys); ok {
		return id
	}
	id := n.placeholderId()
	if raw != nil {
		raw[LocalIdKey] = id
	}
	return id
}

// HasId reports whether raw carries a room id. Unlike RoomId it never assigns a placeholder, so it tells a room
// apart from a bare reply envelope such as {"success": true, "message": "joined"}.
func HasId(raw types.Record) bool {
	_, ok := firstString(raw, RoomIdKeys)
	return ok
}

// Room normalizes a single room record. A nil record yields an empty room with a fresh placeholder id.
func (n *Normalizer) Room(raw types.Record) types.Room {
	if raw == nil {
		raw = types.Record{}
	}
	room := types.Room{
		Id:  n.RoomId(raw),
		Raw: raw,
	}
	room.Name, _ = firstString(raw, RoomNameKeys)
	room.MemberCount = memberCount(raw)
	room.MaxMembers, _ = firstInt(raw, MaxMembersKeys)
	if room.MaxMembers < 0 {
		room.MaxMembers = 0
	}
	room.MeetTime = firstTime(raw, MeetTimeKeys)
	if s, ok := firstString(raw, StartLocationKeys); ok {
		room.StartLocation = s
	} else {
		room.StartLocation = firstCoord(raw, StartCoordKeys)
	}
	if s, ok := firstString(raw, DestinationKeys); ok {
		room.Destination = s
	} else {
		room.Destination = firstCoord(raw, DestCoordKeys)
	}
	if room.Name == "" {
		room.Name = room.Destination
	}
	room.Status, _ = firstString(raw, StatusKeys)
	room.CreatorId, _ = firstString(raw, CreatorIdKeys)
	room.CreatorName, _ = firstString(raw, CreatorNameKeys)
	if self := n.self(); self.IsSelf(room.CreatorId) && self.Name != "" {
		room.CreatorName = self.Name
	}
	return room
}

// Rooms normalizes a batch of records.
func (n *Normalizer) Rooms(raws []types.Record) []types.Room {
	rooms := make([]types.Room, 0, len(raws))
	for _, raw := range raws {
		rooms = append(rooms, n.Room(raw))
	}
	return rooms
}

// Message normalizes a chat message record.
func (n *Normalizer) Message(raw types.Record) types.ChatMessage {
	if raw == nil {
		raw = types.Record{}
	}
	msg := types.ChatMessage{Raw: raw}
	msg.Content, _ = firstString(raw, MessageContentKeys)
	msg.UserId, _ = firstString(raw, MessageUserKeys)
	msg.AuthorEmail, _ = firstString(raw, MessageEmailKeys)
	msg.Timestamp = firstTime(raw, MessageTimeKeys)
	self := n.self()
	msg.Self = self.IsSelf(msg.UserId)
	if name, ok := firstString(raw, MessageAuthorKeys); ok {
		msg.AuthorName = name
	} else if msg.Self {
		msg.AuthorName = self.Name
	} else {
		msg.AuthorName = unknownAuthorName
	}
	return msg
}

// User normalizes a user record. The result is never nil; a user without any id-like field has an empty Id.
func User(raw types.Record) *types.User {
	if raw == nil {
		raw = types.Record{}
	}
	user := &types.User{Raw: raw}
	user.Id, _ = firstString(raw, UserIdKeys)
	user.Email, _ = firstString(raw, UserEmailKeys)
	if name, ok := firstString(raw, UserNameKeys); ok {
		user.Name = name
	} else {
		user.Name = defaultUserName
	}
	return user
}

// placeholderId returns the current time in milliseconds, bumped so that it is strictly increasing within the
// process (a batch normalized within the same millisecond does not collide).
func (n *Normalizer) placeholderId() string {
	n.mu.Lock()
	defer n.mu.Unlock()
	id := n.now().UnixNano() / int64(time.Millisecond)
	if id <= n.lastLocalId {
		id = n.lastLocalId + 1
	}
	n.lastLocalId = id
	return strconv.FormatInt(id, 10)
}

func memberCount(raw types.Record) int {
	count, ok := firstInt(raw, MemberCountKeys)
	if !ok {
		if v, found := raw.First(MembersKeys...); found {
			switch members := v.(type) {
			case []interface{}:
				count = len(members)
			case []string:
				count = len(members)
			default:
				count, _ = asInt(members)
			}
		}
	}
	if count < 0 {
		return 0
	}
	return count
}

// AsString coerces scalars (strings, numbers, bools) to a trimmed string. Composite values are rejected.
func AsString(v interface{}) (string, bool) {
	switch v.(type) {
	case nil, map[string]interface{}, []interface{}, types.Record:
		return "", false
	}
	var s string
	if err := mapstructure.WeakDecode(v, &s); err != nil {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}

func asInt(v interface{}) (int, bool) {
	if s, ok := v.(string); ok {
		v = strings.TrimSpace(s)
	}
	var i int
	if err := mapstructure.WeakDecode(v, &i); err != nil {
		return 0, false
	}
	return i, true
}

func asTime(v interface{}) *time.Time {
	switch t := v.(type) {
	case time.Time:
		return &t
	case *time.Time:
		return t
	case float64:
		ts := time.Unix(0, int64(t)*int64(time.Millisecond))
		return &ts
	case int64:
		ts := time.Unix(0, t*int64(time.Millisecond))
		return &ts
	case int:
		ts := time.Unix(0, int64(t)*int64(time.Millisecond))
		return &ts
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return nil
		}
		for _, layout := range timeLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return &ts
			}
		}
		if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
			ts := time.Unix(0, ms*int64(time.Millisecond))
			return &ts
		}
	}
	return nil
}

func firstString(raw types.Record, keys []string) (string, bool) {
	for _, k := range keys {
		if s, ok := AsString(raw[k]); ok {
			return s, true
		}
	}
	return "", false
}

func firstInt(raw types.Record, keys []string) (int, bool) {
	for _, k := range keys {
		v, ok := raw[k]
		if !ok || v == nil {
			continue
		}
		if i, ok := asInt(v); ok {
			return i, true
		}
	}
	return 0, false
}

func firstTime(raw types.Record, keys []string) *time.Time {
	for _, k := range keys {
		if ts := asTime(raw[k]); ts != nil {
			return ts
		}
	}
	return nil
}

// firstCoord formats a [lat, lng] pair as "lat, lng".
func firstCoord(raw types.Record, keys []string) string {
	for _, k := range keys {
		var coord []float64
		if raw[k] == nil || mapstructure.WeakDecode(raw[k], &coord) != nil || len(coord) != 2 {
			continue
		}
		return fmt.Sprintf("%.5f, %.5f", coord[0], coord[1])
	}
	return ""
}
