package filter

import (
	"strconv"
	"strings"
	"time"

	"github.com/tcriess/walkingbuddy/types"
)

/*
Env is what a room filter expression sees. Filters are typed against it at compile time, so renaming a field breaks
filters users already wrote (config files, shell aliases).
*/
type Env struct {
	Id          string
	Name        string
	Members     int
	MaxMembers  int // 0: unlimited
	Full        bool
	HasMeetTime bool
	MeetTime    int64 // unix seconds, 0 if TBD
	Start       string
	Destination string
	Status      string
	CreatorId   string
	Creator     string
	Joined      bool
	Mine        bool
	Raw         map[string]interface{}
	Now         int64

	AsInt    func(v interface{}) int64
	AsFloat  func(v interface{}) float64
	Contains func(s, substr string) bool
	Hours    func(h float64) int64
}

// NewEnv builds the env of room as seen by self (may be nil) at now.
func NewEnv(room types.Room, joined bool, self *types.User, now time.Time) Env {
	env := Env{
		Id:          room.Id,
		Name:        room.Name,
		Members:     room.MemberCount,
		MaxMembers:  room.MaxMembers,
		Full:        room.MaxMembers > 0 && room.MemberCount >= room.MaxMembers,
		Start:       room.StartLocation,
		Destination: room.Destination,
		Status:      room.Status,
		CreatorId:   room.CreatorId,
		Creator:     room.CreatorName,
		Joined:      joined,
		Mine:        self.IsSelf(room.CreatorId),
		Raw:         room.Raw,
		Now:         now.Unix(),
		AsInt:       AsInt,
		AsFloat:     AsFloat,
		Contains:    Contains,
		Hours:       Hours,
	}
	if room.MeetTime != nil {
		env.HasMeetTime = true
		env.MeetTime = room.MeetTime.Unix()
	}
	if env.Raw == nil {
		env.Raw = map[string]interface{}{}
	}
	return env
}

// AsInt converts numbers and numeric strings (f.e. raw payload values), 0 otherwise.
func AsInt(v interface{}) int64 {
	switch n := v.(type) {
	case int:
		return int64(n)
	case int64:
		return n
	case float64:
		return int64(n)
	case string:
		val, _ := strconv.ParseInt(strings.TrimSpace(n), 0, 64)
		return val
	}
	return 0
}

// AsFloat is AsInt for floats, 0.0 otherwise.
func AsFloat(v interface{}) float64 {
	switch n := v.(type) {
	case int:
		return float64(n)
	case int64:
		return float64(n)
	case float64:
		return n
	case string:
		val, _ := strconv.ParseFloat(strings.TrimSpace(n), 64)
		return val
	}
	return 0
}

// Contains is a case-insensitive strings.Contains.
func Contains(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

// Hours returns h hours in seconds, to be compared with MeetTime and Now.
func Hours(h float64) int64 {
	return int64(h * 3600)
}
