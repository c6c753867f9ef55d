package types

import "time"

// Room is the normalized view of a walking room (a group with a meeting plan). Id is the canonical id and the only
// key used for equality and merging.
type Room struct {
	Id            string     `json:"id"`
	Name          string     `json:"name"`
	MemberCount   int        `json:"member_count"`
	MaxMembers    int        `json:"max_members,omitempty"` // 0: unknown
	MeetTime      *time.Time `json:"meet_time,omitempty"`
	StartLocation string     `json:"start_location"`
	Destination   string     `json:"destination"`
	Status        string     `json:"status,omitempty"`
	CreatorId     string     `json:"creator_id,omitempty"`
	CreatorName   string     `json:"creator_name,omitempty"` // may be resolved after the room was created
	Raw           Record     `json:"-"`
}

// MeetTimeLabel renders the meeting time, "TBD" if there is none.
func (r Room) MeetTimeLabel(layout string) string {
	if r.MeetTime == nil {
		return "TBD"
	}
	return r.MeetTime.Local().Format(layout)
}
