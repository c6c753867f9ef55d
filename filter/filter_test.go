package filter

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tcriess/walkingbuddy/rooms"
	"github.com/tcriess/walkingbuddy/types"
)

var now = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

func at(d time.Duration) *time.Time {
	t := now.Add(d)
	return &t
}

func testState() rooms.State {
	return rooms.State{
		Rooms: []types.Room{
			{Id: "1", Name: "Morning walk", MemberCount: 2, MaxMembers: 2, MeetTime: at(time.Hour), Destination: "Central Park", CreatorId: "u1"},
			{Id: "2", Name: "Evening", MemberCount: 1, Destination: "Harbour", MeetTime: at(5 * time.Hour), Raw: types.Record{"pace": "7.5"}},
			{Id: "3", Name: "Whenever", Destination: "Park Lane", Status: "complete"},
		},
		Joined: []string{"2"},
	}
}

func ids(rs []types.Room) []string {
	out := make([]string, 0, len(rs))
	for _, r := range rs {
		out = append(out, r.Id)
	}
	return out
}

func TestCompile(t *testing.T) {
	f, err := Compile("")
	require.NoError(t, err)
	assert.Nil(t, f)
	assert.True(t, f.Match(Env{}))
	assert.Equal(t, "", f.String())

	_, err = Compile(`Nonsense > 1`)
	assert.Error(t, err)
	_, err = Compile(`Name`)
	assert.Error(t, err, "filters must be boolean")
}

func TestRooms(t *testing.T) {
	self := &types.User{Id: "u1", Name: "Ada"}
	st := testState()
	cases := []struct {
		source string
		want   []string
	}{
		{`!Full`, []string{"2", "3"}},
		{`Contains(Destination, "park")`, []string{"1", "3"}},
		{`Joined`, []string{"2"}},
		{`Mine`, []string{"1"}},
		{`HasMeetTime && MeetTime < Now + Hours(2)`, []string{"1"}},
		{`Status != "complete"`, []string{"1", "2"}},
		{`AsFloat(Raw["pace"]) > 7`, []string{"2"}},
		{`AsInt(Raw["missing"]) == 0 && Members > 0`, []string{"1", "2"}},
	}
	for _, c := range cases {
		f, err := Compile(c.source)
		require.NoError(t, err, c.source)
		assert.Equal(t, c.want, ids(f.Rooms(st, self, now)), c.source)
	}

	var all *Filter
	assert.Len(t, all.Rooms(st, nil, now), 3)
}

func TestMatchErrorIsNoMatch(t *testing.T) {
	f, err := Compile(`AsInt(Raw["n"]) % Members == 0`)
	require.NoError(t, err)
	assert.False(t, f.Match(NewEnv(types.Room{Id: "1"}, false, nil, now)))
	assert.True(t, f.Match(NewEnv(types.Room{Id: "1", MemberCount: 2}, false, nil, now)))
}

func TestHelpers(t *testing.T) {
	assert.Equal(t, int64(42), AsInt("42"))
	assert.Equal(t, int64(42), AsInt(42.9))
	assert.Equal(t, int64(0), AsInt([]int{1}))
	assert.Equal(t, 0.5, AsFloat(" 0.5 "))
	assert.Equal(t, 3.0, AsFloat(3))
	assert.True(t, Contains("Central PARK", "park"))
	assert.Equal(t, int64(5400), Hours(1.5))
}

func TestNewEnv(t *testing.T) {
	env := NewEnv(types.Room{Id: "1", MaxMembers: 3, MemberCount: 3}, true, nil, now)
	assert.True(t, env.Full)
	assert.True(t, env.Joined)
	assert.False(t, env.Mine)
	assert.False(t, env.HasMeetTime)
	assert.NotNil(t, env.Raw)
	assert.Equal(t, now.Unix(), env.Now)
}
